package database

import "fmt"

// Route describes how to move the best chain from one block to another.
type Route struct {
	Common    Header   // Deepest block both chains share.
	Retracted []Header // Blocks leaving the best chain, from tip down.
	Enacted   []Header // Blocks joining the best chain, from fork point up.
}

// TreeRoute walks both chains back through parent links until they meet.
func TreeRoute(headers HeaderBackend, from Hash, to Hash) (Route, error) {
	fromHeader, err := headers.Header(from)
	if err != nil {
		return Route{}, fmt.Errorf("tree route from %s: %w", from, err)
	}

	toHeader, err := headers.Header(to)
	if err != nil {
		return Route{}, fmt.Errorf("tree route to %s: %w", to, err)
	}

	var route Route

	for fromHeader.Number > toHeader.Number {
		route.Retracted = append(route.Retracted, fromHeader)
		if fromHeader, err = headers.Header(fromHeader.ParentHash); err != nil {
			return Route{}, fmt.Errorf("tree route parent: %w", err)
		}
	}

	var enacted []Header
	for toHeader.Number > fromHeader.Number {
		enacted = append(enacted, toHeader)
		if toHeader, err = headers.Header(toHeader.ParentHash); err != nil {
			return Route{}, fmt.Errorf("tree route parent: %w", err)
		}
	}

	for fromHeader.Hash() != toHeader.Hash() {
		if fromHeader.Number == 0 {
			return Route{}, fmt.Errorf("tree route: no common ancestor for %s and %s", from, to)
		}

		route.Retracted = append(route.Retracted, fromHeader)
		enacted = append(enacted, toHeader)

		if fromHeader, err = headers.Header(fromHeader.ParentHash); err != nil {
			return Route{}, fmt.Errorf("tree route parent: %w", err)
		}
		if toHeader, err = headers.Header(toHeader.ParentHash); err != nil {
			return Route{}, fmt.Errorf("tree route parent: %w", err)
		}
	}

	route.Common = fromHeader

	for i := len(enacted) - 1; i >= 0; i-- {
		route.Enacted = append(route.Enacted, enacted[i])
	}

	return route, nil
}
