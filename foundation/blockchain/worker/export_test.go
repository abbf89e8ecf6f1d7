package worker

import "time"

// RefreshDuring starts a proposal refresh while the worker's mutex is held,
// runs fn, spends the proposal the way Submit does and waits for the
// refresh to finish.
func RefreshDuring(w *Worker, fn func()) error {
	w.mu.Lock()

	errs := make(chan error, 1)
	go func() {
		errs <- w.refresh()
	}()

	// Give the refresh a chance to start before the chain moves.
	time.Sleep(10 * time.Millisecond)

	fn()

	w.valid = false
	w.mu.Unlock()

	return <-errs
}
