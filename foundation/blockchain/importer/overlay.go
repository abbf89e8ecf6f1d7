package importer

import "github.com/ardanlabs/powchain/foundation/blockchain/database"

// overlay serves the headers of a batch that is not committed yet on top of
// the stored headers.
type overlay struct {
	headers database.HeaderBackend
	pending map[database.Hash]database.Header
}

func newOverlay(headers database.HeaderBackend, blocks []database.Block) *overlay {
	pending := make(map[database.Hash]database.Header, len(blocks))
	for _, block := range blocks {
		pending[block.Hash()] = block.Header
	}

	return &overlay{
		headers: headers,
		pending: pending,
	}
}

// Header implements the database.HeaderBackend interface.
func (o *overlay) Header(hash database.Hash) (database.Header, error) {
	if header, exists := o.pending[hash]; exists {
		return header, nil
	}
	return o.headers.Header(hash)
}
