package pow

import "github.com/ardanlabs/powchain/foundation/blockchain/database"

// Epoch parameters for the key hash. PERIOD is about 2.8 days of blocks and
// OFFSET about 2 hours.
const (
	KeyPeriod = 4096
	KeyOffset = 128
)

// KeyNumber returns the number of the block whose hash keys the puzzle for
// children of a parent at the specified number. Near the start of an epoch
// the previous epoch's key is kept.
func KeyNumber(parentNumber uint64) uint64 {
	keyNumber := parentNumber - parentNumber%KeyPeriod
	if parentNumber-keyNumber < KeyOffset {
		keyNumber = saturatingSub(keyNumber, KeyPeriod)
	}
	return keyNumber
}

// KeyHash walks the parent links back from the parent block to the key
// block and returns its hash. The walk follows the fork the parent is on,
// not the best chain. A missing header is an environment fault.
func KeyHash(headers database.HeaderBackend, parent database.Hash) (database.Hash, error) {
	current, err := headers.Header(parent)
	if err != nil {
		return database.Hash{}, NewEnvironmentError("parent header %s: %w", parent, err)
	}

	keyNumber := KeyNumber(current.Number)
	hash := parent

	for current.Number != keyNumber {
		hash = current.ParentHash
		if current, err = headers.Header(hash); err != nil {
			return database.Hash{}, NewEnvironmentError("ancestor header %s: %w", hash, err)
		}
	}

	return hash, nil
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
