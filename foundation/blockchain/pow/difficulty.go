package pow

import (
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/holiman/uint256"
)

// IsValidHash reports whether the hash meets the difficulty: the hash taken
// as a 256 bit big endian integer multiplied by the difficulty must not
// overflow 256 bits.
func IsValidHash(hash [32]byte, difficulty *uint256.Int) bool {
	h := new(uint256.Int).SetBytes32(hash[:])

	_, overflow := new(uint256.Int).MulOverflow(h, difficulty)
	return !overflow
}

// DifficultyProvider represents the behavior required to look up the
// difficulty a child of the parent block must meet.
type DifficultyProvider interface {
	Difficulty(parent database.Hash) (*uint256.Int, error)
}

// FixedDifficulty applies the same difficulty to every block.
type FixedDifficulty struct {
	Value *uint256.Int
}

// Difficulty implements the DifficultyProvider interface.
func (fd FixedDifficulty) Difficulty(parent database.Hash) (*uint256.Int, error) {
	return new(uint256.Int).Set(fd.Value), nil
}
