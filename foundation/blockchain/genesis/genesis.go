// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date       time.Time       `json:"date"`
	ChainID    uint16          `json:"chain_id"`   // The chain id represents an unique id for this running instance.
	Difficulty string          `json:"difficulty"` // Decimal difficulty every seal is checked against.
	Extrinsics []hexutil.Bytes `json:"extrinsics"` // Opaque data committed to by the genesis block.
}

// Default returns a development genesis with a trivial difficulty.
func Default() Genesis {
	return Genesis{
		Date:       time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:    1,
		Difficulty: "1",
	}
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	if _, err := genesis.DifficultyValue(); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Save writes the genesis file to the specified path.
func Save(path string, genesis Genesis) error {
	content, err := json.MarshalIndent(genesis, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, content, 0600)
}

// DifficultyValue parses the configured difficulty.
func (g Genesis) DifficultyValue() (*uint256.Int, error) {
	difficulty, err := uint256.FromDecimal(g.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("genesis difficulty %q: %w", g.Difficulty, err)
	}

	if difficulty.IsZero() {
		return nil, fmt.Errorf("genesis difficulty must be greater than zero")
	}

	return difficulty, nil
}

// ExtrinsicsBytes returns the genesis extrinsics as plain byte slices.
func (g Genesis) ExtrinsicsBytes() [][]byte {
	exts := make([][]byte, len(g.Extrinsics))
	for i, ext := range g.Extrinsics {
		exts[i] = ext
	}
	return exts
}
