// Package memory implements the ability to read and write blocks to memory
// using maps keyed by block hash.
package memory

import (
	"fmt"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// Memory represents the storage implementation for reading and storing
// blocks in memory. This implements the database.Storage interface.
type Memory struct {
	mu     sync.RWMutex
	blocks map[database.Hash][]byte
	aux    map[database.Hash][]byte
	best   database.Hash
	empty  bool
}

// New constructs an Memory value for use.
func New() (*Memory, error) {
	m := Memory{
		blocks: make(map[database.Hash][]byte),
		aux:    make(map[database.Hash][]byte),
		empty:  true,
	}

	return &m, nil
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// Header returns the header for the specified hash.
func (m *Memory) Header(hash database.Hash) (database.Header, error) {
	block, err := m.Block(hash)
	if err != nil {
		return database.Header{}, err
	}

	return block.Header, nil
}

// Block returns the block for the specified hash. Blocks are kept encoded so
// callers never share memory with the store.
func (m *Memory) Block(hash database.Hash) (database.Block, error) {
	m.mu.RLock()
	data, exists := m.blocks[hash]
	m.mu.RUnlock()

	if !exists {
		return database.Block{}, fmt.Errorf("block %s: %w", hash, database.ErrNotFound)
	}

	return database.DecodeBlock(data)
}

// Aux returns the fork choice data for the specified hash.
func (m *Memory) Aux(hash database.Hash) (database.Aux, error) {
	m.mu.RLock()
	data, exists := m.aux[hash]
	m.mu.RUnlock()

	if !exists {
		return database.Aux{}, fmt.Errorf("aux %s: %w", hash, database.ErrNotFound)
	}

	return database.DecodeAux(data)
}

// Best returns the hash of the best block.
func (m *Memory) Best() (database.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.empty {
		return database.Hash{}, fmt.Errorf("best: %w", database.ErrNotFound)
	}

	return m.best, nil
}

// Commit stores the block, its aux data and the best pointer under one lock.
func (m *Memory) Commit(commit database.Commit) error {
	data, err := commit.Block.Encode()
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}

	hash := commit.Block.Hash()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks[hash] = data
	m.aux[hash] = commit.Aux.Encode()

	if commit.SetBest {
		m.best = hash
		m.empty = false
	}

	return nil
}
