// Package database handles all the lower level support for maintaining the
// block tree: the header/body codec, the auxiliary fork choice data, and
// access to the storage backend holding them.
package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/holiman/uint256"
)

// ErrNotFound is returned when a block, header or aux record does not exist.
var ErrNotFound = errors.New("not found")

// HeaderBackend represents the behavior required to look up ancestor headers
// by hash. The block tree may fork, so lookups never assume a canonical chain.
type HeaderBackend interface {
	Header(hash Hash) (Header, error)
}

// Storage interface represents the behavior required to be implemented by any
// package providing support for storing and reading the block tree.
type Storage interface {
	HeaderBackend
	Block(hash Hash) (Block, error)
	Aux(hash Hash) (Aux, error)
	Best() (Hash, error)
	Commit(commit Commit) error
	Close() error
}

// =============================================================================

// Aux is the fork choice data kept next to every imported block.
type Aux struct {
	Difficulty      *uint256.Int // Difficulty the block's seal was checked against.
	TotalDifficulty *uint256.Int // Cumulative difficulty from genesis to this block.
}

// Encode returns the fixed width encoding of the aux record.
func (a Aux) Encode() []byte {
	data := make([]byte, 64)
	if a.Difficulty != nil {
		b := a.Difficulty.Bytes32()
		copy(data[:32], b[:])
	}
	if a.TotalDifficulty != nil {
		b := a.TotalDifficulty.Bytes32()
		copy(data[32:], b[:])
	}
	return data
}

// DecodeAux decodes an aux record written by Encode.
func DecodeAux(data []byte) (Aux, error) {
	if len(data) != 64 {
		return Aux{}, fmt.Errorf("invalid aux length %d", len(data))
	}

	return Aux{
		Difficulty:      new(uint256.Int).SetBytes(data[:32]),
		TotalDifficulty: new(uint256.Int).SetBytes(data[32:]),
	}, nil
}

// Commit is the unit of work applied atomically by a storage backend.
type Commit struct {
	Block   Block
	Aux     Aux
	SetBest bool
}

// =============================================================================

// Database provides access to the block tree and tracks the best block.
type Database struct {
	mu      sync.RWMutex
	storage Storage
	genesis Block
	best    Header
}

// New constructs a new database over the specified storage, writing the
// genesis block if the storage is empty.
func New(gen genesis.Genesis, storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	genesisBlock := GenesisBlock(gen)

	db := Database{
		storage: storage,
		genesis: genesisBlock,
	}

	bestHash, err := storage.Best()
	switch {
	case errors.Is(err, ErrNotFound):
		ev("database: New: writing genesis: hash[%s]", genesisBlock.Hash())

		commit := Commit{
			Block: genesisBlock,
			Aux: Aux{
				Difficulty:      new(uint256.Int),
				TotalDifficulty: new(uint256.Int),
			},
			SetBest: true,
		}
		if err := storage.Commit(commit); err != nil {
			return nil, fmt.Errorf("write genesis: %w", err)
		}
		bestHash = genesisBlock.Hash()

	case err != nil:
		return nil, fmt.Errorf("read best: %w", err)
	}

	// A store written for a different chain must not be reused.
	if _, err := storage.Header(genesisBlock.Hash()); err != nil {
		return nil, fmt.Errorf("genesis %s not in storage: %w", genesisBlock.Hash(), err)
	}

	best, err := storage.Header(bestHash)
	if err != nil {
		return nil, fmt.Errorf("read best header: %w", err)
	}
	db.best = best

	ev("database: New: best: number[%d] hash[%s]", best.Number, bestHash)

	return &db, nil
}

// GenesisBlock constructs the genesis block described by the genesis file.
func GenesisBlock(gen genesis.Genesis) Block {
	extrinsics := gen.ExtrinsicsBytes()

	return Block{
		Header: Header{
			Number:         0,
			Timestamp:      uint64(gen.Date.UnixMilli()),
			ExtrinsicsRoot: ExtrinsicsRoot(extrinsics),
		},
		Extrinsics: toHexBytes(extrinsics),
	}
}

// Close closes the underlying storage.
func (db *Database) Close() error {
	return db.storage.Close()
}

// Genesis returns the genesis block.
func (db *Database) Genesis() Block {
	return db.genesis
}

// Header returns the header for the specified hash.
func (db *Database) Header(hash Hash) (Header, error) {
	return db.storage.Header(hash)
}

// Block returns the block for the specified hash.
func (db *Database) Block(hash Hash) (Block, error) {
	return db.storage.Block(hash)
}

// Aux returns the fork choice data for the specified hash.
func (db *Database) Aux(hash Hash) (Aux, error) {
	return db.storage.Aux(hash)
}

// Contains reports whether the block is already stored.
func (db *Database) Contains(hash Hash) (bool, error) {
	_, err := db.storage.Header(hash)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Best returns the header at the tip of the best chain.
func (db *Database) Best() Header {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.best
}

// Commit writes the block and its aux data atomically, moving the best
// pointer when requested.
func (db *Database) Commit(commit Commit) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.storage.Commit(commit); err != nil {
		return err
	}

	if commit.SetBest {
		db.best = commit.Block.Header
	}

	return nil
}
