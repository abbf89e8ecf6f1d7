// Package mempool maintains the pool of extrinsics waiting to be included
// in a block proposal.
package mempool

import (
	"errors"
	"slices"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// ErrPoolFull is returned when the pool is at capacity.
var ErrPoolFull = errors.New("mempool is full")

// entry records an extrinsic and the order it arrived in.
type entry struct {
	seq  uint64
	data []byte
}

// Mempool represents a cache of extrinsics keyed by their hash. Extrinsics
// are picked in arrival order.
type Mempool struct {
	pool     map[database.Hash]entry
	mu       sync.RWMutex
	seq      uint64
	capacity int
}

// New constructs a new mempool holding at most capacity extrinsics. A zero
// capacity means no limit.
func New(capacity int) *Mempool {
	mp := Mempool{
		pool:     make(map[database.Hash]entry),
		capacity: capacity,
	}

	return &mp
}

// Count returns the current number of extrinsics in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds an extrinsic to the pool. Adding an extrinsic already in the
// pool keeps its original position.
func (mp *Mempool) Upsert(data []byte) (database.Hash, int, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := database.HashOf(data)

	if _, exists := mp.pool[key]; exists {
		return key, len(mp.pool), nil
	}

	if mp.capacity > 0 && len(mp.pool) >= mp.capacity {
		return key, len(mp.pool), ErrPoolFull
	}

	mp.seq++
	mp.pool[key] = entry{
		seq:  mp.seq,
		data: slices.Clone(data),
	}

	return key, len(mp.pool), nil
}

// Delete removes the extrinsics included in the block from the pool.
func (mp *Mempool) Delete(block database.Block) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, ext := range block.Extrinsics {
		delete(mp.pool, database.HashOf(ext))
	}
}

// Truncate clears all the extrinsics from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[database.Hash]entry)
}

// PickBest returns up to howMany extrinsics in arrival order. A value of -1
// returns every extrinsic in the pool.
func (mp *Mempool) PickBest(howMany int) [][]byte {
	mp.mu.RLock()
	entries := make([]entry, 0, len(mp.pool))
	for _, e := range mp.pool {
		entries = append(entries, e)
	}
	mp.mu.RUnlock()

	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	if howMany == -1 || howMany > len(entries) {
		howMany = len(entries)
	}

	best := make([][]byte, howMany)
	for i := range howMany {
		best[i] = entries[i].data
	}

	return best
}
