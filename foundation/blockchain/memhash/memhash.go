// Package memhash implements the epoch keyed memory-hard hash function used
// by the proof of work. A key hash seeds an argon2 derived cache, the cache
// expands into a dataset, and every hash performs data dependent reads into
// that dataset. Verification reads items computed on demand from the cache
// while mining reads the precomputed dataset. Both produce the same output.
package memhash

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Set of error variables for computing hashes.
var (
	ErrCacheNotAvailable     = errors.New("dataset for key hash is not available yet")
	ErrCacheAllocationFailed = errors.New("cache allocation failed")
)

// Mode selects how dataset items are obtained.
type Mode int

// Set of modes that can be used.
const (
	Sync   Mode = iota // Light: compute items from the cache, low setup cost.
	Mining             // Full: read the precomputed dataset, high throughput.
)

// String implements the fmt.Stringer interface.
func (m Mode) String() string {
	switch m {
	case Sync:
		return "sync"
	case Mining:
		return "mining"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// itemSize is the byte size of a cache row and of a dataset item.
const itemSize = 64

// =============================================================================

// Flags tune how memory is managed for caches and datasets.
type Flags struct {
	LargePages bool // Account allocations in 2 MiB pages.
	Secure     bool // Wipe buffers when they are evicted.
}

// Config defines the parameters of the hash function. Changing any of the
// puzzle fields changes every hash, so all nodes on a chain must agree.
type Config struct {
	ArgonTime      uint32 // argon2id passes for the cache seed.
	ArgonMemoryKiB uint32 // argon2id memory for the cache seed.
	CacheRows      uint32 // Number of 64 byte cache rows.
	CacheRounds    int    // Mixing rounds over the cache.
	DatasetItems   uint32 // Number of 64 byte dataset items.
	ItemParents    int    // Cache rows mixed into each dataset item.
	Accesses       int    // Dataset reads per hash.

	MaxCaches   int    // Caches kept in the registry.
	MaxDatasets int    // Datasets kept in the registry.
	MemoryLimit uint64 // Bytes available, zero means system memory.
	Flags       Flags
}

// DefaultConfig returns the parameters used by production nodes.
func DefaultConfig() Config {
	return Config{
		ArgonTime:      1,
		ArgonMemoryKiB: 64 * 1024,
		CacheRows:      1 << 18,
		CacheRounds:    3,
		DatasetItems:   1 << 22,
		ItemParents:    256,
		Accesses:       64,
		MaxCaches:      2,
		MaxDatasets:    1,
	}
}

// DevConfig returns small parameters suitable for development chains and
// tests. Hashes are not comparable with DefaultConfig.
func DevConfig() Config {
	return Config{
		ArgonTime:      1,
		ArgonMemoryKiB: 64,
		CacheRows:      1 << 8,
		CacheRounds:    1,
		DatasetItems:   1 << 10,
		ItemParents:    8,
		Accesses:       16,
		MaxCaches:      2,
		MaxDatasets:    1,
	}
}

// Validate checks the config can produce a working hash function.
func (c Config) Validate() error {
	switch {
	case c.ArgonTime == 0:
		return errors.New("argon time must be greater than zero")
	case c.ArgonMemoryKiB < 8:
		return errors.New("argon memory must be at least 8 KiB")
	case c.CacheRows < 2:
		return errors.New("cache must have at least two rows")
	case c.DatasetItems == 0:
		return errors.New("dataset must have at least one item")
	case c.ItemParents <= 0 || c.Accesses <= 0:
		return errors.New("item parents and accesses must be greater than zero")
	case c.MaxCaches <= 0 || c.MaxDatasets <= 0:
		return errors.New("registry sizes must be greater than zero")
	}
	return nil
}

// =============================================================================

// fnv is the non-associative mixing function used for parent selection.
func fnv(a, b uint32) uint32 {
	return a*0x01000193 ^ b
}

func toWords(dst *[16]uint32, src []byte) {
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(src[i*4:])
	}
}

func fromWords(dst []byte, src *[16]uint32) {
	for i, w := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], w)
	}
}
