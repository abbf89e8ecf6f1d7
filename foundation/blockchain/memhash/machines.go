package memhash

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pbnjay/memory"
)

// largePage is the allocation granularity accounted for with large pages.
const largePage = 2 << 20

type cacheEntry struct {
	once  sync.Once
	cache *cache
	bytes uint64
}

type datasetEntry struct {
	done  chan struct{}
	data  *dataset
	bytes uint64

	// Guarded by Machines.mu.
	building bool
	evicted  bool
}

// Machines manages the caches and datasets for the key hashes in use. Caches
// are built synchronously on first use. Datasets are built in the background
// and report ErrCacheNotAvailable until they are ready.
type Machines struct {
	cfg   Config
	ev    func(v string, args ...any)
	limit uint64

	regMu    sync.Mutex
	caches   *lru.Cache[[32]byte, *cacheEntry]
	datasets *lru.Cache[[32]byte, *datasetEntry]

	mu    sync.Mutex
	inUse uint64

	builds sync.WaitGroup
}

// NewMachines constructs a registry for the specified config.
func NewMachines(cfg Config, evHandler func(v string, args ...any)) (*Machines, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("memhash config: %w", err)
	}

	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	limit := cfg.MemoryLimit
	if limit == 0 {
		limit = memory.TotalMemory()
	}

	m := Machines{
		cfg:   cfg,
		ev:    ev,
		limit: limit,
	}

	var err error
	m.caches, err = lru.NewWithEvict(cfg.MaxCaches, func(key [32]byte, entry *cacheEntry) {
		m.ev("memhash: cache: evicted: key[%x]", key)
		m.release(entry.bytes)
	})
	if err != nil {
		return nil, err
	}

	m.datasets, err = lru.NewWithEvict(cfg.MaxDatasets, func(key [32]byte, entry *datasetEntry) {
		m.ev("memhash: dataset: evicted: key[%x]", key)
		m.releaseDataset(entry)
	})
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// Close waits for the datasets being built to finish.
func (m *Machines) Close() {
	m.builds.Wait()
}

// InUse returns the bytes reserved by the caches and datasets.
func (m *Machines) InUse() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.inUse
}

// Config returns the config the registry was built with.
func (m *Machines) Config() Config {
	return m.cfg
}

// VM returns a hashing machine for the key hash in the specified mode. Each
// caller gets its own VM over the shared cache or dataset.
func (m *Machines) VM(keyHash [32]byte, mode Mode) (*VM, error) {
	switch mode {
	case Sync:
		c, err := m.cacheFor(keyHash)
		if err != nil {
			return nil, err
		}
		return &VM{cfg: m.cfg, mode: mode, cache: c}, nil

	case Mining:
		d, err := m.datasetFor(keyHash)
		if err != nil {
			return nil, err
		}
		return &VM{cfg: m.cfg, mode: mode, data: d}, nil
	}

	return nil, fmt.Errorf("unknown mode %s", mode)
}

// Hash is a convenience function computing a single hash.
func (m *Machines) Hash(keyHash [32]byte, mode Mode, input []byte) ([32]byte, error) {
	vm, err := m.VM(keyHash, mode)
	if err != nil {
		return [32]byte{}, err
	}

	return vm.Hash(input), nil
}

// WaitDataset starts building the dataset for the key hash if needed and
// blocks until it is ready or the context is done.
func (m *Machines) WaitDataset(ctx context.Context, keyHash [32]byte) error {
	entry, err := m.datasetEntry(keyHash)
	if err != nil {
		return err
	}

	select {
	case <-entry.done:
		if entry.data == nil {
			return ErrCacheAllocationFailed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================

func (m *Machines) cacheFor(keyHash [32]byte) (*cache, error) {
	m.regMu.Lock()
	entry, exists := m.caches.Get(keyHash)
	if !exists {
		if m.caches.Len() >= m.cfg.MaxCaches {
			m.caches.RemoveOldest()
		}

		bytes := m.pages(uint64(m.cfg.CacheRows) * itemSize)
		if err := m.reserve(bytes); err != nil {
			m.regMu.Unlock()
			return nil, err
		}

		entry = &cacheEntry{bytes: bytes}
		m.caches.Add(keyHash, entry)
	}
	m.regMu.Unlock()

	entry.once.Do(func() {
		m.ev("memhash: cache: building: key[%x] rows[%d]", keyHash, m.cfg.CacheRows)

		c := newCache(m.cfg, keyHash)
		if m.cfg.Flags.Secure {
			runtime.AddCleanup(c, func(rows []byte) { clear(rows) }, c.rows)
		}
		entry.cache = c

		m.ev("memhash: cache: ready: key[%x]", keyHash)
	})

	return entry.cache, nil
}

func (m *Machines) datasetFor(keyHash [32]byte) (*dataset, error) {
	entry, err := m.datasetEntry(keyHash)
	if err != nil {
		return nil, err
	}

	select {
	case <-entry.done:
		if entry.data == nil {
			return nil, ErrCacheAllocationFailed
		}
		return entry.data, nil
	default:
		return nil, ErrCacheNotAvailable
	}
}

func (m *Machines) datasetEntry(keyHash [32]byte) (*datasetEntry, error) {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	if entry, exists := m.datasets.Get(keyHash); exists {
		return entry, nil
	}

	if m.datasets.Len() >= m.cfg.MaxDatasets {
		m.datasets.RemoveOldest()
	}

	bytes := m.pages(uint64(m.cfg.DatasetItems) * itemSize)
	if err := m.reserve(bytes); err != nil {
		return nil, err
	}

	entry := datasetEntry{
		done:     make(chan struct{}),
		bytes:    bytes,
		building: true,
	}
	m.datasets.Add(keyHash, &entry)

	m.builds.Add(1)
	go func() {
		defer m.builds.Done()
		defer m.buildDone(&entry)
		defer close(entry.done)

		c, err := m.cacheFor(keyHash)
		if err != nil {
			m.ev("memhash: dataset: ERROR: key[%x]: %s", keyHash, err)
			m.unregister(keyHash, &entry)
			return
		}

		m.ev("memhash: dataset: building: key[%x] items[%d]", keyHash, m.cfg.DatasetItems)

		d := newDataset(c)
		if m.cfg.Flags.Secure {
			runtime.AddCleanup(d, func(items []byte) { clear(items) }, d.items)
		}
		entry.data = d

		m.ev("memhash: dataset: ready: key[%x]", keyHash)
	}()

	return &entry, nil
}

// unregister removes the entry if it is still the one registered for the
// key hash.
func (m *Machines) unregister(keyHash [32]byte, entry *datasetEntry) {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	if current, exists := m.datasets.Peek(keyHash); exists && current == entry {
		m.datasets.Remove(keyHash)
	}
}

// releaseDataset returns the reservation of an evicted dataset. A dataset
// still being built keeps its reservation until the build finishes.
func (m *Machines) releaseDataset(entry *datasetEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.building {
		entry.evicted = true
		return
	}

	m.inUse -= min(entry.bytes, m.inUse)
}

// buildDone marks the build finished and releases the reservation if the
// dataset was evicted while it was being built.
func (m *Machines) buildDone(entry *datasetEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.building = false
	if entry.evicted {
		m.inUse -= min(entry.bytes, m.inUse)
	}
}

// pages rounds the allocation up to whole large pages when enabled.
func (m *Machines) pages(bytes uint64) uint64 {
	if !m.cfg.Flags.LargePages {
		return bytes
	}
	return (bytes + largePage - 1) / largePage * largePage
}

// reserve accounts for an allocation before it is made so an oversized
// request fails instead of exhausting the host.
func (m *Machines) reserve(bytes uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limit > 0 && m.inUse+bytes > m.limit {
		return fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrCacheAllocationFailed, bytes, m.inUse, m.limit)
	}

	m.inUse += bytes
	return nil
}

func (m *Machines) release(bytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inUse -= min(bytes, m.inUse)
}
