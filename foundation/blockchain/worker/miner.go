package worker

import (
	"context"
	"crypto/rand"
	"errors"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/memhash"
	"github.com/ardanlabs/powchain/foundation/blockchain/pow"
	"github.com/raulk/clock"
)

// Backoff applied when a search can't be run.
const (
	cacheNotAvailableBackoff = time.Second
	allocationFailedBackoff  = 10 * time.Second
	errorBackoff             = time.Second
)

// DefaultRound is the number of nonces tried before the metadata is
// checked again.
const DefaultRound = 1000

// MinerConfig represents the configuration required to start the miner.
type MinerConfig struct {
	Worker    *Worker
	Algorithm *pow.Algorithm
	Keys      pow.KeyPairs
	Threads   int
	Round     int
	Clock     clock.Clock
	EvHandler func(v string, args ...any)
}

// Miner runs the mining goroutines. Each goroutine pulls the current
// metadata, searches one round of nonces and submits any seal it finds.
type Miner struct {
	worker    *Worker
	algorithm *pow.Algorithm
	keys      pow.KeyPairs
	threads   int
	round     int
	clock     clock.Clock
	evHandler func(v string, args ...any)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	shut   chan struct{}
	once   sync.Once
}

// RunMiner creates a miner and starts the mining goroutines.
func RunMiner(cfg MinerConfig) *Miner {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = 1
	}

	round := cfg.Round
	if round <= 0 {
		round = DefaultRound
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := Miner{
		worker:    cfg.Worker,
		algorithm: cfg.Algorithm,
		keys:      cfg.Keys,
		threads:   threads,
		round:     round,
		clock:     clk,
		evHandler: ev,
		ctx:       ctx,
		cancel:    cancel,
		shut:      make(chan struct{}),
	}

	m.wg.Add(threads)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	for id := range threads {
		go func() {
			defer m.wg.Done()
			hasStarted <- true
			m.miningOperations(id)
		}()
	}

	for range threads {
		<-hasStarted
	}

	return &m
}

// Shutdown stops the mining goroutines. A goroutine in the middle of a
// round finishes it first.
func (m *Miner) Shutdown() {
	m.once.Do(func() {
		m.evHandler("miner: shutdown: started")
		defer m.evHandler("miner: shutdown: completed")

		close(m.shut)
		m.cancel()
		m.wg.Wait()
	})
}

// =============================================================================

// miningOperations is the loop run by every mining goroutine.
func (m *Miner) miningOperations(id int) {
	m.evHandler("miner: miningOperations: G[%d] started", id)
	defer m.evHandler("miner: miningOperations: G[%d] completed", id)

	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		m.evHandler("miner: miningOperations: G[%d]: ERROR: seed: %s", id, err)
		return
	}

	engine := pow.NewEngine(m.algorithm.Machines(), m.algorithm.Version(), mrand.NewChaCha8(seed))

	for !m.isShutdown() {
		metadata, ok, updated := m.worker.snapshot()
		if !ok {
			select {
			case <-updated:
			case <-m.shut:
			}
			continue
		}

		seal, err := engine.Mine(m.algorithm.Headers(), m.keys, metadata.BestHash, metadata.PreHash, metadata.PreDigest, metadata.Difficulty, m.round)
		if err != nil {
			switch {
			case errors.Is(err, memhash.ErrCacheNotAvailable):
				m.sleep(cacheNotAvailableBackoff)
			case errors.Is(err, memhash.ErrCacheAllocationFailed):
				m.evHandler("miner: miningOperations: G[%d]: WARNING: unable to allocate the mining dataset, check the memory available: %s", id, err)
				m.sleep(allocationFailedBackoff)
			default:
				m.evHandler("miner: miningOperations: G[%d]: ERROR: %s", id, err)
				m.sleep(errorBackoff)
			}
			continue
		}

		if seal == nil {
			continue
		}

		m.evHandler("miner: miningOperations: G[%d]: seal found: pre-hash[%s]", id, metadata.PreHash)

		switch err := m.worker.Submit(m.ctx, metadata, seal); {
		case errors.Is(err, ErrStaleWork):
			m.evHandler("miner: miningOperations: G[%d]: seal for stale work dropped", id)
		case err != nil:
			m.evHandler("miner: miningOperations: G[%d]: ERROR: submit: %s", id, err)
		}
	}
}

// sleep waits for the duration or for shutdown.
func (m *Miner) sleep(d time.Duration) {
	select {
	case <-m.clock.After(d):
	case <-m.shut:
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (m *Miner) isShutdown() bool {
	select {
	case <-m.shut:
		return true
	default:
		return false
	}
}
