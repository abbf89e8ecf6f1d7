// Package worker maintains the block proposal being mined and runs the
// mining goroutines working on it.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/importer"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool"
	"github.com/ardanlabs/powchain/foundation/blockchain/pow"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/raulk/clock"
)

// ErrStaleWork is returned when a seal is submitted for metadata that is no
// longer current.
var ErrStaleWork = errors.New("stale work: proposal has changed")

// DefaultProposalTimeout is how long a proposal is mined before it is
// rebuilt with a fresh timestamp.
const DefaultProposalTimeout = 10 * time.Second

// maxExtrinsics limits the extrinsics picked for one proposal.
const maxExtrinsics = 1000

// Metadata is the snapshot of work a miner needs to search for a seal.
type Metadata struct {
	BestHash   database.Hash `json:"best_hash"`
	PreHash    database.Hash `json:"pre_hash"`
	PreDigest  hexutil.Bytes `json:"pre_digest"`
	Difficulty *uint256.Int  `json:"difficulty"`
}

// Equal reports whether both snapshots describe the same work.
func (m Metadata) Equal(o Metadata) bool {
	if m.BestHash != o.BestHash || m.PreHash != o.PreHash {
		return false
	}

	if !bytes.Equal(m.PreDigest, o.PreDigest) {
		return false
	}

	if m.Difficulty == nil || o.Difficulty == nil {
		return m.Difficulty == o.Difficulty
	}

	return m.Difficulty.Eq(o.Difficulty)
}

// =============================================================================

// Config represents the configuration required to start the worker.
type Config struct {
	DB              *database.Database
	Importer        *importer.Importer
	Algorithm       *pow.Algorithm
	Mempool         *mempool.Mempool
	Author          []byte
	Clock           clock.Clock
	ProposalTimeout time.Duration
	EvHandler       func(v string, args ...any)
}

// Worker manages the current block proposal.
type Worker struct {
	db        *database.Database
	importer  *importer.Importer
	algorithm *pow.Algorithm
	mempool   *mempool.Mempool
	author    []byte
	clock     clock.Clock
	timeout   time.Duration
	evHandler func(v string, args ...any)

	mu       sync.Mutex
	metadata Metadata
	proposal database.Block
	valid    bool
	updated  chan struct{}

	wg   sync.WaitGroup
	shut chan struct{}
	once sync.Once
}

// Run creates a worker, builds the first proposal and starts the goroutine
// keeping the proposal current.
func Run(cfg Config) (*Worker, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	timeout := cfg.ProposalTimeout
	if timeout <= 0 {
		timeout = DefaultProposalTimeout
	}

	mp := cfg.Mempool
	if mp == nil {
		mp = mempool.New(0)
	}

	w := Worker{
		db:        cfg.DB,
		importer:  cfg.Importer,
		algorithm: cfg.Algorithm,
		mempool:   mp,
		author:    cfg.Author,
		clock:     clk,
		timeout:   timeout,
		evHandler: ev,
		updated:   make(chan struct{}),
		shut:      make(chan struct{}),
	}

	if err := w.refresh(); err != nil {
		return nil, fmt.Errorf("first proposal: %w", err)
	}

	// Subscribe before starting so no head change is missed.
	heads, release := w.importer.SubscribeHeads()

	w.wg.Add(1)

	// We don't want to return until we know the G is up and running.
	hasStarted := make(chan bool)

	go func() {
		defer func() {
			release()
			w.wg.Done()
		}()
		hasStarted <- true
		w.proposalOperations(heads)
	}()

	<-hasStarted

	return &w, nil
}

// Shutdown terminates the goroutine keeping the proposal current.
func (w *Worker) Shutdown() {
	w.once.Do(func() {
		w.evHandler("worker: shutdown: started")
		defer w.evHandler("worker: shutdown: completed")

		close(w.shut)
		w.wg.Wait()
	})
}

// Metadata returns the snapshot of the current proposal. False is returned
// when there is no proposal to mine.
func (w *Worker) Metadata() (Metadata, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.metadata, w.valid
}

// Mempool returns the pool extrinsics are proposed from.
func (w *Worker) Mempool() *mempool.Mempool {
	return w.mempool
}

// Submit attaches the seal to the current proposal and imports it. The
// seal is rejected with ErrStaleWork unless it was mined for the current
// metadata. Once a seal is imported the proposal is spent and no other
// seal can be submitted for it.
func (w *Worker) Submit(ctx context.Context, mined Metadata, seal []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.valid || !mined.Equal(w.metadata) {
		staleSubmissions.Inc()
		w.evHandler("worker: Submit: stale work: pre-hash[%s]", mined.PreHash)
		return ErrStaleWork
	}

	block := w.proposal.WithSeal(seal)

	outcome, err := w.importer.Import(ctx, block)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	w.valid = false
	submissions.WithLabelValues(outcome.String()).Inc()

	w.evHandler("worker: Submit: %s: block[%d] hash[%s]", outcome, block.Header.Number, block.Hash())

	return nil
}

// =============================================================================

// proposalOperations rebuilds the proposal when the best block changes and
// when the proposal timeout expires.
func (w *Worker) proposalOperations(heads <-chan database.Header) {
	w.evHandler("worker: proposalOperations: G started")
	defer w.evHandler("worker: proposalOperations: G completed")

	for {
		select {
		case head, ok := <-heads:
			if !ok {
				w.evHandler("worker: proposalOperations: head feed closed")
				return
			}

			w.evHandler("worker: proposalOperations: new head: block[%d] hash[%s]", head.Number, head.Hash())
			w.removeIncluded(head)

		case <-w.clock.After(w.timeout):
			w.evHandler("worker: proposalOperations: proposal timeout")

		case <-w.shut:
			w.evHandler("worker: proposalOperations: received shut signal")
			return
		}

		if err := w.refresh(); err != nil {
			w.evHandler("worker: proposalOperations: ERROR: %s", err)
		}
	}
}

// removeIncluded drops the extrinsics of the new best block from the pool.
func (w *Worker) removeIncluded(head database.Header) {
	block, err := w.db.Block(head.Hash())
	if err != nil {
		w.evHandler("worker: removeIncluded: ERROR: %s", err)
		return
	}

	w.mempool.Delete(block)
}

// refresh builds a new proposal on the current best block. The best block
// is read under the mutex: a Submit in flight holds it through the import,
// so the proposal is never built on a parent that import replaced.
func (w *Worker) refresh() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	best := w.db.Best()
	bestHash := best.Hash()

	difficulty, err := w.algorithm.Difficulty(bestHash)
	if err != nil {
		w.valid = false
		w.notify()
		return err
	}

	// The timestamp must move forward from the parent.
	timestamp := uint64(w.clock.Now().UnixMilli())
	if timestamp <= best.Timestamp {
		timestamp = best.Timestamp + 1
	}

	proposal := database.NewBlock(best, w.author, timestamp, w.mempool.PickBest(maxExtrinsics))

	w.proposal = proposal
	w.metadata = Metadata{
		BestHash:   bestHash,
		PreHash:    proposal.Header.PreHash(),
		PreDigest:  hexutil.Bytes(w.author),
		Difficulty: difficulty,
	}
	w.valid = true
	w.notify()

	w.evHandler("worker: refresh: proposal: block[%d] pre-hash[%s] extrinsics[%d]", proposal.Header.Number, w.metadata.PreHash, len(proposal.Extrinsics))

	return nil
}

// notify wakes every goroutine waiting on the current metadata. The caller
// must hold the mutex.
func (w *Worker) notify() {
	close(w.updated)
	w.updated = make(chan struct{})
}

// snapshot returns the current metadata and a channel closed when it
// changes.
func (w *Worker) snapshot() (Metadata, bool, <-chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.metadata, w.valid, w.updated
}
