// Package importer implements the block import pipeline. Every block, from
// a peer or from the local miner, passes the same ordered steps: decode,
// verify the seal, check inherents, run the fork choice and commit. Imports
// are consumed by a single goroutine in the order they are submitted.
package importer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/pow"
	"github.com/ardanlabs/powchain/foundation/blockchain/weaksub"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/raulk/clock"
	"golang.org/x/sync/errgroup"
)

// ErrShutdown is returned when an import is submitted after shutdown.
var ErrShutdown = errors.New("importer is shut down")

// Outcome describes what an import did to the chain.
type Outcome int

// Set of import outcomes.
const (
	ImportedBest Outcome = iota + 1
	ImportedSide
	AlreadyKnown
)

// String implements the fmt.Stringer interface.
func (o Outcome) String() string {
	switch o {
	case ImportedBest:
		return "imported-best"
	case ImportedSide:
		return "imported-side"
	case AlreadyKnown:
		return "already-known"
	}
	return "unknown"
}

// Import is the record shared by the steps of one block import.
type Import struct {
	Data            []byte // Raw encoded block, decoded by the first step.
	Block           database.Block
	Hash            database.Hash
	Parent          database.Header
	Difficulty      *uint256.Int
	TotalDifficulty *uint256.Int
	Verified        bool // Seal already verified, set by batch imports.
	NewBest         bool
	Outcome         Outcome
}

// =============================================================================

// Config represents the configuration required to start the importer.
type Config struct {
	DB                  *database.Database
	Algorithm           *pow.Algorithm
	ForkChoice          *weaksub.ForkChoice
	Clock               clock.Clock
	CheckInherentsAfter uint64
	MaxTimestampDrift   time.Duration
	EvHandler           func(v string, args ...any)
}

type request struct {
	ctx    context.Context
	imp    *Import
	result chan error
}

// Importer manages the import queue.
type Importer struct {
	db        *database.Database
	algorithm *pow.Algorithm
	steps     []Step
	heads     *events.Events[database.Header]
	evHandler func(v string, args ...any)

	requests chan request
	shut     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New constructs an importer and starts the goroutine consuming the queue.
func New(cfg Config) *Importer {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	heads := events.New[database.Header]()

	steps := []Step{
		Decode{DB: cfg.DB},
		VerifySeal{Algorithm: cfg.Algorithm},
		CheckInherents{
			After:    cfg.CheckInherentsAfter,
			MaxDrift: cfg.MaxTimestampDrift,
			Version:  cfg.Algorithm.Version(),
			Clock:    clk,
		},
		ForkChoice{DB: cfg.DB, ForkChoice: cfg.ForkChoice},
		Commit{DB: cfg.DB, Heads: heads},
	}

	imp := Importer{
		db:        cfg.DB,
		algorithm: cfg.Algorithm,
		steps:     steps,
		heads:     heads,
		evHandler: ev,
		requests:  make(chan request),
		shut:      make(chan struct{}),
	}

	imp.wg.Add(1)
	go func() {
		defer imp.wg.Done()
		imp.consume()
	}()

	return &imp
}

// Shutdown stops the consumer goroutine and closes head subscriptions.
func (imp *Importer) Shutdown() {
	imp.once.Do(func() {
		imp.evHandler("importer: shutdown: started")
		defer imp.evHandler("importer: shutdown: completed")

		close(imp.shut)
		imp.wg.Wait()
		imp.heads.Shutdown()
	})
}

// Steps returns the names of the pipeline steps in order.
func (imp *Importer) Steps() []string {
	names := make([]string, len(imp.steps))
	for i, step := range imp.steps {
		names[i] = step.Name()
	}
	return names
}

// SubscribeHeads returns a channel receiving every new best header and a
// function to release it.
func (imp *Importer) SubscribeHeads() (<-chan database.Header, func()) {
	id := uuid.NewString()
	return imp.heads.Acquire(id), func() { imp.heads.Release(id) }
}

// Import submits a block to the queue and waits for the outcome.
func (imp *Importer) Import(ctx context.Context, block database.Block) (Outcome, error) {
	return imp.submit(ctx, &Import{Block: block})
}

// ImportData submits a raw encoded block to the queue and waits for the
// outcome.
func (imp *Importer) ImportData(ctx context.Context, data []byte) (Outcome, error) {
	return imp.submit(ctx, &Import{Data: data})
}

// ImportBatch verifies the seals of the blocks in parallel and then commits
// them in order through the queue. Blocks may build on earlier blocks of the
// same batch. The outcomes of the blocks processed before a failure are
// returned with the error.
func (imp *Importer) ImportBatch(ctx context.Context, blocks []database.Block) ([]Outcome, error) {
	overlay := newOverlay(imp.db, blocks)
	alg := imp.algorithm.WithHeaders(overlay)

	verified := make([]bool, len(blocks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, block := range blocks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			header := block.Header

			difficulty, err := alg.Difficulty(header.ParentHash)
			if err != nil {
				return nil
			}

			// Failures are left to the pipeline which reports them in order.
			ok, err := alg.Verify(header.ParentHash, header.PreHash(), header.Author, header.Seal, difficulty)
			verified[i] = err == nil && ok

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(blocks))
	for i, block := range blocks {
		outcome, err := imp.submit(ctx, &Import{Block: block, Verified: verified[i]})
		if err != nil {
			return outcomes, fmt.Errorf("block %d %s: %w", i, block.Hash(), err)
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// =============================================================================

func (imp *Importer) submit(ctx context.Context, i *Import) (Outcome, error) {
	req := request{
		ctx:    ctx,
		imp:    i,
		result: make(chan error, 1),
	}

	select {
	case imp.requests <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-imp.shut:
		return 0, ErrShutdown
	}

	select {
	case err := <-req.result:
		if err != nil {
			return 0, err
		}
		return i.Outcome, nil

	case <-imp.shut:
		return 0, ErrShutdown
	}
}

// consume runs the pipeline for one request at a time.
func (imp *Importer) consume() {
	for {
		select {
		case req := <-imp.requests:
			req.result <- imp.run(req.ctx, req.imp)
		case <-imp.shut:
			return
		}
	}
}

// run executes the steps in order. The first failing step aborts the import.
func (imp *Importer) run(ctx context.Context, i *Import) error {
	for _, step := range imp.steps {
		if err := step.Run(ctx, i); err != nil {
			if errors.Is(err, errAlreadyKnown) {
				i.Outcome = AlreadyKnown
				importsTotal.WithLabelValues(AlreadyKnown.String()).Inc()
				return nil
			}

			imp.evHandler("importer: run: %s: ERROR: block[%d] hash[%s]: %s", step.Name(), i.Block.Header.Number, i.Hash, err)
			importsTotal.WithLabelValues("rejected").Inc()
			return fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	imp.evHandler("importer: run: %s: block[%d] hash[%s]", i.Outcome, i.Block.Header.Number, i.Hash)
	importsTotal.WithLabelValues(i.Outcome.String()).Inc()

	return nil
}
