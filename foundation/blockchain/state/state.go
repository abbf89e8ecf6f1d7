// Package state is the core API for the blockchain node. It assembles the
// database, the proof of work algorithm, the import pipeline and the mining
// worker, and runs the peer operations keeping the node connected.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/importer"
	"github.com/ardanlabs/powchain/foundation/blockchain/memhash"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/ardanlabs/powchain/foundation/blockchain/pow"
	"github.com/ardanlabs/powchain/foundation/blockchain/weaksub"
	"github.com/ardanlabs/powchain/foundation/blockchain/worker"
	"github.com/raulk/clock"
)

// ErrMiningDisabled is returned by the mining api when the node has no
// worker.
var ErrMiningDisabled = errors.New("mining is disabled on this node")

// DefaultPeerUpdateInterval represents the interval of finding new peer
// nodes and updating the chain with missing blocks.
const DefaultPeerUpdateInterval = time.Minute

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of blocks.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Host                    string
	Genesis                 genesis.Genesis
	Storage                 database.Storage
	Machines                memhash.Config
	SealVersion             memhash.Version
	WeakSubjectivity        weaksub.Exponential
	DisableWeakSubjectivity bool
	CheckInherentsAfter     uint64
	MaxTimestampDrift       time.Duration
	ProposalTimeout         time.Duration
	MempoolCapacity         int
	Author                  []byte
	Keys                    pow.KeyPairs
	Threads                 int
	Round                   int
	KnownPeers              *peer.PeerSet
	PeerUpdateInterval      time.Duration
	Clock                   clock.Clock
	EvHandler               EventHandler
}

// State manages the blockchain node.
type State struct {
	host      string
	author    []byte
	clock     clock.Clock
	evHandler EventHandler

	genesis    genesis.Genesis
	db         *database.Database
	machines   *memhash.Machines
	algorithm  *pow.Algorithm
	forkChoice *weaksub.ForkChoice
	importer   *importer.Importer
	mempool    *mempool.Mempool
	knownPeers *peer.PeerSet
	worker     *worker.Worker
	miner      *worker.Miner

	peerInterval time.Duration
	wg           sync.WaitGroup
	shut         chan struct{}
	once         sync.Once
}

// New constructs the node and starts up all the background processes.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	difficulty, err := cfg.Genesis.DifficultyValue()
	if err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	db, err := database.New(cfg.Genesis, cfg.Storage, ev)
	if err != nil {
		return nil, err
	}

	machines, err := memhash.NewMachines(cfg.Machines, ev)
	if err != nil {
		db.Close()
		return nil, err
	}

	algorithm, err := pow.New(pow.Config{
		Headers:    db,
		Machines:   machines,
		Difficulty: pow.FixedDifficulty{Value: difficulty},
		Version:    cfg.SealVersion,
		EvHandler:  ev,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	forkChoice := weaksub.New(weaksub.Config{
		Algorithm: cfg.WeakSubjectivity,
		Enabled:   !cfg.DisableWeakSubjectivity,
		Clock:     clk,
		EvHandler: ev,
	})

	imp := importer.New(importer.Config{
		DB:                  db,
		Algorithm:           algorithm,
		ForkChoice:          forkChoice,
		Clock:               clk,
		CheckInherentsAfter: cfg.CheckInherentsAfter,
		MaxTimestampDrift:   cfg.MaxTimestampDrift,
		EvHandler:           ev,
	})

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewPeerSet()
	}

	peerInterval := cfg.PeerUpdateInterval
	if peerInterval <= 0 {
		peerInterval = DefaultPeerUpdateInterval
	}

	s := State{
		host:      cfg.Host,
		author:    cfg.Author,
		clock:     clk,
		evHandler: ev,

		genesis:    cfg.Genesis,
		db:         db,
		machines:   machines,
		algorithm:  algorithm,
		forkChoice: forkChoice,
		importer:   imp,
		mempool:    mempool.New(cfg.MempoolCapacity),
		knownPeers: knownPeers,

		peerInterval: peerInterval,
		shut:         make(chan struct{}),
	}

	// V2 seals are signed by the author, so a proposal needs one.
	if len(cfg.Author) > 0 || algorithm.Version() == memhash.V1 {
		s.worker, err = worker.Run(worker.Config{
			DB:              db,
			Importer:        imp,
			Algorithm:       algorithm,
			Mempool:         s.mempool,
			Author:          cfg.Author,
			Clock:           clk,
			ProposalTimeout: cfg.ProposalTimeout,
			EvHandler:       ev,
		})
		if err != nil {
			imp.Shutdown()
			db.Close()
			return nil, err
		}

		if cfg.Threads > 0 {
			s.miner = worker.RunMiner(worker.MinerConfig{
				Worker:    s.worker,
				Algorithm: algorithm,
				Keys:      cfg.Keys,
				Threads:   cfg.Threads,
				Round:     cfg.Round,
				Clock:     clk,
				EvHandler: ev,
			})
		}
	}

	s.run()

	return &s, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	var err error

	s.once.Do(func() {
		s.evHandler("state: shutdown: started")
		defer s.evHandler("state: shutdown: completed")

		close(s.shut)

		// Stop all block writing activity before the import queue goes.
		if s.miner != nil {
			s.miner.Shutdown()
		}
		if s.worker != nil {
			s.worker.Shutdown()
		}
		s.importer.Shutdown()

		s.wg.Wait()

		// Datasets still being built hold their memory until they finish.
		s.machines.Close()

		// Make sure the database file is properly closed.
		err = s.db.Close()
	})

	return err
}

// =============================================================================

// run starts the peer operations and waits for them to be running.
func (s *State) run() {
	heads, release := s.importer.SubscribeHeads()

	// Load the set of operations we need to run.
	operations := []func(){
		s.peerOperations,
		func() {
			defer release()
			s.announceOperations(heads)
		},
	}

	g := len(operations)
	s.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	for _, op := range operations {
		go func() {
			defer s.wg.Done()
			hasStarted <- true
			op()
		}()
	}

	for range g {
		<-hasStarted
	}
}

// peerOperations keeps the set of known peers current and pulls the blocks
// they have that this node is missing.
func (s *State) peerOperations() {
	s.evHandler("state: peerOperations: G started")
	defer s.evHandler("state: peerOperations: G completed")

	ticker := s.clock.Ticker(s.peerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sync()
		case <-s.shut:
			s.evHandler("state: peerOperations: received shut signal")
			return
		}
	}
}

// announceOperations sends every new best block to the known peers.
func (s *State) announceOperations(heads <-chan database.Header) {
	s.evHandler("state: announceOperations: G started")
	defer s.evHandler("state: announceOperations: G completed")

	for {
		select {
		case head, ok := <-heads:
			if !ok {
				return
			}

			block, err := s.db.Block(head.Hash())
			if err != nil {
				s.evHandler("state: announceOperations: ERROR: %s", err)
				continue
			}

			if err := s.NetSendBlockToPeers(block); err != nil {
				s.evHandler("state: announceOperations: WARNING: %s", err)
			}

		case <-s.shut:
			s.evHandler("state: announceOperations: received shut signal")
			return
		}
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (s *State) isShutdown() bool {
	select {
	case <-s.shut:
		return true
	default:
		return false
	}
}
