package state

import (
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/memhash"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/holiman/uint256"
)

// QueryLatest represents to query the latest block in the chain.
const QueryLatest = ^uint64(0) >> 1

// Status is a summary of the node's view of the chain.
type Status struct {
	Host             string
	Genesis          database.Hash
	Best             database.Header
	TotalDifficulty  *uint256.Int
	SealVersion      memhash.Version
	WeakSubjectivity bool
	Mining           bool
	Author           []byte
	Mempool          int
	KnownPeers       []peer.Peer
}

// =============================================================================

// Host returns the host this node answers on.
func (s *State) Host() string {
	return s.host
}

// Genesis returns a copy of the genesis information.
func (s *State) Genesis() genesis.Genesis {
	return s.genesis
}

// Status returns a summary of the node's view of the chain.
func (s *State) Status() (Status, error) {
	best := s.db.Best()

	aux, err := s.db.Aux(best.Hash())
	if err != nil {
		return Status{}, fmt.Errorf("best aux: %w", err)
	}

	status := Status{
		Host:             s.host,
		Genesis:          s.db.Genesis().Hash(),
		Best:             best,
		TotalDifficulty:  aux.TotalDifficulty,
		SealVersion:      s.algorithm.Version(),
		WeakSubjectivity: s.forkChoice.Enabled(),
		Mining:           s.miner != nil,
		Author:           s.author,
		Mempool:          s.mempool.Count(),
		KnownPeers:       s.knownPeers.Copy(s.host),
	}

	return status, nil
}

// QueryBest returns the best header.
func (s *State) QueryBest() database.Header {
	return s.db.Best()
}

// QueryBlock returns the block with the specified hash and its aux data.
func (s *State) QueryBlock(hash database.Hash) (database.Block, database.Aux, error) {
	block, err := s.db.Block(hash)
	if err != nil {
		return database.Block{}, database.Aux{}, err
	}

	aux, err := s.db.Aux(hash)
	if err != nil {
		return database.Block{}, database.Aux{}, err
	}

	return block, aux, nil
}

// QueryBlocksByNumber returns the blocks of the best chain between the
// specified numbers, lowest first.
func (s *State) QueryBlocksByNumber(from uint64, to uint64) ([]database.Block, error) {
	best := s.db.Best()

	if from == QueryLatest {
		from = best.Number
	}
	if to == QueryLatest || to > best.Number {
		to = best.Number
	}
	if from > to {
		return nil, nil
	}

	// Blocks are only linked backwards, so walk down from the best block.
	header := best
	for header.Number > to {
		var err error
		if header, err = s.db.Header(header.ParentHash); err != nil {
			return nil, err
		}
	}

	out := make([]database.Block, to-from+1)
	for i := len(out) - 1; i >= 0; i-- {
		block, err := s.db.Block(header.Hash())
		if err != nil {
			return nil, err
		}
		out[i] = block

		if i > 0 {
			if header, err = s.db.Header(header.ParentHash); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// =============================================================================

// KnownPeers retrieves a copy of the known peer list.
func (s *State) KnownPeers() []peer.Peer {
	return s.knownPeers.Copy(s.host)
}

// AddKnownPeer provides the ability to add a new peer to the known peer
// list.
func (s *State) AddKnownPeer(pr peer.Peer) bool {
	return s.knownPeers.Add(pr)
}
