package state

import (
	"context"
	"errors"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/importer"
	"github.com/ardanlabs/powchain/foundation/blockchain/worker"
)

// ErrNoWork is returned when the worker has no proposal to mine.
var ErrNoWork = errors.New("no work available")

// MiningMetadata returns the work an external miner needs to search for a
// seal.
func (s *State) MiningMetadata() (worker.Metadata, error) {
	if s.worker == nil {
		return worker.Metadata{}, ErrMiningDisabled
	}

	metadata, ok := s.worker.Metadata()
	if !ok {
		return worker.Metadata{}, ErrNoWork
	}

	return metadata, nil
}

// SubmitSeal submits a seal found by an external miner.
func (s *State) SubmitSeal(ctx context.Context, mined worker.Metadata, seal []byte) error {
	if s.worker == nil {
		return ErrMiningDisabled
	}

	return s.worker.Submit(ctx, mined, seal)
}

// ImportBlock runs an encoded block received from a peer through the import
// pipeline.
func (s *State) ImportBlock(ctx context.Context, data []byte) (importer.Outcome, error) {
	return s.importer.ImportData(ctx, data)
}

// UpsertExtrinsic adds an extrinsic to the mempool for the next proposal.
func (s *State) UpsertExtrinsic(data []byte) (database.Hash, int, error) {
	return s.mempool.Upsert(data)
}

// SubscribeHeads returns a channel receiving every new best header and a
// function to release it.
func (s *State) SubscribeHeads() (<-chan database.Header, func()) {
	return s.importer.SubscribeHeads()
}
