package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/memhash"
	"github.com/ardanlabs/powchain/foundation/blockchain/pow"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ardanlabs/powchain/foundation/blockchain/weaksub"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/holiman/uint256"
	"github.com/raulk/clock"
)

// Set of errors returned by the import steps.
var (
	ErrUnknownParent = errors.New("unknown parent")
	ErrInvalidSeal   = errors.New("invalid seal")
	ErrInherent      = errors.New("inherent check failed")

	errAlreadyKnown = errors.New("already known")
)

// Step represents one stage of the import pipeline. A step reads and fills
// the shared import record and must not mutate the chain, except for the
// final commit.
type Step interface {
	Name() string
	Run(ctx context.Context, imp *Import) error
}

// =============================================================================

// Decode decodes the raw block, checks its extrinsics root and looks up the
// parent. Blocks already stored short circuit the pipeline.
type Decode struct {
	DB *database.Database
}

// Name implements the Step interface.
func (Decode) Name() string { return "decode" }

// Run implements the Step interface.
func (s Decode) Run(ctx context.Context, imp *Import) error {
	if imp.Data != nil {
		block, err := database.DecodeBlock(imp.Data)
		if err != nil {
			return pow.NewConsensusError("%w", err)
		}
		imp.Block = block
	}

	if err := imp.Block.ValidateExtrinsics(); err != nil {
		return pow.NewConsensusError("%w", err)
	}

	imp.Hash = imp.Block.Hash()

	known, err := s.DB.Contains(imp.Hash)
	if err != nil {
		return pow.NewEnvironmentError("lookup block %s: %w", imp.Hash, err)
	}
	if known {
		return errAlreadyKnown
	}

	header := imp.Block.Header

	imp.Parent, err = s.DB.Header(header.ParentHash)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrUnknownParent, header.ParentHash)
	case err != nil:
		return pow.NewEnvironmentError("lookup parent %s: %w", header.ParentHash, err)
	}

	if header.Number != imp.Parent.Number+1 {
		return pow.NewConsensusError("block number %d does not follow parent %d", header.Number, imp.Parent.Number)
	}

	return nil
}

// =============================================================================

// VerifySeal checks the proof of work against the difficulty required by
// the parent.
type VerifySeal struct {
	Algorithm *pow.Algorithm
}

// Name implements the Step interface.
func (VerifySeal) Name() string { return "verify-seal" }

// Run implements the Step interface.
func (s VerifySeal) Run(ctx context.Context, imp *Import) error {
	header := imp.Block.Header

	difficulty, err := s.Algorithm.Difficulty(header.ParentHash)
	if err != nil {
		return err
	}
	imp.Difficulty = difficulty

	if imp.Verified {
		return nil
	}

	ok, err := s.Algorithm.Verify(header.ParentHash, header.PreHash(), header.Author, header.Seal, difficulty)
	if err != nil {
		return err
	}
	if !ok {
		return &pow.ConsensusError{Err: ErrInvalidSeal}
	}

	imp.Verified = true
	return nil
}

// =============================================================================

// CheckInherents validates the data the producer embedded in the header:
// the timestamp moves forward and is not in the future, and the author is a
// valid public key. Blocks below After are not checked.
type CheckInherents struct {
	After    uint64
	MaxDrift time.Duration
	Version  memhash.Version
	Clock    clock.Clock
}

// Name implements the Step interface.
func (CheckInherents) Name() string { return "check-inherents" }

// Run implements the Step interface.
func (s CheckInherents) Run(ctx context.Context, imp *Import) error {
	header := imp.Block.Header

	if header.Number < s.After {
		return nil
	}

	if header.Timestamp <= imp.Parent.Timestamp {
		return pow.NewConsensusError("%w: timestamp %d not after parent %d", ErrInherent, header.Timestamp, imp.Parent.Timestamp)
	}

	limit := uint64(s.Clock.Now().Add(s.MaxDrift).UnixMilli())
	if header.Timestamp > limit {
		return pow.NewConsensusError("%w: timestamp %d too far in the future", ErrInherent, header.Timestamp)
	}

	if len(header.Author) == 0 && s.Version == memhash.V1 {
		return nil
	}

	if _, err := signature.DecodeAuthor(header.Author); err != nil {
		return pow.NewConsensusError("%w: author: %w", ErrInherent, err)
	}

	return nil
}

// =============================================================================

// ForkChoice computes the total difficulty and asks the weak subjective
// fork choice whether the block becomes the new best.
type ForkChoice struct {
	DB         *database.Database
	ForkChoice *weaksub.ForkChoice
}

// Name implements the Step interface.
func (ForkChoice) Name() string { return "fork-choice" }

// Run implements the Step interface.
func (s ForkChoice) Run(ctx context.Context, imp *Import) error {
	parentAux, err := s.DB.Aux(imp.Parent.Hash())
	if err != nil {
		return pow.NewEnvironmentError("parent aux: %w", err)
	}

	imp.TotalDifficulty = new(uint256.Int).Add(parentAux.TotalDifficulty, imp.Difficulty)

	candidate := weaksub.Candidate{
		Header:          imp.Block.Header,
		TotalDifficulty: imp.TotalDifficulty,
	}

	imp.NewBest, err = s.ForkChoice.Decide(s.DB, s.DB.Best(), candidate)
	return err
}

// =============================================================================

// Commit writes the block and its aux data in one atomic operation and
// notifies head listeners when the best block moves.
type Commit struct {
	DB    *database.Database
	Heads *events.Events[database.Header]
}

// Name implements the Step interface.
func (Commit) Name() string { return "commit" }

// Run implements the Step interface.
func (s Commit) Run(ctx context.Context, imp *Import) error {
	commit := database.Commit{
		Block: imp.Block,
		Aux: database.Aux{
			Difficulty:      imp.Difficulty,
			TotalDifficulty: imp.TotalDifficulty,
		},
		SetBest: imp.NewBest,
	}

	if err := s.DB.Commit(commit); err != nil {
		return pow.NewEnvironmentError("commit %s: %w", imp.Hash, err)
	}

	imp.Outcome = ImportedSide
	if imp.NewBest {
		imp.Outcome = ImportedBest
		if s.Heads != nil {
			s.Heads.Send(imp.Block.Header)
		}
	}

	return nil
}
