// Package weaksub implements the weak subjectivity fork choice. Cumulative
// difficulty selects the best chain, and a reorg away from the best chain
// must bring exponentially more work the longer ago the chains diverged.
// History older than a few periods becomes effectively final.
package weaksub

import (
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/pow"
	"github.com/holiman/uint256"
	"github.com/raulk/clock"
)

// ErrWeakSubjectivity is returned when a reorg reaches deeper than the
// current bound allows.
var ErrWeakSubjectivity = errors.New("reorg exceeds weak subjectivity bound")

// Exponential grows the work a reorg must bring by GrowthRate for every
// Period elapsed since the fork point was produced.
type Exponential struct {
	GrowthRate float64
	Period     time.Duration
}

// DefaultExponential returns the parameters used by production nodes.
func DefaultExponential() Exponential {
	return Exponential{
		GrowthRate: 1.1,
		Period:     30 * time.Minute,
	}
}

// Threshold returns the factor by which the enacted work must cover the
// retracted work after the specified time has elapsed since the fork point.
func (e Exponential) Threshold(elapsed time.Duration) float64 {
	if elapsed <= 0 || e.Period <= 0 {
		return 1
	}

	periods := math.Floor(float64(elapsed) / float64(e.Period))
	return math.Pow(e.GrowthRate, periods)
}

// Permits reports whether a reorg enacting the specified work in place of
// the retracted work is allowed.
func (e Exponential) Permits(elapsed time.Duration, enacted *uint256.Int, retracted *uint256.Int) bool {
	if retracted.IsZero() {
		return true
	}

	threshold := e.Threshold(elapsed)
	if math.IsInf(threshold, 1) {
		return false
	}

	need := new(big.Float).SetInt(retracted.ToBig())
	need.Mul(need, big.NewFloat(threshold))

	have := new(big.Float).SetInt(enacted.ToBig())

	return have.Cmp(need) >= 0
}

// =============================================================================

// Backend represents the behavior required to read headers and the total
// difficulty recorded for them.
type Backend interface {
	database.HeaderBackend
	Aux(hash database.Hash) (database.Aux, error)
}

// Config represents the configuration required to construct the fork choice.
type Config struct {
	Algorithm Exponential
	Enabled   bool
	Clock     clock.Clock
	EvHandler func(v string, args ...any)
}

// ForkChoice decides whether an imported block becomes the new best block.
type ForkChoice struct {
	algorithm Exponential
	enabled   bool
	clock     clock.Clock
	evHandler func(v string, args ...any)
}

// New constructs a fork choice.
func New(cfg Config) *ForkChoice {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	return &ForkChoice{
		algorithm: cfg.Algorithm,
		enabled:   cfg.Enabled,
		clock:     clk,
		evHandler: ev,
	}
}

// Enabled reports whether the weak subjectivity bound is enforced.
func (fc *ForkChoice) Enabled() bool {
	return fc.enabled
}

// Candidate is a verified block waiting for the fork choice.
type Candidate struct {
	Header          database.Header
	TotalDifficulty *uint256.Int
}

// Decide reports whether the candidate becomes the new best block. The
// candidate's parent must already be stored. A candidate that would win on
// work but reorgs deeper than the bound allows fails with a ConsensusError.
func (fc *ForkChoice) Decide(backend Backend, best database.Header, candidate Candidate) (bool, error) {
	bestHash := best.Hash()

	bestAux, err := backend.Aux(bestHash)
	if err != nil {
		return false, pow.NewEnvironmentError("best aux %s: %w", bestHash, err)
	}

	switch candidate.TotalDifficulty.Cmp(bestAux.TotalDifficulty) {
	case -1:
		return false, nil
	case 0:
		if pow.TieBreak(best.Seal, candidate.Header.Seal) {
			return false, nil
		}
	}

	if !fc.enabled || candidate.Header.ParentHash == bestHash {
		return true, nil
	}

	route, err := database.TreeRoute(backend, bestHash, candidate.Header.ParentHash)
	if err != nil {
		return false, pow.NewEnvironmentError("route to candidate: %w", err)
	}

	if len(route.Retracted) == 0 {
		return true, nil
	}

	commonHash := route.Common.Hash()
	commonAux, err := backend.Aux(commonHash)
	if err != nil {
		return false, pow.NewEnvironmentError("fork point aux %s: %w", commonHash, err)
	}

	enacted := new(uint256.Int).Sub(candidate.TotalDifficulty, commonAux.TotalDifficulty)
	retracted := new(uint256.Int).Sub(bestAux.TotalDifficulty, commonAux.TotalDifficulty)

	elapsed := time.Duration(0)
	if now := fc.clock.Now().UnixMilli(); now > int64(route.Common.Timestamp) {
		elapsed = time.Duration(now-int64(route.Common.Timestamp)) * time.Millisecond
	}

	if !fc.algorithm.Permits(elapsed, enacted, retracted) {
		fc.evHandler("weaksub: Decide: rejected: fork[%d] retracted[%d] elapsed[%s] threshold[%.3f]", route.Common.Number, len(route.Retracted), elapsed, fc.algorithm.Threshold(elapsed))
		return false, &pow.ConsensusError{Err: ErrWeakSubjectivity}
	}

	fc.evHandler("weaksub: Decide: reorg: fork[%d] retracted[%d] enacted[%d]", route.Common.Number, len(route.Retracted), len(route.Enacted)+1)

	return true, nil
}
