// Package pow implements the proof of work consensus rules: key hash
// resolution, seal verification, the tie break between equal seals, and the
// nonce search used by miners.
package pow

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/memhash"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/blake2b"
)

// Config represents the configuration required to construct the algorithm.
type Config struct {
	Headers    database.HeaderBackend
	Machines   *memhash.Machines
	Difficulty DifficultyProvider
	Version    memhash.Version
	EvHandler  func(v string, args ...any)
}

// Algorithm verifies seals against the memory-hard puzzle.
type Algorithm struct {
	headers    database.HeaderBackend
	machines   *memhash.Machines
	difficulty DifficultyProvider
	version    memhash.Version
	evHandler  func(v string, args ...any)
}

// New constructs an algorithm for verifying seals. The version defaults to
// V2, V1 is only selectable for legacy chains.
func New(cfg Config) (*Algorithm, error) {
	if cfg.Headers == nil || cfg.Machines == nil || cfg.Difficulty == nil {
		return nil, errors.New("headers, machines and difficulty are required")
	}

	version := cfg.Version
	switch version {
	case 0:
		version = memhash.V2
	case memhash.V1, memhash.V2:
	default:
		return nil, fmt.Errorf("unknown seal version %d", version)
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	a := Algorithm{
		headers:    cfg.Headers,
		machines:   cfg.Machines,
		difficulty: cfg.Difficulty,
		version:    version,
		evHandler:  ev,
	}

	return &a, nil
}

// Version returns the seal version produced and accepted.
func (a *Algorithm) Version() memhash.Version {
	return a.version
}

// Machines returns the hashing machines used by the algorithm.
func (a *Algorithm) Machines() *memhash.Machines {
	return a.machines
}

// Headers returns the header backend used to resolve key hashes.
func (a *Algorithm) Headers() database.HeaderBackend {
	return a.headers
}

// Difficulty returns the difficulty a child of the parent must meet.
func (a *Algorithm) Difficulty(parent database.Hash) (*uint256.Int, error) {
	difficulty, err := a.difficulty.Difficulty(parent)
	if err != nil {
		return nil, NewEnvironmentError("difficulty for %s: %w", parent, err)
	}
	return difficulty, nil
}

// WithHeaders returns a copy of the algorithm reading headers from the
// specified backend. Batch imports use this to see ancestors that are not
// committed yet.
func (a *Algorithm) WithHeaders(headers database.HeaderBackend) *Algorithm {
	cpy := *a
	cpy.headers = headers
	return &cpy
}

// Verify checks the seal for a child of the parent. Malformed or mismatched
// input reports false. Only faults reading the chain or building the puzzle
// cache are returned as errors.
func (a *Algorithm) Verify(parent database.Hash, preHash database.Hash, preDigest []byte, seal []byte, difficulty *uint256.Int) (bool, error) {
	keyHash, err := KeyHash(a.headers, parent)
	if err != nil {
		return false, err
	}

	decoded, err := memhash.DecodeSeal(seal)
	if err != nil || decoded.Version != a.version {
		a.evHandler("pow: Verify: rejected: parent[%s]: seal: %v", parent, err)
		return false, nil
	}

	compute := Compute{
		KeyHash:    keyHash,
		Difficulty: difficulty,
		PreHash:    preHash,
		Nonce:      decoded.Nonce,
	}

	// No pre-digest check is needed for V1 seals.
	if decoded.Version == memhash.V2 {
		if len(preDigest) == 0 {
			a.evHandler("pow: Verify: rejected: parent[%s]: missing author", parent)
			return false, nil
		}

		if _, err := signature.DecodeAuthor(preDigest); err != nil {
			a.evHandler("pow: Verify: rejected: parent[%s]: %s", parent, err)
			return false, nil
		}

		if !compute.VerifySignature(preDigest, decoded.Signature) {
			a.evHandler("pow: Verify: rejected: parent[%s]: bad signature", parent)
			return false, nil
		}
	}

	vm, err := a.machines.VM(keyHash, memhash.Sync)
	if err != nil {
		return false, &EnvironmentError{Err: fmt.Errorf("verify vm: %w", err)}
	}

	computedSeal, work := compute.SealAndWork(vm, decoded.Signature)
	hashesTotal.Inc()

	if !bytes.Equal(computedSeal.Encode(), seal) {
		a.evHandler("pow: Verify: rejected: parent[%s]: seal mismatch", parent)
		return false, nil
	}

	if !IsValidHash(work, difficulty) {
		a.evHandler("pow: Verify: rejected: parent[%s]: work[%x] above target", parent, work)
		return false, nil
	}

	return true, nil
}

// TieBreak reports whether the own seal should be kept over the new seal
// when both chains carry the same total difficulty. The seal with the
// greater blake2b digest wins.
func TieBreak(own []byte, candidate []byte) bool {
	ownHash := blake2b.Sum256(own)
	candidateHash := blake2b.Sum256(candidate)

	return bytes.Compare(ownHash[:], candidateHash[:]) > 0
}
