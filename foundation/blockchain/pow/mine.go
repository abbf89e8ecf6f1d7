package pow

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/memhash"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/holiman/uint256"
)

// ErrNoPreDigest is returned when mining is asked for without an author.
var ErrNoPreDigest = errors.New("unable to mine: pre-digest not set")

// KeyPairs represents the behavior required to resolve the private key of
// an author.
type KeyPairs interface {
	KeyPair(author []byte) (*ecdsa.PrivateKey, error)
}

// Job is everything a nonce search needs for one proposal.
type Job struct {
	KeyHash    database.Hash
	PreHash    database.Hash
	Difficulty *uint256.Int
	KeyPair    *ecdsa.PrivateKey // Required for V2.
}

// Engine searches for nonces. An engine owns its random source and is not
// safe for concurrent use: each mining goroutine constructs its own.
type Engine struct {
	machines *memhash.Machines
	version  memhash.Version
	rng      io.Reader
}

// NewEngine constructs an engine drawing nonces from the specified reader.
func NewEngine(machines *memhash.Machines, version memhash.Version, rng io.Reader) *Engine {
	if version == 0 {
		version = memhash.V2
	}

	return &Engine{
		machines: machines,
		version:  version,
		rng:      rng,
	}
}

// Search performs up to round trials and returns the first seal whose work
// meets the difficulty. Exhausting the round reports false.
func (e *Engine) Search(job Job, mode memhash.Mode, round int) (memhash.Seal, bool, error) {
	if e.version == memhash.V2 && job.KeyPair == nil {
		return memhash.Seal{}, false, errors.New("unable to mine: v2 requires a key pair")
	}

	vm, err := e.machines.VM(job.KeyHash, mode)
	if err != nil {
		return memhash.Seal{}, false, err
	}

	compute := Compute{
		KeyHash:    job.KeyHash,
		Difficulty: job.Difficulty,
		PreHash:    job.PreHash,
	}

	for range round {
		if _, err := io.ReadFull(e.rng, compute.Nonce[:]); err != nil {
			return memhash.Seal{}, false, fmt.Errorf("draw nonce: %w", err)
		}

		var sig []byte
		if e.version == memhash.V2 {
			if sig, err = compute.Sign(job.KeyPair); err != nil {
				return memhash.Seal{}, false, fmt.Errorf("sign trial: %w", err)
			}
		}

		seal, work := compute.SealAndWork(vm, sig)
		hashesTotal.Inc()

		if IsValidHash(work, job.Difficulty) {
			sealsFound.Inc()
			searchRounds.WithLabelValues("found").Inc()
			return seal, true, nil
		}
	}

	searchRounds.WithLabelValues("exhausted").Inc()
	return memhash.Seal{}, false, nil
}

// Mine resolves the key hash and key pair for a child of the parent and
// searches for a seal in mining mode. It returns the encoded seal, or nil
// when the round is exhausted.
func (e *Engine) Mine(headers database.HeaderBackend, keys KeyPairs, parent database.Hash, preHash database.Hash, preDigest []byte, difficulty *uint256.Int, round int) ([]byte, error) {
	keyHash, err := KeyHash(headers, parent)
	if err != nil {
		return nil, err
	}

	job := Job{
		KeyHash:    keyHash,
		PreHash:    preHash,
		Difficulty: difficulty,
	}

	if e.version == memhash.V2 {
		if len(preDigest) == 0 {
			return nil, ErrNoPreDigest
		}

		if _, err := signature.DecodeAuthor(preDigest); err != nil {
			return nil, fmt.Errorf("unable to mine: author pre-digest: %w", err)
		}

		if job.KeyPair, err = keys.KeyPair(preDigest); err != nil {
			return nil, fmt.Errorf("unable to mine: key pair for author: %w", err)
		}
	}

	seal, found, err := e.Search(job, memhash.Mining, round)
	if err != nil || !found {
		return nil, err
	}

	return seal.Encode(), nil
}
