package pow

import (
	"crypto/ecdsa"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/memhash"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/holiman/uint256"
)

// Compute holds the values a single proof of work trial commits to.
type Compute struct {
	KeyHash    database.Hash
	Difficulty *uint256.Int
	PreHash    database.Hash
	Nonce      [memhash.NonceLength]byte
}

// Digest returns the message a V2 miner signs: the key hash, pre hash and
// nonce under the chain stamp.
func (c Compute) Digest() []byte {
	return signature.Digest(c.KeyHash[:], c.PreHash[:], c.Nonce[:])
}

// Sign produces the V2 signature binding the miner to this trial.
func (c Compute) Sign(privateKey *ecdsa.PrivateKey) ([]byte, error) {
	return signature.Sign(c.Digest(), privateKey)
}

// VerifySignature checks the V2 signature against the author.
func (c Compute) VerifySignature(author []byte, sig []byte) bool {
	return signature.Verify(author, c.Digest(), sig)
}

// Input returns the hash function input. A nil signature produces the V1
// input.
func (c Compute) Input(sig []byte) memhash.Input {
	return memhash.Input{
		KeyHash:    c.KeyHash,
		Difficulty: c.Difficulty,
		PreHash:    c.PreHash,
		Nonce:      c.Nonce,
		Signature:  sig,
	}
}

// Seal returns the seal for this trial. A nil signature produces a V1 seal.
func (c Compute) Seal(sig []byte) memhash.Seal {
	if sig == nil {
		return memhash.Seal{Version: memhash.V1, Nonce: c.Nonce}
	}

	return memhash.Seal{Version: memhash.V2, Nonce: c.Nonce, Signature: sig}
}

// SealAndWork computes the seal and the work for this trial on the VM.
func (c Compute) SealAndWork(vm *memhash.VM, sig []byte) (memhash.Seal, [32]byte) {
	work := vm.Hash(c.Input(sig).Encode())
	return c.Seal(sig), work
}
