// Package signature provides helper functions for handling the blockchain
// signature needs: signing seal digests and decoding author identities.
package signature

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Length is the size of a signature carried by a seal: the R and S values
// without the recovery id.
const Length = 64

// AuthorLength is the size of a compressed secp256k1 public key.
const AuthorLength = 33

// =============================================================================

// Digest returns a hash of 32 bytes that represents the data with the chain
// stamp embedded into the final hash.
func Digest(data ...[]byte) []byte {

	// Hash the data into a 32 byte array. This will provide a data length
	// consistency with all data.
	dataHash := crypto.Keccak256(data...)

	// Convert the stamp into a slice of bytes. This stamp is used so
	// signatures we produce when signing seals are always unique to
	// this chain.
	stamp := []byte("\x19PoW Signed Seal:\n32")

	// Hash the stamp and dataHash together in a final 32 byte array
	// that represents the data.
	return crypto.Keccak256(stamp, dataHash)
}

// Sign uses the specified private key to sign the digest and returns the 64
// byte [R|S] signature.
func Sign(digest []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {

	// Sign the hash with the private key to produce a signature.
	sig, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return nil, err
	}

	// Check the public key extracted from the data and signature.
	rs := sig[:crypto.RecoveryIDOffset]
	if !crypto.VerifySignature(crypto.CompressPubkey(&privateKey.PublicKey), digest, rs) {
		return nil, errors.New("invalid signature")
	}

	return rs, nil
}

// Verify checks the 64 byte signature over the digest against the compressed
// public key. Malformed input reports false.
func Verify(author []byte, digest []byte, sig []byte) bool {
	if len(author) != AuthorLength || len(sig) != Length || len(digest) != 32 {
		return false
	}

	return crypto.VerifySignature(author, digest, sig)
}

// =============================================================================

// Author returns the compressed public key identifying a block producer.
func Author(publicKey *ecdsa.PublicKey) []byte {
	return crypto.CompressPubkey(publicKey)
}

// DecodeAuthor validates and decompresses the author public key.
func DecodeAuthor(author []byte) (*ecdsa.PublicKey, error) {
	if len(author) != AuthorLength {
		return nil, fmt.Errorf("invalid author length %d", len(author))
	}

	publicKey, err := crypto.DecompressPubkey(author)
	if err != nil {
		return nil, fmt.Errorf("decode author: %w", err)
	}

	return publicKey, nil
}

// ToAuthor converts a hex encoded author into its bytes, validating it.
func ToAuthor(hex string) ([]byte, error) {
	author, err := hexutil.Decode(hex)
	if err != nil {
		return nil, fmt.Errorf("decode author hex: %w", err)
	}

	if _, err := DecodeAuthor(author); err != nil {
		return nil, err
	}

	return author, nil
}

// AuthorString returns the author as a hex string.
func AuthorString(author []byte) string {
	return hexutil.Encode(author)
}
