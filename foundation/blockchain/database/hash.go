package database

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"
)

// Hash represents a 32 byte blake2b digest identifying a block.
type Hash [32]byte

// ZeroHash represents a hash code of zeros.
var ZeroHash Hash

// HashOf returns the blake2b-256 digest of the concatenated data.
func HashOf(data ...[]byte) Hash {
	h, _ := blake2b.New256(nil)
	for _, d := range data {
		h.Write(d)
	}

	var hash Hash
	copy(hash[:], h.Sum(nil))
	return hash
}

// ToHash converts a hex encoded string into a hash.
func ToHash(hex string) (Hash, error) {
	b, err := hexutil.Decode(hex)
	if err != nil {
		return Hash{}, fmt.Errorf("decode hash: %w", err)
	}

	if len(b) != len(Hash{}) {
		return Hash{}, fmt.Errorf("invalid hash length %d", len(b))
	}

	var hash Hash
	copy(hash[:], b)
	return hash, nil
}

// Bytes returns the hash as a slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// Hex returns the 0x prefixed hex encoding of the hash.
func (h Hash) Hex() string {
	return hexutil.Encode(h[:])
}

// String implements the fmt.Stringer interface.
func (h Hash) String() string {
	return h.Hex()
}

// IsZero reports whether the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// MarshalText implements the encoding.TextMarshaler interface.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (h *Hash) UnmarshalText(data []byte) error {
	hash, err := ToHash(string(data))
	if err != nil {
		return err
	}

	*h = hash
	return nil
}
