package memhash

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrCorruptSeal is returned when a seal does not decode.
var ErrCorruptSeal = errors.New("corrupt seal")

// Version identifies the seal variant.
type Version uint8

// Set of seal versions. V1 is a legacy variant without a miner signature. It
// stays decodable for old blocks but is not produced or accepted by default.
const (
	V1 Version = 1
	V2 Version = 2
)

// Wire sizes of the seal variants.
const (
	NonceLength     = 32
	SignatureLength = 64
	SealV1Length    = 1 + NonceLength
	SealV2Length    = 1 + NonceLength + SignatureLength
)

// Seal is the proof of work payload attached to a block header.
type Seal struct {
	Version   Version
	Nonce     [NonceLength]byte
	Signature []byte // Only present for V2.
}

// Encode returns the tagged wire encoding of the seal.
func (s Seal) Encode() []byte {
	data := make([]byte, 0, SealV2Length)
	data = append(data, byte(s.Version))
	data = append(data, s.Nonce[:]...)
	if s.Version == V2 {
		data = append(data, s.Signature...)
	}
	return data
}

// Equal reports whether both seals are identical bit for bit.
func (s Seal) Equal(o Seal) bool {
	return s.Version == o.Version && s.Nonce == o.Nonce && bytes.Equal(s.Signature, o.Signature)
}

// DecodeSeal decodes the tagged wire encoding. Any unknown tag or wrong
// length is reported as corrupt.
func DecodeSeal(data []byte) (Seal, error) {
	if len(data) == 0 {
		return Seal{}, fmt.Errorf("%w: empty", ErrCorruptSeal)
	}

	var seal Seal
	seal.Version = Version(data[0])

	switch seal.Version {
	case V1:
		if len(data) != SealV1Length {
			return Seal{}, fmt.Errorf("%w: v1 length %d", ErrCorruptSeal, len(data))
		}
		copy(seal.Nonce[:], data[1:])

	case V2:
		if len(data) != SealV2Length {
			return Seal{}, fmt.Errorf("%w: v2 length %d", ErrCorruptSeal, len(data))
		}
		copy(seal.Nonce[:], data[1:1+NonceLength])
		seal.Signature = append([]byte(nil), data[1+NonceLength:]...)

	default:
		return Seal{}, fmt.Errorf("%w: unknown version %d", ErrCorruptSeal, data[0])
	}

	return seal, nil
}

// =============================================================================

// Input is everything the hash function commits to.
type Input struct {
	KeyHash    [32]byte
	Difficulty *uint256.Int
	PreHash    [32]byte
	Nonce      [NonceLength]byte
	Signature  []byte // Only present for V2.
}

// Encode returns the canonical fixed width serialization:
// key_hash | difficulty (big endian) | pre_hash | nonce [| signature].
func (in Input) Encode() []byte {
	data := make([]byte, 0, 128+len(in.Signature))
	data = append(data, in.KeyHash[:]...)

	var difficulty [32]byte
	if in.Difficulty != nil {
		difficulty = in.Difficulty.Bytes32()
	}
	data = append(data, difficulty[:]...)

	data = append(data, in.PreHash[:]...)
	data = append(data, in.Nonce[:]...)
	data = append(data, in.Signature...)
	return data
}
