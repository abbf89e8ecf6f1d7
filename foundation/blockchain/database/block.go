package database

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/merkle"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
)

// ErrExtrinsicsRoot is returned when a block's extrinsics do not match the
// root committed to by its header.
var ErrExtrinsicsRoot = errors.New("extrinsics root mismatch")

// =============================================================================

// Header represents common information required for each block.
type Header struct {
	ParentHash     Hash          `json:"parent_hash"`     // Hash of the previous block in the chain.
	Number         uint64        `json:"number"`          // Block number in the chain.
	Timestamp      uint64        `json:"timestamp"`       // Unix milliseconds the block was proposed.
	Author         hexutil.Bytes `json:"author"`          // Compressed public key of the producer, the pre-digest.
	ExtrinsicsRoot Hash          `json:"extrinsics_root"` // Merkle root of the extrinsics in this block.
	Seal           hexutil.Bytes `json:"seal"`            // Proof of work, empty until sealed.
}

// Hash returns the unique hash of the sealed header.
func (h Header) Hash() Hash {
	data, err := rlp.EncodeToBytes(&h)
	if err != nil {
		return ZeroHash
	}

	return HashOf(data)
}

// PreHash returns the hash of the header without its seal. This is the value
// the proof of work commits to.
func (h Header) PreHash() Hash {
	h.Seal = nil
	return h.Hash()
}

// WithSeal returns a copy of the header carrying the specified seal.
func (h Header) WithSeal(seal []byte) Header {
	h.Seal = append([]byte(nil), seal...)
	return h
}

// =============================================================================

// Block represents a header and the opaque extrinsics it commits to.
type Block struct {
	Header     Header          `json:"header"`
	Extrinsics []hexutil.Bytes `json:"extrinsics"`
}

// NewBlock constructs an unsealed proposal on top of the specified parent.
func NewBlock(parent Header, author []byte, timestamp uint64, extrinsics [][]byte) Block {
	return Block{
		Header: Header{
			ParentHash:     parent.Hash(),
			Number:         parent.Number + 1,
			Timestamp:      timestamp,
			Author:         author,
			ExtrinsicsRoot: ExtrinsicsRoot(extrinsics),
		},
		Extrinsics: toHexBytes(extrinsics),
	}
}

// Hash returns the hash of the block's header.
func (b Block) Hash() Hash {
	return b.Header.Hash()
}

// WithSeal returns a copy of the block with the seal attached to its header.
func (b Block) WithSeal(seal []byte) Block {
	b.Header = b.Header.WithSeal(seal)
	return b
}

// ExtrinsicsBytes returns the extrinsics as plain byte slices.
func (b Block) ExtrinsicsBytes() [][]byte {
	exts := make([][]byte, len(b.Extrinsics))
	for i, ext := range b.Extrinsics {
		exts[i] = ext
	}
	return exts
}

// ValidateExtrinsics checks the extrinsics hash to the root in the header.
func (b Block) ValidateExtrinsics() error {
	if root := ExtrinsicsRoot(b.ExtrinsicsBytes()); root != b.Header.ExtrinsicsRoot {
		return fmt.Errorf("%w: got %s, exp %s", ErrExtrinsicsRoot, root, b.Header.ExtrinsicsRoot)
	}

	return nil
}

// Encode returns the rlp wire encoding of the block.
func (b Block) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(&b)
}

// DecodeBlock decodes a block from its rlp wire encoding.
func DecodeBlock(data []byte) (Block, error) {
	var b Block
	if err := rlp.DecodeBytes(data, &b); err != nil {
		return Block{}, fmt.Errorf("decode block: %w", err)
	}

	return b, nil
}

// EncodeHeader returns the rlp wire encoding of the header.
func EncodeHeader(h Header) ([]byte, error) {
	return rlp.EncodeToBytes(&h)
}

// DecodeHeader decodes a header from its rlp wire encoding.
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if err := rlp.DecodeBytes(data, &h); err != nil {
		return Header{}, fmt.Errorf("decode header: %w", err)
	}

	return h, nil
}

// ExtrinsicsRoot computes the merkle root over the opaque extrinsics.
func ExtrinsicsRoot(extrinsics [][]byte) Hash {
	return Hash(merkle.Root(extrinsics))
}

func toHexBytes(extrinsics [][]byte) []hexutil.Bytes {
	exts := make([]hexutil.Bytes, len(extrinsics))
	for i, ext := range extrinsics {
		exts[i] = ext
	}
	return exts
}
