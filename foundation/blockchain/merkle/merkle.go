// Package merkle computes the extrinsics root committed to by a block header.
// Leaves are opaque byte slices, nodes are blake2b-256 digests, and an odd
// node at any level is paired with itself.
package merkle

import (
	"bytes"
	"errors"
	"hash"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"
)

// Tree holds every level of a merkle tree, from leaves to root.
type Tree struct {
	Levels       [][][]byte
	MerkleRoot   []byte
	hashStrategy func() hash.Hash
}

// WithHashStrategy is used to change the default hash strategy of using
// blake2b-256 when constructing a new tree.
func WithHashStrategy(hashStrategy func() hash.Hash) func(t *Tree) {
	return func(t *Tree) {
		t.hashStrategy = hashStrategy
	}
}

// NewTree constructs a merkle tree over the specified leaves. An empty set of
// leaves produces the digest of the empty string as the root.
func NewTree(values [][]byte, options ...func(t *Tree)) *Tree {
	t := Tree{
		hashStrategy: newBlake2b,
	}

	for _, option := range options {
		option(&t)
	}

	t.generate(values)

	return &t
}

// Root is a convenience function returning the blake2b merkle root of
// the specified leaves.
func Root(values [][]byte) [32]byte {
	var root [32]byte
	copy(root[:], NewTree(values).MerkleRoot)
	return root
}

// Proof returns the sibling hashes needed to prove the leaf at the specified
// index, along with the side each sibling is concatenated on: 0 means the
// sibling comes first, 1 means it comes second.
func (t *Tree) Proof(index int) ([][]byte, []int64, error) {
	if len(t.Levels) == 0 || index < 0 || index >= len(t.Levels[0]) {
		return nil, nil, errors.New("leaf index out of range")
	}

	var proof [][]byte
	var order []int64

	for _, level := range t.Levels[:len(t.Levels)-1] {
		sibling := index ^ 1
		if sibling >= len(level) {
			sibling = index
		}

		proof = append(proof, level[sibling])
		if index%2 == 0 {
			order = append(order, 1)
		} else {
			order = append(order, 0)
		}

		index /= 2
	}

	return proof, order, nil
}

// VerifyProof recomputes the root from the leaf data and the proof returned
// by Proof and compares it with the tree's root.
func (t *Tree) VerifyProof(value []byte, proof [][]byte, order []int64) error {
	if len(proof) != len(order) {
		return errors.New("proof and order length mismatch")
	}

	current := t.hashLeaf(value)
	for i, sibling := range proof {
		switch order[i] {
		case 0:
			current = t.hashPair(sibling, current)
		default:
			current = t.hashPair(current, sibling)
		}
	}

	if !bytes.Equal(current, t.MerkleRoot) {
		return errors.New("merkle root is not equivalent to the merkle root calculated on the critical path")
	}

	return nil
}

// RootHex converts the merkle root byte hash to a hex encoded string.
func (t *Tree) RootHex() string {
	return hexutil.Encode(t.MerkleRoot)
}

// =============================================================================

func (t *Tree) generate(values [][]byte) {
	if len(values) == 0 {
		h := t.hashStrategy()
		t.Levels = nil
		t.MerkleRoot = h.Sum(nil)
		return
	}

	level := make([][]byte, len(values))
	for i, value := range values {
		level[i] = t.hashLeaf(value)
	}
	t.Levels = [][][]byte{level}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := i + 1
			if right == len(level) {
				right = i
			}
			next = append(next, t.hashPair(level[i], level[right]))
		}

		t.Levels = append(t.Levels, next)
		level = next
	}

	t.MerkleRoot = level[0]
}

// Leaves and inner nodes are domain separated so a leaf can never be
// reinterpreted as an inner node.
func (t *Tree) hashLeaf(value []byte) []byte {
	h := t.hashStrategy()
	h.Write([]byte{0x00})
	h.Write(value)
	return h.Sum(nil)
}

func (t *Tree) hashPair(left, right []byte) []byte {
	h := t.hashStrategy()
	h.Write([]byte{0x01})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func newBlake2b() hash.Hash {
	h, _ := blake2b.New256(nil)
	return h
}
