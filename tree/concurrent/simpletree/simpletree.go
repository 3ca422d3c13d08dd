// Package simpletree is a full in-memory Merkle tree with the same hashing
// rules as the concurrent tree. It materializes every node, which the
// concurrent tree deliberately avoids, and is used to double-check roots and
// to produce proofs for arbitrary leaves the way an off-chain indexer would.
package simpletree

import (
	"fmt"

	"github.com/proofbuf/notetree/tree/concurrent"
)

// Tree is a fully-materialized fixed-depth Merkle tree.
type Tree struct {
	depth  int
	leaves [][32]byte
}

func New(depth int) *Tree {
	return &Tree{depth: depth}
}

// Append adds a leaf at the next free index.
func (t *Tree) Append(leaf [32]byte) {
	if uint64(len(t.leaves)) >= uint64(1)<<t.depth {
		panic("tree is full")
	}
	t.leaves = append(t.leaves, leaf)
}

// Replace swaps the leaf at the given index.
func (t *Tree) Replace(index uint64, leaf [32]byte) {
	if index >= uint64(len(t.leaves)) {
		panic(fmt.Sprintf("leaf %d has not been appended", index))
	}
	t.leaves[index] = leaf
}

// Root recomputes the root over all leaves, with unoccupied positions taken
// to be empty subtrees.
func (t *Tree) Root() [32]byte {
	root, _ := t.compute(^uint64(0))
	return root
}

// Proof returns the sibling at each level of the path from the given leaf to
// the root, leaf level first.
func (t *Tree) Proof(index uint64) [][32]byte {
	if index >= uint64(len(t.leaves)) {
		panic(fmt.Sprintf("leaf %d has not been appended", index))
	}
	_, proof := t.compute(index)
	return proof
}

// compute rebuilds the tree level by level, collecting the proof for the
// given leaf index along the way (pass an out-of-range index for none).
func (t *Tree) compute(index uint64) ([32]byte, [][32]byte) {
	level := make([][32]byte, uint64(1)<<t.depth)
	copy(level, t.leaves)

	proof := make([][32]byte, 0, t.depth)
	for i := 0; i < t.depth; i++ {
		if index < uint64(len(level)) {
			proof = append(proof, level[index^1])
		}
		next := make([][32]byte, len(level)/2)
		for j := range next {
			next[j] = concurrent.Hash(level[2*j], level[2*j+1])
		}
		level = next
		index >>= 1
	}

	return level[0], proof
}
