// Package concurrent implements an append-only Merkle tree that tolerates
// concurrent writers through a bounded change log of recent mutations.
//
// The tree is never materialized in full. Its state is the current root, a
// proof for the rightmost leaf (enough to compute the next append), and a
// ring of the last few root-to-leaf paths. A caller holding a proof that was
// valid up to bufferSize mutations ago can still replace a leaf: the proof
// is fast-forwarded through the intervening change-log entries instead of
// requiring the caller to re-fetch and serialize on the current root.
package concurrent

import (
	"errors"
	"fmt"
	"math/bits"
)

// Hard bounds on tree geometry. Proof size grows linearly with depth and
// the serialized record grows with depth*bufferSize, so both are capped:
// the largest supported record (depth 30, buffer 2048) is just under 2 MiB.
const (
	MaxDepth      = 30
	MaxBufferSize = 2048
)

var (
	// ErrInvalidConfig is returned when tree parameters are out of bounds.
	ErrInvalidConfig = errors.New("invalid tree configuration")
	// ErrTreeFull is returned when all 2^depth leaves are occupied.
	ErrTreeFull = errors.New("tree is full")
	// ErrZeroLeaf is returned when appending the all-zero leaf, which is
	// reserved as the empty-node marker.
	ErrZeroLeaf = errors.New("cannot append the zero leaf")
	// ErrProofMismatch is returned when a proof does not resolve the
	// claimed leaf at the claimed index.
	ErrProofMismatch = errors.New("proof does not match leaf")
	// ErrStaleProof is returned when a proof's root has been evicted from
	// the change log; the caller must re-fetch the current root and retry.
	ErrStaleProof = errors.New("proof root no longer in change log")
)

// rightmostProof carries everything needed to extend the tree by one leaf:
// the most recently appended leaf, the number of leaves so far, and the
// sibling at each level of the rightmost leaf's path.
type rightmostProof struct {
	proof [][32]byte
	leaf  [32]byte
	index uint64 // number of leaves appended so far
}

// Tree is an append-only concurrent Merkle tree. Depth and buffer size are
// fixed at creation. A Tree is not safe for use from multiple goroutines;
// callers are expected to funnel mutations through a single sequencer.
type Tree struct {
	depth      int
	bufferSize int
	seq        uint64
	changeLog  *changeLog
	rightmost  rightmostProof
}

// New returns an empty tree. Depth must be in [1, MaxDepth] and bufferSize
// in [1, MaxBufferSize]; anything else fails with ErrInvalidConfig.
func New(depth, bufferSize int) (*Tree, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: depth %d outside [1, %d]", ErrInvalidConfig, depth, MaxDepth)
	} else if bufferSize < 1 || bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer size %d outside [1, %d]", ErrInvalidConfig, bufferSize, MaxBufferSize)
	}

	t := &Tree{
		depth:      depth,
		bufferSize: bufferSize,
		changeLog:  newChangeLog(depth, bufferSize),
	}
	t.rightmost.proof = make([][32]byte, depth)
	for i := 0; i < depth; i++ {
		t.rightmost.proof[i] = emptyNodes[i]
	}
	return t, nil
}

// Root returns the current root of the tree.
func (t *Tree) Root() [32]byte { return t.changeLog.currentRoot() }

// Seq returns the number of mutations accepted so far.
func (t *Tree) Seq() uint64 { return t.seq }

// Depth returns the fixed depth of the tree.
func (t *Tree) Depth() int { return t.depth }

// BufferSize returns the fixed change-log capacity of the tree.
func (t *Tree) BufferSize() int { return t.bufferSize }

// LeafCount returns the number of leaves appended so far.
func (t *Tree) LeafCount() uint64 { return t.rightmost.index }

// Capacity returns the maximum number of leaves the tree can hold.
func (t *Tree) Capacity() uint64 { return 1 << t.depth }

// ResidentRoots returns the roots still resident in the change log, newest
// first. A proof computed against any of them can still be reconciled.
func (t *Tree) ResidentRoots() [][32]byte {
	out := make([][32]byte, 0, t.changeLog.count)
	for age := 0; age < t.changeLog.count; age++ {
		out = append(out, t.changeLog.entries[t.changeLog.position(age)].root)
	}
	return out
}

// Append inserts a leaf at the next free index and returns the new root and
// the index assigned. The tree is left unchanged on failure.
func (t *Tree) Append(leaf [32]byte) ([32]byte, uint64, error) {
	if leaf == ([32]byte{}) {
		return [32]byte{}, 0, ErrZeroLeaf
	} else if t.rightmost.index >= t.Capacity() {
		return [32]byte{}, 0, ErrTreeFull
	}

	n := t.rightmost.index
	path := make([][32]byte, t.depth)
	node := leaf

	if n == 0 {
		// First leaf: every sibling on the path is an empty subtree.
		for i := 0; i < t.depth; i++ {
			path[i] = node
			node = hashNode(node, emptyNodes[i])
		}
	} else {
		// The new leaf opens a fresh empty subtree of height equal to the
		// number of trailing zeros of its index. Below that level its
		// siblings are empty; at that level its left sibling is the root
		// of the just-completed subtree holding the old rightmost leaf;
		// above it the old rightmost proof still applies.
		intersection := bits.TrailingZeros64(n)
		subtree := t.rightmost.leaf

		for i := 0; i < t.depth; i++ {
			path[i] = node
			switch {
			case i < intersection:
				node = hashNode(node, emptyNodes[i])
				subtree = hashNode(t.rightmost.proof[i], subtree)
				t.rightmost.proof[i] = emptyNodes[i]
			case i == intersection:
				node = hashNode(subtree, node)
				t.rightmost.proof[i] = subtree
			default:
				if (n>>i)&1 == 1 {
					node = hashNode(t.rightmost.proof[i], node)
				} else {
					node = hashNode(node, t.rightmost.proof[i])
				}
			}
		}
	}

	t.changeLog.push(node, path, n)
	t.rightmost.leaf = leaf
	t.rightmost.index = n + 1
	t.seq++

	return node, n, nil
}

// Replace swaps the leaf at the given index from oldLeaf to newLeaf and
// returns the new root. The caller presents the root its proof was computed
// against; the proof is fast-forwarded through any mutations accepted since.
//
// Fails with ErrStaleProof if that root has been evicted from the change
// log, and with ErrProofMismatch if the proof does not resolve oldLeaf at
// the index (including when a later mutation already replaced the same
// leaf). The tree is left unchanged on failure.
func (t *Tree) Replace(root [32]byte, index uint64, oldLeaf, newLeaf [32]byte, proof [][32]byte) ([32]byte, error) {
	if index >= t.rightmost.index {
		return [32]byte{}, fmt.Errorf("%w: leaf %d has not been appended", ErrProofMismatch, index)
	} else if len(proof) != t.depth {
		return [32]byte{}, fmt.Errorf("%w: proof has %d nodes, want %d", ErrProofMismatch, len(proof), t.depth)
	}

	age := t.changeLog.find(root)
	if age == -1 {
		return [32]byte{}, ErrStaleProof
	}

	// Work on a copy so a failed replace leaves no trace.
	updated := make([][32]byte, t.depth)
	copy(updated, proof)
	if !t.changeLog.fastForward(age, index, updated) {
		return [32]byte{}, fmt.Errorf("%w: leaf %d was modified concurrently", ErrProofMismatch, index)
	}
	if computeRoot(updated, oldLeaf, index) != t.Root() {
		return [32]byte{}, ErrProofMismatch
	}

	path := make([][32]byte, t.depth)
	node := newLeaf
	for i := 0; i < t.depth; i++ {
		path[i] = node
		if (index>>i)&1 == 1 {
			node = hashNode(updated[i], node)
		} else {
			node = hashNode(node, updated[i])
		}
	}

	t.changeLog.push(node, path, index)
	if index == t.rightmost.index-1 {
		// The fast-forwarded proof is exactly the rightmost proof for the
		// new tree state.
		copy(t.rightmost.proof, updated)
		t.rightmost.leaf = newLeaf
	} else {
		// The mutation changed one sibling on the rightmost leaf's path:
		// the node where the two paths diverge. Patching it keeps the
		// next append folding against current siblings.
		critical := highestBit(index ^ (t.rightmost.index - 1))
		t.rightmost.proof[critical] = path[critical]
	}
	t.seq++

	return node, nil
}

// computeRoot folds a proof against a leaf at the given index.
func computeRoot(proof [][32]byte, leaf [32]byte, index uint64) [32]byte {
	node := leaf
	for i, sibling := range proof {
		if (index>>i)&1 == 1 {
			node = hashNode(sibling, node)
		} else {
			node = hashNode(node, sibling)
		}
	}
	return node
}
