package concurrent

import (
	"golang.org/x/crypto/sha3"
)

// HashLeaf returns the 32-byte keccak-256 hash of an arbitrary payload,
// suitable for storage as a leaf of the tree.
//
// The same function must be used when hashing payloads for proof
// verification later; mixing hash functions makes every proof fail.
func HashLeaf(payload []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Hash returns the intermediate hash of two sibling nodes. Exported so that
// independent implementations can agree with the tree's hashing rules.
func Hash(left, right [32]byte) [32]byte {
	return hashNode(left, right)
}

func hashNode(left, right [32]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(left[:])
	h.Write(right[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// emptyNodes[i] is the root of an empty subtree of height i: emptyNodes[0]
// is the all-zero leaf and emptyNodes[i] hashes two copies of the level
// below. Computed once at startup for every supported level.
var emptyNodes = buildEmptyNodes()

func buildEmptyNodes() [][32]byte {
	nodes := make([][32]byte, MaxDepth+1)
	for i := 1; i <= MaxDepth; i++ {
		nodes[i] = hashNode(nodes[i-1], nodes[i-1])
	}
	return nodes
}

// EmptyRoot returns the canonical root of an empty tree of the given depth.
func EmptyRoot(depth int) [32]byte {
	if depth < 1 || depth > MaxDepth {
		panic("depth outside supported bounds")
	}
	return emptyNodes[depth]
}
