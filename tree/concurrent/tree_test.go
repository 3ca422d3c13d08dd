package concurrent

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

func randomLeaf() [32]byte {
	var out [32]byte
	if _, err := rand.Read(out[:]); err != nil {
		panic(err)
	}
	return out
}

// referenceTree is a fully-materialized tree used to cross-check roots and
// build proofs. It duplicates tree/concurrent/simpletree to avoid an import
// cycle with the package under test.
type referenceTree struct {
	depth  int
	leaves [][32]byte
}

func (r *referenceTree) append(leaf [32]byte) {
	r.leaves = append(r.leaves, leaf)
}

func (r *referenceTree) replace(index uint64, leaf [32]byte) {
	r.leaves[index] = leaf
}

func (r *referenceTree) root() [32]byte {
	root, _ := r.compute(^uint64(0))
	return root
}

func (r *referenceTree) proof(index uint64) [][32]byte {
	_, proof := r.compute(index)
	return proof
}

func (r *referenceTree) compute(index uint64) ([32]byte, [][32]byte) {
	level := make([][32]byte, uint64(1)<<r.depth)
	copy(level, r.leaves)

	proof := make([][32]byte, 0, r.depth)
	for i := 0; i < r.depth; i++ {
		if index < uint64(len(level)) {
			proof = append(proof, level[index^1])
		}
		next := make([][32]byte, len(level)/2)
		for j := range next {
			next[j] = hashNode(level[2*j], level[2*j+1])
		}
		level = next
		index >>= 1
	}

	return level[0], proof
}

func TestInvalidConfig(t *testing.T) {
	for _, tc := range [][2]int{{0, 8}, {31, 8}, {-1, 8}, {4, 0}, {4, 2049}} {
		_, err := New(tc[0], tc[1])
		require.ErrorIs(t, err, ErrInvalidConfig, "depth=%d buffer=%d", tc[0], tc[1])
	}
}

func TestEmptyRoot(t *testing.T) {
	tree, err := New(4, 8)
	require.NoError(t, err)

	ref := &referenceTree{depth: 4}
	require.Equal(t, ref.root(), tree.Root())
	require.Equal(t, EmptyRoot(4), tree.Root())
	require.Equal(t, uint64(0), tree.Seq())
}

func TestAppendMatchesReference(t *testing.T) {
	tree, err := New(4, 8)
	require.NoError(t, err)
	ref := &referenceTree{depth: 4}

	for i := uint64(0); i < 16; i++ {
		leaf := randomLeaf()
		root, index, err := tree.Append(leaf)
		require.NoError(t, err)
		require.Equal(t, i, index)

		ref.append(leaf)
		require.Equal(t, ref.root(), root)
		require.Equal(t, root, tree.Root())
		require.Equal(t, i+1, tree.Seq())
	}
}

func TestAppendFull(t *testing.T) {
	tree, err := New(2, 4)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, _, err := tree.Append(randomLeaf())
		require.NoError(t, err)
	}
	root, seq := tree.Root(), tree.Seq()

	_, _, err = tree.Append(randomLeaf())
	require.ErrorIs(t, err, ErrTreeFull)
	require.Equal(t, root, tree.Root())
	require.Equal(t, seq, tree.Seq())
}

func TestAppendZeroLeaf(t *testing.T) {
	tree, err := New(4, 8)
	require.NoError(t, err)

	_, _, err = tree.Append([32]byte{})
	require.ErrorIs(t, err, ErrZeroLeaf)
	require.Equal(t, EmptyRoot(4), tree.Root())
	require.Equal(t, uint64(0), tree.Seq())
}

// The worked example from the note-log protocol: depth 14, buffer 64,
// appending "hello" then "world".
func TestNoteExample(t *testing.T) {
	tree, err := New(14, 64)
	require.NoError(t, err)
	emptyRoot := tree.Root()

	hello := HashLeaf([]byte("hello"))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("hello"))
	require.Equal(t, h.Sum(nil), hello[:])

	root, index, err := tree.Append(hello)
	require.NoError(t, err)
	require.Equal(t, uint64(0), index)
	require.NotEqual(t, emptyRoot, root)

	world := HashLeaf([]byte("world"))
	root, index, err = tree.Append(world)
	require.NoError(t, err)
	require.Equal(t, uint64(1), index)

	ref := &referenceTree{depth: 14}
	ref.append(hello)
	ref.append(world)
	require.Equal(t, ref.root(), root)
}

func TestReplaceCurrentProof(t *testing.T) {
	tree, err := New(4, 8)
	require.NoError(t, err)
	ref := &referenceTree{depth: 4}

	for i := 0; i < 5; i++ {
		leaf := randomLeaf()
		_, _, err := tree.Append(leaf)
		require.NoError(t, err)
		ref.append(leaf)
	}

	oldLeaf, newLeaf := ref.leaves[2], randomLeaf()
	root, err := tree.Replace(tree.Root(), 2, oldLeaf, newLeaf, ref.proof(2))
	require.NoError(t, err)

	ref.replace(2, newLeaf)
	require.Equal(t, ref.root(), root)
	require.Equal(t, uint64(6), tree.Seq())
}

// Replacing the rightmost leaf must keep subsequent appends correct.
func TestReplaceRightmostThenAppend(t *testing.T) {
	tree, err := New(4, 8)
	require.NoError(t, err)
	ref := &referenceTree{depth: 4}

	for i := 0; i < 3; i++ {
		leaf := randomLeaf()
		_, _, err := tree.Append(leaf)
		require.NoError(t, err)
		ref.append(leaf)
	}

	newLeaf := randomLeaf()
	_, err = tree.Replace(tree.Root(), 2, ref.leaves[2], newLeaf, ref.proof(2))
	require.NoError(t, err)
	ref.replace(2, newLeaf)

	leaf := randomLeaf()
	root, index, err := tree.Append(leaf)
	require.NoError(t, err)
	require.Equal(t, uint64(3), index)
	ref.append(leaf)
	require.Equal(t, ref.root(), root)
}

// Replacing a leaf other than the rightmost one changes interior nodes the
// rightmost path depends on; subsequent appends must still fold to the
// correct root.
func TestReplaceInteriorThenAppend(t *testing.T) {
	for appended := 2; appended <= 6; appended++ {
		for index := uint64(0); index < uint64(appended)-1; index++ {
			tree, err := New(4, 8)
			require.NoError(t, err)
			ref := &referenceTree{depth: 4}

			for i := 0; i < appended; i++ {
				leaf := randomLeaf()
				_, _, err := tree.Append(leaf)
				require.NoError(t, err)
				ref.append(leaf)
			}

			newLeaf := randomLeaf()
			root, err := tree.Replace(tree.Root(), index, ref.leaves[index], newLeaf, ref.proof(index))
			require.NoError(t, err)
			ref.replace(index, newLeaf)
			require.Equal(t, ref.root(), root, "appended=%d index=%d", appended, index)

			leaf := randomLeaf()
			root, _, err = tree.Append(leaf)
			require.NoError(t, err)
			ref.append(leaf)
			require.Equal(t, ref.root(), root, "appended=%d index=%d", appended, index)
		}
	}
}

// A proof that has gone stale by fewer than bufferSize mutations is fast
// forwarded through the change log and still succeeds.
func TestReplaceStaleWithinWindow(t *testing.T) {
	tree, err := New(4, 4)
	require.NoError(t, err)
	ref := &referenceTree{depth: 4}

	for i := 0; i < 4; i++ {
		leaf := randomLeaf()
		_, _, err := tree.Append(leaf)
		require.NoError(t, err)
		ref.append(leaf)
	}

	// Snapshot a proof for leaf 1, then let three other mutations land.
	staleRoot, staleProof, oldLeaf := tree.Root(), ref.proof(1), ref.leaves[1]
	for i := 0; i < 3; i++ {
		leaf := randomLeaf()
		_, _, err := tree.Append(leaf)
		require.NoError(t, err)
		ref.append(leaf)
	}

	newLeaf := randomLeaf()
	root, err := tree.Replace(staleRoot, 1, oldLeaf, newLeaf, staleProof)
	require.NoError(t, err)

	ref.replace(1, newLeaf)
	require.Equal(t, ref.root(), root)
}

// Once the proof's root has been evicted from the change log, the replace is
// rejected and the caller must refresh.
func TestReplaceEvicted(t *testing.T) {
	tree, err := New(4, 4)
	require.NoError(t, err)
	ref := &referenceTree{depth: 4}

	leaf := randomLeaf()
	_, _, err = tree.Append(leaf)
	require.NoError(t, err)
	ref.append(leaf)

	staleRoot, staleProof, oldLeaf := tree.Root(), ref.proof(0), ref.leaves[0]
	for i := 0; i < 4; i++ {
		_, _, err := tree.Append(randomLeaf())
		require.NoError(t, err)
	}
	root, seq := tree.Root(), tree.Seq()

	_, err = tree.Replace(staleRoot, 0, oldLeaf, randomLeaf(), staleProof)
	require.ErrorIs(t, err, ErrStaleProof)
	require.Equal(t, root, tree.Root())
	require.Equal(t, seq, tree.Seq())
}

// Two racing replaces of the same leaf: the first wins, the second holds a
// proof for leaf contents that no longer exist.
func TestReplaceSameLeafContention(t *testing.T) {
	tree, err := New(4, 8)
	require.NoError(t, err)
	ref := &referenceTree{depth: 4}

	for i := 0; i < 4; i++ {
		leaf := randomLeaf()
		_, _, err := tree.Append(leaf)
		require.NoError(t, err)
		ref.append(leaf)
	}

	staleRoot, staleProof, oldLeaf := tree.Root(), ref.proof(2), ref.leaves[2]

	first := randomLeaf()
	_, err = tree.Replace(tree.Root(), 2, oldLeaf, first, ref.proof(2))
	require.NoError(t, err)

	_, err = tree.Replace(staleRoot, 2, oldLeaf, randomLeaf(), staleProof)
	require.ErrorIs(t, err, ErrProofMismatch)
}

func TestReplaceWrongLeaf(t *testing.T) {
	tree, err := New(4, 8)
	require.NoError(t, err)
	ref := &referenceTree{depth: 4}

	leaf := randomLeaf()
	_, _, err = tree.Append(leaf)
	require.NoError(t, err)
	ref.append(leaf)

	_, err = tree.Replace(tree.Root(), 0, randomLeaf(), randomLeaf(), ref.proof(0))
	require.ErrorIs(t, err, ErrProofMismatch)

	_, err = tree.Replace(tree.Root(), 3, leaf, randomLeaf(), ref.proof(0))
	require.ErrorIs(t, err, ErrProofMismatch)
}

// Interleaved appends from two writers succeed in whichever order they are
// serialized, and the final root covers both leaves.
func TestInterleavedAppends(t *testing.T) {
	a, b := randomLeaf(), randomLeaf()

	for _, order := range [][2][32]byte{{a, b}, {b, a}} {
		tree, err := New(4, 8)
		require.NoError(t, err)
		ref := &referenceTree{depth: 4}

		for _, leaf := range order {
			_, _, err := tree.Append(leaf)
			require.NoError(t, err)
			ref.append(leaf)
		}
		require.Equal(t, ref.root(), tree.Root())
		require.Equal(t, uint64(2), tree.LeafCount())
	}
}

// A tree restored from its serialized record behaves identically to the
// original, including replay of proofs that predate the snapshot.
func TestMarshalRestore(t *testing.T) {
	tree, err := New(4, 4)
	require.NoError(t, err)
	ref := &referenceTree{depth: 4}

	for i := 0; i < 4; i++ {
		leaf := randomLeaf()
		_, _, err := tree.Append(leaf)
		require.NoError(t, err)
		ref.append(leaf)
	}
	staleRoot, staleProof, oldLeaf := tree.Root(), ref.proof(3), ref.leaves[3]

	record := tree.Marshal()
	require.Equal(t, RecordSize(4, 4), len(record))

	restored, err := Unmarshal(record)
	require.NoError(t, err)
	require.Equal(t, tree.Root(), restored.Root())
	require.Equal(t, tree.Seq(), restored.Seq())
	require.Equal(t, tree.LeafCount(), restored.LeafCount())

	leaf := randomLeaf()
	_, _, err = restored.Append(leaf)
	require.NoError(t, err)
	ref.append(leaf)
	require.Equal(t, ref.root(), restored.Root())

	newLeaf := randomLeaf()
	root, err := restored.Replace(staleRoot, 3, oldLeaf, newLeaf, staleProof)
	require.NoError(t, err)
	ref.replace(3, newLeaf)
	require.Equal(t, ref.root(), root)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal(nil)
	require.Error(t, err)

	tree, err := New(3, 2)
	require.NoError(t, err)
	record := tree.Marshal()

	short := record[:len(record)-1]
	_, err = Unmarshal(short)
	require.Error(t, err)

	bad := append([]byte{}, record...)
	bad[0] ^= 0xff
	_, err = Unmarshal(bad)
	require.Error(t, err)
}

func TestResidentRoots(t *testing.T) {
	tree, err := New(4, 2)
	require.NoError(t, err)

	require.Equal(t, [][32]byte{EmptyRoot(4)}, tree.ResidentRoots())

	r1, _, err := tree.Append(randomLeaf())
	require.NoError(t, err)
	require.Equal(t, [][32]byte{r1, EmptyRoot(4)}, tree.ResidentRoots())

	r2, _, err := tree.Append(randomLeaf())
	require.NoError(t, err)
	require.Equal(t, [][32]byte{r2, r1}, tree.ResidentRoots())
}
