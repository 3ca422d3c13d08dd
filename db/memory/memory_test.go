package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneIsSnapshot(t *testing.T) {
	store := NewTreeStore()
	addr := [32]byte{1}

	require.NoError(t, store.PutTree(addr, []byte("v1")))
	require.NoError(t, store.Commit())

	clone := store.Clone()

	// Later commits to the parent are not visible through the snapshot.
	require.NoError(t, store.PutTree(addr, []byte("v2")))
	require.NoError(t, store.Commit())

	record, err := clone.GetTree(addr)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), record)

	record, err = store.GetTree(addr)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), record)
}

func TestCloneIsReadOnly(t *testing.T) {
	store := NewTreeStore()
	clone := store.Clone()

	require.Error(t, clone.PutTree([32]byte{1}, []byte("nope")))
	require.Error(t, clone.Commit())
}

func TestUncommittedInvisibleToClone(t *testing.T) {
	store := NewTreeStore()
	addr := [32]byte{2}

	require.NoError(t, store.PutTree(addr, []byte("staged")))

	record, err := store.Clone().GetTree(addr)
	require.NoError(t, err)
	require.Nil(t, record)

	// The writer itself reads its own staged data.
	record, err = store.GetTree(addr)
	require.NoError(t, err)
	require.Equal(t, []byte("staged"), record)
}
