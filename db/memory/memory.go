// Package memory provides in-memory implementations of the database
// interfaces, primarily for use in tests.
package memory

import (
	"fmt"

	"github.com/proofbuf/notetree/db"
)

func dup(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// TreeStore implements db.TreeStore over a plain map. Staged writes are kept
// separate from committed state so that uncommitted data is never visible to
// clones.
type TreeStore struct {
	Trees map[[32]byte][]byte

	staged   map[[32]byte][]byte
	ReadOnly bool
}

func NewTreeStore() *TreeStore {
	return &TreeStore{
		Trees:  make(map[[32]byte][]byte),
		staged: make(map[[32]byte][]byte),
	}
}

// Clone returns a read-only point-in-time snapshot, safe to read while the
// parent store keeps committing.
func (ts *TreeStore) Clone() db.TreeStore {
	trees := make(map[[32]byte][]byte, len(ts.Trees))
	for addr, record := range ts.Trees {
		trees[addr] = record
	}
	return &TreeStore{
		Trees:    trees,
		staged:   make(map[[32]byte][]byte),
		ReadOnly: true,
	}
}

func (ts *TreeStore) GetTree(addr [32]byte) ([]byte, error) {
	if record, ok := ts.staged[addr]; ok {
		return dup(record), nil
	}
	return dup(ts.Trees[addr]), nil
}

func (ts *TreeStore) PutTree(addr [32]byte, record []byte) error {
	if ts.ReadOnly {
		return fmt.Errorf("store is readonly")
	}
	ts.staged[addr] = dup(record)
	return nil
}

func (ts *TreeStore) Commit() error {
	if ts.ReadOnly {
		return fmt.Errorf("store is readonly")
	}
	for addr, record := range ts.staged {
		ts.Trees[addr] = record
	}
	ts.staged = make(map[[32]byte][]byte)
	return nil
}
