// Package db implements database wrappers that match a common interface.
package db

// TreeStore is the interface the note service uses to persist tree records.
// Records are the fixed-size serialized form of a concurrent Merkle tree,
// keyed by the tree's 32-byte address.
type TreeStore interface {
	// Clone returns a read-only clone of the current store, suitable for
	// distributing to child goroutines.
	Clone() TreeStore

	// GetTree returns the serialized record for a tree, or nil if no tree
	// exists at that address.
	GetTree(addr [32]byte) ([]byte, error)
	// PutTree stages the serialized record for a tree.
	PutTree(addr [32]byte, record []byte) error

	// Commit durably applies all staged writes.
	Commit() error
}
