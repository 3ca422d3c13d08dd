// Package notes implements the note-log program: append-only logs of hashed
// notes, each backed by a concurrent Merkle tree record in the database and
// controlled by a single derived authority.
package notes

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/proofbuf/notetree/crypto/authority"
	"github.com/proofbuf/notetree/db"
	"github.com/proofbuf/notetree/events"
	"github.com/proofbuf/notetree/tree/concurrent"
)

var (
	// ErrUnauthorized is returned when the caller does not present the
	// derived authority for the tree it is trying to mutate.
	ErrUnauthorized = errors.New("caller is not the tree authority")
	// ErrUnknownTree is returned when no tree exists at the given address.
	ErrUnknownTree = errors.New("no tree at this address")
)

// TreeInfo describes the current state of a note tree.
type TreeInfo struct {
	Address    [32]byte
	Authority  authority.Identity
	Bump       uint8
	Root       [32]byte
	Seq        uint64
	Depth      int
	BufferSize int
	LeafCount  uint64
	Capacity   uint64
}

// AppendResult is returned by a successful append.
type AppendResult struct {
	Root     [32]byte
	Index    uint64
	LeafHash [32]byte
}

// ReplaceResult is returned by a successful replace.
type ReplaceResult struct {
	Root     [32]byte
	LeafHash [32]byte
}

// Service executes note-log operations against a tree store. The program
// identifier is process-wide configuration fixed at construction; it scopes
// authority derivation and is never mutated at runtime.
//
// A Service does not lock: mutating calls must be serialized by the caller,
// matching the hosting runtime's one-transaction-at-a-time execution model.
type Service struct {
	programID [32]byte
	store     db.TreeStore
	emitter   events.Emitter
}

func NewService(programID [32]byte, store db.TreeStore, emitter events.Emitter) *Service {
	return &Service{programID: programID, store: store, emitter: emitter}
}

// CreateTree initializes an empty note tree and returns its address and
// derived authority. Anyone may create a tree; only the derived authority
// may mutate it afterwards.
func (s *Service) CreateTree(maxDepth, maxBufferSize int) (*TreeInfo, error) {
	tree, err := concurrent.New(maxDepth, maxBufferSize)
	if err != nil {
		return nil, err
	}

	addr, err := newTreeAddress()
	if err != nil {
		return nil, err
	}
	if existing, err := s.store.GetTree(addr); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("tree address collision: %x", addr)
	}

	id, bump, err := authority.Derive(s.programID, addr)
	if err != nil {
		return nil, err
	}

	if err := s.store.PutTree(addr, tree.Marshal()); err != nil {
		return nil, err
	} else if err := s.store.Commit(); err != nil {
		return nil, err
	}

	return s.info(addr, tree, id, bump), nil
}

// GetTree returns the current state of the tree at the given address.
func (s *Service) GetTree(addr [32]byte) (*TreeInfo, error) {
	tree, err := s.loadTree(addr)
	if err != nil {
		return nil, err
	}
	id, bump, err := authority.Derive(s.programID, addr)
	if err != nil {
		return nil, err
	}
	return s.info(addr, tree, id, bump), nil
}

// AppendNote hashes the note, appends the leaf to the tree, and emits a
// note-log record. Returns the new root and the index assigned to the leaf.
func (s *Service) AppendNote(addr [32]byte, id authority.Identity, bump uint8, note string) (*AppendResult, error) {
	if !authority.Verify(s.programID, addr, id, bump) {
		return nil, ErrUnauthorized
	}
	tree, err := s.loadTree(addr)
	if err != nil {
		return nil, err
	}

	leaf := concurrent.HashLeaf([]byte(note))
	root, index, err := tree.Append(leaf)
	if err != nil {
		return nil, err
	}
	if err := s.commitTree(addr, tree); err != nil {
		return nil, err
	}

	// Emitted only after the mutation is durable, so the record stream
	// stays in causal order with accepted mutations.
	s.emitter.Emit(&events.NoteLog{LeafHash: leaf, Note: note})

	return &AppendResult{Root: root, Index: index, LeafHash: leaf}, nil
}

// ReplaceNote swaps the leaf at the given index for the hash of a new note.
// The caller supplies the proof it holds and the root that proof was
// computed against; proofs up to bufferSize mutations stale are reconciled
// through the tree's change log.
func (s *Service) ReplaceNote(addr [32]byte, id authority.Identity, bump uint8, index uint64, root, oldLeaf [32]byte, note string, proof [][32]byte) (*ReplaceResult, error) {
	if !authority.Verify(s.programID, addr, id, bump) {
		return nil, ErrUnauthorized
	}
	tree, err := s.loadTree(addr)
	if err != nil {
		return nil, err
	}

	leaf := concurrent.HashLeaf([]byte(note))
	newRoot, err := tree.Replace(root, index, oldLeaf, leaf, proof)
	if err != nil {
		return nil, err
	}
	if err := s.commitTree(addr, tree); err != nil {
		return nil, err
	}
	s.emitter.Emit(&events.NoteLog{LeafHash: leaf, Note: note})

	return &ReplaceResult{Root: newRoot, LeafHash: leaf}, nil
}

func (s *Service) loadTree(addr [32]byte) (*concurrent.Tree, error) {
	record, err := s.store.GetTree(addr)
	if err != nil {
		return nil, err
	} else if record == nil {
		return nil, ErrUnknownTree
	}
	return concurrent.Unmarshal(record)
}

func (s *Service) commitTree(addr [32]byte, tree *concurrent.Tree) error {
	if err := s.store.PutTree(addr, tree.Marshal()); err != nil {
		return err
	}
	return s.store.Commit()
}

func (s *Service) info(addr [32]byte, tree *concurrent.Tree, id authority.Identity, bump uint8) *TreeInfo {
	return &TreeInfo{
		Address:    addr,
		Authority:  id,
		Bump:       bump,
		Root:       tree.Root(),
		Seq:        tree.Seq(),
		Depth:      tree.Depth(),
		BufferSize: tree.BufferSize(),
		LeafCount:  tree.LeafCount(),
		Capacity:   tree.Capacity(),
	}
}

// newTreeAddress generates a fresh tree address. Addresses are ed25519
// public keys so that tree creators can hold a matching private key
// off-process if they want to prove ownership of the creation.
func newTreeAddress() ([32]byte, error) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return [32]byte{}, err
	}
	var addr [32]byte
	copy(addr[:], pub)
	return addr, nil
}
