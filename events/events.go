// Package events carries the note-log records emitted for every structural
// mutation of a tree. The records are the only place the note payload
// survives: the tree itself retains nothing but leaf hashes, so off-chain
// indexers reconstruct note contents entirely from this stream.
package events

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
)

// NoteLog pairs a leaf hash with the note payload that produced it. Emitted
// once per append or replace, immutable, never read back by the tree.
type NoteLog struct {
	LeafHash [32]byte
	Note     string
}

// Marshal serializes the record as the 32-byte leaf hash followed by the
// note as a length-prefixed (uint32, little-endian) byte string.
func (n *NoteLog) Marshal() []byte {
	out := make([]byte, 36+len(n.Note))
	copy(out[0:32], n.LeafHash[:])
	binary.LittleEndian.PutUint32(out[32:36], uint32(len(n.Note)))
	copy(out[36:], n.Note)
	return out
}

// Unmarshal parses a serialized note-log record.
func Unmarshal(raw []byte) (*NoteLog, error) {
	if len(raw) < 36 {
		return nil, fmt.Errorf("note log is too short: %v", len(raw))
	}
	length := binary.LittleEndian.Uint32(raw[32:36])
	if uint64(len(raw)) != 36+uint64(length) {
		return nil, fmt.Errorf("note log has wrong length: got=%v, want=%v", len(raw), 36+length)
	}

	out := &NoteLog{Note: string(raw[36:])}
	copy(out.LeafHash[:], raw[0:32])
	return out, nil
}

// Emitter publishes note-log records. Emission is fire-and-forget: the only
// contract is that records appear in the same order as the mutations that
// produced them.
type Emitter interface {
	Emit(*NoteLog)
}

// LogEmitter writes each record to the process log, base64-encoded, the way
// the hosting ledger would journal it.
type LogEmitter struct{}

func (LogEmitter) Emit(n *NoteLog) {
	log.Printf("note log: %v", base64.StdEncoding.EncodeToString(n.Marshal()))
}

// ChannelEmitter fans records out to any number of subscribers. A subscriber
// that falls behind has records dropped rather than blocking the mutation
// path.
type ChannelEmitter struct {
	mu   sync.Mutex
	subs map[int]chan *NoteLog
	next int
}

func NewChannelEmitter() *ChannelEmitter {
	return &ChannelEmitter{subs: make(map[int]chan *NoteLog)}
}

// Subscribe returns a channel of future records and a cancel function. The
// channel is closed on cancel.
func (e *ChannelEmitter) Subscribe() (<-chan *NoteLog, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.next
	e.next++
	ch := make(chan *NoteLog, 64)
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if ch, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (e *ChannelEmitter) Emit(n *NoteLog) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ch := range e.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// MultiEmitter forwards each record to every wrapped emitter in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(n *NoteLog) {
	for _, e := range m {
		e.Emit(n)
	}
}
