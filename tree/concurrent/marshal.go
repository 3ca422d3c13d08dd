package concurrent

import (
	"encoding/binary"
	"fmt"
)

// Serialized record layout, little-endian. The record size is a pure
// function of (depth, bufferSize) so storage can be allocated once at
// creation time:
//
//	magic      [4]byte
//	depth      uint8, followed by 3 bytes of padding
//	bufferSize uint32
//	seq        uint64
//	active     uint32
//	count      uint32
//	rmIndex    uint64
//	rmLeaf     [32]byte
//	entries    bufferSize * (root [32]byte, index uint64, path depth*[32]byte)
//	rmProof    depth * [32]byte
var recordMagic = [4]byte{'c', 'm', 't', '1'}

const recordHeaderSize = 4 + 1 + 3 + 4 + 8 + 4 + 4 + 8 + 32

// RecordSize returns the size in bytes of the serialized record for a tree
// with the given geometry.
func RecordSize(depth, bufferSize int) int {
	return recordHeaderSize + bufferSize*(40+depth*32) + depth*32
}

// Marshal serializes the tree into its fixed-size binary record.
func (t *Tree) Marshal() []byte {
	out := make([]byte, RecordSize(t.depth, t.bufferSize))

	copy(out[0:4], recordMagic[:])
	out[4] = byte(t.depth)
	binary.LittleEndian.PutUint32(out[8:12], uint32(t.bufferSize))
	binary.LittleEndian.PutUint64(out[12:20], t.seq)
	binary.LittleEndian.PutUint32(out[20:24], uint32(t.changeLog.active))
	binary.LittleEndian.PutUint32(out[24:28], uint32(t.changeLog.count))
	binary.LittleEndian.PutUint64(out[28:36], t.rightmost.index)
	copy(out[36:68], t.rightmost.leaf[:])

	offset := recordHeaderSize
	for i := 0; i < t.bufferSize; i++ {
		e := &t.changeLog.entries[i]
		copy(out[offset:offset+32], e.root[:])
		binary.LittleEndian.PutUint64(out[offset+32:offset+40], e.index)
		offset += 40
		for j := 0; j < t.depth; j++ {
			copy(out[offset:offset+32], e.path[j][:])
			offset += 32
		}
	}
	for i := 0; i < t.depth; i++ {
		copy(out[offset:offset+32], t.rightmost.proof[i][:])
		offset += 32
	}

	return out
}

// Unmarshal reconstructs a tree from its serialized record.
func Unmarshal(record []byte) (*Tree, error) {
	if len(record) < recordHeaderSize {
		return nil, fmt.Errorf("record is too short: %d bytes", len(record))
	} else if [4]byte(record[0:4]) != recordMagic {
		return nil, fmt.Errorf("record has unrecognized magic")
	}

	depth := int(record[4])
	bufferSize := int(binary.LittleEndian.Uint32(record[8:12]))
	if depth < 1 || depth > MaxDepth || bufferSize < 1 || bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("record has unsupported geometry: depth=%d buffer=%d", depth, bufferSize)
	} else if len(record) != RecordSize(depth, bufferSize) {
		return nil, fmt.Errorf("record has wrong size: got=%d, want=%d", len(record), RecordSize(depth, bufferSize))
	}

	t := &Tree{
		depth:      depth,
		bufferSize: bufferSize,
		seq:        binary.LittleEndian.Uint64(record[12:20]),
		changeLog: &changeLog{
			entries: make([]changeLogEntry, bufferSize),
			active:  int(binary.LittleEndian.Uint32(record[20:24])),
			count:   int(binary.LittleEndian.Uint32(record[24:28])),
		},
	}
	if t.changeLog.active >= bufferSize {
		return nil, fmt.Errorf("record has invalid change log position: %d", t.changeLog.active)
	} else if t.changeLog.count < 1 || t.changeLog.count > bufferSize {
		return nil, fmt.Errorf("record has invalid change log count: %d", t.changeLog.count)
	}
	t.rightmost.index = binary.LittleEndian.Uint64(record[28:36])
	if t.rightmost.index > t.Capacity() {
		return nil, fmt.Errorf("record has invalid leaf count: %d", t.rightmost.index)
	}
	t.rightmost.leaf = [32]byte(record[36:68])

	offset := recordHeaderSize
	for i := 0; i < bufferSize; i++ {
		e := &t.changeLog.entries[i]
		e.root = [32]byte(record[offset : offset+32])
		e.index = binary.LittleEndian.Uint64(record[offset+32 : offset+40])
		offset += 40
		e.path = make([][32]byte, depth)
		for j := 0; j < depth; j++ {
			e.path[j] = [32]byte(record[offset : offset+32])
			offset += 32
		}
	}
	t.rightmost.proof = make([][32]byte, depth)
	for i := 0; i < depth; i++ {
		t.rightmost.proof[i] = [32]byte(record[offset : offset+32])
		offset += 32
	}

	return t, nil
}
