package main

import (
	"fmt"
	"time"

	"github.com/proofbuf/notetree/crypto/authority"
	"github.com/proofbuf/notetree/notes"
)

// CreateTreeOp initializes a new note tree.
type CreateTreeOp struct {
	MaxDepth      int
	MaxBufferSize int
}

// AppendNoteOp appends a note to an existing tree.
type AppendNoteOp struct {
	Tree      [32]byte
	Authority authority.Identity
	Bump      uint8
	Note      string
}

// ReplaceNoteOp replaces the leaf at a given index with a new note.
type ReplaceNoteOp struct {
	Tree      [32]byte
	Authority authority.Identity
	Bump      uint8
	Index     uint64
	Root      [32]byte
	OldLeaf   [32]byte
	Note      string
	Proof     [][32]byte
}

// MutateRequest carries exactly one operation to the sequencer.
type MutateRequest struct {
	Create  *CreateTreeOp
	Append  *AppendNoteOp
	Replace *ReplaceNoteOp

	Resp chan<- MutateResponse
}

type MutateResponse struct {
	Tree    *notes.TreeInfo
	Append  *notes.AppendResult
	Replace *notes.ReplaceResult
	Err     error
}

// sequencer is a goroutine that receives mutation requests over `ch` and
// applies them to the tree store one at a time. All mutations funnel through
// here, so individual operations run to completion without interleaving.
func sequencer(svc *notes.Service, ch chan MutateRequest) {
	for {
		req := <-ch

		var op string
		var res MutateResponse

		start := time.Now()
		switch {
		case req.Create != nil:
			op = "create"
			res.Tree, res.Err = svc.CreateTree(req.Create.MaxDepth, req.Create.MaxBufferSize)
		case req.Append != nil:
			op = "append"
			a := req.Append
			res.Append, res.Err = svc.AppendNote(a.Tree, a.Authority, a.Bump, a.Note)
		case req.Replace != nil:
			op = "replace"
			r := req.Replace
			res.Replace, res.Err = svc.ReplaceNote(r.Tree, r.Authority, r.Bump, r.Index, r.Root, r.OldLeaf, r.Note, r.Proof)
		default:
			op = "none"
			res.Err = fmt.Errorf("empty mutation request")
		}
		mutateOps.WithLabelValues(op, fmt.Sprint(res.Err == nil)).Inc()
		mutateDur.Observe(float64(time.Since(start).Microseconds()))

		select {
		case req.Resp <- res:
		default:
		}
	}
}
