package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/proofbuf/notetree/crypto/authority"
	"github.com/proofbuf/notetree/events"
	"github.com/proofbuf/notetree/notes"
	"github.com/proofbuf/notetree/tree/concurrent"
)

type Handler struct {
	config *Config
	svc    *notes.Service // Read-only: backed by a store clone.
	ch     chan<- MutateRequest
	stream *events.ChannelEmitter
}

// apiError carries a machine-readable error code alongside the HTTP status.
type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(format string, args ...interface{}) error {
	return &apiError{status: http.StatusBadRequest, code: "bad_request", message: fmt.Sprintf(format, args...)}
}

// toAPIError maps the service error taxonomy onto HTTP statuses and stable
// error codes, keeping the five failure kinds cheap for clients to tell
// apart.
func toAPIError(err error) *apiError {
	var known *apiError
	if errors.As(err, &known) {
		return known
	}

	switch {
	case errors.Is(err, concurrent.ErrInvalidConfig):
		return &apiError{http.StatusBadRequest, "invalid_config", err.Error()}
	case errors.Is(err, concurrent.ErrTreeFull):
		return &apiError{http.StatusConflict, "tree_full", err.Error()}
	case errors.Is(err, concurrent.ErrZeroLeaf), errors.Is(err, concurrent.ErrProofMismatch):
		return &apiError{http.StatusConflict, "proof_mismatch", err.Error()}
	case errors.Is(err, concurrent.ErrStaleProof):
		return &apiError{http.StatusConflict, "concurrent_modification_conflict", err.Error()}
	case errors.Is(err, notes.ErrUnauthorized):
		return &apiError{http.StatusForbidden, "unauthorized", err.Error()}
	case errors.Is(err, notes.ErrUnknownTree):
		return &apiError{http.StatusNotFound, "unknown_tree", err.Error()}
	default:
		return &apiError{http.StatusInternalServerError, "internal", "internal server error"}
	}
}

// HandleAPI wraps an API method with response serialization, error mapping,
// and request accounting.
func HandleAPI(fn func(req *http.Request) (interface{}, error)) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		res, err := fn(req)

		status := http.StatusOK
		if err != nil {
			e := toAPIError(err)
			status = e.status
			res = struct {
				Error   string `json:"error"`
				Message string `json:"message"`
			}{e.code, e.message}
		}
		requestCtr.WithLabelValues(req.URL.Path, fmt.Sprint(status)).Inc()

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(status)
		if err := json.NewEncoder(rw).Encode(res); err != nil {
			log.Println(err)
		}
	}
}

// Home redirects requests to a pre-configured URL, like the API
// documentation, when one is set.
func (h *Handler) Home(rw http.ResponseWriter, req *http.Request) {
	if h.config.HomeRedirect == "" {
		fmt.Fprintln(rw, "Hi, I'm a notetree server!")
		return
	}
	http.Redirect(rw, req, h.config.HomeRedirect, http.StatusSeeOther)
}

type TreeResponse struct {
	Tree       string `json:"tree"`
	Authority  string `json:"authority"`
	Bump       uint8  `json:"bump"`
	Root       string `json:"root"`
	Seq        uint64 `json:"seq"`
	Depth      int    `json:"depth"`
	BufferSize int    `json:"buffer_size"`
	LeafCount  uint64 `json:"leaf_count"`
	Capacity   uint64 `json:"capacity"`
}

func treeResponse(info *notes.TreeInfo) *TreeResponse {
	return &TreeResponse{
		Tree:       hex.EncodeToString(info.Address[:]),
		Authority:  hex.EncodeToString(info.Authority[:]),
		Bump:       info.Bump,
		Root:       hex.EncodeToString(info.Root[:]),
		Seq:        info.Seq,
		Depth:      info.Depth,
		BufferSize: info.BufferSize,
		LeafCount:  info.LeafCount,
		Capacity:   info.Capacity,
	}
}

type CreateTreeRequest struct {
	MaxDepth      int `json:"max_depth"`
	MaxBufferSize int `json:"max_buffer_size"`
}

func (h *Handler) CreateTree(req *http.Request) (interface{}, error) {
	var body CreateTreeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, badRequest("failed to parse request body: %v", err)
	}

	res := h.mutate(MutateRequest{Create: &CreateTreeOp{
		MaxDepth:      body.MaxDepth,
		MaxBufferSize: body.MaxBufferSize,
	}})
	if res.Err != nil {
		return nil, res.Err
	}
	return treeResponse(res.Tree), nil
}

func (h *Handler) GetTree(req *http.Request) (interface{}, error) {
	addr, err := parseHash(mux.Vars(req)["tree"])
	if err != nil {
		return nil, badRequest("failed to parse tree address: %v", err)
	}
	info, err := h.svc.GetTree(addr)
	if err != nil {
		return nil, err
	}
	return treeResponse(info), nil
}

type AppendNoteRequest struct {
	Note      string `json:"note"`
	Authority string `json:"authority"`
	Bump      uint8  `json:"bump"`
}

type AppendNoteResponse struct {
	Root     string `json:"root"`
	Index    uint64 `json:"index"`
	LeafHash string `json:"leaf_hash"`
}

func (h *Handler) AppendNote(req *http.Request) (interface{}, error) {
	addr, err := parseHash(mux.Vars(req)["tree"])
	if err != nil {
		return nil, badRequest("failed to parse tree address: %v", err)
	}
	var body AppendNoteRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, badRequest("failed to parse request body: %v", err)
	}
	id, err := parseHash(body.Authority)
	if err != nil {
		return nil, badRequest("failed to parse authority: %v", err)
	}

	res := h.mutate(MutateRequest{Append: &AppendNoteOp{
		Tree:      addr,
		Authority: authority.Identity(id),
		Bump:      body.Bump,
		Note:      body.Note,
	}})
	if res.Err != nil {
		return nil, res.Err
	}
	return &AppendNoteResponse{
		Root:     hex.EncodeToString(res.Append.Root[:]),
		Index:    res.Append.Index,
		LeafHash: hex.EncodeToString(res.Append.LeafHash[:]),
	}, nil
}

type ReplaceNoteRequest struct {
	Note      string   `json:"note"`
	Authority string   `json:"authority"`
	Bump      uint8    `json:"bump"`
	Root      string   `json:"root"`     // Root the proof was computed against.
	OldLeaf   string   `json:"old_leaf"` // Current hash of the leaf being replaced.
	Proof     []string `json:"proof"`    // Sibling hashes, leaf level first.
}

type ReplaceNoteResponse struct {
	Root     string `json:"root"`
	LeafHash string `json:"leaf_hash"`
}

func (h *Handler) ReplaceNote(req *http.Request) (interface{}, error) {
	vars := mux.Vars(req)
	addr, err := parseHash(vars["tree"])
	if err != nil {
		return nil, badRequest("failed to parse tree address: %v", err)
	}
	index, err := strconv.ParseUint(vars["index"], 10, 64)
	if err != nil {
		return nil, badRequest("failed to parse leaf index: %v", err)
	}
	var body ReplaceNoteRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, badRequest("failed to parse request body: %v", err)
	}
	id, err := parseHash(body.Authority)
	if err != nil {
		return nil, badRequest("failed to parse authority: %v", err)
	}
	root, err := parseHash(body.Root)
	if err != nil {
		return nil, badRequest("failed to parse root: %v", err)
	}
	oldLeaf, err := parseHash(body.OldLeaf)
	if err != nil {
		return nil, badRequest("failed to parse old leaf: %v", err)
	}
	proof := make([][32]byte, len(body.Proof))
	for i, raw := range body.Proof {
		if proof[i], err = parseHash(raw); err != nil {
			return nil, badRequest("failed to parse proof node %d: %v", i, err)
		}
	}

	res := h.mutate(MutateRequest{Replace: &ReplaceNoteOp{
		Tree:      addr,
		Authority: authority.Identity(id),
		Bump:      body.Bump,
		Index:     index,
		Root:      root,
		OldLeaf:   oldLeaf,
		Note:      body.Note,
		Proof:     proof,
	}})
	if res.Err != nil {
		return nil, res.Err
	}
	return &ReplaceNoteResponse{
		Root:     hex.EncodeToString(res.Replace.Root[:]),
		LeafHash: hex.EncodeToString(res.Replace.LeafHash[:]),
	}, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type NoteLogMessage struct {
	LeafHash string `json:"leaf_hash"`
	Note     string `json:"note"`
}

// Events streams note-log records to the client over a websocket, in the
// order the mutations that produced them were accepted.
func (h *Handler) Events(rw http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(rw, req, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	ch, cancel := h.stream.Subscribe()
	defer cancel()

	// Discard anything the client sends; its read error tells us the
	// connection is gone.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case nl, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			msg := NoteLogMessage{
				LeafHash: hex.EncodeToString(nl.LeafHash[:]),
				Note:     nl.Note,
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// mutate submits a request to the sequencer and waits for its response.
func (h *Handler) mutate(req MutateRequest) MutateResponse {
	resp := make(chan MutateResponse, 1)
	req.Resp = resp
	h.ch <- req
	return <-resp
}

func parseHash(raw string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return out, err
	} else if len(decoded) != 32 {
		return out, fmt.Errorf("wrong length: wanted=%v, got=%v", 32, len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}
