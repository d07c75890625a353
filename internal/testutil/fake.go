package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/manifest"
	"github.com/starford/raido/internal/remote"
)

// FakeService is an in-memory stand-in for the remote modeling service. It
// executes submitted batches against an in-memory model, resolves tempId
// references within a batch, and supports the failure modes the engine has
// to handle: rate limiting, slow completion, idempotent replay, and
// idempotency conflicts.
type FakeService struct {
	mu sync.Mutex

	srv *httptest.Server

	elements      map[string]string // id -> type
	relationships map[string]*remote.RelationshipDetail
	views         map[string]string // id -> name
	folders       map[string]string
	visuals       map[string]string // visual id -> concept id

	ops  map[string]*asyncOp
	idem map[string]idemRecord

	// RateLimitSubmits makes the next N submit calls answer 429.
	RateLimitSubmits int

	// PendingPolls is how many status polls report "running" before an
	// operation completes.
	PendingPolls int

	// FailNextBatch makes the next submitted batch finish with this error.
	FailNextBatch string

	// NeverComplete keeps every new operation in "running" forever.
	NeverComplete bool

	// SubmitCount counts accepted (non-429) submissions.
	SubmitCount int

	// Submitted records every accepted batch in order.
	Submitted []remote.ChangeRequest
}

type asyncOp struct {
	pollsLeft int
	failWith  string
	rows      []remote.OperationResult
	never     bool
}

type idemRecord struct {
	payloadHash string
	opID        string
}

// NewFakeService starts the fake over httptest and registers cleanup.
func NewFakeService(t *testing.T) *FakeService {
	t.Helper()
	f := &FakeService{
		elements:      make(map[string]string),
		relationships: make(map[string]*remote.RelationshipDetail),
		views:         make(map[string]string),
		folders:       make(map[string]string),
		visuals:       make(map[string]string),
		ops:           make(map[string]*asyncOp),
		idem:          make(map[string]idemRecord),
	}

	r := chi.NewRouter()
	r.Post("/api/changes", f.handleSubmit)
	r.Get("/api/operations/{id}", f.handleStatus)
	r.Get("/api/relationships/{id}", f.handleRelationship)
	r.Get("/api/model/summary", f.handleSummary)
	r.Get("/api/model/diagnostics", f.handleDiagnostics)

	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

// URL returns the base URL of the fake service.
func (f *FakeService) URL() string { return f.srv.URL }

// Client returns an HTTP client wired to the fake.
func (f *FakeService) Client() *remote.HTTPClient {
	return remote.NewHTTPClient(f.srv.URL, "", 0, Logger())
}

// NewID mints an ID in the service's external format.
func NewID() string {
	return "id-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SeedElement registers a pre-existing element and returns its ID.
func (f *FakeService) SeedElement(typ string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := NewID()
	f.elements[id] = typ
	return id
}

// SeedRelationship registers a pre-existing relationship between two
// concept IDs and returns its ID.
func (f *FakeService) SeedRelationship(sourceID, targetID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := NewID()
	f.relationships[id] = &remote.RelationshipDetail{
		ID: id, Type: "association", SourceID: sourceID, TargetID: targetID,
	}
	return id
}

// Relationship returns the stored detail for id, or nil.
func (f *FakeService) Relationship(id string) *remote.RelationshipDetail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.relationships[id]
}

// VisualConcept returns the concept a visual object represents, or "".
func (f *FakeService) VisualConcept(visualID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visuals[visualID]
}

func (f *FakeService) handleSubmit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RateLimitSubmits > 0 {
		f.RateLimitSubmits--
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	var req remote.ChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if req.IdempotencyKey != "" {
		hash := payloadHash(req.Operations)
		if rec, ok := f.idem[req.IdempotencyKey]; ok {
			if rec.payloadHash != hash {
				writeError(w, http.StatusConflict, "IDEMPOTENCY_CONFLICT",
					"idempotency key reused with a different payload")
				return
			}
			// Replay: return the original operation without re-executing.
			writeJSON(w, http.StatusAccepted, remote.SubmitResponse{OperationID: rec.opID})
			return
		}
	}

	f.SubmitCount++
	f.Submitted = append(f.Submitted, req)

	opID := uuid.NewString()
	op := &asyncOp{pollsLeft: f.PendingPolls, never: f.NeverComplete}

	if f.FailNextBatch != "" {
		op.failWith = f.FailNextBatch
		f.FailNextBatch = ""
	} else {
		rows, err := f.execute(req.Operations)
		if err != nil {
			op.failWith = err.Error()
		} else {
			op.rows = rows
		}
	}

	f.ops[opID] = op
	if req.IdempotencyKey != "" {
		f.idem[req.IdempotencyKey] = idemRecord{payloadHash: payloadHash(req.Operations), opID: opID}
	}
	writeJSON(w, http.StatusAccepted, remote.SubmitResponse{OperationID: opID})
}

// execute applies a batch to the in-memory model. tempIds defined earlier in
// the same batch are resolvable by later operations, exactly like the real
// service's bulk endpoint.
func (f *FakeService) execute(ops []manifest.Operation) ([]remote.OperationResult, error) {
	local := make(map[string]string) // tempId -> id, batch-scoped

	resolve := func(ref string) (string, error) {
		if ref == "" {
			return "", nil
		}
		if manifest.IsRealID(ref) {
			return ref, nil
		}
		if id, ok := local[ref]; ok {
			return id, nil
		}
		return "", fmt.Errorf("unresolved reference %q", ref)
	}

	var rows []remote.OperationResult
	for i := range ops {
		op := &ops[i]
		row := remote.OperationResult{Op: string(op.Op), TempID: op.TempID}

		switch op.Op {
		case manifest.OpCreateElement:
			id := NewID()
			f.elements[id] = op.Type
			local[op.TempID] = id
			row.RealID = id

		case manifest.OpCreateRelationship:
			src, err := resolve(op.Source)
			if err != nil {
				return nil, err
			}
			tgt, err := resolve(op.Target)
			if err != nil {
				return nil, err
			}
			id := NewID()
			f.relationships[id] = &remote.RelationshipDetail{
				ID: id, Type: op.Type, SourceID: src, TargetID: tgt,
			}
			local[op.TempID] = id
			row.RealID = id

		case manifest.OpCreateFolder:
			id := NewID()
			f.folders[id] = op.Name
			local[op.TempID] = id
			row.RealID = id

		case manifest.OpCreateView:
			id := NewID()
			f.views[id] = op.Name
			local[op.TempID] = id
			row.ViewID = id

		case manifest.OpAddElementToView:
			el, err := resolve(op.Element)
			if err != nil {
				return nil, err
			}
			if _, err := resolve(op.View); err != nil {
				return nil, err
			}
			id := NewID()
			f.visuals[id] = el
			local[op.TempID] = id
			row.VisualID = id

		case manifest.OpAddRelationshipToView:
			if _, err := resolve(op.Relationship); err != nil {
				return nil, err
			}
			if _, err := resolve(op.SourceVisual); err != nil {
				return nil, err
			}
			if _, err := resolve(op.TargetVisual); err != nil {
				return nil, err
			}
			id := NewID()
			local[op.TempID] = id
			row.VisualID = id

		case manifest.OpAddNote:
			id := NewID()
			local[op.TempID] = id
			row.NoteID = id

		case manifest.OpAddGroup:
			id := NewID()
			local[op.TempID] = id
			row.GroupID = id

		case manifest.OpDeleteElement:
			id, err := resolve(op.ID)
			if err != nil {
				return nil, err
			}
			delete(f.elements, id)

		case manifest.OpDeleteRelationship:
			id, err := resolve(op.ID)
			if err != nil {
				return nil, err
			}
			delete(f.relationships, id)

		default:
			// Updates, moves, styling and the rest mutate nothing the
			// tests inspect; resolve their references to catch leaks.
			spec, ok := manifest.SpecFor(op.Op)
			if !ok {
				return nil, fmt.Errorf("unknown op %q", op.Op)
			}
			for _, ref := range spec.Refs {
				if _, err := resolve(*op.RefField(ref.Field)); err != nil {
					return nil, err
				}
			}
		}

		rows = append(rows, row)
	}
	return rows, nil
}

func (f *FakeService) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	op, ok := f.ops[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such operation")
		return
	}

	if op.never {
		writeJSON(w, http.StatusOK, remote.StatusResponse{Status: remote.StatusRunning})
		return
	}
	if op.pollsLeft > 0 {
		op.pollsLeft--
		writeJSON(w, http.StatusOK, remote.StatusResponse{Status: remote.StatusRunning})
		return
	}
	if op.failWith != "" {
		writeJSON(w, http.StatusOK, remote.StatusResponse{Status: remote.StatusError, Error: op.failWith})
		return
	}
	writeJSON(w, http.StatusOK, remote.StatusResponse{Status: remote.StatusComplete, Result: op.rows})
}

func (f *FakeService) handleRelationship(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.relationships[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such relationship")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (f *FakeService) handleSummary(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	writeJSON(w, http.StatusOK, remote.ModelSummary{
		Elements:      len(f.elements),
		Relationships: len(f.relationships),
		Views:         len(f.views),
		Folders:       len(f.folders),
	})
}

func (f *FakeService) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, remote.Diagnostics{Issues: []string{}})
}

func payloadHash(ops []manifest.Operation) string {
	data, _ := json.Marshal(ops)
	return checksum.Sum(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}
