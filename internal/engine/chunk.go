package engine

import (
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/crossval"
	"github.com/starford/raido/internal/manifest"
	"github.com/starford/raido/internal/remote"
)

// Chunk statuses. A chunk past the first failure is never submitted and is
// reported as not attempted.
const (
	ChunkComplete     = "complete"
	ChunkError        = "error"
	ChunkTimeout      = "timeout"
	ChunkNotAttempted = "not_attempted"
)

// Overall apply statuses. Partial application is explicit, never hidden:
// completed chunks are not rolled back when a later chunk fails.
const (
	ApplyComplete     = "complete"
	ApplyPartialError = "partial_error"
)

// chunk is one bounded slice of the flattened operation list. Ops is a
// copy, so substitution does not mutate the source document.
type chunk struct {
	index int
	ops   []manifest.Operation
}

// planChunks splits ops into ⌈len/size⌉ chunks preserving declaration order.
// A chunk boundary never splits an operation.
func planChunks(ops []manifest.Operation, size int) []chunk {
	var out []chunk
	for start := 0; start < len(ops); start += size {
		end := min(start+size, len(ops))
		cp := make([]manifest.Operation, end-start)
		copy(cp, ops[start:end])
		out = append(out, chunk{index: len(out), ops: cp})
	}
	return out
}

// ChunkResult reports the outcome of one submitted chunk.
type ChunkResult struct {
	Index               int                      `json:"index"`
	ExternalOperationID string                   `json:"externalOperationId,omitempty"`
	Status              string                   `json:"status"`
	Rows                []remote.OperationResult `json:"rows,omitempty"`
	Error               *apperr.Error            `json:"error,omitempty"`
}

// RecoverySnapshot is a best-effort diagnostic bundle captured once, at the
// first failing chunk, to help the caller reconcile partially applied state.
type RecoverySnapshot struct {
	CapturedAt  time.Time            `json:"capturedAt"`
	FailedChunk int                  `json:"failedChunk"`
	Summary     *remote.ModelSummary `json:"summary,omitempty"`
	Diagnostics *remote.Diagnostics  `json:"diagnostics,omitempty"`

	// Notes records collection failures; snapshot capture is never fatal.
	Notes []string `json:"notes,omitempty"`
}

// ApplyResult aggregates everything an apply produced.
type ApplyResult struct {
	Status          string            `json:"status"`
	Chunks          []ChunkResult     `json:"chunks"`
	Symbols         map[string]string `json:"symbols"`
	CrossValidation []crossval.Result `json:"crossValidation,omitempty"`
	Recovery        *RecoverySnapshot `json:"recovery,omitempty"`
}
