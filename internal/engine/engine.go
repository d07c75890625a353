// Package engine plans and executes a composed manifest against the remote
// modeling service: chunked atomic submission, sequential polling,
// cross-chunk symbol resolution, idempotency key derivation, and recovery
// diagnostics on failure.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/crossval"
	"github.com/starford/raido/internal/manifest"
	"github.com/starford/raido/internal/remote"
	"github.com/starford/raido/internal/symtab"
)

// Defaults chosen for the remote service's reliable batch size and typical
// asynchronous completion latency.
const (
	DefaultChunkSize    = 20
	DefaultPollInterval = 500 * time.Millisecond
	DefaultChunkTimeout = 2 * time.Minute
)

// Executor runs one apply at a time. Execution is strictly sequential across
// chunks: chunk N+1 is never submitted before chunk N reaches a terminal
// state, because symbol resolution is cumulative.
type Executor struct {
	client remote.Client
	logger *slog.Logger

	chunkSize    int
	pollInterval time.Duration
	chunkTimeout time.Duration
	clock        Clock

	// idemKey is the invocation-level idempotency key, used when the
	// manifest itself does not carry one.
	idemKey string
}

// Option is a functional option for configuring the executor.
type Option func(*Executor)

// WithChunkSize overrides the reliable batch size.
func WithChunkSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithPollInterval overrides the status polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithChunkTimeout overrides the per-chunk terminal-state timeout.
func WithChunkTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.chunkTimeout = d
		}
	}
}

// WithClock injects a clock, for deterministic tests.
func WithClock(c Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithIdempotencyKey sets an invocation-level idempotency key. A key set in
// the manifest document takes precedence.
func WithIdempotencyKey(key string) Option {
	return func(e *Executor) { e.idemKey = key }
}

// New creates an executor over the given remote client.
func New(client remote.Client, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		client:       client,
		logger:       logger,
		chunkSize:    DefaultChunkSize,
		pollInterval: DefaultPollInterval,
		chunkTimeout: DefaultChunkTimeout,
		clock:        realClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// connCheck is one pending cross-validation, recorded with the chunk's
// pre-substitution visual endpoint symbols.
type connCheck struct {
	opIdx     int
	srcVisual string
	tgtVisual string
}

// Apply executes the composed document. Static validation must already have
// passed; Apply never rolls back completed chunks, and the returned result
// reports exactly how far execution got. Options given here override the
// executor's configuration for this invocation only.
func (e *Executor) Apply(ctx context.Context, doc *manifest.Document, opts ...Option) (*ApplyResult, error) {
	if len(opts) > 0 {
		run := *e
		for _, opt := range opts {
			opt(&run)
		}
		e = &run
	}

	table := symtab.New(doc.Seed)
	cache := crossval.NewCache()
	defer cache.Clear()
	validator := crossval.New(e.client, cache, e.logger)

	chunks := planChunks(doc.Ops, e.chunkSize)
	total := len(chunks)
	baseKey := doc.Root.IdempotencyKey
	if baseKey == "" {
		baseKey = e.idemKey
	}
	strategy := doc.Root.DuplicateStrategy

	e.logger.Info("apply: starting",
		slog.String("manifest", doc.Path),
		slog.Int("operations", len(doc.Ops)),
		slog.Int("chunks", total),
		slog.Int("seeded_symbols", table.Len()))

	result := &ApplyResult{Status: ApplyComplete}

	// bindings maps a visual symbol to the concept reference it represents,
	// recorded pre-substitution and accumulated across chunks.
	bindings := make(map[string]string)

	failed := -1
	for _, ch := range chunks {
		if failed >= 0 {
			result.Chunks = append(result.Chunks, ChunkResult{Index: ch.index, Status: ChunkNotAttempted})
			continue
		}

		checks := collectBindings(ch.ops, bindings)
		table.Substitute(ch.ops)

		for _, c := range checks {
			op := &ch.ops[c.opIdx]
			src := resolveConcept(bindings[c.srcVisual], table)
			tgt := resolveConcept(bindings[c.tgtVisual], table)
			result.CrossValidation = append(result.CrossValidation,
				validator.CheckConnection(ctx, op, src, tgt))
		}

		cr := e.runChunk(ctx, ch, chunkKey(baseKey, ch.index, total), strategy, table)
		result.Chunks = append(result.Chunks, cr)
		if cr.Status != ChunkComplete {
			failed = ch.index
		}
	}

	result.Symbols = table.Snapshot()

	if failed >= 0 {
		result.Status = ApplyPartialError
		result.Recovery = e.captureRecovery(ctx, failed)
		e.logger.Error("apply: halted",
			slog.Int("failed_chunk", failed),
			slog.Int("completed_chunks", failed))
	} else {
		e.logger.Info("apply: complete",
			slog.Int("chunks", total),
			slog.Int("symbols", table.Len()))
	}
	return result, nil
}

// runChunk submits one chunk and waits for its terminal state.
func (e *Executor) runChunk(ctx context.Context, ch chunk, key, strategy string, table *symtab.Table) ChunkResult {
	cr := ChunkResult{Index: ch.index}

	opID, err := e.client.SubmitChanges(ctx, remote.ChangeRequest{
		Operations:        ch.ops,
		IdempotencyKey:    key,
		DuplicateStrategy: strategy,
	})
	if err != nil {
		cr.Status = ChunkError
		cr.Error = submitError(ch.index, err)
		return cr
	}
	cr.ExternalOperationID = opID

	e.logger.Info("apply: chunk submitted",
		slog.Int("chunk", ch.index),
		slog.Int("operations", len(ch.ops)),
		slog.String("external_op", opID))

	out := e.poll(ctx, opID)
	switch out.state {
	case stateComplete:
		cr.Status = ChunkComplete
		cr.Rows = out.status.Result
		if err := table.Extract(cr.Rows); err != nil {
			// The remote service misbehaved; surface it, do not overwrite.
			cr.Status = ChunkError
			cr.Error = toAppErr(err, apperr.CodeDuplicateSymbol)
		}

	case stateTimedOut:
		cr.Status = ChunkTimeout
		cr.Error = apperr.New(apperr.CodeChunkTimeout,
			"chunk %d (operation %s) did not reach a terminal state within %s",
			ch.index, opID, e.chunkTimeout)

	default:
		cr.Status = ChunkError
		if out.err != nil {
			cr.Error = toAppErr(out.err, apperr.CodeChunkSubmitFailed)
		} else {
			remoteMsg := ""
			if out.status != nil {
				remoteMsg = out.status.Error
			}
			cr.Error = apperr.New(apperr.CodeChunkSubmitFailed,
				"chunk %d failed remotely: %s", ch.index, remoteMsg)
		}
	}
	return cr
}

// captureRecovery collects the remote summary and integrity diagnostics at
// the first failing chunk. Best-effort: collection failures become notes.
func (e *Executor) captureRecovery(ctx context.Context, failedChunk int) *RecoverySnapshot {
	snap := &RecoverySnapshot{
		CapturedAt:  e.clock.Now(),
		FailedChunk: failedChunk,
	}
	if summary, err := e.client.ModelSummary(ctx); err != nil {
		snap.Notes = append(snap.Notes, "model summary unavailable: "+err.Error())
	} else {
		snap.Summary = summary
	}
	if diag, err := e.client.IntegrityDiagnostics(ctx); err != nil {
		snap.Notes = append(snap.Notes, "integrity diagnostics unavailable: "+err.Error())
	} else {
		snap.Diagnostics = diag
	}
	return snap
}

// collectBindings records visual-symbol to concept-reference bindings from
// ops (pre-substitution) and returns the pending connection checks.
func collectBindings(ops []manifest.Operation, bindings map[string]string) []connCheck {
	var checks []connCheck
	for i := range ops {
		op := &ops[i]
		switch op.Op {
		case manifest.OpAddElementToView:
			if op.TempID != "" {
				bindings[op.TempID] = op.Element
			}
		case manifest.OpAddRelationshipToView:
			checks = append(checks, connCheck{
				opIdx:     i,
				srcVisual: op.SourceVisual,
				tgtVisual: op.TargetVisual,
			})
		}
	}
	return checks
}

// resolveConcept maps a concept reference (symbol or real ID) to a real ID,
// or "" when it cannot be resolved yet.
func resolveConcept(ref string, table *symtab.Table) string {
	if ref == "" {
		return ""
	}
	if manifest.IsRealID(ref) {
		return ref
	}
	if id, ok := table.Resolve(ref); ok {
		return id
	}
	return ""
}

func submitError(index int, err error) *apperr.Error {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Code == apperr.CodeIdempotencyConflict {
		return ae
	}
	return apperr.New(apperr.CodeChunkSubmitFailed, "chunk %d submit failed: %v", index, err)
}

func toAppErr(err error, fallbackCode string) *apperr.Error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.New(fallbackCode, "%v", err)
}
