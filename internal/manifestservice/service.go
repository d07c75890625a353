// Package manifestservice coordinates manifest composition, static
// validation, execution, side-car persistence, and journaling for the CLI
// and MCP front ends.
package manifestservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/crossval"
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/journal"
	"github.com/starford/raido/internal/manifest"
	"github.com/starford/raido/internal/refcheck"
	"github.com/starford/raido/internal/symtab"
)

// Service is the shared front-end surface over the manifest engine.
type Service struct {
	exec   *engine.Executor
	jrnl   *journal.DB
	logger *slog.Logger
}

// NewService creates a service. jrnl may be nil to disable journaling.
func NewService(exec *engine.Executor, jrnl *journal.DB, logger *slog.Logger) *Service {
	return &Service{exec: exec, jrnl: jrnl, logger: logger}
}

// ValidateReport is the structured result of a static validation pass.
type ValidateReport struct {
	Valid      bool        `json:"valid"`
	Operations int         `json:"operations"`
	Errors     apperr.List `json:"errors,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`

	doc *manifest.Document
}

// Files returns the composed include closure, or just the root path when
// composition itself failed. The watch front end uses this as its watch set.
func (r *ValidateReport) Files(root string) []string {
	if r.doc != nil && len(r.doc.Files) > 0 {
		return r.doc.Files
	}
	return []string{root}
}

// Validate composes the manifest at path and runs every static check,
// collecting all violations. It makes no network calls. The returned error
// is reserved for unreadable files and other I/O failures.
func (s *Service) Validate(_ context.Context, path string, allowMissingIDFiles bool) (*ValidateReport, error) {
	report := &ValidateReport{}

	doc, err := manifest.Load(path, manifest.LoadOptions{AllowMissingIDFiles: allowMissingIDFiles})
	if err != nil {
		var list apperr.List
		var ae *apperr.Error
		switch {
		case errors.As(err, &list):
			report.Errors = list
		case errors.As(err, &ae):
			report.Errors = apperr.List{ae}
		default:
			return nil, err
		}
		return report, nil
	}

	report.doc = doc
	report.Operations = len(doc.Ops)
	report.Warnings = doc.Warnings
	report.Errors = refcheck.Check(doc.Ops, doc.Seed)
	report.Valid = len(report.Errors) == 0
	return report, nil
}

// ApplyOptions tune one apply invocation.
type ApplyOptions struct {
	AllowMissingIDFiles bool

	// SidecarPath overrides where the symbol table is persisted.
	// Default: "<manifest>.ids.json".
	SidecarPath string

	// IdempotencyKey is the invocation-level key, used when the manifest
	// does not carry its own.
	IdempotencyKey string
}

// ApplyReport is the structured result of one apply invocation.
type ApplyReport struct {
	Success         bool                     `json:"success"`
	Status          string                   `json:"status,omitempty"`
	ApplyID         string                   `json:"applyId,omitempty"`
	Chunks          []engine.ChunkResult     `json:"chunks,omitempty"`
	Symbols         map[string]string        `json:"symbols,omitempty"`
	CrossValidation []crossval.Result        `json:"crossValidation,omitempty"`
	Recovery        *engine.RecoverySnapshot `json:"recovery,omitempty"`
	SidecarPath     string                   `json:"sidecarPath,omitempty"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Error           *apperr.Error            `json:"error,omitempty"`
}

// Apply validates the manifest and, when valid, executes it. Static
// validation failures are reported without any network call; execution
// failures report everything that completed plus recovery diagnostics.
func (s *Service) Apply(ctx context.Context, path string, opts ApplyOptions) (*ApplyReport, error) {
	started := time.Now()

	vr, err := s.Validate(ctx, path, opts.AllowMissingIDFiles)
	if err != nil {
		return nil, err
	}
	if !vr.Valid {
		first := vr.Errors[0]
		return &ApplyReport{
			Success:  false,
			Warnings: vr.Warnings,
			Error: apperr.New(apperr.CodeInvalidBOM, "manifest is invalid, nothing applied").
				WithDetails(vr.Errors),
		}, fmt.Errorf("%s", first.Error())
	}

	var execOpts []engine.Option
	if opts.IdempotencyKey != "" {
		execOpts = append(execOpts, engine.WithIdempotencyKey(opts.IdempotencyKey))
	}
	result, err := s.exec.Apply(ctx, vr.doc, execOpts...)
	if err != nil {
		return nil, err
	}

	report := &ApplyReport{
		Success:         result.Status == engine.ApplyComplete,
		Status:          result.Status,
		ApplyID:         uuid.NewString(),
		Chunks:          result.Chunks,
		Symbols:         result.Symbols,
		CrossValidation: result.CrossValidation,
		Recovery:        result.Recovery,
		Warnings:        vr.Warnings,
	}
	report.Error = firstChunkError(result.Chunks)

	// Persist the symbol table even after a partial apply: the side-car is
	// exactly what a manual resumption needs.
	sidecar := opts.SidecarPath
	if sidecar == "" {
		sidecar = vr.doc.Path + ".ids.json"
	}
	if len(result.Symbols) > 0 {
		if err := symtab.New(result.Symbols).SaveSidecar(sidecar); err != nil {
			s.logger.Warn("apply: sidecar write failed",
				slog.String("path", sidecar),
				slog.String("error", err.Error()))
			report.Warnings = append(report.Warnings, "sidecar write failed: "+err.Error())
		} else {
			report.SidecarPath = sidecar
		}
	}

	s.record(report, vr.doc.Path, started)
	return report, nil
}

// History returns the most recent journaled applies with their chunk rows.
func (s *Service) History(limit int) ([]journal.ApplyRow, map[string][]journal.ChunkRow, error) {
	if s.jrnl == nil {
		return nil, nil, fmt.Errorf("journal is not configured")
	}
	applies, err := s.jrnl.RecentApplies(limit)
	if err != nil {
		return nil, nil, err
	}
	chunks := make(map[string][]journal.ChunkRow, len(applies))
	for _, a := range applies {
		rows, err := s.jrnl.Chunks(a.ID)
		if err != nil {
			return nil, nil, err
		}
		chunks[a.ID] = rows
	}
	return applies, chunks, nil
}

func (s *Service) record(report *ApplyReport, manifestPath string, started time.Time) {
	if s.jrnl == nil {
		return
	}
	rows := make([]journal.ChunkRow, len(report.Chunks))
	for i, c := range report.Chunks {
		rows[i] = journal.ChunkRow{
			Index:      c.Index,
			ExternalOp: c.ExternalOperationID,
			Status:     c.Status,
		}
		if c.Error != nil {
			rows[i].Error = c.Error.Error()
		}
	}
	err := s.jrnl.RecordApply(journal.ApplyRow{
		ID:           report.ApplyID,
		ManifestPath: manifestPath,
		Status:       report.Status,
		Chunks:       len(report.Chunks),
		Symbols:      len(report.Symbols),
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}, rows)
	if err != nil {
		s.logger.Warn("apply: journal write failed", slog.String("error", err.Error()))
	}
}

func firstChunkError(chunks []engine.ChunkResult) *apperr.Error {
	for _, c := range chunks {
		if c.Error != nil {
			return c.Error
		}
	}
	return nil
}
