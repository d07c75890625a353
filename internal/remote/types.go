// Package remote is the client for the modeling service's asynchronous
// change API: batch submission, status polling, and the lookups used by
// cross-validation and recovery diagnostics.
package remote

import (
	"context"

	"github.com/starford/raido/internal/manifest"
)

// Terminal and non-terminal states of an asynchronous remote operation.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusError    = "error"
)

// ChangeRequest is one atomic batch submitted to the apply endpoint.
type ChangeRequest struct {
	Operations        []manifest.Operation `json:"operations"`
	IdempotencyKey    string               `json:"idempotencyKey,omitempty"`
	DuplicateStrategy string               `json:"duplicateStrategy,omitempty"`
}

// SubmitResponse identifies the asynchronous operation created for a batch.
type SubmitResponse struct {
	OperationID string `json:"operationId"`
}

// StatusResponse is the state of an asynchronous operation.
type StatusResponse struct {
	Status string            `json:"status"`
	Result []OperationResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Terminal reports whether the operation has finished, either way.
func (s *StatusResponse) Terminal() bool {
	return s.Status == StatusComplete || s.Status == StatusError
}

// OperationResult is one row of a completed batch. Exactly which realized-ID
// field is populated depends on the operation kind.
type OperationResult struct {
	Op       string `json:"op"`
	TempID   string `json:"tempId,omitempty"`
	RealID   string `json:"realId,omitempty"`
	VisualID string `json:"visualId,omitempty"`
	NoteID   string `json:"noteId,omitempty"`
	GroupID  string `json:"groupId,omitempty"`
	ViewID   string `json:"viewId,omitempty"`
}

// RelationshipDetail is the true direction of a relationship, fetched for
// visual-connection cross-validation.
type RelationshipDetail struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

// ModelSummary is a coarse count of remote model contents, captured in
// recovery snapshots.
type ModelSummary struct {
	Elements      int `json:"elements"`
	Relationships int `json:"relationships"`
	Views         int `json:"views"`
	Folders       int `json:"folders"`
}

// Diagnostics is the remote integrity report, captured in recovery snapshots.
type Diagnostics struct {
	Issues []string `json:"issues"`
}

// Client is the consumed surface of the remote modeling service.
type Client interface {
	// SubmitChanges submits one batch and returns the asynchronous
	// operation ID assigned by the service.
	SubmitChanges(ctx context.Context, req ChangeRequest) (string, error)

	// OperationStatus fetches the current state of an asynchronous operation.
	OperationStatus(ctx context.Context, opID string) (*StatusResponse, error)

	// RelationshipDetail fetches a relationship's true source and target.
	RelationshipDetail(ctx context.Context, id string) (*RelationshipDetail, error)

	// ModelSummary fetches a coarse content summary.
	ModelSummary(ctx context.Context) (*ModelSummary, error)

	// IntegrityDiagnostics fetches the remote integrity report.
	IntegrityDiagnostics(ctx context.Context) (*Diagnostics, error)
}
