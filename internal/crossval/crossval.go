// Package crossval checks that a view connection's visual endpoints agree
// with its relationship's true direction, after symbol substitution. It is a
// best-effort safety net: simple reversals are corrected in place, genuine
// mismatches are reported for manual review, and anything unresolvable is
// skipped rather than failed.
package crossval

import (
	"context"
	"log/slog"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/manifest"
	"github.com/starford/raido/internal/remote"
)

// Outcome of one connection check.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeSwapped Outcome = "swapped"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Result is the report for one checked connection.
type Result struct {
	Connection   string        `json:"connection"`
	Relationship string        `json:"relationship,omitempty"`
	Outcome      Outcome       `json:"outcome"`
	Detail       string        `json:"detail,omitempty"`
	Err          *apperr.Error `json:"error,omitempty"`
}

// Valid reports whether the connection is known-good (passed or corrected).
func (r Result) Valid() bool {
	return r.Outcome == OutcomePassed || r.Outcome == OutcomeSwapped
}

// Cache caches relationship details by real ID for the lifetime of one
// apply. It is an explicit object passed by reference, never a process-wide
// singleton, and needs no locking: one apply is single-threaded.
type Cache struct {
	m map[string]*remote.RelationshipDetail
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{m: make(map[string]*remote.RelationshipDetail)}
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.m = make(map[string]*remote.RelationshipDetail)
}

// Validator checks view connections against fetched relationship details.
type Validator struct {
	client remote.Client
	cache  *Cache
	logger *slog.Logger
}

// New creates a validator that fetches through client and memoizes in cache.
func New(client remote.Client, cache *Cache, logger *slog.Logger) *Validator {
	return &Validator{client: client, cache: cache, logger: logger}
}

// CheckConnection validates one addRelationshipToView operation after
// substitution. srcConcept and tgtConcept are the concept real IDs the
// connection's visual endpoints map to, or empty when unmappable. On a clean
// reversal the operation's visual endpoint fields are swapped in place so the
// corrected form reaches the remote call.
func (v *Validator) CheckConnection(ctx context.Context, op *manifest.Operation, srcConcept, tgtConcept string) Result {
	res := Result{Connection: op.TempID}

	if !manifest.IsRealID(op.Relationship) {
		res.Outcome = OutcomeSkipped
		res.Detail = "relationship not yet resolved"
		return res
	}
	res.Relationship = op.Relationship

	if srcConcept == "" || tgtConcept == "" {
		res.Outcome = OutcomeSkipped
		res.Detail = "visual endpoint not mapped to a concept"
		return res
	}

	detail, err := v.relationship(ctx, op.Relationship)
	if err != nil {
		// Remote fetch failures never block the apply.
		v.logger.Warn("crossval: relationship fetch failed",
			slog.String("relationship", op.Relationship),
			slog.String("error", err.Error()))
		res.Outcome = OutcomeSkipped
		res.Detail = "relationship fetch failed"
		return res
	}

	switch {
	case srcConcept == detail.SourceID && tgtConcept == detail.TargetID:
		res.Outcome = OutcomePassed

	case srcConcept == detail.TargetID && tgtConcept == detail.SourceID:
		op.SourceVisual, op.TargetVisual = op.TargetVisual, op.SourceVisual
		res.Outcome = OutcomeSwapped
		res.Detail = "visual endpoints reversed, corrected"
		v.logger.Info("crossval: swapped reversed connection endpoints",
			slog.String("connection", op.TempID),
			slog.String("relationship", op.Relationship))

	default:
		res.Outcome = OutcomeFailed
		res.Err = apperr.New(apperr.CodeCrossValidation,
			"connection %s endpoints (%s -> %s) do not match relationship %s (%s -> %s)",
			op.TempID, srcConcept, tgtConcept,
			detail.ID, detail.SourceID, detail.TargetID)
	}
	return res
}

func (v *Validator) relationship(ctx context.Context, id string) (*remote.RelationshipDetail, error) {
	if d, ok := v.cache.m[id]; ok {
		return d, nil
	}
	d, err := v.client.RelationshipDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	v.cache.m[id] = d
	return d, nil
}
