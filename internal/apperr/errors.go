// Package apperr defines the machine-readable error taxonomy shared by the
// manifest engine and its front ends.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes reported to callers. These are stable identifiers; front ends
// match on them, so they must not change meaning.
const (
	CodeInvalidBOM          = "INVALID_BOM"
	CodeCircularInclude     = "CIRCULAR_INCLUDE"
	CodeDuplicateSymbol     = "DUPLICATE_SYMBOL"
	CodeIDFilesIncomplete   = "IDFILES_INCOMPLETE"
	CodeNamespaceMismatch   = "NAMESPACE_MISMATCH"
	CodeChunkSubmitFailed   = "CHUNK_SUBMIT_FAILED"
	CodeChunkTimeout        = "CHUNK_TIMEOUT"
	CodeCrossValidation     = "CROSS_VALIDATION_MISMATCH"
	CodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
)

// Error is a structured application error with a stable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// New creates an Error with the given code and formatted message.
func New(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the code of err if it is (or wraps) an *Error, else "".
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// List aggregates multiple structured errors, typically from a validation
// pass that collects every violation before reporting.
type List []*Error

// Add appends a new error to the list.
func (l *List) Add(code, format string, args ...any) {
	*l = append(*l, New(code, format, args...))
}

// AddErr appends an existing error.
func (l *List) AddErr(e *Error) {
	*l = append(*l, e)
}

// Err returns the list as an error, or nil when empty.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

func (l List) Error() string {
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(l), strings.Join(msgs, "; "))
}
