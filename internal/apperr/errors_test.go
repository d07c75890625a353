package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeOf(t *testing.T) {
	err := New(CodeChunkTimeout, "chunk %d stalled", 3)
	if CodeOf(err) != CodeChunkTimeout {
		t.Errorf("CodeOf = %q", CodeOf(err))
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if CodeOf(wrapped) != CodeChunkTimeout {
		t.Errorf("CodeOf(wrapped) = %q", CodeOf(wrapped))
	}

	if CodeOf(errors.New("plain")) != "" {
		t.Error("plain errors must have no code")
	}
}

func TestWithDetails_DoesNotMutate(t *testing.T) {
	base := New(CodeInvalidBOM, "bad manifest")
	detailed := base.WithDetails([]string{"changes[0]"})
	if base.Details != nil {
		t.Error("WithDetails mutated the original")
	}
	if detailed.Details == nil || detailed.Code != CodeInvalidBOM {
		t.Errorf("detailed = %+v", detailed)
	}
}

func TestList(t *testing.T) {
	var l List
	if l.Err() != nil {
		t.Error("empty list should be a nil error")
	}

	l.Add(CodeInvalidBOM, "first")
	l.AddErr(New(CodeDuplicateSymbol, "second"))
	err := l.Err()
	if err == nil {
		t.Fatal("non-empty list should be an error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "2 validation error(s)") ||
		!strings.Contains(msg, CodeInvalidBOM) ||
		!strings.Contains(msg, CodeDuplicateSymbol) {
		t.Errorf("msg = %q", msg)
	}

	var list List
	if !errors.As(err, &list) || len(list) != 2 {
		t.Errorf("errors.As round trip failed: %v", err)
	}
}
