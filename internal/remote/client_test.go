package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/raido/internal/apperr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubmitChanges_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/changes" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("Authorization = %q", got)
		}
		var req ChangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.IdempotencyKey != "k:chunk:0:of:1" {
			t.Errorf("idempotencyKey = %q", req.IdempotencyKey)
		}
		json.NewEncoder(w).Encode(SubmitResponse{OperationID: "op-1"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "sekrit", 5*time.Second, discardLogger())
	opID, err := c.SubmitChanges(context.Background(), ChangeRequest{IdempotencyKey: "k:chunk:0:of:1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opID != "op-1" {
		t.Errorf("opID = %q, want op-1", opID)
	}
}

func TestSubmitChanges_MissingOperationID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second, discardLogger())
	if _, err := c.SubmitChanges(context.Background(), ChangeRequest{}); err == nil {
		t.Fatal("expected error for empty operationId")
	}
}

func TestDo_RetriesOn429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls <= 2 {
			w.Header().Set("Retry-After", "0") // out of range, falls back to backoff
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(SubmitResponse{OperationID: "op-1"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second, discardLogger())
	start := time.Now()
	if _, err := c.SubmitChanges(context.Background(), ChangeRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Two backoff sleeps (500ms + 1s) are expected; just sanity-check we
	// actually waited rather than busy-looped.
	if time.Since(start) < time.Second {
		t.Errorf("retries returned too quickly: %v", time.Since(start))
	}
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second, discardLogger())
	c.maxRetries = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.SubmitChanges(ctx, ChangeRequest{}); err == nil {
		t.Fatal("expected rate-limit exhaustion error")
	}
}

func TestDo_ErrorEnvelopeMapsToCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"IDEMPOTENCY_CONFLICT","message":"key reused with different payload"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second, discardLogger())
	_, err := c.SubmitChanges(context.Background(), ChangeRequest{})
	if apperr.CodeOf(err) != apperr.CodeIdempotencyConflict {
		t.Errorf("code = %q, want IDEMPOTENCY_CONFLICT", apperr.CodeOf(err))
	}
}

func TestDo_NonEnvelopeErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second, discardLogger())
	_, err := c.SubmitChanges(context.Background(), ChangeRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.CodeOf(err) != "" {
		t.Errorf("plain 500 should not masquerade as a coded error, got %q", apperr.CodeOf(err))
	}
}

func TestOperationStatus_RejectsUnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"exploded"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second, discardLogger())
	if _, err := c.OperationStatus(context.Background(), "op-1"); err == nil {
		t.Fatal("expected error for unknown status value")
	}
}

func TestStatusResponse_Terminal(t *testing.T) {
	cases := map[string]bool{
		StatusPending:  false,
		StatusRunning:  false,
		StatusComplete: true,
		StatusError:    true,
	}
	for status, want := range cases {
		s := &StatusResponse{Status: status}
		if s.Terminal() != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, s.Terminal(), want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	fallback := 250 * time.Millisecond

	h := http.Header{}
	h.Set("Retry-After", "2")
	if got := retryAfter(h, fallback); got != 2*time.Second {
		t.Errorf("retryAfter = %v, want 2s", got)
	}

	h.Set("Retry-After", "9999") // absurd values are ignored
	if got := retryAfter(h, fallback); got != fallback {
		t.Errorf("retryAfter = %v, want fallback", got)
	}

	h.Set("Retry-After", "soon")
	if got := retryAfter(h, fallback); got != fallback {
		t.Errorf("retryAfter = %v, want fallback", got)
	}

	if got := retryAfter(nil, fallback); got != fallback {
		t.Errorf("retryAfter(nil) = %v, want fallback", got)
	}
}
