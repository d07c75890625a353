package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRun_RevalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.json")
	if err := os.WriteFile(path, []byte(`{"version":"1","changes":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var passes int
	validate := func(context.Context) []string {
		mu.Lock()
		passes++
		mu.Unlock()
		return []string{path}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Run(ctx, testLogger(), validate)
	}()

	// The initial pass runs before watching starts.
	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return passes == 1
	}, "initial validation pass missing")

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"version":"1","changes":[],"x":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return passes >= 2
	}, "change did not trigger re-validation")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Run did not return after cancel")
	}
}

func TestRun_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	watchedPath := filepath.Join(dir, "main.json")
	if err := os.WriteFile(watchedPath, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var passes int
	validate := func(context.Context) []string {
		mu.Lock()
		passes++
		mu.Unlock()
		return []string{watchedPath}
	}

	go func() { _ = Run(ctx, testLogger(), validate) }()

	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return passes == 1
	}, "initial validation pass missing")

	time.Sleep(100 * time.Millisecond)
	// A neighbor file in the same directory must not trigger a pass.
	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)
	mu.Lock()
	got := passes
	mu.Unlock()
	if got != 1 {
		t.Errorf("passes = %d, want 1 (unrelated file triggered validation)", got)
	}
}

func TestRun_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var passes int
	validate := func(context.Context) []string {
		mu.Lock()
		passes++
		mu.Unlock()
		return []string{path}
	}

	go func() { _ = Run(ctx, testLogger(), validate) }()

	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return passes == 1
	}, "initial validation pass missing")

	time.Sleep(100 * time.Millisecond)
	// Editor save storm: several writes well inside the debounce window.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return passes >= 2
	}, "burst did not trigger re-validation")

	time.Sleep(500 * time.Millisecond)
	mu.Lock()
	got := passes
	mu.Unlock()
	if got != 2 {
		t.Errorf("passes = %d, want 2 (burst collapsed into one pass)", got)
	}
}
