package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcherReportsSettledChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte("vertices: []\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 50 * time.Millisecond

	var mu sync.Mutex
	var changes []string
	w.OnChange = func(p string) error {
		mu.Lock()
		changes = append(changes, p)
		mu.Unlock()
		return nil
	}

	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// A burst of writes settles into one change.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("vertices: [] # rev\n"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 {
		t.Errorf("changes = %d (%v); want 1", len(changes), changes)
	}
	abs, _ := filepath.Abs(path)
	if len(changes) > 0 && changes[0] != abs {
		t.Errorf("changed path = %q; want %q", changes[0], abs)
	}
}

func TestWatcherIgnoresUnwatchedFiles(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "pipeline.yaml")
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(watched, []byte("a\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 20 * time.Millisecond

	var called sync.Map
	w.OnChange = func(p string) error {
		called.Store(p, true)
		return nil
	}
	if err := w.Watch(watched); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(other, []byte("b\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	abs, _ := filepath.Abs(other)
	if _, ok := called.Load(abs); ok {
		t.Error("change fired for an unwatched file")
	}
}

func TestWatchMissingFileFails(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("watching a missing file succeeded")
	}
}
