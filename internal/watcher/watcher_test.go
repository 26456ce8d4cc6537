package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type thresholdHolder struct {
	mu        sync.Mutex
	threshold float64
}

func (h *thresholdHolder) SetThreshold(v float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.threshold = v
	return nil
}

func (h *thresholdHolder) Threshold() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.threshold
}

func writeConfig(t *testing.T, path string, threshold string) {
	t.Helper()
	content := "storage:\n  type: memory\ncache:\n  similarity_threshold: " + threshold + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestConfigWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "0.8")

	var mu sync.Mutex
	calls := 0
	w := NewConfigWatcher(path, func(string) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for _, v := range []string{"0.81", "0.82", "0.83"} {
		writeConfig(t, path, v)
	}
	if !waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return calls > 0 }) {
		t.Fatal("onChange was not called")
	}
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("calls=%d, want 1 after debounce", calls)
	}
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "0.8")

	called := make(chan struct{}, 1)
	w := NewConfigWatcher(path, func(string) { called <- struct{}{} }, WithDebounce(50*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-called:
		t.Error("onChange should not run for other files")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestThresholdWatcher_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "0.8")

	holder := &thresholdHolder{threshold: 0.8}
	w := NewThresholdWatcher(path, holder, nil, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	writeConfig(t, path, "0.95")
	if !waitFor(t, func() bool { return holder.Threshold() == 0.95 }) {
		t.Fatalf("threshold=%v, want 0.95", holder.Threshold())
	}

	// An invalid value is rejected and the previous threshold stays.
	writeConfig(t, path, "1.5")
	time.Sleep(300 * time.Millisecond)
	if holder.Threshold() != 0.95 {
		t.Errorf("threshold=%v, want 0.95 after invalid reload", holder.Threshold())
	}
}

func TestReloadThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "0.7")
	holder := &thresholdHolder{threshold: 0.8}
	if err := ReloadThreshold(path, holder, nil); err != nil {
		t.Fatal(err)
	}
	if holder.Threshold() != 0.7 {
		t.Errorf("threshold=%v", holder.Threshold())
	}
	if err := ReloadThreshold(filepath.Join(t.TempDir(), "missing.yaml"), holder, nil); err == nil {
		t.Error("expected error for missing file")
	}
	if holder.Threshold() != 0.7 {
		t.Error("failed reload should keep the threshold")
	}
}

func TestConfigWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "0.8")
	w := NewConfigWatcher(path, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
	if w.Path() != path {
		t.Errorf("Path=%q, want %q", w.Path(), path)
	}
}
