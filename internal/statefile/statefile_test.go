package statefile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/dagaz/internal/dynamic"
	"github.com/starford/dagaz/internal/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func eventually(t *testing.T, timeout time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error(msg)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadParsesScalars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	writeFile(t, path, `
battery: 87.5
user: Avery
steps: 3200
zone_active: true
weather:
  temp: 21.5
  city: Oslo
`)

	store := source.NewMemoryStateStore()
	w := New(path, store, testLogger())
	if err := w.Load(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key  string
		want dynamic.Value
	}{
		{"battery", dynamic.Float(87.5)},
		{"user", dynamic.String("Avery")},
		{"steps", dynamic.Int(3200)},
		{"zone_active", dynamic.Bool(true)},
		{"weather.temp", dynamic.Float(21.5)},
		{"weather.city", dynamic.String("Oslo")},
	}
	for _, tt := range tests {
		got, ok := store.Lookup(tt.key)
		if !ok {
			t.Errorf("key %q missing", tt.key)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("key %q = %v, want %v", tt.key, got, tt.want)
		}
	}
	if store.Len() != len(tests) {
		t.Errorf("store has %d keys, want %d", store.Len(), len(tests))
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store := source.NewMemoryStateStore()
	w := New(filepath.Join(t.TempDir(), "absent.yaml"), store, testLogger())
	if err := w.Load(); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d keys, want 0", store.Len())
	}
}

func TestLoadMalformedFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	writeFile(t, path, "a: [unclosed")

	w := New(path, source.NewMemoryStateStore(), testLogger())
	if err := w.Load(); err == nil {
		t.Fatal("malformed YAML loaded without error")
	}
}

func TestWatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	writeFile(t, path, "battery: 80\n")

	store := source.NewMemoryStateStore()
	w := New(path, store, testLogger())
	if err := w.Load(); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var applied [][]string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx, func(changed []string) {
			mu.Lock()
			applied = append(applied, changed)
			mu.Unlock()
		})
	}()

	// Give the watcher time to arm before touching the file.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "battery: 55\ncharging: true\n")

	eventually(t, 3*time.Second, func() bool {
		v, ok := store.Lookup("battery")
		if !ok {
			return false
		}
		f, _ := v.AsFloat()
		_, chOK := store.Lookup("charging")
		return f == 55 && chOK
	}, "watch did not apply the new file content")

	mu.Lock()
	n := len(applied)
	mu.Unlock()
	if n == 0 {
		t.Error("onApply was never called")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func TestWatchRemovalClearsStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	writeFile(t, path, "battery: 80\n")

	store := source.NewMemoryStateStore()
	w := New(path, store, testLogger())
	if err := w.Load(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx, nil) }()

	time.Sleep(100 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	eventually(t, 3*time.Second, func() bool {
		return store.Len() == 0
	}, "store not cleared after file removal")
}

func TestWatchKeepsLastGoodOnMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	writeFile(t, path, "battery: 80\n")

	store := source.NewMemoryStateStore()
	w := New(path, store, testLogger())
	if err := w.Load(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx, nil) }()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "battery: [broken")

	// The broken write must not clobber the last good value. There is
	// no positive signal for "reload rejected", so settle on a delay
	// longer than the debounce window.
	time.Sleep(600 * time.Millisecond)
	v, ok := store.Lookup("battery")
	if !ok {
		t.Fatal("battery removed after malformed write")
	}
	if f, _ := v.AsFloat(); f != 80 {
		t.Errorf("battery = %v, want 80", f)
	}
}

func TestApplySkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	writeFile(t, path, "battery: 80\n")

	store := source.NewMemoryStateStore()
	w := New(path, store, testLogger())
	if err := w.Load(); err != nil {
		t.Fatal(err)
	}

	calls := 0
	w.reload(func([]string) { calls++ })
	if calls != 0 {
		t.Errorf("identical content triggered %d applies, want 0", calls)
	}
}
