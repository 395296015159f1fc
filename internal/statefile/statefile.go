// Package statefile drives the in-memory state store from a watched
// YAML file. The file maps state keys to scalars; nested mappings
// flatten into dot-separated keys. Every apply replaces the whole
// store, so keys removed from the file disappear from the store too.
package statefile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/starford/dagaz/internal/dynamic"
	"github.com/starford/dagaz/internal/source"
)

// debounce collapses the burst of events an editor save produces
// (create tmp, write, rename into place) into one reload.
const debounce = 200 * time.Millisecond

// Watcher loads a YAML state file into a MemoryStateStore and keeps the
// two in sync while Watch runs.
type Watcher struct {
	path   string
	store  *source.MemoryStateStore
	logger *slog.Logger

	// lastSum skips reloads when the file content did not change.
	lastSum string
}

// New returns a watcher for the YAML file at path. The file does not
// have to exist yet.
func New(path string, store *source.MemoryStateStore, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, store: store, logger: logger}
}

// Load reads and applies the file once. A missing file leaves the store
// empty and is not an error; a malformed file is.
func (w *Watcher) Load() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.logger.Info("statefile: no file yet", slog.String("path", w.path))
			return nil
		}
		return fmt.Errorf("statefile: read: %w", err)
	}
	_, err = w.apply(data, nil)
	return err
}

// Watch processes file change events until ctx is cancelled. The parent
// directory is watched rather than the file itself so atomic saves
// (write tmp, rename over) keep working after the inode changes.
// onApply, if non-nil, is called with the changed keys after each
// effective apply and after a clear.
func (w *Watcher) Watch(ctx context.Context, onApply func(changed []string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("statefile: watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("statefile: watch %s: %w", dir, err)
	}

	w.logger.Info("statefile: started", slog.String("path", w.path))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(debounce)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			w.logger.Info("statefile: stopped")
			return nil

		case <-reloadCh:
			w.reload(onApply)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0:
				scheduleReload()
			case ev.Op&fsnotify.Remove != 0:
				w.clear(onApply)
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("statefile: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reload re-reads the file. Read or parse failures keep the last good
// state: a half-written or broken file must not wipe live values.
func (w *Watcher) reload(onApply func([]string)) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.clear(onApply)
			return
		}
		w.logger.Warn("statefile: read failed", slog.String("error", err.Error()))
		return
	}
	changed, err := w.apply(data, onApply)
	if err != nil {
		w.logger.Warn("statefile: parse failed, keeping last state", slog.String("error", err.Error()))
		return
	}
	if len(changed) > 0 {
		w.logger.Debug("statefile: applied", slog.Int("changed", len(changed)))
	}
}

func (w *Watcher) apply(data []byte, onApply func([]string)) ([]string, error) {
	sum := sha256hex(data)
	if sum == w.lastSum {
		return nil, nil
	}
	vals, err := parseState(data, w.logger)
	if err != nil {
		return nil, err
	}
	w.lastSum = sum
	changed := w.store.Replace(vals)
	if onApply != nil && len(changed) > 0 {
		onApply(changed)
	}
	return changed, nil
}

func (w *Watcher) clear(onApply func([]string)) {
	w.lastSum = ""
	changed := w.store.Replace(nil)
	if len(changed) > 0 {
		w.logger.Info("statefile: cleared", slog.Int("removed", len(changed)))
		if onApply != nil {
			onApply(changed)
		}
	}
}

// parseState decodes the YAML document into state values. Nested
// mappings flatten into dot-separated keys; sequences and other
// non-scalar values are skipped with a warning.
func parseState(data []byte, logger *slog.Logger) (map[string]dynamic.Value, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("statefile: yaml: %w", err)
	}
	vals := make(map[string]dynamic.Value, len(doc))
	flatten("", doc, vals, logger)
	return vals, nil
}

func flatten(prefix string, m map[string]any, out map[string]dynamic.Value, logger *slog.Logger) {
	for k, raw := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := raw.(map[string]any); ok {
			flatten(key, nested, out, logger)
			continue
		}
		v, ok := coerce(raw)
		if !ok {
			logger.Warn("statefile: unsupported value", slog.String("key", key), slog.String("type", fmt.Sprintf("%T", raw)))
			continue
		}
		out[key] = v
	}
}

// coerce maps a decoded YAML scalar onto a state value. Integers that
// do not fit int32 degrade to floats.
func coerce(raw any) (dynamic.Value, bool) {
	switch v := raw.(type) {
	case string:
		return dynamic.String(v), true
	case bool:
		return dynamic.Bool(v), true
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return dynamic.Int(int32(v)), true
		}
		return dynamic.Float(float32(v)), true
	case int64:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return dynamic.Int(int32(v)), true
		}
		return dynamic.Float(float32(v)), true
	case float64:
		return dynamic.Float(float32(v)), true
	case time.Time:
		return dynamic.Instant(v), true
	default:
		return dynamic.Value{}, false
	}
}

func sha256hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
