package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/dynamic"
	"github.com/starford/dagaz/internal/evaluator"
	"github.com/starford/dagaz/internal/record"
	"github.com/starford/dagaz/internal/slotstore"
	"github.com/starford/dagaz/internal/source"
	"github.com/starford/dagaz/internal/testutil"
)

// recorder collects event publications for assertions.
type recorder struct {
	mu        sync.Mutex
	updated   []string
	deleted   []string
	evaluated []string // "slot/kind"
}

func (r *recorder) PublishSlotUpdated(slotID string) {
	r.mu.Lock()
	r.updated = append(r.updated, slotID)
	r.mu.Unlock()
}

func (r *recorder) PublishSlotDeleted(slotID string) {
	r.mu.Lock()
	r.deleted = append(r.deleted, slotID)
	r.mu.Unlock()
}

func (r *recorder) PublishSlotEvaluated(slotID, kind string) {
	r.mu.Lock()
	r.evaluated = append(r.evaluated, slotID+"/"+kind)
	r.mu.Unlock()
}

func (r *recorder) updatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updated)
}

func (r *recorder) deletedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deleted)
}

func (r *recorder) evaluatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.evaluated)
}

func newManager(t *testing.T, store slotstore.Store) (*Manager, *source.MemoryStateStore, *recorder) {
	t.Helper()
	states := source.NewMemoryStateStore()
	eval := evaluator.New(
		evaluator.WithStateStore(states),
		evaluator.WithLogger(testutil.TestLogger()),
	)
	events := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := New(ctx, eval, store, events, nil, testutil.TestLogger())
	t.Cleanup(m.Close)
	return m, states, events
}

func mustShortText(t *testing.T, text record.Text, opts ...record.Option) record.Record {
	t.Helper()
	rec, err := record.NewShortText(text, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func textOf(r record.Record) string {
	if r.Text == nil || r.Text.Literal == nil {
		return ""
	}
	return *r.Text.Literal
}

func TestUpsertStartsSessionAndEvaluates(t *testing.T) {
	store := testutil.TestSlotStore(t)
	m, _, events := newManager(t, store)

	rec := mustShortText(t, record.PlainText("hi"))
	if err := m.Upsert("watch-left", rec); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		got, ok := m.Latest("watch-left")
		return ok && textOf(got) == "hi"
	})

	if got := events.updatedCount(); got != 1 {
		t.Errorf("updated events = %d, want 1", got)
	}
	if events.evaluatedCount() == 0 {
		t.Error("expected at least one evaluated event")
	}

	slots := m.Slots()
	if len(slots) != 1 || slots[0].SlotID != "watch-left" || slots[0].Kind != record.KindShortText {
		t.Errorf("unexpected slots listing: %+v", slots)
	}

	// Persisted for restart.
	if _, err := store.Get("watch-left"); err != nil {
		t.Errorf("expected persisted record: %v", err)
	}
}

func TestUpsertDynamicTracksState(t *testing.T) {
	store := testutil.TestSlotStore(t)
	m, states, _ := newManager(t, store)

	states.Set("battery", dynamic.Float(87))
	rec := mustShortText(t, record.DynamicText(dynamic.FormatInt{X: dynamic.StateRef{Key: "battery"}}))
	if err := m.Upsert("battery-slot", rec); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		got, ok := m.Latest("battery-slot")
		return ok && textOf(got) == "87"
	})

	states.Set("battery", dynamic.Float(55))
	testutil.Eventually(t, 2*time.Second, func() bool {
		got, ok := m.Latest("battery-slot")
		return ok && textOf(got) == "55"
	})
}

func TestUnresolvedSlotReadsAsSentinel(t *testing.T) {
	store := testutil.TestSlotStore(t)
	m, _, _ := newManager(t, store)

	rec := mustShortText(t, record.DynamicText(dynamic.StateRef{Key: "missing"}))
	if err := m.Upsert("pending", rec); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		got, ok := m.Latest("pending")
		return ok && got.Kind == record.KindNoData && got.Placeholder == nil
	})
}

func TestUpsertRejectsInvalidRecord(t *testing.T) {
	store := testutil.TestSlotStore(t)
	m, _, _ := newManager(t, store)

	err := m.Upsert("bad", record.Record{Kind: record.KindShortText})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, ok := m.Latest("bad"); ok {
		t.Error("invalid record should not create a slot")
	}

	err = m.Upsert("", mustShortText(t, record.PlainText("x")))
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for empty slot id, got %v", err)
	}
}

func TestUpsertReplacesSession(t *testing.T) {
	store := testutil.TestSlotStore(t)
	m, _, events := newManager(t, store)

	if err := m.Upsert("s", mustShortText(t, record.PlainText("one"))); err != nil {
		t.Fatal(err)
	}
	if err := m.Upsert("s", mustShortText(t, record.PlainText("two"))); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		got, ok := m.Latest("s")
		return ok && textOf(got) == "two"
	})

	if got := events.updatedCount(); got != 2 {
		t.Errorf("updated events = %d, want 2", got)
	}
	if got := len(m.Slots()); got != 1 {
		t.Errorf("slots = %d, want 1", got)
	}

	stored, err := m.Stored("s")
	if err != nil {
		t.Fatal(err)
	}
	if textOf(stored) != "two" {
		t.Errorf("stored text = %q, want %q", textOf(stored), "two")
	}
}

func TestDoNotPersistSkipsStore(t *testing.T) {
	store := testutil.TestSlotStore(t)
	m, _, _ := newManager(t, store)

	// Seed a persisted record, then replace it with a transient one.
	if err := m.Upsert("t", mustShortText(t, record.PlainText("keep"))); err != nil {
		t.Fatal(err)
	}
	transient := mustShortText(t, record.PlainText("secret"),
		record.WithPersistencePolicy(record.DoNotPersist))
	if err := m.Upsert("t", transient); err != nil {
		t.Fatal(err)
	}

	// Live but not on disk.
	testutil.Eventually(t, 2*time.Second, func() bool {
		got, ok := m.Latest("t")
		return ok && textOf(got) == "secret"
	})
	if _, err := store.Get("t"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected no persisted record, got %v", err)
	}

	// A restart must not resurrect it.
	m2, _, _ := newManager(t, store)
	if err := m2.Restore(); err != nil {
		t.Fatal(err)
	}
	if got := len(m2.Slots()); got != 0 {
		t.Errorf("restored slots = %d, want 0", got)
	}
}

func TestRestoreStartsPersistedSlots(t *testing.T) {
	store := testutil.TestSlotStore(t)

	seed := mustShortText(t, record.PlainText("hello"))
	if err := store.Put("a", seed); err != nil {
		t.Fatal(err)
	}
	dyn := mustShortText(t, record.DynamicText(dynamic.StateRef{Key: "city"}))
	if err := store.Put("b", dyn); err != nil {
		t.Fatal(err)
	}

	m, states, _ := newManager(t, store)
	if err := m.Restore(); err != nil {
		t.Fatal(err)
	}

	if got := len(m.Slots()); got != 2 {
		t.Fatalf("slots = %d, want 2", got)
	}
	testutil.Eventually(t, 2*time.Second, func() bool {
		got, ok := m.Latest("a")
		return ok && textOf(got) == "hello"
	})

	// Restored dynamic slots are live, not frozen.
	states.Set("city", dynamic.String("Oslo"))
	testutil.Eventually(t, 2*time.Second, func() bool {
		got, ok := m.Latest("b")
		return ok && textOf(got) == "Oslo"
	})
}

func TestDeleteStopsSessionAndClearsStore(t *testing.T) {
	store := testutil.TestSlotStore(t)
	m, _, events := newManager(t, store)

	if err := m.Upsert("d", mustShortText(t, record.PlainText("x"))); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete("d"); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.Latest("d"); ok {
		t.Error("deleted slot still readable")
	}
	if _, err := store.Get("d"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected record gone from store, got %v", err)
	}
	if got := events.deletedCount(); got != 1 {
		t.Errorf("deleted events = %d, want 1", got)
	}

	if err := m.Delete("d"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestStoredMissingSlot(t *testing.T) {
	store := testutil.TestSlotStore(t)
	m, _, _ := newManager(t, store)

	if _, err := m.Stored("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseStopsSessions(t *testing.T) {
	store := testutil.TestSlotStore(t)
	m, states, events := newManager(t, store)

	rec := mustShortText(t, record.DynamicText(dynamic.StateRef{Key: "k"}))
	if err := m.Upsert("c", rec); err != nil {
		t.Fatal(err)
	}
	states.Set("k", dynamic.String("v"))
	testutil.Eventually(t, 2*time.Second, func() bool {
		got, ok := m.Latest("c")
		return ok && textOf(got) == "v"
	})

	m.Close()
	m.Close() // idempotent

	// Sessions are gone; state changes no longer produce events.
	before := events.evaluatedCount()
	states.Set("k", dynamic.String("w"))
	time.Sleep(100 * time.Millisecond)
	if after := events.evaluatedCount(); after != before {
		t.Errorf("evaluated events after close: %d -> %d", before, after)
	}

	if err := m.Upsert("c", mustShortText(t, record.PlainText("x"))); !errors.Is(err, apperr.ErrClosed) {
		t.Errorf("upsert after close: %v, want ErrClosed", err)
	}
}
