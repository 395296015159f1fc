// Package manager owns the live complication slots: it persists pushed
// records, runs one evaluation session per slot and fans results out to
// the event broker.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/evaluator"
	"github.com/starford/dagaz/internal/metrics"
	"github.com/starford/dagaz/internal/record"
	"github.com/starford/dagaz/internal/slotstore"
)

// Events receives notifications about slot lifecycle and evaluation.
// *sse.Broker satisfies it.
type Events interface {
	PublishSlotUpdated(slotID string)
	PublishSlotDeleted(slotID string)
	PublishSlotEvaluated(slotID, kind string)
}

// Manager coordinates slot persistence and evaluation sessions.
type Manager struct {
	ctx     context.Context
	eval    *evaluator.Evaluator
	store   slotstore.Store
	events  Events
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	slots  map[string]*session
	closed bool
}

// session is one running evaluation for one slot. done closes when the
// consuming goroutine has fully stopped.
type session struct {
	id         string
	slotID     string
	rec        record.Record
	sessionCtx context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	mu        sync.RWMutex
	latest    record.Record
	hasLatest bool
	updatedAt time.Time
}

func (s *session) setLatest(rec record.Record) {
	s.mu.Lock()
	s.latest = rec
	s.hasLatest = true
	s.mu.Unlock()
}

// New creates a manager. ctx bounds the lifetime of every evaluation
// session; metr may be nil.
func New(ctx context.Context, eval *evaluator.Evaluator, store slotstore.Store, events Events, metr *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ctx:     ctx,
		eval:    eval,
		store:   store,
		events:  events,
		metrics: metr,
		logger:  logger,
		slots:   make(map[string]*session),
	}
}

// Upsert validates and stores a record for a slot, then (re)starts its
// evaluation session. Any previous session for the slot is fully
// stopped before the new one begins, so evaluated events for the old
// record never trail the new ones.
func (m *Manager) Upsert(slotID string, rec record.Record) error {
	if slotID == "" {
		return fmt.Errorf("manager: empty slot id: %w", apperr.ErrInvalid)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("manager: slot %s: %w: %w", slotID, apperr.ErrInvalid, err)
	}
	rec = rec.Clone()

	if rec.Persistence == record.DoNotPersist {
		// Drop any previously persisted record so a restart does not
		// resurrect data the pusher asked us not to keep.
		if err := m.store.Delete(slotID); err != nil {
			return fmt.Errorf("manager: clear slot %s: %w", slotID, err)
		}
	} else {
		if err := m.store.Put(slotID, rec); err != nil {
			return fmt.Errorf("manager: persist slot %s: %w", slotID, err)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return apperr.ErrClosed
	}
	old := m.slots[slotID]
	s := m.newSession(slotID, rec, time.Now().UTC())
	m.slots[slotID] = s
	m.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
	}

	m.startSession(s)
	m.metrics.SlotUpserted()
	m.events.PublishSlotUpdated(slotID)
	m.logger.Info("manager: slot upserted",
		"slot", slotID, "session", s.id,
		"kind", rec.Kind.String(), "dynamic", rec.HasExpressions())
	return nil
}

// Restore loads persisted slots and starts their sessions. Called once
// at boot, before the API begins serving.
func (m *Manager) Restore() error {
	entries, err := m.store.List()
	if err != nil {
		return fmt.Errorf("manager: list slots: %w", err)
	}

	restored := 0
	for _, e := range entries {
		rec, err := m.store.Get(e.SlotID)
		if err != nil {
			m.logger.Warn("manager: skipping unreadable slot", "slot", e.SlotID, "error", err)
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return apperr.ErrClosed
		}
		if _, exists := m.slots[e.SlotID]; exists {
			m.mu.Unlock()
			continue
		}
		s := m.newSession(e.SlotID, rec, e.UpdatedAt)
		m.slots[e.SlotID] = s
		m.mu.Unlock()

		m.startSession(s)
		restored++
	}

	m.logger.Info("manager: restore complete", "slots", restored)
	return nil
}

// newSession builds a session bound to the manager context. The caller
// must hold m.mu and register it in m.slots.
func (m *Manager) newSession(slotID string, rec record.Record, updatedAt time.Time) *session {
	ctx, cancel := context.WithCancel(m.ctx)
	return &session{
		id:         uuid.NewString(),
		slotID:     slotID,
		rec:        rec,
		sessionCtx: ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		updatedAt:  updatedAt,
	}
}

// startSession launches the goroutine that consumes evaluation
// snapshots until the session's channel closes.
func (m *Manager) startSession(s *session) {
	ch := m.eval.Evaluate(s.sessionCtx, s.rec)
	go m.consume(s, ch)
}

func (m *Manager) consume(s *session, ch <-chan record.Record) {
	m.metrics.SessionStarted()
	defer func() {
		m.metrics.SessionStopped()
		close(s.done)
	}()

	for snap := range ch {
		s.setLatest(snap)
		m.metrics.SnapshotEmitted(s.slotID, isInvalid(snap))
		m.events.PublishSlotEvaluated(s.slotID, snap.Kind.String())
	}
	m.logger.Debug("manager: session finished", "slot", s.slotID, "session", s.id)
}

// isInvalid reports whether a snapshot is the invalid-evaluation
// sentinel: bare no-data with no placeholder.
func isInvalid(r record.Record) bool {
	return r.Kind == record.KindNoData && r.Placeholder == nil
}

// Latest returns the most recent evaluation snapshot for a slot. The
// bool is false when the slot does not exist. A slot whose first
// snapshot has not arrived yet reads as the no-data sentinel.
func (m *Manager) Latest(slotID string) (record.Record, bool) {
	m.mu.Lock()
	s, ok := m.slots[slotID]
	m.mu.Unlock()
	if !ok {
		return record.Record{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasLatest {
		return record.Record{Kind: record.KindNoData}, true
	}
	return s.latest, true
}

// Stored returns the record as pushed (expressions intact) for a slot.
func (m *Manager) Stored(slotID string) (record.Record, error) {
	m.mu.Lock()
	s, ok := m.slots[slotID]
	m.mu.Unlock()
	if !ok {
		return record.Record{}, fmt.Errorf("manager: slot %s: %w", slotID, apperr.ErrNotFound)
	}
	return s.rec.Clone(), nil
}

// Slots lists every live slot, sorted by id. Non-persisted slots are
// included; they exist until deleted or the process stops.
func (m *Manager) Slots() []slotstore.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]slotstore.Entry, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, slotstore.Entry{
			SlotID:    s.slotID,
			Kind:      s.rec.Kind,
			UpdatedAt: s.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotID < out[j].SlotID })
	return out
}

// Delete stops a slot's session and removes its persisted record.
func (m *Manager) Delete(slotID string) error {
	m.mu.Lock()
	s, ok := m.slots[slotID]
	if ok {
		delete(m.slots, slotID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("manager: slot %s: %w", slotID, apperr.ErrNotFound)
	}

	s.cancel()
	<-s.done

	if err := m.store.Delete(slotID); err != nil {
		return fmt.Errorf("manager: delete slot %s: %w", slotID, err)
	}
	m.events.PublishSlotDeleted(slotID)
	m.logger.Info("manager: slot deleted", "slot", slotID, "session", s.id)
	return nil
}

// Close stops every session and waits for them to finish. Safe to call
// more than once. The slot store itself is owned by the caller.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*session, 0, len(m.slots))
	for _, s := range m.slots {
		sessions = append(sessions, s)
	}
	m.slots = map[string]*session{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
		<-s.done
	}
	m.logger.Info("manager: closed", "sessions", len(sessions))
}
