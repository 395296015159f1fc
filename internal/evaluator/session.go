package evaluator

import (
	"context"
	"sync"

	"github.com/starford/dagaz/internal/dynamic"
	"github.com/starford/dagaz/internal/record"
)

// invalidSentinel is what a session emits while any expressed field
// lacks a usable value.
func invalidSentinel() record.Record {
	return record.Record{Kind: record.KindNoData}
}

// slot holds the latest result of one expressed field. failed marks a
// field whose expression could not bind at all.
type slot struct {
	mu     sync.Mutex
	cur    dynamic.Result
	seen   bool
	failed bool
}

func (s *slot) store(r dynamic.Result) {
	s.mu.Lock()
	s.cur = r
	s.seen = true
	s.mu.Unlock()
}

func (s *slot) load() (res dynamic.Result, usable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed || !s.seen {
		return dynamic.Result{}, false
	}
	return s.cur, true
}

func (s *slot) markFailed() {
	s.mu.Lock()
	s.failed = true
	s.mu.Unlock()
}

// session is one live evaluation: a set of bound expressions feeding
// per-field slots, recombined into output records on a single
// goroutine. Field callbacks only store and flag dirty; every
// recombination and emission happens on the session goroutine, so
// emissions are totally ordered.
type session struct {
	eval     *Evaluator
	original record.Record
	fields   []exprField
	slots    []slot
	dirty    chan struct{}
	out      chan record.Record

	bindings []*dynamic.Binding
	last     record.Record
}

func (s *session) run(ctx context.Context) {
	defer close(s.out)

	log := s.eval.logger
	log.Debug("evaluator: session started", "kind", s.original.Kind.String(), "fields", len(s.fields))

	eng := dynamic.Engine{State: s.eval.state, Sensors: s.eval.sensors, Ticks: s.eval.ticks}
	for i := range s.fields {
		idx := i
		b, err := eng.Bind(s.fields[i].expr, func(r dynamic.Result) {
			s.slots[idx].store(r)
			s.flagDirty()
		})
		if err != nil {
			log.Warn("evaluator: field does not bind", "field", s.fields[i].name, "error", err)
			s.slots[i].markFailed()
			continue
		}
		s.bindings = append(s.bindings, b)
	}

	// Constant results arrived synchronously during Bind. The first
	// emission reflects exactly that pre-source knowledge; clear the
	// dirty flag those deliveries raised so the loop does not rerun a
	// recombination that would be suppressed anyway.
	select {
	case <-s.dirty:
	default:
	}
	s.emit(s.recombine())

	for _, b := range s.bindings {
		b.Prime()
	}

	for {
		select {
		case <-ctx.Done():
			for _, b := range s.bindings {
				b.Stop()
			}
			log.Debug("evaluator: session ended", "kind", s.original.Kind.String())
			return
		case <-s.dirty:
			if cand := s.recombine(); !cand.Equal(s.last) {
				s.emit(cand)
			}
		}
	}
}

func (s *session) flagDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// recombine builds the current output snapshot: the original record
// with every expressed field replaced by its resolved literal, or the
// invalid sentinel when any field lacks a usable, rule-abiding value.
func (s *session) recombine() record.Record {
	out := s.original.Clone()
	for i := range s.fields {
		res, usable := s.slots[i].load()
		if !usable {
			return invalidSentinel()
		}
		v, valid := res.Value()
		if !valid {
			return invalidSentinel()
		}
		if !s.fields[i].set(&out, v, s.eval.keepExpr) {
			return invalidSentinel()
		}
	}
	return out
}

// emit conflates onto the cap-1 output channel: the stale buffered
// emission, if any, is replaced by the new one. The session goroutine
// is the only sender, so the drain-then-send pair cannot race.
func (s *session) emit(r record.Record) {
	s.last = r
	select {
	case s.out <- r:
		return
	default:
	}
	select {
	case <-s.out:
	default:
	}
	s.out <- r
}
