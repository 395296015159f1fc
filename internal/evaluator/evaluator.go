// Package evaluator resolves the dynamic expressions inside a
// complication record against live data sources, re-emitting a fully
// literal record whenever the sources move.
package evaluator

import (
	"context"
	"log/slog"

	"github.com/starford/dagaz/internal/dynamic"
	"github.com/starford/dagaz/internal/record"
)

// Evaluator owns the data sources and policy shared by evaluation
// sessions. A nil source is legal: fields whose expressions need it
// are permanently invalid.
type Evaluator struct {
	state    dynamic.StateStore
	sensors  *dynamic.SensorRegistry
	ticks    dynamic.TickGateway
	keepExpr bool
	logger   *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithStateStore wires the host state store.
func WithStateStore(s dynamic.StateStore) Option {
	return func(e *Evaluator) { e.state = s }
}

// WithSensors wires the sensor registry.
func WithSensors(r *dynamic.SensorRegistry) Option {
	return func(e *Evaluator) { e.sensors = r }
}

// WithTicks wires the time-tick gateway.
func WithTicks(g dynamic.TickGateway) Option {
	return func(e *Evaluator) { e.ticks = g }
}

// WithKeepExpressions makes emitted records carry their source
// expressions alongside the resolved literals, for consumers that
// re-evaluate downstream.
func WithKeepExpressions(keep bool) Option {
	return func(e *Evaluator) { e.keepExpr = keep }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// New builds an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate starts one evaluation session for rec and returns its
// output stream. Each call is independent: sources are subscribed
// per session and released when ctx is canceled, at which point the
// channel closes.
//
// A record with no expressions is emitted once, unchanged, and the
// channel closes immediately. Otherwise the first emission reflects
// the synchronously known state (constant subtrees resolved, all
// source-fed fields still pending and therefore invalid), and every
// later emission reflects a recombined snapshot after some source
// update. Snapshots equal to the previous emission are suppressed.
//
// Whenever any expressed field cannot produce a usable value, the
// emission is the invalid sentinel: a bare NoData record. The channel
// holds the latest emission only; a slow consumer observes the newest
// state, not the full history.
func (e *Evaluator) Evaluate(ctx context.Context, rec record.Record) <-chan record.Record {
	out := make(chan record.Record, 1)
	fields := expressedFields(rec)
	if len(fields) == 0 {
		out <- rec
		close(out)
		return out
	}

	s := &session{
		eval:     e,
		original: rec,
		fields:   fields,
		slots:    make([]slot, len(fields)),
		dirty:    make(chan struct{}, 1),
		out:      out,
	}
	go s.run(ctx)
	return out
}
