package source

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/dagaz/internal/dynamic"
)

var (
	_ dynamic.TickGateway = (*IntervalTicker)(nil)
	_ dynamic.TickGateway = (*ManualTicker)(nil)
)

// tickFanout is the Register/notify machinery shared by both tick
// gateways.
type tickFanout struct {
	mu   sync.Mutex
	fns  map[int]func(time.Time)
	next int
}

func newTickFanout() *tickFanout {
	return &tickFanout{fns: make(map[int]func(time.Time))}
}

func (f *tickFanout) Register(fn func(now time.Time)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.fns[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.fns, id)
	}
}

func (f *tickFanout) notify(now time.Time) {
	f.mu.Lock()
	fns := make([]func(time.Time), 0, len(f.fns))
	for _, fn := range f.fns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(now)
	}
}

func (f *tickFanout) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fns)
}

// IntervalTicker implements dynamic.TickGateway on the wall clock,
// fanning out a tick every interval while Run is live.
type IntervalTicker struct {
	*tickFanout
	interval time.Duration
	logger   *slog.Logger
}

// NewIntervalTicker returns a gateway ticking every interval.
func NewIntervalTicker(interval time.Duration, logger *slog.Logger) *IntervalTicker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntervalTicker{tickFanout: newTickFanout(), interval: interval, logger: logger}
}

// Now implements dynamic.TickGateway.
func (t *IntervalTicker) Now() time.Time { return time.Now() }

// Run delivers ticks until ctx is canceled. Ticks with no registered
// listener are skipped.
func (t *IntervalTicker) Run(ctx context.Context) error {
	t.logger.Info("ticker: started", "interval", t.interval)
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("ticker: stopped")
			return ctx.Err()
		case now := <-tk.C:
			if t.size() == 0 {
				continue
			}
			t.notify(now)
		}
	}
}

// ManualTicker implements dynamic.TickGateway on a virtual clock that
// only moves when told to. It backs deterministic tests and the
// simulated-time development mode.
type ManualTicker struct {
	*tickFanout
	mu  sync.Mutex
	now time.Time
}

// NewManualTicker returns a gateway frozen at start.
func NewManualTicker(start time.Time) *ManualTicker {
	return &ManualTicker{tickFanout: newTickFanout(), now: start}
}

// Now implements dynamic.TickGateway.
func (t *ManualTicker) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

// SetNow moves the clock to at and ticks every listener.
func (t *ManualTicker) SetNow(at time.Time) {
	t.mu.Lock()
	t.now = at
	t.mu.Unlock()
	t.notify(at)
}

// Advance moves the clock forward by d and ticks every listener,
// returning the new time.
func (t *ManualTicker) Advance(d time.Duration) time.Time {
	t.mu.Lock()
	t.now = t.now.Add(d)
	at := t.now
	t.mu.Unlock()
	t.notify(at)
	return at
}
