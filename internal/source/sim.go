package source

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/starford/dagaz/internal/dynamic"
)

var _ dynamic.SensorProvider = (*SimProvider)(nil)

// SimProvider implements dynamic.SensorProvider with synthetic health
// and device readings. Registration delivers the latest reading per
// key immediately; Run keeps the readings drifting on a seeded random
// walk so dashboards and demos have something to show.
type SimProvider struct {
	mu       sync.Mutex
	readings map[dynamic.SensorKey]dynamic.Value
	active   map[dynamic.SensorKey]bool
	fn       func(dynamic.SensorKey, dynamic.Value)
	rng      *rand.Rand
	logger   *slog.Logger
}

// NewSimProvider returns a provider seeded for reproducible walks.
func NewSimProvider(seed uint64, logger *slog.Logger) *SimProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimProvider{
		readings: map[dynamic.SensorKey]dynamic.Value{
			dynamic.SensorHeartRate:  dynamic.Float(72),
			dynamic.SensorDailySteps: dynamic.Float(3200),
			dynamic.SensorBattery:    dynamic.Float(100),
		},
		rng:    rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		logger: logger,
	}
}

// Keys lists the sensor keys this provider serves.
func (p *SimProvider) Keys() []dynamic.SensorKey {
	return []dynamic.SensorKey{dynamic.SensorHeartRate, dynamic.SensorDailySteps, dynamic.SensorBattery}
}

// RegisterForKeys implements dynamic.SensorProvider. Any previous
// registration is replaced, and the latest reading for each requested
// key is delivered before the call returns.
func (p *SimProvider) RegisterForKeys(keys []dynamic.SensorKey, fn func(dynamic.SensorKey, dynamic.Value)) error {
	p.mu.Lock()
	p.active = make(map[dynamic.SensorKey]bool, len(keys))
	for _, k := range keys {
		p.active[k] = true
	}
	p.fn = fn
	type initial struct {
		key dynamic.SensorKey
		v   dynamic.Value
	}
	var pending []initial
	for _, k := range keys {
		if v, ok := p.readings[k]; ok {
			pending = append(pending, initial{key: k, v: v})
		}
	}
	p.mu.Unlock()

	for _, in := range pending {
		fn(in.key, in.v)
	}
	return nil
}

// Unregister implements dynamic.SensorProvider.
func (p *SimProvider) Unregister() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = nil
	p.fn = nil
	return nil
}

// SetReading injects a reading, pushing it to the registered consumer
// when the key is currently watched. The development tooling uses this
// to script sensor scenarios.
func (p *SimProvider) SetReading(key dynamic.SensorKey, v dynamic.Value) {
	p.mu.Lock()
	p.readings[key] = v
	fn := p.fn
	watched := p.active[key]
	p.mu.Unlock()
	if fn != nil && watched {
		fn(key, v)
	}
}

// Reading returns the latest value for key.
func (p *SimProvider) Reading(key dynamic.SensorKey) (dynamic.Value, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.readings[key]
	return v, ok
}

// Run drifts the readings every interval until ctx is canceled.
func (p *SimProvider) Run(ctx context.Context, interval time.Duration) error {
	p.logger.Info("sim: sensor walk started", "interval", interval)
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("sim: sensor walk stopped")
			return ctx.Err()
		case <-tk.C:
			p.step()
		}
	}
}

func (p *SimProvider) step() {
	p.SetReading(dynamic.SensorHeartRate, dynamic.Float(p.walk(dynamic.SensorHeartRate, 6, 48, 180)))
	p.SetReading(dynamic.SensorDailySteps, dynamic.Float(p.shift(dynamic.SensorDailySteps, p.rng.Float32()*40)))
	p.SetReading(dynamic.SensorBattery, dynamic.Float(p.walk(dynamic.SensorBattery, 0.2, 1, 100)))
}

// walk nudges a reading by up to ±spread/2, clamped to [lo, hi].
func (p *SimProvider) walk(key dynamic.SensorKey, spread, lo, hi float32) float32 {
	p.mu.Lock()
	cur, _ := p.readings[key].AsFloat()
	delta := p.rng.Float32()*spread - spread/2
	p.mu.Unlock()
	next := cur + delta
	if next < lo {
		next = lo
	}
	if next > hi {
		next = hi
	}
	return next
}

func (p *SimProvider) shift(key dynamic.SensorKey, delta float32) float32 {
	p.mu.Lock()
	cur, _ := p.readings[key].AsFloat()
	p.mu.Unlock()
	return cur + delta
}
