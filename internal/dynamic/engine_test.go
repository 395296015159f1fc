package dynamic

import (
	"sync"
	"testing"
	"time"
)

// memStore is a minimal in-memory StateStore for engine tests.
type memStore struct {
	mu   sync.Mutex
	vals map[string]Value
	subs map[string]map[int]func(Value, bool)
	next int
}

func newMemStore() *memStore {
	return &memStore{
		vals: make(map[string]Value),
		subs: make(map[string]map[int]func(Value, bool)),
	}
}

func (s *memStore) Lookup(key string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	return v, ok
}

func (s *memStore) Subscribe(key string, fn func(Value, bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	m := s.subs[key]
	if m == nil {
		m = make(map[int]func(Value, bool))
		s.subs[key] = m
	}
	m[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
	}
}

func (s *memStore) set(key string, v Value) {
	s.mu.Lock()
	s.vals[key] = v
	fns := s.snapshotSubs(key)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v, true)
	}
}

func (s *memStore) delete(key string) {
	s.mu.Lock()
	delete(s.vals, key)
	fns := s.snapshotSubs(key)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(Value{}, false)
	}
}

func (s *memStore) snapshotSubs(key string) []func(Value, bool) {
	fns := make([]func(Value, bool), 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		fns = append(fns, fn)
	}
	return fns
}

func (s *memStore) subCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[key])
}

// manualTicks is a TickGateway driven by the test.
type manualTicks struct {
	mu   sync.Mutex
	fns  map[int]func(time.Time)
	next int
	now  time.Time
}

func newManualTicks(now time.Time) *manualTicks {
	return &manualTicks{fns: make(map[int]func(time.Time)), now: now}
}

func (g *manualTicks) Register(fn func(time.Time)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next++
	g.fns[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.fns, id)
	}
}

func (g *manualTicks) Now() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now
}

func (g *manualTicks) tick(t *testing.T, at time.Time) {
	t.Helper()
	g.mu.Lock()
	g.now = at
	fns := make([]func(time.Time), 0, len(g.fns))
	for _, fn := range g.fns {
		fns = append(fns, fn)
	}
	g.mu.Unlock()
	for _, fn := range fns {
		fn(at)
	}
}

// resultLog records every delivered result.
type resultLog struct {
	mu      sync.Mutex
	results []Result
}

func (l *resultLog) add(r Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

func (l *resultLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results)
}

func (l *resultLog) last(t *testing.T) Result {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.results) == 0 {
		t.Fatal("no results delivered")
	}
	return l.results[len(l.results)-1]
}

func mustBind(t *testing.T, e Engine, expr Expr, fn func(Result)) *Binding {
	t.Helper()
	b, err := e.Bind(expr, fn)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return b
}

func TestBindConstantDeliversSynchronously(t *testing.T) {
	var log resultLog
	b := mustBind(t, Engine{}, Const{Value: String("ready")}, log.add)
	defer b.Stop()

	// The constant must have been delivered before Bind returned.
	if log.count() != 1 {
		t.Fatalf("results after Bind = %d, want 1", log.count())
	}
	v, ok := log.last(t).Value()
	if !ok {
		t.Fatal("constant delivered invalid")
	}
	if s, _ := v.AsString(); s != "ready" {
		t.Errorf("value = %v", v)
	}
}

func TestBindDerivedOfConstantsDeliversSynchronously(t *testing.T) {
	var log resultLog
	expr := Arith{Op: ArithMul, LHS: Const{Value: Float(6)}, RHS: Const{Value: Float(7)}}
	b := mustBind(t, Engine{}, expr, log.add)
	defer b.Stop()

	if log.count() != 1 {
		t.Fatalf("results after Bind = %d, want 1", log.count())
	}
	v, _ := log.last(t).Value()
	if f, _ := v.AsFloat(); f != 42 {
		t.Errorf("value = %v, want 42", v)
	}
}

func TestBindStateWaitsForPrime(t *testing.T) {
	store := newMemStore()
	store.set("weather.temp", Float(21.5))
	var log resultLog

	b := mustBind(t, Engine{State: store}, StateRef{Key: "weather.temp"}, log.add)
	defer b.Stop()

	if log.count() != 0 {
		t.Fatalf("results before Prime = %d, want 0", log.count())
	}

	b.Prime()
	if log.count() != 1 {
		t.Fatalf("results after Prime = %d, want 1", log.count())
	}
	v, _ := log.last(t).Value()
	if f, _ := v.AsFloat(); f != 21.5 {
		t.Errorf("value = %v, want 21.5", v)
	}
}

func TestBindAbsentStatePrimesInvalid(t *testing.T) {
	store := newMemStore()
	var log resultLog

	b := mustBind(t, Engine{State: store}, StateRef{Key: "missing"}, log.add)
	defer b.Stop()
	b.Prime()

	if log.count() != 1 {
		t.Fatalf("results = %d, want 1", log.count())
	}
	if log.last(t).Valid() {
		t.Error("absent key primed a valid result")
	}
}

func TestStateChangeRecomputes(t *testing.T) {
	store := newMemStore()
	store.set("steps.goal", Int(10000))
	var log resultLog

	expr := Compare{Op: CompareGE, LHS: StateRef{Key: "steps.goal"}, RHS: Const{Value: Float(8000)}}
	b := mustBind(t, Engine{State: store}, expr, log.add)
	defer b.Stop()
	b.Prime()

	v, _ := log.last(t).Value()
	if got, _ := v.AsBool(); !got {
		t.Fatalf("initial compare = %v, want true", v)
	}

	store.set("steps.goal", Int(5000))
	v, _ = log.last(t).Value()
	if got, _ := v.AsBool(); got {
		t.Errorf("after update compare = %v, want false", v)
	}

	store.delete("steps.goal")
	if log.last(t).Valid() {
		t.Error("removed key still yields a valid result")
	}
}

func TestBindMissingSourceFails(t *testing.T) {
	if _, err := (Engine{}).Bind(StateRef{Key: "x"}, func(Result) {}); err == nil {
		t.Error("Bind with no state store succeeded")
	}
	if _, err := (Engine{}).Bind(TimeRef{}, func(Result) {}); err == nil {
		t.Error("Bind with no tick gateway succeeded")
	}
	if _, err := (Engine{}).Bind(SensorRef{Key: SensorHeartRate}, func(Result) {}); err == nil {
		t.Error("Bind with no sensor registry succeeded")
	}
}

func TestTimeRefPrimesAndTicks(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ticks := newManualTicks(t0)
	var log resultLog

	b := mustBind(t, Engine{Ticks: ticks}, FormatInstant{X: TimeRef{}, Layout: "15:04"}, log.add)
	defer b.Stop()

	if log.count() != 0 {
		t.Fatalf("results before Prime = %d, want 0", log.count())
	}
	b.Prime()
	v, _ := log.last(t).Value()
	if s, _ := v.AsString(); s != "10:00" {
		t.Errorf("primed time = %v, want 10:00", v)
	}

	ticks.tick(t, t0.Add(time.Minute))
	v, _ = log.last(t).Value()
	if s, _ := v.AsString(); s != "10:01" {
		t.Errorf("ticked time = %v, want 10:01", v)
	}
}

func TestCondInvalidChildInvalidatesWhole(t *testing.T) {
	store := newMemStore()
	var log resultLog

	// The else branch references an absent key; even though the
	// condition selects the then branch, the node is invalid.
	expr := Cond{
		If:   Const{Value: Bool(true)},
		Then: Const{Value: String("fine")},
		Else: StateRef{Key: "absent"},
	}
	b := mustBind(t, Engine{State: store}, expr, log.add)
	defer b.Stop()
	b.Prime()

	if log.last(t).Valid() {
		t.Error("cond with invalid child produced a valid result")
	}

	store.set("absent", String("present"))
	v, ok := log.last(t).Value()
	if !ok {
		t.Fatal("cond still invalid after child recovered")
	}
	if s, _ := v.AsString(); s != "fine" {
		t.Errorf("cond = %v, want fine", v)
	}
}

func TestStopDetachesAndSuppresses(t *testing.T) {
	store := newMemStore()
	store.set("k", Float(1))
	var log resultLog

	b := mustBind(t, Engine{State: store}, StateRef{Key: "k"}, log.add)
	b.Prime()
	if store.subCount("k") != 1 {
		t.Fatalf("subscriptions = %d, want 1", store.subCount("k"))
	}

	before := log.count()
	b.Stop()
	b.Stop() // idempotent

	if store.subCount("k") != 0 {
		t.Errorf("subscriptions after Stop = %d, want 0", store.subCount("k"))
	}
	store.set("k", Float(2))
	if log.count() != before {
		t.Errorf("results after Stop grew from %d to %d", before, log.count())
	}

	// Prime after Stop is inert too.
	b.Prime()
	if log.count() != before {
		t.Errorf("Prime after Stop delivered results")
	}
}

func TestOperators(t *testing.T) {
	c := func(f float32) Expr { return Const{Value: Float(f)} }
	s := func(v string) Expr { return Const{Value: String(v)} }
	bl := func(v bool) Expr { return Const{Value: Bool(v)} }
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		expr    Expr
		want    Value
		invalid bool
	}{
		{name: "add", expr: Arith{Op: ArithAdd, LHS: c(1.5), RHS: c(2)}, want: Float(3.5)},
		{name: "sub", expr: Arith{Op: ArithSub, LHS: c(1), RHS: c(3)}, want: Float(-2)},
		{name: "mul", expr: Arith{Op: ArithMul, LHS: c(4), RHS: c(2.5)}, want: Float(10)},
		{name: "div", expr: Arith{Op: ArithDiv, LHS: c(7), RHS: c(2)}, want: Float(3.5)},
		{name: "div by zero", expr: Arith{Op: ArithDiv, LHS: c(7), RHS: c(0)}, invalid: true},
		{name: "int coercion", expr: Arith{Op: ArithAdd, LHS: Const{Value: Int(2)}, RHS: c(0.5)}, want: Float(2.5)},
		{name: "type fault", expr: Arith{Op: ArithAdd, LHS: s("x"), RHS: c(1)}, invalid: true},
		{name: "lt", expr: Compare{Op: CompareLT, LHS: c(1), RHS: c(2)}, want: Bool(true)},
		{name: "ge", expr: Compare{Op: CompareGE, LHS: c(2), RHS: c(2)}, want: Bool(true)},
		{name: "ne", expr: Compare{Op: CompareNE, LHS: c(2), RHS: c(2)}, want: Bool(false)},
		{name: "and", expr: Logic{Op: LogicAnd, LHS: bl(true), RHS: bl(false)}, want: Bool(false)},
		{name: "or", expr: Logic{Op: LogicOr, LHS: bl(true), RHS: bl(false)}, want: Bool(true)},
		{name: "not", expr: Not{X: bl(true)}, want: Bool(false)},
		{name: "cond then", expr: Cond{If: bl(true), Then: s("a"), Else: s("b")}, want: String("a")},
		{name: "cond else", expr: Cond{If: bl(false), Then: s("a"), Else: s("b")}, want: String("b")},
		{name: "concat", expr: Concat{Parts: []Expr{s("21"), s("°"), s("C")}}, want: String("21°C")},
		{name: "concat type fault", expr: Concat{Parts: []Expr{s("x"), c(1)}}, invalid: true},
		{name: "format float", expr: FormatFloat{X: c(3.14159), Digits: 2}, want: String("3.14")},
		{name: "format float clamp", expr: FormatFloat{X: c(1.5), Digits: 99}, want: String("1.5000000")},
		{name: "format int rounds", expr: FormatInt{X: c(2.6)}, want: String("3")},
		{name: "format instant", expr: FormatInstant{X: Const{Value: Instant(mar)}, Layout: "2006-01-02"}, want: String("2025-03-01")},
		{name: "format instant default layout", expr: FormatInstant{X: Const{Value: Instant(mar)}}, want: String("2025-03-01T00:00:00Z")},
		{name: "duration secs", expr: DurationSecs{Start: Const{Value: Instant(mar)}, End: Const{Value: Instant(mar.Add(90 * time.Second))}}, want: Float(90)},
		{name: "duration negative", expr: DurationSecs{Start: Const{Value: Instant(mar.Add(time.Minute))}, End: Const{Value: Instant(mar)}}, want: Float(-60)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var log resultLog
			b := mustBind(t, Engine{}, tc.expr, log.add)
			defer b.Stop()
			got := log.last(t)
			if tc.invalid {
				if got.Valid() {
					t.Fatalf("result = %v, want invalid", got)
				}
				return
			}
			v, ok := got.Value()
			if !ok {
				t.Fatalf("result invalid, want %v", tc.want)
			}
			if !v.Equal(tc.want) {
				t.Errorf("result = %v, want %v", v, tc.want)
			}
		})
	}
}
