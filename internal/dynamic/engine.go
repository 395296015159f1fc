package dynamic

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Result is one update from a bound expression: a value, or the invalid
// marker when the expression cannot currently be computed.
type Result struct {
	value Value
	ok    bool
}

// Valid wraps a computed value.
func Valid(v Value) Result { return Result{value: v, ok: true} }

// Invalid is the result of an expression that cannot be computed:
// a missing state key, a faulting operator, or a not-yet-ready source.
func Invalid() Result { return Result{} }

// Valid reports whether the result carries a value.
func (r Result) Valid() bool { return r.ok }

// Value returns the carried value; ok is false for the invalid result.
func (r Result) Value() (Value, bool) { return r.value, r.ok }

// Equal reports whether two results agree on validity and value.
func (r Result) Equal(o Result) bool {
	if r.ok != o.ok {
		return false
	}
	return !r.ok || r.value.Equal(o.value)
}

func (r Result) String() string {
	if !r.ok {
		return "<invalid>"
	}
	return r.value.String()
}

// Engine binds expression trees to live data sources. A nil source is
// allowed; binding an expression that references it fails, which
// callers treat as a permanently invalid expression.
type Engine struct {
	State   StateStore
	Sensors *SensorRegistry
	Ticks   TickGateway
}

// Bind compiles expr, subscribes its leaves to the engine's sources,
// and routes every recomputation to onUpdate.
//
// The lifecycle has two phases. During Bind, only statically known
// results flow: constants (and operators fed entirely by constants)
// deliver synchronously before Bind returns. Asynchronous sources are
// subscribed but stay silent until Prime, which pushes their current
// knowledge (state lookups, the current time) through onUpdate. The
// split lets a caller observe a well-defined pre-source state before
// any source data lands.
//
// onUpdate may be invoked from the goroutines of the underlying
// sources; per expression tree, invocations are ordered.
func (e Engine) Bind(expr Expr, onUpdate func(Result)) (*Binding, error) {
	if onUpdate == nil {
		return nil, fmt.Errorf("dynamic: bind without onUpdate")
	}
	if err := Validate(expr); err != nil {
		return nil, err
	}
	root, err := e.compile(expr)
	if err != nil {
		return nil, err
	}
	b := &Binding{root: root, fn: onUpdate}
	if err := root.start(b.deliver); err != nil {
		root.stop()
		return nil, err
	}
	return b, nil
}

// Binding is one live expression attached to its sources.
type Binding struct {
	root    node
	fn      func(Result)
	stopped atomic.Bool
}

func (b *Binding) deliver(r Result) {
	if b.stopped.Load() {
		return
	}
	b.fn(r)
}

// Prime pushes the initial knowledge of the binding's asynchronous
// sources through onUpdate: current state-store values (or invalid for
// absent keys) and the current time. Sensor readings arrive on the
// provider's own schedule and are not primed.
func (b *Binding) Prime() {
	if b.stopped.Load() {
		return
	}
	b.root.prime()
}

// Stop detaches the binding from all sources. Updates that race with
// Stop are suppressed; after the first call the binding is inert, and
// further calls are no-ops.
func (b *Binding) Stop() {
	if b.stopped.CompareAndSwap(false, true) {
		b.root.stop()
	}
}

// node is one compiled expression node. start wires subscriptions and
// delivers statically known results inline; prime pushes initial
// async knowledge; stop releases subscriptions and must tolerate a
// partially started tree.
type node interface {
	start(fn func(Result)) error
	prime()
	stop()
}

func (e Engine) compile(expr Expr) (node, error) {
	switch x := expr.(type) {
	case Const:
		return &constNode{v: x.Value}, nil
	case StateRef:
		if e.State == nil {
			return nil, fmt.Errorf("dynamic: no state store for key %q", x.Key)
		}
		return &stateNode{store: e.State, key: x.Key}, nil
	case SensorRef:
		if e.Sensors == nil {
			return nil, fmt.Errorf("dynamic: no sensor registry for key %q", x.Key)
		}
		return &sensorNode{reg: e.Sensors, key: x.Key}, nil
	case TimeRef:
		if e.Ticks == nil {
			return nil, fmt.Errorf("dynamic: no tick gateway")
		}
		return &timeNode{gw: e.Ticks}, nil
	case Arith:
		return e.derive(arithCompute(x.Op), x.LHS, x.RHS)
	case Compare:
		return e.derive(compareCompute(x.Op), x.LHS, x.RHS)
	case Logic:
		return e.derive(logicCompute(x.Op), x.LHS, x.RHS)
	case Not:
		return e.derive(notCompute, x.X)
	case Cond:
		return e.derive(condCompute, x.If, x.Then, x.Else)
	case Concat:
		return e.derive(concatCompute, x.Parts...)
	case FormatFloat:
		return e.derive(formatFloatCompute(x.Digits), x.X)
	case FormatInt:
		return e.derive(formatIntCompute, x.X)
	case FormatInstant:
		return e.derive(formatInstantCompute(x.Layout), x.X)
	case DurationSecs:
		return e.derive(durationSecsCompute, x.Start, x.End)
	default:
		return nil, fmt.Errorf("dynamic: unknown expression node %T", expr)
	}
}

func (e Engine) derive(compute func([]Value) Result, children ...Expr) (node, error) {
	nodes := make([]node, len(children))
	for i, c := range children {
		n, err := e.compile(c)
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return &derivedNode{children: nodes, compute: compute}, nil
}

type constNode struct {
	v Value
}

func (n *constNode) start(fn func(Result)) error {
	fn(Valid(n.v))
	return nil
}

func (n *constNode) prime() {}
func (n *constNode) stop()  {}

type stateNode struct {
	store  StateStore
	key    string
	fn     func(Result)
	cancel func()
}

func (n *stateNode) start(fn func(Result)) error {
	n.fn = fn
	n.cancel = n.store.Subscribe(n.key, n.push)
	return nil
}

func (n *stateNode) push(v Value, ok bool) {
	if ok {
		n.fn(Valid(v))
	} else {
		n.fn(Invalid())
	}
}

func (n *stateNode) prime() {
	v, ok := n.store.Lookup(n.key)
	n.push(v, ok)
}

func (n *stateNode) stop() {
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
}

type sensorNode struct {
	reg     *SensorRegistry
	key     SensorKey
	release func()
}

func (n *sensorNode) start(fn func(Result)) error {
	release, err := n.reg.acquire(n.key, func(v Value) { fn(Valid(v)) })
	if err != nil {
		return err
	}
	n.release = release
	return nil
}

// prime is a no-op: providers push their latest reading on their own
// once registered.
func (n *sensorNode) prime() {}

func (n *sensorNode) stop() {
	if n.release != nil {
		n.release()
		n.release = nil
	}
}

type timeNode struct {
	gw     TickGateway
	fn     func(Result)
	cancel func()
}

func (n *timeNode) start(fn func(Result)) error {
	n.fn = fn
	n.cancel = n.gw.Register(n.tick)
	return nil
}

func (n *timeNode) tick(now time.Time) {
	n.fn(Valid(Instant(now)))
}

func (n *timeNode) prime() {
	n.tick(n.gw.Now())
}

func (n *timeNode) stop() {
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
}

// derivedNode recomputes a pure function whenever a child reports, once
// every child has reported at least once. Any invalid child makes the
// node invalid. Delivery happens under the node lock so parents see
// recomputations in order.
type derivedNode struct {
	children []node
	compute  func(args []Value) Result

	mu      sync.Mutex
	fn      func(Result)
	latest  []Result
	seen    []bool
	pending int
}

func (n *derivedNode) start(fn func(Result)) error {
	n.fn = fn
	n.latest = make([]Result, len(n.children))
	n.seen = make([]bool, len(n.children))
	n.pending = len(n.children)
	for i, c := range n.children {
		child := i
		if err := c.start(func(r Result) { n.onChild(child, r) }); err != nil {
			return err
		}
	}
	return nil
}

func (n *derivedNode) onChild(i int, r Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest[i] = r
	if !n.seen[i] {
		n.seen[i] = true
		n.pending--
	}
	if n.pending > 0 {
		return
	}
	n.fn(n.recompute())
}

func (n *derivedNode) recompute() Result {
	args := make([]Value, len(n.latest))
	for i, r := range n.latest {
		v, ok := r.Value()
		if !ok {
			return Invalid()
		}
		args[i] = v
	}
	return n.compute(args)
}

func (n *derivedNode) prime() {
	for _, c := range n.children {
		c.prime()
	}
}

func (n *derivedNode) stop() {
	for _, c := range n.children {
		if c != nil {
			c.stop()
		}
	}
}
