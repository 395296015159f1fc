package dynamic

import "fmt"

// Expr is one node of an expression tree. Leaf nodes carry data
// (constants, state references, sensor references, time); inner nodes
// are pure functions of their children. Expression trees are immutable
// after construction and safe to share across goroutines.
type Expr interface {
	isExpr()
}

// Const yields a fixed value.
type Const struct {
	Value Value
}

// StateRef yields the current value of a key in the host state store.
type StateRef struct {
	Key string
}

// SensorRef yields the latest reading of a platform sensor.
type SensorRef struct {
	Key SensorKey
}

// TimeRef yields the current time, refreshed on every platform tick.
type TimeRef struct{}

// ArithOp selects the operator of an Arith node.
type ArithOp uint8

const (
	ArithAdd ArithOp = iota + 1
	ArithSub
	ArithMul
	ArithDiv
)

func (op ArithOp) String() string {
	switch op {
	case ArithAdd:
		return "+"
	case ArithSub:
		return "-"
	case ArithMul:
		return "*"
	case ArithDiv:
		return "/"
	default:
		return fmt.Sprintf("arith(%d)", uint8(op))
	}
}

// Arith applies a float arithmetic operator to two float children.
// Division by zero and non-finite results are invalid.
type Arith struct {
	Op  ArithOp
	LHS Expr
	RHS Expr
}

// CompareOp selects the operator of a Compare node.
type CompareOp uint8

const (
	CompareLT CompareOp = iota + 1
	CompareLE
	CompareGT
	CompareGE
	CompareEQ
	CompareNE
)

func (op CompareOp) String() string {
	switch op {
	case CompareLT:
		return "<"
	case CompareLE:
		return "<="
	case CompareGT:
		return ">"
	case CompareGE:
		return ">="
	case CompareEQ:
		return "=="
	case CompareNE:
		return "!="
	default:
		return fmt.Sprintf("compare(%d)", uint8(op))
	}
}

// Compare applies a float comparison and yields a bool.
type Compare struct {
	Op  CompareOp
	LHS Expr
	RHS Expr
}

// LogicOp selects the operator of a Logic node.
type LogicOp uint8

const (
	LogicAnd LogicOp = iota + 1
	LogicOr
)

func (op LogicOp) String() string {
	switch op {
	case LogicAnd:
		return "&&"
	case LogicOr:
		return "||"
	default:
		return fmt.Sprintf("logic(%d)", uint8(op))
	}
}

// Logic combines two bool children with and/or.
type Logic struct {
	Op  LogicOp
	LHS Expr
	RHS Expr
}

// Not negates a bool child.
type Not struct {
	X Expr
}

// Cond yields Then when If is true and Else otherwise. All three
// children stay subscribed for the lifetime of the binding, and the
// node is invalid while any of them is invalid.
type Cond struct {
	If   Expr
	Then Expr
	Else Expr
}

// Concat joins string children into one string.
type Concat struct {
	Parts []Expr
}

// FormatFloat renders a float child with a fixed number of fraction
// digits (clamped to [0, 7]).
type FormatFloat struct {
	X      Expr
	Digits int
}

// FormatInt renders a float child as a rounded decimal integer.
type FormatInt struct {
	X Expr
}

// FormatInstant renders an instant child with a time layout string.
// An empty layout means time.RFC3339.
type FormatInstant struct {
	X      Expr
	Layout string
}

// DurationSecs yields the span between two instants in seconds. The
// result is negative when End precedes Start.
type DurationSecs struct {
	Start Expr
	End   Expr
}

func (Const) isExpr()         {}
func (StateRef) isExpr()      {}
func (SensorRef) isExpr()     {}
func (TimeRef) isExpr()       {}
func (Arith) isExpr()         {}
func (Compare) isExpr()       {}
func (Logic) isExpr()         {}
func (Not) isExpr()           {}
func (Cond) isExpr()          {}
func (Concat) isExpr()        {}
func (FormatFloat) isExpr()   {}
func (FormatInt) isExpr()     {}
func (FormatInstant) isExpr() {}
func (DurationSecs) isExpr()  {}

// Validate walks the tree and rejects structurally broken expressions:
// nil children, out-of-range operators, constants without a value, and
// empty references. A tree that passes Validate can always be bound,
// though binding may still degrade to invalid when a source is absent.
func Validate(e Expr) error {
	return validate(e, 0)
}

// maxExprDepth bounds recursion so hostile or runaway trees cannot
// blow the stack during validation, binding, or decoding.
const maxExprDepth = 32

func validate(e Expr, depth int) error {
	if depth > maxExprDepth {
		return fmt.Errorf("dynamic: expression deeper than %d levels", maxExprDepth)
	}
	switch x := e.(type) {
	case nil:
		return fmt.Errorf("dynamic: nil expression")
	case Const:
		if x.Value.Kind() == KindNone {
			return fmt.Errorf("dynamic: constant without a value")
		}
		return nil
	case StateRef:
		if x.Key == "" {
			return fmt.Errorf("dynamic: state reference with empty key")
		}
		return nil
	case SensorRef:
		if x.Key == "" {
			return fmt.Errorf("dynamic: sensor reference with empty key")
		}
		return nil
	case TimeRef:
		return nil
	case Arith:
		if x.Op < ArithAdd || x.Op > ArithDiv {
			return fmt.Errorf("dynamic: unknown arithmetic operator %d", x.Op)
		}
		return validateChildren(depth, x.LHS, x.RHS)
	case Compare:
		if x.Op < CompareLT || x.Op > CompareNE {
			return fmt.Errorf("dynamic: unknown comparison operator %d", x.Op)
		}
		return validateChildren(depth, x.LHS, x.RHS)
	case Logic:
		if x.Op < LogicAnd || x.Op > LogicOr {
			return fmt.Errorf("dynamic: unknown logic operator %d", x.Op)
		}
		return validateChildren(depth, x.LHS, x.RHS)
	case Not:
		return validateChildren(depth, x.X)
	case Cond:
		return validateChildren(depth, x.If, x.Then, x.Else)
	case Concat:
		if len(x.Parts) == 0 {
			return fmt.Errorf("dynamic: concat with no parts")
		}
		return validateChildren(depth, x.Parts...)
	case FormatFloat:
		return validateChildren(depth, x.X)
	case FormatInt:
		return validateChildren(depth, x.X)
	case FormatInstant:
		return validateChildren(depth, x.X)
	case DurationSecs:
		return validateChildren(depth, x.Start, x.End)
	default:
		return fmt.Errorf("dynamic: unknown expression node %T", e)
	}
}

func validateChildren(depth int, children ...Expr) error {
	for _, c := range children {
		if err := validate(c, depth+1); err != nil {
			return err
		}
	}
	return nil
}
