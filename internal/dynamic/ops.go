package dynamic

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Operator semantics. Arithmetic and comparison work over floats; int
// values coerce to float where a float is expected, so integer state
// entries compose with float sensors without explicit conversion
// nodes. Faults (division by zero, non-finite results, type
// mismatches) yield the invalid result instead of panicking.

func numArg(v Value) (float32, bool) {
	if f, ok := v.AsFloat(); ok {
		return f, true
	}
	if i, ok := v.AsInt(); ok {
		return float32(i), true
	}
	return 0, false
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

func arithCompute(op ArithOp) func([]Value) Result {
	return func(args []Value) Result {
		a, okA := numArg(args[0])
		b, okB := numArg(args[1])
		if !okA || !okB {
			return Invalid()
		}
		var out float32
		switch op {
		case ArithAdd:
			out = a + b
		case ArithSub:
			out = a - b
		case ArithMul:
			out = a * b
		case ArithDiv:
			if b == 0 {
				return Invalid()
			}
			out = a / b
		default:
			return Invalid()
		}
		if !finite(out) {
			return Invalid()
		}
		return Valid(Float(out))
	}
}

func compareCompute(op CompareOp) func([]Value) Result {
	return func(args []Value) Result {
		a, okA := numArg(args[0])
		b, okB := numArg(args[1])
		if !okA || !okB {
			return Invalid()
		}
		var out bool
		switch op {
		case CompareLT:
			out = a < b
		case CompareLE:
			out = a <= b
		case CompareGT:
			out = a > b
		case CompareGE:
			out = a >= b
		case CompareEQ:
			out = a == b
		case CompareNE:
			out = a != b
		default:
			return Invalid()
		}
		return Valid(Bool(out))
	}
}

func logicCompute(op LogicOp) func([]Value) Result {
	return func(args []Value) Result {
		a, okA := args[0].AsBool()
		b, okB := args[1].AsBool()
		if !okA || !okB {
			return Invalid()
		}
		switch op {
		case LogicAnd:
			return Valid(Bool(a && b))
		case LogicOr:
			return Valid(Bool(a || b))
		default:
			return Invalid()
		}
	}
}

func notCompute(args []Value) Result {
	b, ok := args[0].AsBool()
	if !ok {
		return Invalid()
	}
	return Valid(Bool(!b))
}

// condCompute selects between the then and else values. Both branches
// have already reported, so selection is a pure pick; mixed branch
// types are allowed and left to downstream type checks.
func condCompute(args []Value) Result {
	c, ok := args[0].AsBool()
	if !ok {
		return Invalid()
	}
	if c {
		return Valid(args[1])
	}
	return Valid(args[2])
}

func concatCompute(args []Value) Result {
	var sb strings.Builder
	for _, a := range args {
		s, ok := a.AsString()
		if !ok {
			return Invalid()
		}
		sb.WriteString(s)
	}
	return Valid(String(sb.String()))
}

func formatFloatCompute(digits int) func([]Value) Result {
	if digits < 0 {
		digits = 0
	}
	if digits > 7 {
		digits = 7
	}
	return func(args []Value) Result {
		f, ok := numArg(args[0])
		if !ok || !finite(f) {
			return Invalid()
		}
		return Valid(String(strconv.FormatFloat(float64(f), 'f', digits, 32)))
	}
}

func formatIntCompute(args []Value) Result {
	f, ok := numArg(args[0])
	if !ok || !finite(f) {
		return Invalid()
	}
	return Valid(String(strconv.FormatInt(int64(math.Round(float64(f))), 10)))
}

func formatInstantCompute(layout string) func([]Value) Result {
	if layout == "" {
		layout = time.RFC3339
	}
	return func(args []Value) Result {
		t, ok := args[0].AsInstant()
		if !ok {
			return Invalid()
		}
		return Valid(String(t.Format(layout)))
	}
}

func durationSecsCompute(args []Value) Result {
	start, okS := args[0].AsInstant()
	end, okE := args[1].AsInstant()
	if !okS || !okE {
		return Invalid()
	}
	return Valid(Float(float32(end.Sub(start).Seconds())))
}
