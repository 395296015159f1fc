package wire

import (
	"fmt"
	"time"

	"github.com/starford/dagaz/internal/dynamic"
)

// Expression trees serialize in preorder: an op byte, any operator
// payload, then the children. Depth is bounded on decode with the same
// limit the model enforces at validation.

const (
	opConst uint8 = iota + 1
	opStateRef
	opSensorRef
	opTimeRef
	opArith
	opCompare
	opLogic
	opNot
	opCond
	opConcat
	opFormatFloat
	opFormatInt
	opFormatInstant
	opDurationSecs
)

const (
	valFloat uint8 = iota + 1
	valString
	valBool
	valInt
	valInstant
)

const maxExprDepth = 32

func encodeExpr(w *writer, e dynamic.Expr) {
	switch x := e.(type) {
	case dynamic.Const:
		w.u8(opConst)
		encodeValue(w, x.Value)
	case dynamic.StateRef:
		w.u8(opStateRef)
		w.str(x.Key)
	case dynamic.SensorRef:
		w.u8(opSensorRef)
		w.str(string(x.Key))
	case dynamic.TimeRef:
		w.u8(opTimeRef)
	case dynamic.Arith:
		w.u8(opArith)
		w.u8(uint8(x.Op))
		encodeExpr(w, x.LHS)
		encodeExpr(w, x.RHS)
	case dynamic.Compare:
		w.u8(opCompare)
		w.u8(uint8(x.Op))
		encodeExpr(w, x.LHS)
		encodeExpr(w, x.RHS)
	case dynamic.Logic:
		w.u8(opLogic)
		w.u8(uint8(x.Op))
		encodeExpr(w, x.LHS)
		encodeExpr(w, x.RHS)
	case dynamic.Not:
		w.u8(opNot)
		encodeExpr(w, x.X)
	case dynamic.Cond:
		w.u8(opCond)
		encodeExpr(w, x.If)
		encodeExpr(w, x.Then)
		encodeExpr(w, x.Else)
	case dynamic.Concat:
		w.u8(opConcat)
		w.uvarint(uint64(len(x.Parts)))
		for _, p := range x.Parts {
			encodeExpr(w, p)
		}
	case dynamic.FormatFloat:
		w.u8(opFormatFloat)
		digits := x.Digits
		if digits < 0 {
			digits = 0
		}
		if digits > 7 {
			digits = 7
		}
		w.u8(uint8(digits))
		encodeExpr(w, x.X)
	case dynamic.FormatInt:
		w.u8(opFormatInt)
		encodeExpr(w, x.X)
	case dynamic.FormatInstant:
		w.u8(opFormatInstant)
		w.str(x.Layout)
		encodeExpr(w, x.X)
	case dynamic.DurationSecs:
		w.u8(opDurationSecs)
		encodeExpr(w, x.Start)
		encodeExpr(w, x.End)
	default:
		w.fail(fmt.Errorf("wire: unknown expression node %T", e))
	}
}

func encodeValue(w *writer, v dynamic.Value) {
	switch v.Kind() {
	case dynamic.KindFloat:
		f, _ := v.AsFloat()
		w.u8(valFloat)
		w.f32(f)
	case dynamic.KindString:
		s, _ := v.AsString()
		w.u8(valString)
		w.str(s)
	case dynamic.KindBool:
		b, _ := v.AsBool()
		w.u8(valBool)
		if b {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case dynamic.KindInt:
		i, _ := v.AsInt()
		w.u8(valInt)
		w.u32(uint32(i))
	case dynamic.KindInstant:
		t, _ := v.AsInstant()
		w.u8(valInstant)
		w.i64(t.UnixMilli())
	default:
		w.fail(fmt.Errorf("wire: constant with no value"))
	}
}

func decodeExpr(r *reader, depth int) dynamic.Expr {
	if r.err != nil {
		return nil
	}
	if depth > maxExprDepth {
		r.fail(fmt.Errorf("wire: expression deeper than %d levels", maxExprDepth))
		return nil
	}
	switch op := r.u8(); op {
	case opConst:
		return dynamic.Const{Value: decodeValue(r)}
	case opStateRef:
		return dynamic.StateRef{Key: r.str()}
	case opSensorRef:
		return dynamic.SensorRef{Key: dynamic.SensorKey(r.str())}
	case opTimeRef:
		return dynamic.TimeRef{}
	case opArith:
		aop := dynamic.ArithOp(r.u8())
		if aop < dynamic.ArithAdd || aop > dynamic.ArithDiv {
			r.fail(fmt.Errorf("wire: unknown arithmetic operator %d", aop))
			return nil
		}
		return dynamic.Arith{Op: aop, LHS: decodeExpr(r, depth+1), RHS: decodeExpr(r, depth+1)}
	case opCompare:
		cop := dynamic.CompareOp(r.u8())
		if cop < dynamic.CompareLT || cop > dynamic.CompareNE {
			r.fail(fmt.Errorf("wire: unknown comparison operator %d", cop))
			return nil
		}
		return dynamic.Compare{Op: cop, LHS: decodeExpr(r, depth+1), RHS: decodeExpr(r, depth+1)}
	case opLogic:
		lop := dynamic.LogicOp(r.u8())
		if lop < dynamic.LogicAnd || lop > dynamic.LogicOr {
			r.fail(fmt.Errorf("wire: unknown logic operator %d", lop))
			return nil
		}
		return dynamic.Logic{Op: lop, LHS: decodeExpr(r, depth+1), RHS: decodeExpr(r, depth+1)}
	case opNot:
		return dynamic.Not{X: decodeExpr(r, depth+1)}
	case opCond:
		return dynamic.Cond{
			If:   decodeExpr(r, depth+1),
			Then: decodeExpr(r, depth+1),
			Else: decodeExpr(r, depth+1),
		}
	case opConcat:
		n := r.count(maxCollection)
		parts := make([]dynamic.Expr, 0, min(n, 16))
		for i := uint64(0); i < n && r.err == nil; i++ {
			parts = append(parts, decodeExpr(r, depth+1))
		}
		return dynamic.Concat{Parts: parts}
	case opFormatFloat:
		digits := int(r.u8())
		return dynamic.FormatFloat{Digits: digits, X: decodeExpr(r, depth+1)}
	case opFormatInt:
		return dynamic.FormatInt{X: decodeExpr(r, depth+1)}
	case opFormatInstant:
		layout := r.str()
		return dynamic.FormatInstant{Layout: layout, X: decodeExpr(r, depth+1)}
	case opDurationSecs:
		return dynamic.DurationSecs{Start: decodeExpr(r, depth+1), End: decodeExpr(r, depth+1)}
	default:
		r.fail(fmt.Errorf("wire: unknown expression op %d", op))
		return nil
	}
}

func decodeValue(r *reader) dynamic.Value {
	switch k := r.u8(); k {
	case valFloat:
		return dynamic.Float(r.f32())
	case valString:
		return dynamic.String(r.str())
	case valBool:
		return dynamic.Bool(r.u8() != 0)
	case valInt:
		return dynamic.Int(int32(r.u32()))
	case valInstant:
		return dynamic.Instant(time.UnixMilli(r.i64()).UTC())
	default:
		r.fail(fmt.Errorf("wire: unknown value kind %d", k))
		return dynamic.Value{}
	}
}
