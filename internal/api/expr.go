package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/dagaz/internal/dynamic"
)

// exprToDTO converts an expression tree to its JSON form. A nil
// expression maps to a nil DTO.
func exprToDTO(e dynamic.Expr) *ExprDTO {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case dynamic.Const:
		typ, raw := valueToJSON(n.Value)
		return &ExprDTO{Op: "const", Type: typ, Value: raw}
	case dynamic.StateRef:
		return &ExprDTO{Op: "state", Key: n.Key}
	case dynamic.SensorRef:
		return &ExprDTO{Op: "sensor", Key: string(n.Key)}
	case dynamic.TimeRef:
		return &ExprDTO{Op: "time"}
	case dynamic.Arith:
		return &ExprDTO{Op: arithOpName(n.Op), LHS: exprToDTO(n.LHS), RHS: exprToDTO(n.RHS)}
	case dynamic.Compare:
		return &ExprDTO{Op: compareOpName(n.Op), LHS: exprToDTO(n.LHS), RHS: exprToDTO(n.RHS)}
	case dynamic.Logic:
		return &ExprDTO{Op: logicOpName(n.Op), LHS: exprToDTO(n.LHS), RHS: exprToDTO(n.RHS)}
	case dynamic.Not:
		return &ExprDTO{Op: "not", X: exprToDTO(n.X)}
	case dynamic.Cond:
		return &ExprDTO{Op: "cond", If: exprToDTO(n.If), Then: exprToDTO(n.Then), Else: exprToDTO(n.Else)}
	case dynamic.Concat:
		parts := make([]ExprDTO, 0, len(n.Parts))
		for _, p := range n.Parts {
			if d := exprToDTO(p); d != nil {
				parts = append(parts, *d)
			}
		}
		return &ExprDTO{Op: "concat", Parts: parts}
	case dynamic.FormatFloat:
		return &ExprDTO{Op: "format_float", X: exprToDTO(n.X), Digits: n.Digits}
	case dynamic.FormatInt:
		return &ExprDTO{Op: "format_int", X: exprToDTO(n.X)}
	case dynamic.FormatInstant:
		return &ExprDTO{Op: "format_instant", X: exprToDTO(n.X), Layout: n.Layout}
	case dynamic.DurationSecs:
		return &ExprDTO{Op: "duration_secs", Start: exprToDTO(n.Start), End: exprToDTO(n.End)}
	default:
		return nil
	}
}

// exprFromDTO converts the JSON form back to an expression tree. A nil
// DTO maps to a nil expression. Structural validity (depth, operand
// presence below this level) is checked later by dynamic.Validate via
// record validation.
func exprFromDTO(d *ExprDTO) (dynamic.Expr, error) {
	if d == nil {
		return nil, nil
	}
	switch d.Op {
	case "const":
		v, err := valueFromJSON(d.Type, d.Value)
		if err != nil {
			return nil, err
		}
		return dynamic.Const{Value: v}, nil
	case "state":
		if d.Key == "" {
			return nil, fmt.Errorf("state op needs a key")
		}
		return dynamic.StateRef{Key: d.Key}, nil
	case "sensor":
		if d.Key == "" {
			return nil, fmt.Errorf("sensor op needs a key")
		}
		return dynamic.SensorRef{Key: dynamic.SensorKey(d.Key)}, nil
	case "time":
		return dynamic.TimeRef{}, nil
	case "add", "sub", "mul", "div":
		lhs, rhs, err := binaryFromDTO(d)
		if err != nil {
			return nil, err
		}
		return dynamic.Arith{Op: arithOpFromName(d.Op), LHS: lhs, RHS: rhs}, nil
	case "lt", "le", "gt", "ge", "eq", "ne":
		lhs, rhs, err := binaryFromDTO(d)
		if err != nil {
			return nil, err
		}
		return dynamic.Compare{Op: compareOpFromName(d.Op), LHS: lhs, RHS: rhs}, nil
	case "and", "or":
		lhs, rhs, err := binaryFromDTO(d)
		if err != nil {
			return nil, err
		}
		return dynamic.Logic{Op: logicOpFromName(d.Op), LHS: lhs, RHS: rhs}, nil
	case "not":
		if d.X == nil {
			return nil, fmt.Errorf("not op needs x")
		}
		x, err := exprFromDTO(d.X)
		if err != nil {
			return nil, err
		}
		return dynamic.Not{X: x}, nil
	case "cond":
		if d.If == nil || d.Then == nil || d.Else == nil {
			return nil, fmt.Errorf("cond op needs if, then and else")
		}
		ifE, err := exprFromDTO(d.If)
		if err != nil {
			return nil, err
		}
		thenE, err := exprFromDTO(d.Then)
		if err != nil {
			return nil, err
		}
		elseE, err := exprFromDTO(d.Else)
		if err != nil {
			return nil, err
		}
		return dynamic.Cond{If: ifE, Then: thenE, Else: elseE}, nil
	case "concat":
		parts := make([]dynamic.Expr, 0, len(d.Parts))
		for i := range d.Parts {
			p, err := exprFromDTO(&d.Parts[i])
			if err != nil {
				return nil, fmt.Errorf("concat part %d: %w", i, err)
			}
			parts = append(parts, p)
		}
		return dynamic.Concat{Parts: parts}, nil
	case "format_float":
		if d.X == nil {
			return nil, fmt.Errorf("format_float op needs x")
		}
		x, err := exprFromDTO(d.X)
		if err != nil {
			return nil, err
		}
		return dynamic.FormatFloat{X: x, Digits: d.Digits}, nil
	case "format_int":
		if d.X == nil {
			return nil, fmt.Errorf("format_int op needs x")
		}
		x, err := exprFromDTO(d.X)
		if err != nil {
			return nil, err
		}
		return dynamic.FormatInt{X: x}, nil
	case "format_instant":
		if d.X == nil {
			return nil, fmt.Errorf("format_instant op needs x")
		}
		x, err := exprFromDTO(d.X)
		if err != nil {
			return nil, err
		}
		return dynamic.FormatInstant{X: x, Layout: d.Layout}, nil
	case "duration_secs":
		if d.Start == nil || d.End == nil {
			return nil, fmt.Errorf("duration_secs op needs start and end")
		}
		start, err := exprFromDTO(d.Start)
		if err != nil {
			return nil, err
		}
		end, err := exprFromDTO(d.End)
		if err != nil {
			return nil, err
		}
		return dynamic.DurationSecs{Start: start, End: end}, nil
	case "":
		return nil, fmt.Errorf("expression node missing op")
	default:
		return nil, fmt.Errorf("unknown expression op %q", d.Op)
	}
}

func binaryFromDTO(d *ExprDTO) (dynamic.Expr, dynamic.Expr, error) {
	if d.LHS == nil || d.RHS == nil {
		return nil, nil, fmt.Errorf("%s op needs lhs and rhs", d.Op)
	}
	lhs, err := exprFromDTO(d.LHS)
	if err != nil {
		return nil, nil, err
	}
	rhs, err := exprFromDTO(d.RHS)
	if err != nil {
		return nil, nil, err
	}
	return lhs, rhs, nil
}

// valueToJSON renders a typed scalar as a (type, value) JSON pair.
func valueToJSON(v dynamic.Value) (string, json.RawMessage) {
	switch v.Kind() {
	case dynamic.KindFloat:
		f, _ := v.AsFloat()
		raw, _ := json.Marshal(f)
		return "float", raw
	case dynamic.KindString:
		s, _ := v.AsString()
		raw, _ := json.Marshal(s)
		return "string", raw
	case dynamic.KindBool:
		b, _ := v.AsBool()
		raw, _ := json.Marshal(b)
		return "bool", raw
	case dynamic.KindInt:
		i, _ := v.AsInt()
		raw, _ := json.Marshal(i)
		return "int", raw
	case dynamic.KindInstant:
		t, _ := v.AsInstant()
		raw, _ := json.Marshal(t.Format(time.RFC3339Nano))
		return "instant", raw
	default:
		return "", nil
	}
}

// valueFromJSON parses a (type, value) JSON pair into a typed scalar.
func valueFromJSON(typ string, raw json.RawMessage) (dynamic.Value, error) {
	if len(raw) == 0 {
		return dynamic.Value{}, fmt.Errorf("value type %q has no value", typ)
	}
	switch typ {
	case "float":
		var f float32
		if err := json.Unmarshal(raw, &f); err != nil {
			return dynamic.Value{}, fmt.Errorf("float value: %w", err)
		}
		return dynamic.Float(f), nil
	case "string":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return dynamic.Value{}, fmt.Errorf("string value: %w", err)
		}
		return dynamic.String(s), nil
	case "bool":
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return dynamic.Value{}, fmt.Errorf("bool value: %w", err)
		}
		return dynamic.Bool(b), nil
	case "int":
		var i int32
		if err := json.Unmarshal(raw, &i); err != nil {
			return dynamic.Value{}, fmt.Errorf("int value: %w", err)
		}
		return dynamic.Int(i), nil
	case "instant":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return dynamic.Value{}, fmt.Errorf("instant value: %w", err)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return dynamic.Value{}, fmt.Errorf("instant value: %w", err)
		}
		return dynamic.Instant(t), nil
	case "":
		return dynamic.Value{}, fmt.Errorf("const node missing value type")
	default:
		return dynamic.Value{}, fmt.Errorf("unknown value type %q", typ)
	}
}

func arithOpName(op dynamic.ArithOp) string {
	switch op {
	case dynamic.ArithAdd:
		return "add"
	case dynamic.ArithSub:
		return "sub"
	case dynamic.ArithMul:
		return "mul"
	default:
		return "div"
	}
}

func arithOpFromName(s string) dynamic.ArithOp {
	switch s {
	case "add":
		return dynamic.ArithAdd
	case "sub":
		return dynamic.ArithSub
	case "mul":
		return dynamic.ArithMul
	default:
		return dynamic.ArithDiv
	}
}

func compareOpName(op dynamic.CompareOp) string {
	switch op {
	case dynamic.CompareLT:
		return "lt"
	case dynamic.CompareLE:
		return "le"
	case dynamic.CompareGT:
		return "gt"
	case dynamic.CompareGE:
		return "ge"
	case dynamic.CompareEQ:
		return "eq"
	default:
		return "ne"
	}
}

func compareOpFromName(s string) dynamic.CompareOp {
	switch s {
	case "lt":
		return dynamic.CompareLT
	case "le":
		return dynamic.CompareLE
	case "gt":
		return dynamic.CompareGT
	case "ge":
		return dynamic.CompareGE
	case "eq":
		return dynamic.CompareEQ
	default:
		return dynamic.CompareNE
	}
}

func logicOpName(op dynamic.LogicOp) string {
	if op == dynamic.LogicAnd {
		return "and"
	}
	return "or"
}

func logicOpFromName(s string) dynamic.LogicOp {
	if s == "and" {
		return dynamic.LogicAnd
	}
	return dynamic.LogicOr
}
