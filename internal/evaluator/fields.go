package evaluator

import (
	"math"

	"github.com/starford/dagaz/internal/dynamic"
	"github.com/starford/dagaz/internal/record"
)

// exprField is one expressed slot of the record under evaluation: its
// expression plus a setter that writes a resolved value into an output
// clone, judging the value against the slot's rules as it goes.
type exprField struct {
	name string
	expr dynamic.Expr

	// set writes v into root (a deep clone of the original record) and
	// reports whether v is acceptable for this slot: right type, finite,
	// inside the owner's numeric rules. keep leaves the expression in
	// place next to the literal.
	set func(root *record.Record, v dynamic.Value, keep bool) bool
}

// expressedFields decomposes rec into its expressed slots. For a
// NoData record the placeholder's slots are the expressed set; other
// kinds evaluate their own. Timeline entries are deliberately not
// decomposed: they are evaluated when their window activates.
func expressedFields(rec record.Record) []exprField {
	if rec.Kind == record.KindNoData {
		if rec.Placeholder == nil {
			return nil
		}
		return collectFields(*rec.Placeholder, "placeholder.", true)
	}
	return collectFields(rec, "", false)
}

func collectFields(r record.Record, prefix string, inPlaceholder bool) []exprField {
	var fs []exprField
	text := func(name string, sel func(*record.Record) *record.Text, e dynamic.Expr) {
		fs = append(fs, textField(prefix+name, inPlaceholder, sel, e))
	}
	if r.Text != nil && r.Text.Dynamic != nil {
		text("text", func(t *record.Record) *record.Text { return t.Text }, r.Text.Dynamic)
	}
	if r.Title != nil && r.Title.Dynamic != nil {
		text("title", func(t *record.Record) *record.Text { return t.Title }, r.Title.Dynamic)
	}
	if r.ContentDescription != nil && r.ContentDescription.Dynamic != nil {
		text("content_description", func(t *record.Record) *record.Text { return t.ContentDescription }, r.ContentDescription.Dynamic)
	}
	if r.Value != nil && r.Value.Dynamic != nil {
		fs = append(fs, floatField(prefix+"value", inPlaceholder, r, r.Value.Dynamic))
	}
	return fs
}

func target(root *record.Record, inPlaceholder bool) *record.Record {
	if inPlaceholder {
		return root.Placeholder
	}
	return root
}

func textField(name string, inPlaceholder bool, sel func(*record.Record) *record.Text, e dynamic.Expr) exprField {
	return exprField{
		name: name,
		expr: e,
		set: func(root *record.Record, v dynamic.Value, keep bool) bool {
			s, ok := v.AsString()
			if !ok {
				return false
			}
			slot := sel(target(root, inPlaceholder))
			slot.Literal = &s
			if !keep {
				slot.Dynamic = nil
			}
			return true
		},
	}
}

// floatField captures the owner's numeric rules at decomposition time;
// bounds cannot change during a session.
func floatField(name string, inPlaceholder bool, owner record.Record, e dynamic.Expr) exprField {
	kind := owner.Kind
	min, max := owner.Min, owner.Max
	return exprField{
		name: name,
		expr: e,
		set: func(root *record.Record, v dynamic.Value, keep bool) bool {
			f, ok := v.AsFloat()
			if !ok {
				if i, iok := v.AsInt(); iok {
					f, ok = float32(i), true
				}
			}
			if !ok {
				return false
			}
			if f != record.PlaceholderFloat {
				if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
					return false
				}
				switch kind {
				case record.KindRangedValue:
					if f < min || f > max {
						return false
					}
				case record.KindGoalProgress:
					if f < 0 {
						return false
					}
				}
			}
			slot := target(root, inPlaceholder).Value
			slot.Literal = &f
			if !keep {
				slot.Dynamic = nil
			}
			return true
		},
	}
}
