package record

import (
	"fmt"
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dagaz/internal/dynamic"
)

// PlaceholderFloat is the sentinel a placeholder value slot carries to
// mean "render a skeleton here". It bypasses range checks.
const PlaceholderFloat = float32(math.MaxFloat32)

// PlaceholderText is the sentinel literal renderers replace with a
// skeleton block.
const PlaceholderText = "__placeholder__"

// Text is an expressed string slot: a literal, a dynamic expression, or
// both (the literal then acts as the pre-resolution fallback).
type Text struct {
	Literal *string
	Dynamic dynamic.Expr
}

// PlainText wraps a fixed string.
func PlainText(s string) Text { return Text{Literal: &s} }

// DynamicText wraps an expression with no fallback literal.
func DynamicText(e dynamic.Expr) Text { return Text{Dynamic: e} }

// DynamicTextWithFallback wraps an expression plus the literal shown
// until (or unless) the expression resolves.
func DynamicTextWithFallback(e dynamic.Expr, fallback string) Text {
	return Text{Literal: &fallback, Dynamic: e}
}

// IsZero reports an entirely empty slot.
func (t Text) IsZero() bool { return t.Literal == nil && t.Dynamic == nil }

func (t Text) Validate() error {
	if t.IsZero() {
		return fmt.Errorf("text slot needs a literal or an expression")
	}
	if t.Dynamic != nil {
		return dynamic.Validate(t.Dynamic)
	}
	return nil
}

// Float is an expressed numeric slot, the float twin of Text.
type Float struct {
	Literal *float32
	Dynamic dynamic.Expr
}

// PlainFloat wraps a fixed value.
func PlainFloat(v float32) Float { return Float{Literal: &v} }

// DynamicFloat wraps an expression with no fallback literal.
func DynamicFloat(e dynamic.Expr) Float { return Float{Dynamic: e} }

// DynamicFloatWithFallback wraps an expression plus a fallback literal.
func DynamicFloatWithFallback(e dynamic.Expr, fallback float32) Float {
	return Float{Literal: &fallback, Dynamic: e}
}

// IsZero reports an entirely empty slot.
func (f Float) IsZero() bool { return f.Literal == nil && f.Dynamic == nil }

func (f Float) Validate() error {
	if f.IsZero() {
		return fmt.Errorf("float slot needs a literal or an expression")
	}
	if f.Literal != nil {
		if v := *f.Literal; math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("float slot literal is not finite")
		}
	}
	if f.Dynamic != nil {
		return dynamic.Validate(f.Dynamic)
	}
	return nil
}

// Image references a monochromatic drawable by resource id, with an
// optional burn-in safe ambient variant.
type Image struct {
	ResourceID string
	AmbientID  string
}

func (im Image) Validate() error {
	return validation.ValidateStruct(&im,
		validation.Field(&im.ResourceID, validation.Required),
	)
}

// SmallImageStyle tells the renderer how to crop a small image.
type SmallImageStyle uint8

const (
	// SmallImagePhoto fills the slot edge to edge.
	SmallImagePhoto SmallImageStyle = iota + 1
	// SmallImageIcon pads and may tint the image.
	SmallImageIcon
)

// SmallImage references a small photo or icon style image.
type SmallImage struct {
	ResourceID string
	AmbientID  string
	Style      SmallImageStyle
}

func (im SmallImage) Validate() error {
	return validation.ValidateStruct(&im,
		validation.Field(&im.ResourceID, validation.Required),
		validation.Field(&im.Style, validation.Required, validation.In(SmallImagePhoto, SmallImageIcon)),
	)
}

// TapAction is the URI launched when the complication is tapped. Tap
// actions do not survive the binary wire format; see Record.TapActionLost.
type TapAction struct {
	URI string
}

func (a TapAction) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.URI, validation.Required),
	)
}

// TimeRange bounds when a record should be shown. A zero Start or End
// leaves that side unbounded.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range. Bounds are
// inclusive at Start and exclusive at End.
func (tr TimeRange) Contains(t time.Time) bool {
	if !tr.Start.IsZero() && t.Before(tr.Start) {
		return false
	}
	if !tr.End.IsZero() && !t.Before(tr.End) {
		return false
	}
	return true
}

func (tr TimeRange) Validate() error {
	if !tr.Start.IsZero() && !tr.End.IsZero() && tr.End.Before(tr.Start) {
		return fmt.Errorf("time range ends before it starts")
	}
	return nil
}

// Element is one slice of a weighted-elements record.
type Element struct {
	Weight float32
	Color  uint32 // ARGB
}

func (e Element) Validate() error {
	if math.IsNaN(float64(e.Weight)) || math.IsInf(float64(e.Weight), 0) {
		return fmt.Errorf("element weight is not finite")
	}
	return validation.ValidateStruct(&e,
		validation.Field(&e.Weight, validation.Min(float32(0)).Exclusive()),
	)
}

// PersistencePolicy controls whether the host may cache a record across
// restarts.
type PersistencePolicy uint8

const (
	PersistDefault PersistencePolicy = 0
	DoNotPersist   PersistencePolicy = 1
)

// DisplayPolicy controls whether a record may be shown on a locked
// device.
type DisplayPolicy uint8

const (
	DisplayAlways  DisplayPolicy = 0
	HideWhenLocked DisplayPolicy = 1
)

// ListStyle hints how list entries are arranged.
type ListStyle uint8

const (
	ListRow ListStyle = iota + 1
	ListColumn
)

// TimelineEntry overrides the carrying record while Validity contains
// the current time.
type TimelineEntry struct {
	Validity TimeRange
	Record   Record
}
