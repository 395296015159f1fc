package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/dagaz/internal/dynamic"
	"github.com/starford/dagaz/internal/record"
)

// RecordDTO is the JSON authoring form of a complication record. It
// mirrors record.Record field for field; absent fields stay absent so
// a round trip through JSON is lossless. The binary wire format is the
// device transport; this form exists for humans and tools.
type RecordDTO struct {
	Kind string `json:"kind" example:"short_text" validate:"required"`

	Text               *TextDTO `json:"text,omitempty"`
	Title              *TextDTO `json:"title,omitempty"`
	ContentDescription *TextDTO `json:"content_description,omitempty"`

	Value       *FloatDTO `json:"value,omitempty"`
	Min         float32   `json:"min,omitempty"`
	Max         float32   `json:"max,omitempty"`
	TargetValue float32   `json:"target_value,omitempty"`

	Elements []ElementDTO `json:"elements,omitempty"`

	MonochromaticImage *ImageDTO      `json:"monochromatic_image,omitempty"`
	SmallImage         *SmallImageDTO `json:"small_image,omitempty"`
	PhotoImage         *ImageDTO      `json:"photo_image,omitempty"`

	TapAction     *TapActionDTO `json:"tap_action,omitempty"`
	TapActionLost bool          `json:"tap_action_lost,omitempty"`

	ValidTimeRange *TimeRangeDTO `json:"valid_time_range,omitempty"`
	DataSource     string        `json:"data_source,omitempty"`
	DoNotPersist   bool          `json:"do_not_persist,omitempty"`
	HideWhenLocked bool          `json:"hide_when_locked,omitempty"`

	Placeholder *RecordDTO `json:"placeholder,omitempty"`

	Timeline []TimelineEntryDTO `json:"timeline,omitempty"`

	Entries   []RecordDTO `json:"entries,omitempty"`
	ListStyle string      `json:"list_style,omitempty" example:"row"`

	LayoutInteractive []byte `json:"layout_interactive,omitempty"`
	LayoutAmbient     []byte `json:"layout_ambient,omitempty"`
	LayoutResources   []byte `json:"layout_resources,omitempty"`
}

// TextDTO is an expressed string slot: a literal, an expression, or
// both (the literal then acts as the pre-resolution fallback).
type TextDTO struct {
	Literal *string  `json:"literal,omitempty" example:"72 bpm"`
	Dynamic *ExprDTO `json:"dynamic,omitempty"`
}

// FloatDTO is an expressed numeric slot.
type FloatDTO struct {
	Literal *float32 `json:"literal,omitempty" example:"42"`
	Dynamic *ExprDTO `json:"dynamic,omitempty"`
}

// ImageDTO references a drawable by resource id.
type ImageDTO struct {
	ResourceID string `json:"resource_id" validate:"required"`
	AmbientID  string `json:"ambient_id,omitempty"`
}

// SmallImageDTO references a small image plus its crop style.
type SmallImageDTO struct {
	ResourceID string `json:"resource_id" validate:"required"`
	AmbientID  string `json:"ambient_id,omitempty"`
	Style      string `json:"style" example:"icon" validate:"required"`
}

// TapActionDTO is the URI launched on tap.
type TapActionDTO struct {
	URI string `json:"uri" validate:"required"`
}

// TimeRangeDTO bounds when a record should be shown. A missing side is
// unbounded.
type TimeRangeDTO struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// ElementDTO is one slice of a weighted-elements record.
type ElementDTO struct {
	Weight float32 `json:"weight" validate:"required"`
	Color  uint32  `json:"color"`
}

// TimelineEntryDTO is one time-gated override.
type TimelineEntryDTO struct {
	Validity TimeRangeDTO `json:"validity"`
	Record   RecordDTO    `json:"record"`
}

// ExprDTO is one node of a dynamic expression tree, discriminated by
// Op. Which other fields are meaningful depends on the operator:
//
//	const                        type, value
//	state, sensor                key
//	time                         (none)
//	add, sub, mul, div           lhs, rhs
//	lt, le, gt, ge, eq, ne       lhs, rhs
//	and, or                      lhs, rhs
//	not                          x
//	cond                         if, then, else
//	concat                       parts
//	format_float                 x, digits
//	format_int                   x
//	format_instant               x, layout
//	duration_secs                start, end
type ExprDTO struct {
	Op string `json:"op" example:"state" validate:"required"`

	Type  string          `json:"type,omitempty" example:"float"`
	Value json.RawMessage `json:"value,omitempty"`

	Key string `json:"key,omitempty" example:"battery"`

	LHS *ExprDTO `json:"lhs,omitempty"`
	RHS *ExprDTO `json:"rhs,omitempty"`

	X *ExprDTO `json:"x,omitempty"`

	If   *ExprDTO `json:"if,omitempty"`
	Then *ExprDTO `json:"then,omitempty"`
	Else *ExprDTO `json:"else,omitempty"`

	Parts []ExprDTO `json:"parts,omitempty"`

	Digits int    `json:"digits,omitempty"`
	Layout string `json:"layout,omitempty"`

	Start *ExprDTO `json:"start,omitempty"`
	End   *ExprDTO `json:"end,omitempty"`
}

// SlotListItem is one row of a slot listing.
type SlotListItem struct {
	SlotID    string    `json:"slot_id" example:"watch-left" validate:"required"`
	Kind      string    `json:"kind" example:"ranged_value" validate:"required"`
	Dynamic   bool      `json:"dynamic"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SlotListResponse wraps a slot listing.
type SlotListResponse struct {
	Slots []SlotListItem `json:"slots" validate:"required"`
	Total int            `json:"total" example:"3" validate:"required"`
}

// StateValueDTO is the typed JSON form of a state store value.
type StateValueDTO struct {
	Type  string          `json:"type" example:"float" validate:"required"`
	Value json.RawMessage `json:"value" validate:"required"`
}

// StateResponse wraps the full state store contents.
type StateResponse struct {
	State map[string]StateValueDTO `json:"state" validate:"required"`
}

// StateValueToDTO renders a state store value in its typed JSON form.
func StateValueToDTO(v dynamic.Value) StateValueDTO {
	typ, raw := valueToJSON(v)
	return StateValueDTO{Type: typ, Value: raw}
}

// RecordToDTO converts a model record to its JSON authoring form.
func RecordToDTO(r record.Record) RecordDTO {
	d := RecordDTO{
		Kind:               r.Kind.String(),
		Text:               textToDTO(r.Text),
		Title:              textToDTO(r.Title),
		ContentDescription: textToDTO(r.ContentDescription),
		Value:              floatToDTO(r.Value),
		Min:                r.Min,
		Max:                r.Max,
		TargetValue:        r.TargetValue,
		TapActionLost:      r.TapActionLost,
		DataSource:         r.DataSource,
		DoNotPersist:       r.Persistence == record.DoNotPersist,
		HideWhenLocked:     r.Display == record.HideWhenLocked,
		LayoutInteractive:  r.LayoutInteractive,
		LayoutAmbient:      r.LayoutAmbient,
		LayoutResources:    r.LayoutResources,
	}

	for _, e := range r.Elements {
		d.Elements = append(d.Elements, ElementDTO{Weight: e.Weight, Color: e.Color})
	}
	if r.Mono != nil {
		d.MonochromaticImage = &ImageDTO{ResourceID: r.Mono.ResourceID, AmbientID: r.Mono.AmbientID}
	}
	if r.Small != nil {
		d.SmallImage = &SmallImageDTO{
			ResourceID: r.Small.ResourceID,
			AmbientID:  r.Small.AmbientID,
			Style:      smallImageStyleName(r.Small.Style),
		}
	}
	if r.Photo != nil {
		d.PhotoImage = &ImageDTO{ResourceID: r.Photo.ResourceID, AmbientID: r.Photo.AmbientID}
	}
	if r.TapAction != nil {
		d.TapAction = &TapActionDTO{URI: r.TapAction.URI}
	}
	if r.ValidTimeRange != nil {
		d.ValidTimeRange = timeRangeToDTO(*r.ValidTimeRange)
	}
	if r.Placeholder != nil {
		p := RecordToDTO(*r.Placeholder)
		d.Placeholder = &p
	}
	for _, te := range r.Timeline {
		tr := timeRangeToDTO(te.Validity)
		if tr == nil {
			tr = &TimeRangeDTO{}
		}
		d.Timeline = append(d.Timeline, TimelineEntryDTO{
			Validity: *tr,
			Record:   RecordToDTO(te.Record),
		})
	}
	for _, e := range r.Entries {
		d.Entries = append(d.Entries, RecordToDTO(e))
	}
	if r.Kind == record.KindList {
		d.ListStyle = listStyleName(r.ListStyle)
	}
	return d
}

// RecordFromDTO converts the JSON authoring form back to a model record
// and validates it.
func RecordFromDTO(d RecordDTO) (record.Record, error) {
	kind, err := record.ParseKind(d.Kind)
	if err != nil {
		return record.Record{}, err
	}

	r := record.Record{
		Kind:              kind,
		Min:               d.Min,
		Max:               d.Max,
		TargetValue:       d.TargetValue,
		TapActionLost:     d.TapActionLost,
		DataSource:        d.DataSource,
		LayoutInteractive: d.LayoutInteractive,
		LayoutAmbient:     d.LayoutAmbient,
		LayoutResources:   d.LayoutResources,
	}
	if d.DoNotPersist {
		r.Persistence = record.DoNotPersist
	}
	if d.HideWhenLocked {
		r.Display = record.HideWhenLocked
	}

	if r.Text, err = textFromDTO(d.Text); err != nil {
		return record.Record{}, fmt.Errorf("text: %w", err)
	}
	if r.Title, err = textFromDTO(d.Title); err != nil {
		return record.Record{}, fmt.Errorf("title: %w", err)
	}
	if r.ContentDescription, err = textFromDTO(d.ContentDescription); err != nil {
		return record.Record{}, fmt.Errorf("content_description: %w", err)
	}
	if r.Value, err = floatFromDTO(d.Value); err != nil {
		return record.Record{}, fmt.Errorf("value: %w", err)
	}

	for _, e := range d.Elements {
		r.Elements = append(r.Elements, record.Element{Weight: e.Weight, Color: e.Color})
	}
	if d.MonochromaticImage != nil {
		r.Mono = &record.Image{ResourceID: d.MonochromaticImage.ResourceID, AmbientID: d.MonochromaticImage.AmbientID}
	}
	if d.SmallImage != nil {
		style, err := smallImageStyleFromName(d.SmallImage.Style)
		if err != nil {
			return record.Record{}, err
		}
		r.Small = &record.SmallImage{
			ResourceID: d.SmallImage.ResourceID,
			AmbientID:  d.SmallImage.AmbientID,
			Style:      style,
		}
	}
	if d.PhotoImage != nil {
		r.Photo = &record.Image{ResourceID: d.PhotoImage.ResourceID, AmbientID: d.PhotoImage.AmbientID}
	}
	if d.TapAction != nil {
		r.TapAction = &record.TapAction{URI: d.TapAction.URI}
	}
	if d.ValidTimeRange != nil {
		tr := timeRangeFromDTO(*d.ValidTimeRange)
		r.ValidTimeRange = &tr
	}
	if d.Placeholder != nil {
		p, err := RecordFromDTO(*d.Placeholder)
		if err != nil {
			return record.Record{}, fmt.Errorf("placeholder: %w", err)
		}
		r.Placeholder = &p
	}
	for i, te := range d.Timeline {
		sub, err := RecordFromDTO(te.Record)
		if err != nil {
			return record.Record{}, fmt.Errorf("timeline[%d]: %w", i, err)
		}
		r.Timeline = append(r.Timeline, record.TimelineEntry{
			Validity: timeRangeFromDTO(te.Validity),
			Record:   sub,
		})
	}
	for i, e := range d.Entries {
		sub, err := RecordFromDTO(e)
		if err != nil {
			return record.Record{}, fmt.Errorf("entries[%d]: %w", i, err)
		}
		r.Entries = append(r.Entries, sub)
	}
	if d.ListStyle != "" {
		if r.ListStyle, err = listStyleFromName(d.ListStyle); err != nil {
			return record.Record{}, err
		}
	}

	if err := r.Validate(); err != nil {
		return record.Record{}, err
	}
	return r, nil
}

func textToDTO(t *record.Text) *TextDTO {
	if t == nil {
		return nil
	}
	return &TextDTO{Literal: t.Literal, Dynamic: exprToDTO(t.Dynamic)}
}

func textFromDTO(d *TextDTO) (*record.Text, error) {
	if d == nil {
		return nil, nil
	}
	e, err := exprFromDTO(d.Dynamic)
	if err != nil {
		return nil, err
	}
	return &record.Text{Literal: d.Literal, Dynamic: e}, nil
}

func floatToDTO(f *record.Float) *FloatDTO {
	if f == nil {
		return nil
	}
	return &FloatDTO{Literal: f.Literal, Dynamic: exprToDTO(f.Dynamic)}
}

func floatFromDTO(d *FloatDTO) (*record.Float, error) {
	if d == nil {
		return nil, nil
	}
	e, err := exprFromDTO(d.Dynamic)
	if err != nil {
		return nil, err
	}
	return &record.Float{Literal: d.Literal, Dynamic: e}, nil
}

func timeRangeToDTO(tr record.TimeRange) *TimeRangeDTO {
	d := TimeRangeDTO{}
	if !tr.Start.IsZero() {
		s := tr.Start
		d.Start = &s
	}
	if !tr.End.IsZero() {
		e := tr.End
		d.End = &e
	}
	if d.Start == nil && d.End == nil {
		return nil
	}
	return &d
}

func timeRangeFromDTO(d TimeRangeDTO) record.TimeRange {
	tr := record.TimeRange{}
	if d.Start != nil {
		tr.Start = *d.Start
	}
	if d.End != nil {
		tr.End = *d.End
	}
	return tr
}

func smallImageStyleName(s record.SmallImageStyle) string {
	switch s {
	case record.SmallImagePhoto:
		return "photo"
	case record.SmallImageIcon:
		return "icon"
	default:
		return ""
	}
}

func smallImageStyleFromName(s string) (record.SmallImageStyle, error) {
	switch s {
	case "photo":
		return record.SmallImagePhoto, nil
	case "icon":
		return record.SmallImageIcon, nil
	default:
		return 0, fmt.Errorf("unknown small image style %q", s)
	}
}

func listStyleName(s record.ListStyle) string {
	switch s {
	case record.ListRow:
		return "row"
	case record.ListColumn:
		return "column"
	default:
		return ""
	}
}

func listStyleFromName(s string) (record.ListStyle, error) {
	switch s {
	case "row":
		return record.ListRow, nil
	case "column":
		return record.ListColumn, nil
	default:
		return 0, fmt.Errorf("unknown list style %q", s)
	}
}
