// Package record defines the tagged-union data model for complication
// records: one Record struct whose Kind selects which field groups are
// meaningful. Constructors plus Validate keep the per-kind invariants;
// wire handles interchange and evaluator resolves dynamic expressions.
package record

import (
	"fmt"
	"reflect"
	"slices"
)

// Kind discriminates the record union.
type Kind uint8

const (
	// KindNoData is both the "provider has nothing yet" record and, with
	// a placeholder attached, the "render this skeleton while waiting"
	// record. It doubles as the invalid-evaluation sentinel.
	KindNoData Kind = iota + 1
	KindEmpty
	KindNotConfigured
	KindShortText
	KindLongText
	KindRangedValue
	KindGoalProgress
	KindWeightedElements
	KindMonochromaticImage
	KindSmallImage
	KindPhotoImage
	KindNoPermission
	KindList
	KindProtoLayout
)

var kindNames = map[Kind]string{
	KindNoData:             "no_data",
	KindEmpty:              "empty",
	KindNotConfigured:      "not_configured",
	KindShortText:          "short_text",
	KindLongText:           "long_text",
	KindRangedValue:        "ranged_value",
	KindGoalProgress:       "goal_progress",
	KindWeightedElements:   "weighted_elements",
	KindMonochromaticImage: "monochromatic_image",
	KindSmallImage:         "small_image",
	KindPhotoImage:         "photo_image",
	KindNoPermission:       "no_permission",
	KindList:               "list",
	KindProtoLayout:        "proto_layout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a kind name back to its Kind value.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("record: unknown kind %q", s)
}

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	ks := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		ks = append(ks, k)
	}
	slices.Sort(ks)
	return ks
}

// Displayable reports whether a record of this kind renders content.
// NoData, Empty and NotConfigured are control records.
func (k Kind) Displayable() bool {
	switch k {
	case KindNoData, KindEmpty, KindNotConfigured:
		return false
	default:
		_, known := kindNames[k]
		return known
	}
}

// Collection caps enforced at construction and re-enforced by the wire
// codec when converting records that bypassed the constructors.
const (
	MaxWeightedElements = 20
	MaxListEntries      = 8
)

// Record is one complication datum. Kind decides which fields are
// meaningful; Validate enforces the per-kind rules. The zero Record is
// not valid. Records are treated as immutable once built: share them
// freely, use Clone before mutating.
type Record struct {
	Kind Kind

	// Text slots.
	Text               *Text
	Title              *Text
	ContentDescription *Text

	// Ranged / goal value group.
	Value       *Float
	Min         float32
	Max         float32
	TargetValue float32

	// Weighted elements.
	Elements []Element

	// Images.
	Mono  *Image
	Small *SmallImage
	Photo *Image

	// Tap handling. TapActionLost records that a tap action was dropped
	// in transport and cannot be restored by the receiver.
	TapAction     *TapAction
	TapActionLost bool

	// Metadata carried by every kind.
	ValidTimeRange *TimeRange
	DataSource     string
	Persistence    PersistencePolicy
	Display        DisplayPolicy

	// NoData placeholder, one level deep.
	Placeholder *Record

	// Time-gated override sequence.
	Timeline []TimelineEntry

	// List entries.
	Entries   []Record
	ListStyle ListStyle

	// Proto-layout blobs, opaque to this package.
	LayoutInteractive []byte
	LayoutAmbient     []byte
	LayoutResources   []byte
}

// HasExpressions reports whether any expressed slot of the record (or
// of its placeholder) still carries a dynamic expression. Timeline
// entries are excluded: they are evaluated when their window activates,
// not when the carrying record is.
func (r Record) HasExpressions() bool {
	for _, t := range []*Text{r.Text, r.Title, r.ContentDescription} {
		if t != nil && t.Dynamic != nil {
			return true
		}
	}
	if r.Value != nil && r.Value.Dynamic != nil {
		return true
	}
	if r.Placeholder != nil && r.Placeholder.HasExpressions() {
		return true
	}
	return false
}

// Equal is deep structural equality, used to suppress duplicate
// emissions during evaluation.
func (r Record) Equal(o Record) bool {
	return reflect.DeepEqual(r, o)
}

// Clone returns a deep copy sharing no mutable state with r.
// Expression trees are immutable and stay shared.
func (r Record) Clone() Record {
	c := r
	if r.Text != nil {
		t := *r.Text
		c.Text = &t
	}
	if r.Title != nil {
		t := *r.Title
		c.Title = &t
	}
	if r.ContentDescription != nil {
		t := *r.ContentDescription
		c.ContentDescription = &t
	}
	if r.Value != nil {
		v := *r.Value
		c.Value = &v
	}
	if r.Elements != nil {
		c.Elements = slices.Clone(r.Elements)
	}
	if r.Mono != nil {
		im := *r.Mono
		c.Mono = &im
	}
	if r.Small != nil {
		im := *r.Small
		c.Small = &im
	}
	if r.Photo != nil {
		im := *r.Photo
		c.Photo = &im
	}
	if r.TapAction != nil {
		a := *r.TapAction
		c.TapAction = &a
	}
	if r.ValidTimeRange != nil {
		tr := *r.ValidTimeRange
		c.ValidTimeRange = &tr
	}
	if r.Placeholder != nil {
		p := r.Placeholder.Clone()
		c.Placeholder = &p
	}
	if r.Timeline != nil {
		c.Timeline = make([]TimelineEntry, len(r.Timeline))
		for i, e := range r.Timeline {
			e.Record = e.Record.Clone()
			c.Timeline[i] = e
		}
	}
	if r.Entries != nil {
		c.Entries = make([]Record, len(r.Entries))
		for i, e := range r.Entries {
			c.Entries[i] = e.Clone()
		}
	}
	c.LayoutInteractive = slices.Clone(r.LayoutInteractive)
	c.LayoutAmbient = slices.Clone(r.LayoutAmbient)
	c.LayoutResources = slices.Clone(r.LayoutResources)
	return c
}

func (r Record) String() string {
	return fmt.Sprintf("record(%s)", r.Kind)
}
