// Package wire is the interchange layer for complication records: a
// flat transport struct with explicit field presence, conversions to
// and from the model, and a versioned binary encoding.
//
// The codec is written as a tolerant reader: a structurally sound
// payload with an unrecognized kind tag converts to an Empty record
// instead of failing, so old receivers survive new senders.
package wire

import "github.com/starford/dagaz/internal/dynamic"

// Kind tags of the binary format. They match record.Kind's numeric
// values today, but conversion always goes through explicit tables so
// the model can renumber without breaking the wire.
const (
	tagNoData             uint8 = 1
	tagEmpty              uint8 = 2
	tagNotConfigured      uint8 = 3
	tagShortText          uint8 = 4
	tagLongText           uint8 = 5
	tagRangedValue        uint8 = 6
	tagGoalProgress       uint8 = 7
	tagWeightedElements   uint8 = 8
	tagMonochromaticImage uint8 = 9
	tagSmallImage         uint8 = 10
	tagPhotoImage         uint8 = 11
	tagNoPermission       uint8 = 12
	tagList               uint8 = 13
	tagProtoLayout        uint8 = 14
)

// Record is the transport form of a complication record. Every field
// is optional and presence is explicit; Kind stays a raw tag so
// unknown kinds survive pass-through until conversion.
type Record struct {
	Kind uint8

	Text               *Text
	Title              *Text
	ContentDescription *Text

	Value       *Float
	Min         *float32
	Max         *float32
	TargetValue *float32

	Elements []Element

	Mono  *Image
	Small *SmallImage
	Photo *Image

	// TapAction is carried only between in-process layers. The binary
	// format drops it and records the loss in TapActionLost.
	TapAction     *string
	TapActionLost bool

	StartMillis *int64
	EndMillis   *int64

	DataSource  *string
	Persistence *uint8
	Display     *uint8

	Placeholder *Record
	Timeline    []TimelineEntry
	Entries     []Record
	ListStyle   *uint8

	LayoutInteractive []byte
	LayoutAmbient     []byte
	LayoutResources   []byte
}

// Text is the transport form of an expressed string slot.
type Text struct {
	Literal *string
	Expr    dynamic.Expr
}

// Float is the transport form of an expressed numeric slot.
type Float struct {
	Literal *float32
	Expr    dynamic.Expr
}

// Image is the transport form of a drawable reference.
type Image struct {
	Resource string
	Ambient  string
}

// SmallImage is the transport form of a small image reference.
type SmallImage struct {
	Resource string
	Ambient  string
	Style    uint8
}

// Element is the transport form of one weighted element.
type Element struct {
	Weight float32
	Color  uint32
}

// TimelineEntry is the transport form of one timeline override.
type TimelineEntry struct {
	StartMillis *int64
	EndMillis   *int64
	Record      Record
}
