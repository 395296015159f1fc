package wire

import (
	"time"

	"github.com/starford/dagaz/internal/record"
)

var kindToTag = map[record.Kind]uint8{
	record.KindNoData:             tagNoData,
	record.KindEmpty:              tagEmpty,
	record.KindNotConfigured:      tagNotConfigured,
	record.KindShortText:          tagShortText,
	record.KindLongText:           tagLongText,
	record.KindRangedValue:        tagRangedValue,
	record.KindGoalProgress:       tagGoalProgress,
	record.KindWeightedElements:   tagWeightedElements,
	record.KindMonochromaticImage: tagMonochromaticImage,
	record.KindSmallImage:         tagSmallImage,
	record.KindPhotoImage:         tagPhotoImage,
	record.KindNoPermission:       tagNoPermission,
	record.KindList:               tagList,
	record.KindProtoLayout:        tagProtoLayout,
}

var tagToKind = func() map[uint8]record.Kind {
	m := make(map[uint8]record.Kind, len(kindToTag))
	for k, t := range kindToTag {
		m[t] = k
	}
	return m
}()

// FromRecord flattens a model record into its transport form. Oversized
// collections are truncated to the model caps, covering records that
// were assembled without the constructors.
func FromRecord(r record.Record) Record {
	tag, ok := kindToTag[r.Kind]
	if !ok {
		// An unknown model kind has no wire shape; ship it as empty.
		return Record{Kind: tagEmpty}
	}
	w := Record{Kind: tag, TapActionLost: r.TapActionLost}

	w.Text = textOut(r.Text)
	w.Title = textOut(r.Title)
	w.ContentDescription = textOut(r.ContentDescription)

	if r.Value != nil {
		w.Value = &Float{Literal: cloneF32(r.Value.Literal), Expr: r.Value.Dynamic}
	}
	switch r.Kind {
	case record.KindRangedValue:
		min, max := r.Min, r.Max
		w.Min, w.Max = &min, &max
	case record.KindGoalProgress:
		target := r.TargetValue
		w.TargetValue = &target
	}

	elems := r.Elements
	if len(elems) > record.MaxWeightedElements {
		elems = elems[:record.MaxWeightedElements]
	}
	for _, e := range elems {
		w.Elements = append(w.Elements, Element{Weight: e.Weight, Color: e.Color})
	}

	if r.Mono != nil {
		w.Mono = &Image{Resource: r.Mono.ResourceID, Ambient: r.Mono.AmbientID}
	}
	if r.Small != nil {
		w.Small = &SmallImage{Resource: r.Small.ResourceID, Ambient: r.Small.AmbientID, Style: uint8(r.Small.Style)}
	}
	if r.Photo != nil {
		w.Photo = &Image{Resource: r.Photo.ResourceID, Ambient: r.Photo.AmbientID}
	}
	if r.TapAction != nil {
		uri := r.TapAction.URI
		w.TapAction = &uri
	}
	if r.ValidTimeRange != nil {
		w.StartMillis = millisOut(r.ValidTimeRange.Start)
		w.EndMillis = millisOut(r.ValidTimeRange.End)
	}
	if r.DataSource != "" {
		src := r.DataSource
		w.DataSource = &src
	}
	if r.Persistence != record.PersistDefault {
		p := uint8(r.Persistence)
		w.Persistence = &p
	}
	if r.Display != record.DisplayAlways {
		d := uint8(r.Display)
		w.Display = &d
	}
	if r.Placeholder != nil {
		p := FromRecord(*r.Placeholder)
		w.Placeholder = &p
	}
	for _, e := range r.Timeline {
		w.Timeline = append(w.Timeline, TimelineEntry{
			StartMillis: millisOut(e.Validity.Start),
			EndMillis:   millisOut(e.Validity.End),
			Record:      FromRecord(e.Record),
		})
	}
	entries := r.Entries
	if len(entries) > record.MaxListEntries {
		entries = entries[:record.MaxListEntries]
	}
	for _, e := range entries {
		w.Entries = append(w.Entries, FromRecord(e))
	}
	if r.ListStyle != 0 {
		s := uint8(r.ListStyle)
		w.ListStyle = &s
	}
	w.LayoutInteractive = r.LayoutInteractive
	w.LayoutAmbient = r.LayoutAmbient
	w.LayoutResources = r.LayoutResources
	return w
}

// ToRecord maps a transport record back onto the model. An unknown
// kind tag yields an Empty record with every field dropped; the
// receiver renders a blank rather than failing.
func ToRecord(w Record) record.Record {
	kind, ok := tagToKind[w.Kind]
	if !ok {
		return record.NewEmpty()
	}
	r := record.Record{Kind: kind, TapActionLost: w.TapActionLost}

	r.Text = textIn(w.Text)
	r.Title = textIn(w.Title)
	r.ContentDescription = textIn(w.ContentDescription)

	if w.Value != nil {
		r.Value = &record.Float{Literal: cloneF32(w.Value.Literal), Dynamic: w.Value.Expr}
	}
	if w.Min != nil {
		r.Min = *w.Min
	}
	if w.Max != nil {
		r.Max = *w.Max
	}
	if w.TargetValue != nil {
		r.TargetValue = *w.TargetValue
	}

	for _, e := range w.Elements {
		r.Elements = append(r.Elements, record.Element{Weight: e.Weight, Color: e.Color})
	}

	if w.Mono != nil {
		r.Mono = &record.Image{ResourceID: w.Mono.Resource, AmbientID: w.Mono.Ambient}
	}
	if w.Small != nil {
		r.Small = &record.SmallImage{ResourceID: w.Small.Resource, AmbientID: w.Small.Ambient, Style: record.SmallImageStyle(w.Small.Style)}
	}
	if w.Photo != nil {
		r.Photo = &record.Image{ResourceID: w.Photo.Resource, AmbientID: w.Photo.Ambient}
	}
	if w.TapAction != nil {
		r.TapAction = &record.TapAction{URI: *w.TapAction}
	}
	if w.StartMillis != nil || w.EndMillis != nil {
		r.ValidTimeRange = &record.TimeRange{Start: millisIn(w.StartMillis), End: millisIn(w.EndMillis)}
	}
	if w.DataSource != nil {
		r.DataSource = *w.DataSource
	}
	if w.Persistence != nil {
		r.Persistence = record.PersistencePolicy(*w.Persistence)
	}
	if w.Display != nil {
		r.Display = record.DisplayPolicy(*w.Display)
	}
	if w.Placeholder != nil {
		p := ToRecord(*w.Placeholder)
		r.Placeholder = &p
	}
	for _, e := range w.Timeline {
		r.Timeline = append(r.Timeline, record.TimelineEntry{
			Validity: record.TimeRange{Start: millisIn(e.StartMillis), End: millisIn(e.EndMillis)},
			Record:   ToRecord(e.Record),
		})
	}
	for _, e := range w.Entries {
		r.Entries = append(r.Entries, ToRecord(e))
	}
	if w.ListStyle != nil {
		r.ListStyle = record.ListStyle(*w.ListStyle)
	}
	r.LayoutInteractive = w.LayoutInteractive
	r.LayoutAmbient = w.LayoutAmbient
	r.LayoutResources = w.LayoutResources
	return r
}

// Marshal flattens and serializes a model record in one step.
func Marshal(r record.Record) ([]byte, error) {
	return Encode(FromRecord(r))
}

// Unmarshal parses a payload and maps it onto the model in one step.
func Unmarshal(data []byte) (record.Record, error) {
	w, err := Decode(data)
	if err != nil {
		return record.Record{}, err
	}
	return ToRecord(w), nil
}

func textOut(t *record.Text) *Text {
	if t == nil {
		return nil
	}
	return &Text{Literal: cloneStr(t.Literal), Expr: t.Dynamic}
}

func textIn(t *Text) *record.Text {
	if t == nil {
		return nil
	}
	return &record.Text{Literal: cloneStr(t.Literal), Dynamic: t.Expr}
}

func millisOut(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func millisIn(ms *int64) time.Time {
	if ms == nil {
		return time.Time{}
	}
	return time.UnixMilli(*ms).UTC()
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneF32(f *float32) *float32 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
