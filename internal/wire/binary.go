package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Binary layout:
//
//	magic "DGZ1", version byte
//	body:
//	  kind byte
//	  presence mask, uvarint
//	  present fields in mask-bit order
//
// Strings and byte blobs are uvarint length-prefixed, floats are
// IEEE-754 little endian, instants are unix milliseconds as fixed
// 8-byte little endian. Nested record bodies are length-prefixed so a
// reader can skip them wholesale. Tap actions are process-local and
// never serialized; bitTapLost records that one was dropped.

const (
	magic         = "DGZ1"
	formatVersion = 0x01

	// maxNesting bounds placeholder/timeline/list recursion on decode.
	maxNesting = 6
)

const (
	bitText uint64 = 1 << iota
	bitTitle
	bitContentDescription
	bitValue
	bitMin
	bitMax
	bitTarget
	bitElements
	bitMono
	bitSmall
	bitPhoto
	bitTapLost
	bitStart
	bitEnd
	bitDataSource
	bitPersistence
	bitDisplay
	bitPlaceholder
	bitTimeline
	bitEntries
	bitListStyle
	bitLayoutInteractive
	bitLayoutAmbient
	bitLayoutResources

	bitsKnown = bitLayoutResources<<1 - 1
)

// Encode serializes a transport record. It fails only on expression
// trees with nodes the format does not know.
func Encode(rec Record) ([]byte, error) {
	w := &writer{}
	w.buf.WriteString(magic)
	w.buf.WriteByte(formatVersion)
	encodeBody(w, &rec)
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// Decode parses a serialized record. Structural damage (bad magic,
// truncation, trailing bytes, unknown field bits) is an error; an
// unknown kind tag is not, and is preserved for ToRecord to map.
func Decode(data []byte) (Record, error) {
	r := &reader{data: data}
	if string(r.take(len(magic))) != magic {
		return Record{}, fmt.Errorf("wire: bad magic")
	}
	if v := r.u8(); r.err == nil && v != formatVersion {
		return Record{}, fmt.Errorf("wire: unsupported version %d", v)
	}
	rec, err := decodeBody(r, 0)
	if err != nil {
		return Record{}, err
	}
	if len(r.data) != 0 {
		return Record{}, fmt.Errorf("wire: %d trailing bytes", len(r.data))
	}
	return rec, nil
}

func (rec *Record) mask() uint64 {
	var m uint64
	set := func(bit uint64, present bool) {
		if present {
			m |= bit
		}
	}
	set(bitText, rec.Text != nil)
	set(bitTitle, rec.Title != nil)
	set(bitContentDescription, rec.ContentDescription != nil)
	set(bitValue, rec.Value != nil)
	set(bitMin, rec.Min != nil)
	set(bitMax, rec.Max != nil)
	set(bitTarget, rec.TargetValue != nil)
	set(bitElements, len(rec.Elements) > 0)
	set(bitMono, rec.Mono != nil)
	set(bitSmall, rec.Small != nil)
	set(bitPhoto, rec.Photo != nil)
	set(bitTapLost, rec.TapAction != nil || rec.TapActionLost)
	set(bitStart, rec.StartMillis != nil)
	set(bitEnd, rec.EndMillis != nil)
	set(bitDataSource, rec.DataSource != nil)
	set(bitPersistence, rec.Persistence != nil)
	set(bitDisplay, rec.Display != nil)
	set(bitPlaceholder, rec.Placeholder != nil)
	set(bitTimeline, len(rec.Timeline) > 0)
	set(bitEntries, len(rec.Entries) > 0)
	set(bitListStyle, rec.ListStyle != nil)
	set(bitLayoutInteractive, len(rec.LayoutInteractive) > 0)
	set(bitLayoutAmbient, len(rec.LayoutAmbient) > 0)
	set(bitLayoutResources, len(rec.LayoutResources) > 0)
	return m
}

func encodeBody(w *writer, rec *Record) {
	w.u8(rec.Kind)
	w.uvarint(rec.mask())

	if rec.Text != nil {
		encodeTextSlot(w, rec.Text)
	}
	if rec.Title != nil {
		encodeTextSlot(w, rec.Title)
	}
	if rec.ContentDescription != nil {
		encodeTextSlot(w, rec.ContentDescription)
	}
	if rec.Value != nil {
		encodeFloatSlot(w, rec.Value)
	}
	if rec.Min != nil {
		w.f32(*rec.Min)
	}
	if rec.Max != nil {
		w.f32(*rec.Max)
	}
	if rec.TargetValue != nil {
		w.f32(*rec.TargetValue)
	}
	if len(rec.Elements) > 0 {
		w.uvarint(uint64(len(rec.Elements)))
		for _, e := range rec.Elements {
			w.f32(e.Weight)
			w.u32(e.Color)
		}
	}
	if rec.Mono != nil {
		w.str(rec.Mono.Resource)
		w.str(rec.Mono.Ambient)
	}
	if rec.Small != nil {
		w.str(rec.Small.Resource)
		w.str(rec.Small.Ambient)
		w.u8(rec.Small.Style)
	}
	if rec.Photo != nil {
		w.str(rec.Photo.Resource)
		w.str(rec.Photo.Ambient)
	}
	// bitTapLost carries no payload.
	if rec.StartMillis != nil {
		w.i64(*rec.StartMillis)
	}
	if rec.EndMillis != nil {
		w.i64(*rec.EndMillis)
	}
	if rec.DataSource != nil {
		w.str(*rec.DataSource)
	}
	if rec.Persistence != nil {
		w.u8(*rec.Persistence)
	}
	if rec.Display != nil {
		w.u8(*rec.Display)
	}
	if rec.Placeholder != nil {
		encodeNested(w, rec.Placeholder)
	}
	if len(rec.Timeline) > 0 {
		w.uvarint(uint64(len(rec.Timeline)))
		for i := range rec.Timeline {
			e := &rec.Timeline[i]
			var flags uint8
			if e.StartMillis != nil {
				flags |= 1
			}
			if e.EndMillis != nil {
				flags |= 2
			}
			w.u8(flags)
			if e.StartMillis != nil {
				w.i64(*e.StartMillis)
			}
			if e.EndMillis != nil {
				w.i64(*e.EndMillis)
			}
			encodeNested(w, &e.Record)
		}
	}
	if len(rec.Entries) > 0 {
		w.uvarint(uint64(len(rec.Entries)))
		for i := range rec.Entries {
			encodeNested(w, &rec.Entries[i])
		}
	}
	if rec.ListStyle != nil {
		w.u8(*rec.ListStyle)
	}
	if len(rec.LayoutInteractive) > 0 {
		w.blob(rec.LayoutInteractive)
	}
	if len(rec.LayoutAmbient) > 0 {
		w.blob(rec.LayoutAmbient)
	}
	if len(rec.LayoutResources) > 0 {
		w.blob(rec.LayoutResources)
	}
}

func encodeNested(w *writer, rec *Record) {
	sub := &writer{}
	encodeBody(sub, rec)
	if sub.err != nil {
		w.fail(sub.err)
		return
	}
	w.blob(sub.buf.Bytes())
}

func decodeBody(r *reader, depth int) (Record, error) {
	if depth > maxNesting {
		return Record{}, fmt.Errorf("wire: records nested deeper than %d levels", maxNesting)
	}
	var rec Record
	rec.Kind = r.u8()
	m := r.uvarint()
	if r.err != nil {
		return Record{}, r.err
	}
	if m&^bitsKnown != 0 {
		return Record{}, fmt.Errorf("wire: unknown field bits %#x", m&^bitsKnown)
	}

	if m&bitText != 0 {
		rec.Text = decodeTextSlot(r)
	}
	if m&bitTitle != 0 {
		rec.Title = decodeTextSlot(r)
	}
	if m&bitContentDescription != 0 {
		rec.ContentDescription = decodeTextSlot(r)
	}
	if m&bitValue != 0 {
		rec.Value = decodeFloatSlot(r)
	}
	if m&bitMin != 0 {
		v := r.f32()
		rec.Min = &v
	}
	if m&bitMax != 0 {
		v := r.f32()
		rec.Max = &v
	}
	if m&bitTarget != 0 {
		v := r.f32()
		rec.TargetValue = &v
	}
	if m&bitElements != 0 {
		n := r.count(maxCollection)
		for i := uint64(0); i < n && r.err == nil; i++ {
			rec.Elements = append(rec.Elements, Element{Weight: r.f32(), Color: r.u32()})
		}
	}
	if m&bitMono != 0 {
		im := Image{Resource: r.str(), Ambient: r.str()}
		rec.Mono = &im
	}
	if m&bitSmall != 0 {
		im := SmallImage{Resource: r.str(), Ambient: r.str(), Style: r.u8()}
		rec.Small = &im
	}
	if m&bitPhoto != 0 {
		im := Image{Resource: r.str(), Ambient: r.str()}
		rec.Photo = &im
	}
	rec.TapActionLost = m&bitTapLost != 0
	if m&bitStart != 0 {
		v := r.i64()
		rec.StartMillis = &v
	}
	if m&bitEnd != 0 {
		v := r.i64()
		rec.EndMillis = &v
	}
	if m&bitDataSource != 0 {
		s := r.str()
		rec.DataSource = &s
	}
	if m&bitPersistence != 0 {
		v := r.u8()
		rec.Persistence = &v
	}
	if m&bitDisplay != 0 {
		v := r.u8()
		rec.Display = &v
	}
	if m&bitPlaceholder != 0 {
		p, err := decodeNested(r, depth)
		if err != nil {
			return Record{}, err
		}
		rec.Placeholder = p
	}
	if m&bitTimeline != 0 {
		n := r.count(maxCollection)
		for i := uint64(0); i < n && r.err == nil; i++ {
			var e TimelineEntry
			flags := r.u8()
			if flags&1 != 0 {
				v := r.i64()
				e.StartMillis = &v
			}
			if flags&2 != 0 {
				v := r.i64()
				e.EndMillis = &v
			}
			nested, err := decodeNested(r, depth)
			if err != nil {
				return Record{}, err
			}
			e.Record = *nested
			rec.Timeline = append(rec.Timeline, e)
		}
	}
	if m&bitEntries != 0 {
		n := r.count(maxCollection)
		for i := uint64(0); i < n && r.err == nil; i++ {
			nested, err := decodeNested(r, depth)
			if err != nil {
				return Record{}, err
			}
			rec.Entries = append(rec.Entries, *nested)
		}
	}
	if m&bitListStyle != 0 {
		v := r.u8()
		rec.ListStyle = &v
	}
	if m&bitLayoutInteractive != 0 {
		rec.LayoutInteractive = r.blob()
	}
	if m&bitLayoutAmbient != 0 {
		rec.LayoutAmbient = r.blob()
	}
	if m&bitLayoutResources != 0 {
		rec.LayoutResources = r.blob()
	}
	if r.err != nil {
		return Record{}, r.err
	}
	return rec, nil
}

func decodeNested(r *reader, depth int) (*Record, error) {
	body := r.blob()
	if r.err != nil {
		return nil, r.err
	}
	sub := &reader{data: body}
	rec, err := decodeBody(sub, depth+1)
	if err != nil {
		return nil, err
	}
	if len(sub.data) != 0 {
		return nil, fmt.Errorf("wire: %d trailing bytes in nested record", len(sub.data))
	}
	return &rec, nil
}

const (
	slotHasLiteral uint8 = 1
	slotHasExpr    uint8 = 2

	// maxCollection bounds decoded collection counts before any
	// allocation happens; real payloads sit far below it.
	maxCollection = 1 << 12
)

func encodeTextSlot(w *writer, t *Text) {
	var flags uint8
	if t.Literal != nil {
		flags |= slotHasLiteral
	}
	if t.Expr != nil {
		flags |= slotHasExpr
	}
	w.u8(flags)
	if t.Literal != nil {
		w.str(*t.Literal)
	}
	if t.Expr != nil {
		encodeExpr(w, t.Expr)
	}
}

func decodeTextSlot(r *reader) *Text {
	var t Text
	flags := r.u8()
	if flags&slotHasLiteral != 0 {
		s := r.str()
		t.Literal = &s
	}
	if flags&slotHasExpr != 0 {
		t.Expr = decodeExpr(r, 0)
	}
	return &t
}

func encodeFloatSlot(w *writer, f *Float) {
	var flags uint8
	if f.Literal != nil {
		flags |= slotHasLiteral
	}
	if f.Expr != nil {
		flags |= slotHasExpr
	}
	w.u8(flags)
	if f.Literal != nil {
		w.f32(*f.Literal)
	}
	if f.Expr != nil {
		encodeExpr(w, f.Expr)
	}
}

func decodeFloatSlot(r *reader) *Float {
	var f Float
	flags := r.u8()
	if flags&slotHasLiteral != 0 {
		v := r.f32()
		f.Literal = &v
	}
	if flags&slotHasExpr != 0 {
		f.Expr = decodeExpr(r, 0)
	}
	return &f
}

// writer builds a payload with a sticky first error.
type writer struct {
	buf bytes.Buffer
	err error
}

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *writer) u8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) f32(v float32) {
	w.u32(math.Float32bits(v))
}

func (w *writer) i64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *writer) uvarint(v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	w.buf.Write(b[:n])
}

func (w *writer) str(s string) {
	w.uvarint(uint64(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) blob(b []byte) {
	w.uvarint(uint64(len(b)))
	w.buf.Write(b)
}

// reader consumes a payload with a sticky first error; all getters
// return zero values once the reader has failed.
type reader struct {
	data []byte
	err  error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.data) {
		r.fail(fmt.Errorf("wire: truncated payload"))
		return nil
	}
	b := r.data[:n]
	r.data = r.data[n:]
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *reader) i64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data)
	if n <= 0 {
		r.fail(fmt.Errorf("wire: bad varint"))
		return 0
	}
	r.data = r.data[n:]
	return v
}

// count reads a collection length and rejects absurd values before the
// caller allocates for them.
func (r *reader) count(limit uint64) uint64 {
	n := r.uvarint()
	if r.err == nil && n > limit {
		r.fail(fmt.Errorf("wire: collection of %d exceeds limit %d", n, limit))
		return 0
	}
	return n
}

func (r *reader) str() string {
	n := r.uvarint()
	if r.err != nil {
		return ""
	}
	return string(r.take(int(n)))
}

func (r *reader) blob() []byte {
	n := r.uvarint()
	if r.err != nil {
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
