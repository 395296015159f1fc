package wire

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/starford/dagaz/internal/dynamic"
	"github.com/starford/dagaz/internal/record"
)

func mustMarshal(t *testing.T, r record.Record) []byte {
	t.Helper()
	data, err := Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

func mustUnmarshal(t *testing.T, data []byte) record.Record {
	t.Helper()
	r, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return r
}

func roundTrip(t *testing.T, r record.Record) record.Record {
	t.Helper()
	return mustUnmarshal(t, mustMarshal(t, r))
}

func TestRoundTripKinds(t *testing.T) {
	start := time.UnixMilli(1748779200000).UTC() // 2025-06-01T12:00:00Z
	tempExpr := dynamic.FormatFloat{X: dynamic.StateRef{Key: "weather.temp"}, Digits: 1}

	build := func(fn func() (record.Record, error)) record.Record {
		r, err := fn()
		if err != nil {
			t.Fatalf("fixture: %v", err)
		}
		return r
	}

	short := build(func() (record.Record, error) {
		return record.NewShortText(record.DynamicTextWithFallback(tempExpr, "--"),
			record.WithTitle(record.PlainText("Temp")),
			record.WithMonochromaticImage(record.Image{ResourceID: "ic_thermo", AmbientID: "ic_thermo_dim"}),
			record.WithDataSource("weather"),
			record.WithValidTimeRange(record.TimeRange{Start: start, End: start.Add(time.Hour)}))
	})

	fixtures := []record.Record{
		record.NewEmpty(),
		record.NewNotConfigured(),
		build(func() (record.Record, error) { return record.NewNoData() }),
		short,
		build(func() (record.Record, error) {
			return record.NewLongText(record.PlainText("Partly cloudy all day"),
				record.WithSmallImage(record.SmallImage{ResourceID: "img_sky", Style: record.SmallImagePhoto}))
		}),
		build(func() (record.Record, error) {
			return record.NewRangedValue(record.PlainFloat(42), 0, 100,
				record.WithText(record.PlainText("42%")),
				record.WithPersistencePolicy(record.DoNotPersist),
				record.WithDisplayPolicy(record.HideWhenLocked))
		}),
		build(func() (record.Record, error) {
			return record.NewGoalProgress(record.DynamicFloat(dynamic.SensorRef{Key: dynamic.SensorDailySteps}), 10000)
		}),
		build(func() (record.Record, error) {
			return record.NewWeightedElements([]record.Element{
				{Weight: 2, Color: 0xFF2266AA},
				{Weight: 1.5, Color: 0xFFAA2266},
			})
		}),
		build(func() (record.Record, error) {
			return record.NewMonochromaticImage(record.Image{ResourceID: "ic_alarm"})
		}),
		build(func() (record.Record, error) {
			return record.NewSmallImage(record.SmallImage{ResourceID: "img_face", AmbientID: "img_face_dim", Style: record.SmallImageIcon})
		}),
		build(func() (record.Record, error) {
			return record.NewPhotoImage(record.Image{ResourceID: "photo_sunset"})
		}),
		build(func() (record.Record, error) {
			return record.NewNoPermission(record.WithText(record.PlainText("Tap to allow")))
		}),
		build(func() (record.Record, error) {
			a, err := record.NewShortText(record.PlainText("a"))
			if err != nil {
				return record.Record{}, err
			}
			b, err := record.NewRangedValue(record.PlainFloat(1), 0, 2)
			if err != nil {
				return record.Record{}, err
			}
			return record.NewList([]record.Record{a, b}, record.ListColumn)
		}),
		build(func() (record.Record, error) {
			return record.NewProtoLayout([]byte{0x0A, 0x01}, []byte{0x0B}, []byte{0x0C, 0x0D})
		}),
		build(func() (record.Record, error) {
			ph, err := record.NewRangedValue(record.PlainFloat(record.PlaceholderFloat), 0, 10,
				record.WithText(record.PlainText(record.PlaceholderText)))
			if err != nil {
				return record.Record{}, err
			}
			return record.NewNoData(record.WithPlaceholder(ph))
		}),
		build(func() (record.Record, error) {
			now, err := record.NewShortText(record.PlainText("now"))
			if err != nil {
				return record.Record{}, err
			}
			later, err := record.NewShortText(record.PlainText("later"))
			if err != nil {
				return record.Record{}, err
			}
			return record.NewShortText(record.PlainText("base"),
				record.WithTimeline(
					record.TimelineEntry{Validity: record.TimeRange{End: start}, Record: now},
					record.TimelineEntry{Validity: record.TimeRange{Start: start}, Record: later},
				))
		}),
	}

	for _, orig := range fixtures {
		t.Run(orig.Kind.String(), func(t *testing.T) {
			got := roundTrip(t, orig)
			if !got.Equal(orig) {
				t.Errorf("round trip changed record:\n got: %#v\nwant: %#v", got, orig)
			}
		})
	}
}

func TestTapActionIsLostOnTheWire(t *testing.T) {
	orig, err := record.NewShortText(record.PlainText("tap me"),
		record.WithTapAction(record.TapAction{URI: "dagaz://open/weather"}))
	if err != nil {
		t.Fatal(err)
	}

	// Struct conversion alone keeps the tap action.
	w := FromRecord(orig)
	if w.TapAction == nil || *w.TapAction != "dagaz://open/weather" {
		t.Fatal("conversion dropped the tap action")
	}
	back := ToRecord(w)
	if back.TapAction == nil || back.TapActionLost {
		t.Fatal("in-process round trip should keep the tap action")
	}

	// The binary layer drops it and flags the loss.
	got := roundTrip(t, orig)
	if got.TapAction != nil {
		t.Error("tap action survived serialization")
	}
	if !got.TapActionLost {
		t.Error("tap action loss not flagged")
	}
}

func TestExpressionRoundTrip(t *testing.T) {
	expr := dynamic.Cond{
		If: dynamic.Compare{
			Op:  dynamic.CompareGE,
			LHS: dynamic.SensorRef{Key: dynamic.SensorHeartRate},
			RHS: dynamic.Const{Value: dynamic.Float(100)},
		},
		Then: dynamic.Const{Value: dynamic.String("high")},
		Else: dynamic.Concat{Parts: []dynamic.Expr{
			dynamic.Const{Value: dynamic.String("hr ")},
			dynamic.FormatInt{X: dynamic.SensorRef{Key: dynamic.SensorHeartRate}},
		}},
	}
	orig, err := record.NewShortText(record.DynamicText(expr))
	if err != nil {
		t.Fatal(err)
	}

	got := roundTrip(t, orig)
	if got.Text == nil || got.Text.Dynamic == nil {
		t.Fatal("expression missing after round trip")
	}
	if !reflect.DeepEqual(got.Text.Dynamic, expr) {
		t.Errorf("expression changed:\n got: %#v\nwant: %#v", got.Text.Dynamic, expr)
	}
}

func TestConstantValueRoundTrip(t *testing.T) {
	at := time.UnixMilli(1748779200000).UTC()
	vals := []dynamic.Value{
		dynamic.Float(3.25),
		dynamic.String("x"),
		dynamic.Bool(true),
		dynamic.Int(-12),
		dynamic.Instant(at),
	}
	for _, v := range vals {
		orig, err := record.NewLongText(record.DynamicText(dynamic.Const{Value: v}))
		if err != nil {
			t.Fatal(err)
		}
		got := roundTrip(t, orig)
		want := orig.Text.Dynamic
		if !reflect.DeepEqual(got.Text.Dynamic, want) {
			t.Errorf("constant %v changed across the wire", v)
		}
	}
}

func TestUnknownKindDecodesAsEmpty(t *testing.T) {
	orig, err := record.NewShortText(record.PlainText("hello"))
	if err != nil {
		t.Fatal(err)
	}
	data := mustMarshal(t, orig)

	// Kind byte sits after magic and version.
	data[len(magic)+1] = 0xEE

	got := mustUnmarshal(t, data)
	if got.Kind != record.KindEmpty {
		t.Errorf("kind = %v, want empty", got.Kind)
	}
	if got.Text != nil {
		t.Error("unknown-kind record kept fields")
	}
}

func TestConversionTruncatesOversizedCollections(t *testing.T) {
	elems := make([]record.Element, record.MaxWeightedElements+4)
	for i := range elems {
		elems[i] = record.Element{Weight: 1, Color: uint32(i)}
	}
	// Assembled by hand, skipping constructor validation.
	r := record.Record{Kind: record.KindWeightedElements, Elements: elems}
	if got := len(FromRecord(r).Elements); got != record.MaxWeightedElements {
		t.Errorf("elements after conversion = %d, want %d", got, record.MaxWeightedElements)
	}

	entry, err := record.NewShortText(record.PlainText("e"))
	if err != nil {
		t.Fatal(err)
	}
	entries := make([]record.Record, record.MaxListEntries+2)
	for i := range entries {
		entries[i] = entry
	}
	l := record.Record{Kind: record.KindList, Entries: entries, ListStyle: record.ListRow}
	if got := len(FromRecord(l).Entries); got != record.MaxListEntries {
		t.Errorf("entries after conversion = %d, want %d", got, record.MaxListEntries)
	}
}

func TestEmptyRecordGoldenBytes(t *testing.T) {
	data := mustMarshal(t, record.NewEmpty())
	want := []byte{'D', 'G', 'Z', '1', 0x01, tagEmpty, 0x00}
	if !bytes.Equal(data, want) {
		t.Errorf("bytes = %x, want %x", data, want)
	}
}

func TestDecodeRejectsCorruptInput(t *testing.T) {
	valid := mustMarshal(t, record.NewEmpty())

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte("NOPE\x01\x02\x00")},
		{"bad version", []byte("DGZ1\x63\x02\x00")},
		{"truncated", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte{}, valid...), 0xFF)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.data); err == nil {
				t.Error("Decode accepted corrupt input")
			}
		})
	}
}

func TestDecodeBoundsNesting(t *testing.T) {
	// Hand-built wire records can nest placeholders arbitrarily; the
	// decoder must refuse past its depth limit.
	deep := Record{Kind: tagShortText}
	for i := 0; i < maxNesting+2; i++ {
		inner := deep
		deep = Record{Kind: tagNoData, Placeholder: &inner}
	}
	data, err := Encode(deep)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(data); err == nil {
		t.Error("Decode accepted over-deep nesting")
	}
}

func TestDecodeRejectsUnknownFieldBits(t *testing.T) {
	// magic + version + kind, then a mask with only an undefined bit.
	var w writer
	w.buf.WriteString(magic)
	w.buf.WriteByte(formatVersion)
	w.u8(tagEmpty)
	w.uvarint(bitsKnown + 1)
	if _, err := Decode(w.buf.Bytes()); err == nil {
		t.Error("Decode accepted unknown field bits")
	}
}
