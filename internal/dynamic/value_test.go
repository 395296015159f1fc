package dynamic

import (
	"testing"
	"time"
)

func TestValueAccessors(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if f, ok := Float(2.5).AsFloat(); !ok || f != 2.5 {
		t.Errorf("AsFloat = %v, %v", f, ok)
	}
	if s, ok := String("hi").AsString(); !ok || s != "hi" {
		t.Errorf("AsString = %q, %v", s, ok)
	}
	if b, ok := Bool(true).AsBool(); !ok || !b {
		t.Errorf("AsBool = %v, %v", b, ok)
	}
	if i, ok := Int(-7).AsInt(); !ok || i != -7 {
		t.Errorf("AsInt = %v, %v", i, ok)
	}
	if got, ok := Instant(ts).AsInstant(); !ok || !got.Equal(ts) {
		t.Errorf("AsInstant = %v, %v", got, ok)
	}

	// Mismatched accessor reports not-ok.
	if _, ok := Float(1).AsString(); ok {
		t.Error("AsString on float reported ok")
	}
	if (Value{}).Kind() != KindNone {
		t.Errorf("zero value kind = %v", (Value{}).Kind())
	}
}

func TestValueEqual(t *testing.T) {
	utc := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}

	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"floats equal", Float(1.5), Float(1.5), true},
		{"floats differ", Float(1.5), Float(2.5), false},
		{"kind mismatch", Float(1), Int(1), false},
		{"strings equal", String("x"), String("x"), true},
		{"bools differ", Bool(true), Bool(false), false},
		{"zero values", Value{}, Value{}, true},
		{"same instant different zone", Instant(utc), Instant(utc.In(paris)), true},
	}
	for _, tc := range cases {
		if got := tc.a.Equal(tc.b); got != tc.want {
			t.Errorf("%s: Equal = %v, want %v", tc.name, got, tc.want)
		}
	}
}
