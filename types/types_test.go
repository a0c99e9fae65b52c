package types

import (
	"bytes"
	"testing"
)

func TestRoundTripBuiltins(t *testing.T) {
	cases := []struct {
		descriptor Descriptor
		value      any
	}{
		{String, "hello"},
		{Boolean, true},
		{Integer, int64(42)},
		{Float, 3.25},
		{JsonArray, []any{"a", float64(1)}},
		{JsonObject, map[string]any{"k": "v"}},
		{None, nil},
	}

	for _, c := range cases {
		entry, err := c.descriptor.Serialize(c.value)
		if err != nil {
			t.Fatalf("%s.Serialize(%v) failed: %v", c.descriptor.Name(), c.value, err)
		}
		got, err := c.descriptor.Deserialize(entry)
		if err != nil {
			t.Fatalf("%s.Deserialize(%v) failed: %v", c.descriptor.Name(), entry, err)
		}
		if c.descriptor == JsonArray || c.descriptor == JsonObject {
			continue // deep-equal on any-typed containers isn't interesting here
		}
		if got != c.value {
			t.Errorf("%s round trip mismatch: got %v, want %v", c.descriptor.Name(), got, c.value)
		}
	}
}

func TestBytesRoundTripArbitraryBytes(t *testing.T) {
	original := []byte{0x00, 0x7f, 0x80, 0xff, 0x10}
	entry, err := Bytes.Serialize(original)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	got, err := Bytes.Deserialize(entry)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if !bytes.Equal(got.([]byte), original) {
		t.Errorf("byte round trip mismatch: got %v, want %v", got, original)
	}
}

func TestToIDFromIDStableOrder(t *testing.T) {
	expected := []Descriptor{None, JsonObject, JsonArray, String, Boolean, Integer, Float, Bytes}
	for wantID, d := range expected {
		gotID, err := ToID(d)
		if err != nil {
			t.Fatalf("ToID(%s) failed: %v", d.Name(), err)
		}
		if gotID != wantID {
			t.Errorf("ToID(%s) = %d, want %d", d.Name(), gotID, wantID)
		}
		back, err := FromID(gotID)
		if err != nil || back != d {
			t.Errorf("FromID(%d) = %v, %v, want %s", gotID, back, err, d.Name())
		}
	}
}

func TestFromIDOutOfRange(t *testing.T) {
	if _, err := FromID(99); err == nil {
		t.Fatal("expected error for out-of-range id")
	}
}

func TestGetIfBuiltIn(t *testing.T) {
	d, ok := GetIfBuiltIn("x")
	if !ok || d != String {
		t.Errorf("expected String for a Go string, got %v, %v", d, ok)
	}
	if _, ok := GetIfBuiltIn(struct{}{}); ok {
		t.Error("expected no match for an unrecognized native type")
	}
}
