package wire

import (
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	buf, err := EncodeValue(v)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	got, err := DecodeValue(buf)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	return got
}

func TestRoundTripScalars(t *testing.T) {
	cases := []Value{
		Null(),
		BoolValue(true),
		BoolValue(false),
		IntValue(0),
		IntValue(-1),
		IntValue(1<<62 + 7),
		FloatValue(0),
		FloatValue(-3.5),
		StringValue(""),
		StringValue("hello, world"),
		BytesValue([]byte{}),
		BytesValue([]byte("Hello World!")),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		if !reflect.DeepEqual(got, v) {
			t.Errorf("round trip mismatch: want %+v, got %+v", v, got)
		}
	}
}

func TestRoundTripSequenceAndMap(t *testing.T) {
	seq := SeqValue([]Value{IntValue(1), StringValue("two"), BoolValue(true)})
	got := roundTrip(t, seq)
	if !reflect.DeepEqual(got, seq) {
		t.Errorf("sequence round trip mismatch: want %+v, got %+v", seq, got)
	}

	m := MapValue(Map{
		{Key: "a", Value: IntValue(1)},
		{Key: "b", Value: StringValue("two")},
	})
	got = roundTrip(t, m)
	if !reflect.DeepEqual(got, m) {
		t.Errorf("map round trip mismatch: want %+v, got %+v", m, got)
	}
}

func TestRoundTripRecord(t *testing.T) {
	rec := NewRecord("MyAPIPackage", Map{
		{Key: "text", Value: StringValue("a")},
	})
	got := roundTrip(t, rec)
	if !reflect.DeepEqual(got, rec) {
		t.Errorf("record round trip mismatch: want %+v, got %+v", rec, got)
	}
}

func TestRoundTripNestedRecord(t *testing.T) {
	inner := NewRecord("Inner", Map{{Key: "n", Value: IntValue(42)}})
	outer := NewRecord("Outer", Map{
		{Key: "inner", Value: inner},
		{Key: "items", Value: SeqValue([]Value{IntValue(1), IntValue(2)})},
	})
	got := roundTrip(t, outer)
	if !reflect.DeepEqual(got, outer) {
		t.Errorf("nested record round trip mismatch: want %+v, got %+v", outer, got)
	}
}

func TestDecodeTruncatedFails(t *testing.T) {
	buf, err := EncodeValue(StringValue("hello"))
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	_, _, err = Decode(buf[:len(buf)-2])
	if err == nil {
		t.Fatalf("expected error decoding truncated buffer")
	}
}

func TestDecodeTrailingBytesFails(t *testing.T) {
	buf, err := EncodeValue(IntValue(7))
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	buf = append(buf, 0xFF)
	if _, err := DecodeValue(buf); err == nil {
		t.Fatalf("expected error for trailing bytes")
	}
}
