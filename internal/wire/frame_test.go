package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Kind: KindCall, CorrelationID: 42, Payload: []byte("payload bytes")}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf, DefaultMaxPayload)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Kind != f.Kind || got.CorrelationID != f.CorrelationID || !bytes.Equal(got.Payload, f.Payload) {
		t.Errorf("round trip mismatch: want %+v, got %+v", f, got)
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Kind: KindEnd, CorrelationID: 7}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf, DefaultMaxPayload)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Errorf("expected empty payload, got %v", got.Payload)
	}
}

func TestReadFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Kind: KindCall, CorrelationID: 1, Payload: make([]byte, 100)}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	_, err := ReadFrame(&buf, 10)
	if err == nil {
		t.Fatalf("expected oversize payload error")
	}
}

func TestMultipleFramesSequentially(t *testing.T) {
	var buf bytes.Buffer
	frames := []Frame{
		{Kind: KindHello, CorrelationID: 0, Payload: []byte("a")},
		{Kind: KindItem, CorrelationID: 3, Payload: []byte("bb")},
		{Kind: KindEnd, CorrelationID: 3},
	}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for _, want := range frames {
		got, err := ReadFrame(&buf, DefaultMaxPayload)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if got.Kind != want.Kind || got.CorrelationID != want.CorrelationID || !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("mismatch: want %+v, got %+v", want, got)
		}
	}
}
