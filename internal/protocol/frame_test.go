package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFrameRoundtrip(t *testing.T) {
	var buf bytes.Buffer

	req := Request{
		ID:     "req-1",
		Action: ActionFSList,
		Params: map[string]any{"path": "/tmp"},
	}
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var got Request
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.ID != req.ID || got.Action != req.Action {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", got, req)
	}
	if got.Params["path"] != "/tmp" {
		t.Errorf("params lost in roundtrip: %+v", got.Params)
	}
}

func TestFrameMultipleMessages(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		evt := Event{Type: EventFSChanged, Path: "/tmp/a", Timestamp: float64(i)}
		if err := WriteFrame(&buf, evt); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		var evt Event
		if err := ReadFrame(&buf, &evt); err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if evt.Timestamp != float64(i) {
			t.Errorf("frame %d: timestamp %v, messages reordered or corrupted", i, evt.Timestamp)
		}
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, MaxFrameSize+1)
	buf.Write(header)

	var req Request
	if err := ReadFrame(&buf, &req); err == nil {
		t.Fatal("expected error for oversize frame, got nil")
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 100)
	buf.Write(header)
	buf.WriteString("{}")

	var req Request
	if err := ReadFrame(&buf, &req); err == nil {
		t.Fatal("expected error for truncated payload, got nil")
	}
}
