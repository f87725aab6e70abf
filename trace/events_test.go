package trace

import (
	"testing"

	"github.com/relaycore/rplane/ids"
)

func TestUVarint300EncodesToTwoBytes(t *testing.T) {
	var buf EventBuffer
	buf.UVarint(300)
	if len(buf.Buf()) != 2 {
		t.Fatalf("expected 2-byte varint for 300, got %d bytes", len(buf.Buf()))
	}
}

func TestTruncatedByteString(t *testing.T) {
	var buf EventBuffer
	buf.TruncatedByteString([]byte("hello world"), 5, []byte("..."))
	// uvarint(5+3=8) then "hello" then "..."
	got := buf.Buf()
	if got[0] != 8 {
		t.Fatalf("expected length prefix 8, got %d", got[0])
	}
	if string(got[1:6]) != "hello" {
		t.Fatalf("expected truncated prefix %q, got %q", "hello", got[1:6])
	}
	if string(got[6:9]) != "..." {
		t.Fatalf("expected suffix, got %q", got[6:9])
	}
}

func TestLogAddFraming(t *testing.T) {
	ids.GenerateConstantValsForTests = true
	defer func() { ids.GenerateConstantValsForTests = false }()

	tid, _ := ids.GenTraceID()
	sid, _ := ids.GenSpanID()

	var l Log
	var payload EventBuffer
	payload.String("hello")

	l.Add(Event{Type: EventSpanStart, TraceID: tid, SpanID: sid, Data: payload})
	data := l.GetAndClear()

	wantHeaderLen := 1 + 8 + 8 + 16 + 8 + 4
	if len(data) < wantHeaderLen {
		t.Fatalf("frame too short: %d bytes", len(data))
	}
	if data[0] != byte(EventSpanStart) {
		t.Errorf("event type = %d", data[0])
	}
	gotTraceID := data[17 : 17+16]
	for i, b := range tid {
		if gotTraceID[i] != b {
			t.Fatalf("trace id mismatch at %d: got %x want %x", i, gotTraceID, tid)
		}
	}
}

func TestGetAndClearDrains(t *testing.T) {
	var l Log
	l.Add(Event{Type: EventLogMessage})
	if len(l.GetAndClear()) == 0 {
		t.Fatal("expected non-empty data after Add")
	}
	if len(l.GetAndClear()) != 0 {
		t.Fatal("expected empty data after GetAndClear")
	}
}
