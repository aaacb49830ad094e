package qobuz

import (
	"testing"

	"github.com/tobiasguyer/streamcore32/internal/control"
)

func TestDrainRecords_SingleCompleteRecord(t *testing.T) {
	record := control.EncodeRecord(control.KindPayload, []byte("hello"))
	var got [][]byte
	remaining := drainRecords(append([]byte(nil), record...), func(b []byte) {
		got = append(got, append([]byte(nil), b...))
	})
	if len(remaining) != 0 {
		t.Fatalf("want empty remainder, got %d bytes", len(remaining))
	}
	if len(got) != 1 || string(got[0]) != string(record) {
		t.Fatalf("want one record echoed back, got %v", got)
	}
}

func TestDrainRecords_MultipleRecordsInOneFrame(t *testing.T) {
	a := control.EncodeRecord(control.KindPayload, []byte("a"))
	b := control.EncodeRecord(control.KindSubscribe, []byte("bb"))
	buf := append(append([]byte(nil), a...), b...)

	var count int
	remaining := drainRecords(buf, func([]byte) { count++ })
	if count != 2 {
		t.Fatalf("want 2 records drained, got %d", count)
	}
	if len(remaining) != 0 {
		t.Fatalf("want empty remainder, got %d bytes", len(remaining))
	}
}

func TestDrainRecords_IncompleteTailIsPreserved(t *testing.T) {
	full := control.EncodeRecord(control.KindPayload, []byte("complete"))
	partial := control.EncodeRecord(control.KindPayload, []byte("split-across-frames"))
	buf := append(append([]byte(nil), full...), partial[:len(partial)-3]...)

	var count int
	remaining := drainRecords(buf, func([]byte) { count++ })
	if count != 1 {
		t.Fatalf("want only the complete record drained, got %d", count)
	}
	if len(remaining) != len(partial)-3 {
		t.Fatalf("want the incomplete tail preserved untouched, got %d bytes want %d", len(remaining), len(partial)-3)
	}

	// Simulate the rest of the record arriving in a later WS frame.
	remaining = drainRecords(append(remaining, partial[len(partial)-3:]...), func([]byte) { count++ })
	if count != 2 {
		t.Fatalf("want the completed record drained after the rest arrives, got %d", count)
	}
	if len(remaining) != 0 {
		t.Fatalf("want empty remainder after full record completes, got %d bytes", len(remaining))
	}
}

func TestDrainRecords_EmptyBufferReturnsEmpty(t *testing.T) {
	remaining := drainRecords(nil, func([]byte) { t.Fatal("handle should not be called") })
	if len(remaining) != 0 {
		t.Fatalf("want empty remainder, got %d bytes", len(remaining))
	}
}
