package control

import (
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	want := Message{Kind: 7, Payload: []byte("hello")}
	got, err := DecodeMessage(EncodeMessage(want))
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.Kind != want.Kind || string(got.Payload) != string(want.Payload) {
		t.Fatalf("want %+v, got %+v", want, got)
	}
}

func TestMessageRoundTrip_EmptyPayload(t *testing.T) {
	want := Message{Kind: 3}
	got, err := DecodeMessage(EncodeMessage(want))
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.Kind != want.Kind || len(got.Payload) != 0 {
		t.Fatalf("want kind=%d empty payload, got %+v", want.Kind, got)
	}
}

func TestBatchRoundTrip(t *testing.T) {
	want := Batch{
		Version:     1,
		TimestampMs: 1690000000000,
		Seq:         42,
		Messages: []Message{
			{Kind: 1, Payload: []byte("a")},
			{Kind: 2, Payload: []byte("bb")},
		},
	}
	got, err := DecodeBatch(EncodeBatch(want))
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if got.Version != want.Version || got.TimestampMs != want.TimestampMs || got.Seq != want.Seq {
		t.Fatalf("want header %+v, got %+v", want, got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Kind != 1 || got.Messages[1].Kind != 2 {
		t.Fatalf("want 2 messages preserved in order, got %+v", got.Messages)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	batchBytes := EncodeBatch(Batch{Version: 1, Seq: 5})
	env := EncodeEnvelope(5, 1234, defaultDests, batchBytes)

	got, err := DecodeEnvelope(env)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if got.MsgID != 5 || got.MsgDateMs != 1234 {
		t.Fatalf("want msg_id=5 msg_date=1234, got %+v", got)
	}
	if len(got.Dests) != 1 || string(got.Dests[0]) != string([]byte{0x02}) {
		t.Fatalf("want single dest [0x02], got %v", got.Dests)
	}
	if string(got.Body) != string(batchBytes) {
		t.Fatal("want body to round-trip the batch bytes exactly")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	payload := []byte("the-envelope-bytes")
	rec := EncodeRecord(KindPayload, payload)

	kind, got, consumed, err := DecodeRecord(rec)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if kind != KindPayload {
		t.Fatalf("want kind=%d, got %d", KindPayload, kind)
	}
	if string(got) != string(payload) {
		t.Fatalf("want payload %q, got %q", payload, got)
	}
	if consumed != len(rec) {
		t.Fatalf("want consumed=%d (entire record), got %d", len(rec), consumed)
	}
}

func TestDecodeRecord_TruncatedLengthErrors(t *testing.T) {
	rec := EncodeRecord(KindPayload, []byte("abcdef"))
	truncated := rec[:len(rec)-3]
	if _, _, _, err := DecodeRecord(truncated); err == nil {
		t.Fatal("want error decoding a record truncated past its declared length")
	}
}

func TestDecodeRecord_EmptyInputErrors(t *testing.T) {
	if _, _, _, err := DecodeRecord(nil); err == nil {
		t.Fatal("want error decoding an empty record")
	}
}
