// Package control implements the control-plane dispatch (spec §4.8, C9):
// outbound messages are wrapped into a versioned batch, then an envelope
// carrying the destination list, then one length-prefixed wire record;
// inbound records unwrap the same way before the reducer sees each
// message. A separate Heartbeat task drives the 30 s token-refresh /
// session-keepalive / renderer-state push cycle.
//
// The batch/envelope/record layering mirrors alxayo-rtmp-go's
// chunk+control split: wire-format concerns (this file) stay
// separate from the typed values callers actually work with (Batch,
// Message), and encode/decode are pure functions over those values.
package control

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Record kinds for the outer length-prefixed wire record (spec §6 "u8
// kind | varint len | bytes[len] records").
const (
	KindAuthenticate byte = 0x02
	KindPayload      byte = 0x03
	KindSubscribe    byte = 0x04
)

// Protobuf field numbers for the hand-rolled Payload/QConnectBatch wire
// shapes (spec §6). The exact numbering isn't specified upstream; these
// were chosen in ascending declaration order and are an Open Question
// decision recorded in DESIGN.md.
const (
	fieldPayloadMsgID   = 1
	fieldPayloadMsgDate = 2
	fieldPayloadDests   = 3
	fieldPayloadBody    = 4

	fieldBatchVersion = 1
	fieldBatchTsMs    = 2
	fieldBatchProto   = 3
	fieldBatchSeq     = 4
	fieldBatchMsgs    = 5

	fieldMessageKind    = 1
	fieldMessagePayload = 2

	batchProtoVersion = 1
)

// Message is one typed renderer/controller/server action. Decoding its
// Payload into a concrete action belongs to the reducer (C5); this
// package only moves the envelope.
type Message struct {
	Kind    uint32
	Payload []byte
}

// Batch is N messages stamped with a strictly increasing sequence number
// (spec §5 "Outbound envelope msg_id is strictly increasing per
// provider").
type Batch struct {
	Version     uint32
	TimestampMs int64
	Seq         uint64
	Messages    []Message
}

// EncodeMessage serializes one Message in QConnectBatch.messages[] wire
// shape.
func EncodeMessage(m Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMessageKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind))
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, fieldMessagePayload, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	return b
}

// DecodeMessage parses one messages[] entry.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("control: message tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldMessageKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("control: message kind: %w", protowire.ParseError(n))
			}
			m.Kind = uint32(v)
			b = b[n:]
		case fieldMessagePayload:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, fmt.Errorf("control: message payload: %w", protowire.ParseError(n))
			}
			m.Payload = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, fmt.Errorf("control: message unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

// EncodeBatch serializes a Batch in QConnectBatch wire shape.
func EncodeBatch(batch Batch) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldBatchVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(batch.Version))
	b = protowire.AppendTag(b, fieldBatchTsMs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(batch.TimestampMs))
	b = protowire.AppendTag(b, fieldBatchProto, protowire.VarintType)
	b = protowire.AppendVarint(b, batchProtoVersion)
	b = protowire.AppendTag(b, fieldBatchSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, batch.Seq)
	for _, m := range batch.Messages {
		b = protowire.AppendTag(b, fieldBatchMsgs, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeMessage(m))
	}
	return b
}

// DecodeBatch parses a QConnectBatch payload.
func DecodeBatch(b []byte) (Batch, error) {
	var batch Batch
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Batch{}, fmt.Errorf("control: batch tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldBatchVersion:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Batch{}, fmt.Errorf("control: batch version: %w", protowire.ParseError(n))
			}
			batch.Version = uint32(v)
			b = b[n:]
		case fieldBatchTsMs:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Batch{}, fmt.Errorf("control: batch ts_ms: %w", protowire.ParseError(n))
			}
			batch.TimestampMs = int64(v)
			b = b[n:]
		case fieldBatchProto:
			_, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Batch{}, fmt.Errorf("control: batch proto: %w", protowire.ParseError(n))
			}
			b = b[n:]
		case fieldBatchSeq:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Batch{}, fmt.Errorf("control: batch seq: %w", protowire.ParseError(n))
			}
			batch.Seq = v
			b = b[n:]
		case fieldBatchMsgs:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Batch{}, fmt.Errorf("control: batch messages: %w", protowire.ParseError(n))
			}
			msg, err := DecodeMessage(v)
			if err != nil {
				return Batch{}, err
			}
			batch.Messages = append(batch.Messages, msg)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Batch{}, fmt.Errorf("control: batch unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return batch, nil
}

// EncodeEnvelope wraps a serialized batch in the Payload{msg_id, msg_date,
// dests, payload} shape. dests is the destination list (spec §4.8
// "[[0x02]]").
func EncodeEnvelope(msgID uint64, msgDateMs int64, dests [][]byte, batchBytes []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPayloadMsgID, protowire.VarintType)
	b = protowire.AppendVarint(b, msgID)
	b = protowire.AppendTag(b, fieldPayloadMsgDate, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msgDateMs))
	for _, d := range dests {
		b = protowire.AppendTag(b, fieldPayloadDests, protowire.BytesType)
		b = protowire.AppendBytes(b, d)
	}
	b = protowire.AppendTag(b, fieldPayloadBody, protowire.BytesType)
	b = protowire.AppendBytes(b, batchBytes)
	return b
}

// envelope is the decoded Payload shape returned by DecodeEnvelope.
type envelope struct {
	MsgID     uint64
	MsgDateMs int64
	Dests     [][]byte
	Body      []byte
}

// DecodeEnvelope parses a Payload record back into its fields.
func DecodeEnvelope(b []byte) (envelope, error) {
	var e envelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return envelope{}, fmt.Errorf("control: envelope tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldPayloadMsgID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return envelope{}, fmt.Errorf("control: envelope msg_id: %w", protowire.ParseError(n))
			}
			e.MsgID = v
			b = b[n:]
		case fieldPayloadMsgDate:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return envelope{}, fmt.Errorf("control: envelope msg_date: %w", protowire.ParseError(n))
			}
			e.MsgDateMs = int64(v)
			b = b[n:]
		case fieldPayloadDests:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return envelope{}, fmt.Errorf("control: envelope dests: %w", protowire.ParseError(n))
			}
			e.Dests = append(e.Dests, append([]byte(nil), v...))
			b = b[n:]
		case fieldPayloadBody:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return envelope{}, fmt.Errorf("control: envelope payload: %w", protowire.ParseError(n))
			}
			e.Body = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return envelope{}, fmt.Errorf("control: envelope unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}

// EncodeRecord frames payload into one wire record: kind byte, varint
// length, payload bytes.
func EncodeRecord(kind byte, payload []byte) []byte {
	b := make([]byte, 0, 1+10+len(payload))
	b = append(b, kind)
	b = protowire.AppendVarint(b, uint64(len(payload)))
	b = append(b, payload...)
	return b
}

// DecodeRecord splits one wire record into its kind and payload, and
// reports the total number of bytes consumed (so a caller reading a
// stream of records can advance past this one).
func DecodeRecord(b []byte) (kind byte, payload []byte, consumed int, err error) {
	if len(b) < 1 {
		return 0, nil, 0, fmt.Errorf("control: record: empty input")
	}
	kind = b[0]
	length, n := protowire.ConsumeVarint(b[1:])
	if n < 0 {
		return 0, nil, 0, fmt.Errorf("control: record length: %w", protowire.ParseError(n))
	}
	start := 1 + n
	end := start + int(length)
	if end > len(b) {
		return 0, nil, 0, fmt.Errorf("control: record: declared length %d exceeds input", length)
	}
	return kind, b[start:end], end, nil
}
