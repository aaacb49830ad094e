package control

import (
	"sync/atomic"
)

// defaultDests is the fixed single-destination list spec §4.8 names
// ("[[0x02]]").
var defaultDests = [][]byte{{0x02}}

// Dispatcher serializes outbound batches and unwraps inbound ones,
// invoking onMessage for every decoded Message (spec §4.8 "Inbound: the
// reverse, with the reducer invoked for each message").
type Dispatcher struct {
	seq atomic.Uint64

	// Now supplies the batch/envelope timestamp; defaults to the wall
	// clock but a provider session wires this to its synced clock (spec
	// §5 "Time is provided by a shared synced clock").
	Now func() int64

	// OnMessage is invoked once per decoded inbound message, in batch
	// order.
	OnMessage func(Message)
}

// NewDispatcher constructs a Dispatcher. now, if nil, defaults to the
// wall clock.
func NewDispatcher(now func() int64) *Dispatcher {
	if now == nil {
		now = defaultNow
	}
	return &Dispatcher{Now: now}
}

// EncodeOutbound wraps messages into a Batch stamped with the next
// sequence number, then an envelope, then one framed PAYLOAD record,
// ready to write to the transport.
func (d *Dispatcher) EncodeOutbound(messages []Message) []byte {
	seq := d.seq.Add(1)
	now := d.Now()
	batch := Batch{
		Version:     batchProtoVersion,
		TimestampMs: now,
		Seq:         seq,
		Messages:    messages,
	}
	envBytes := EncodeEnvelope(seq, now, defaultDests, EncodeBatch(batch))
	return EncodeRecord(KindPayload, envBytes)
}

// DecodeInbound unwraps one framed record and returns the decoded Batch,
// invoking Dispatcher.OnMessage for every message it contains (in order,
// synchronously, so the reducer observes strictly sequenced mutations
// per spec §5).
func (d *Dispatcher) DecodeInbound(record []byte) (Batch, error) {
	_, payload, _, err := DecodeRecord(record)
	if err != nil {
		return Batch{}, err
	}
	env, err := DecodeEnvelope(payload)
	if err != nil {
		return Batch{}, err
	}
	batch, err := DecodeBatch(env.Body)
	if err != nil {
		return Batch{}, err
	}
	if d.OnMessage != nil {
		for _, m := range batch.Messages {
			d.OnMessage(m)
		}
	}
	return batch, nil
}
