package spotify

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// MercuryKind is the request header kind (spec §4.3 "a header of kind
// {GET, SEND, SUB, UNSUB}"). Values are hand-assigned (no wire capture
// ships with this protocol's public description); see DESIGN.md.
type MercuryKind byte

const (
	MercuryGet   MercuryKind = 1
	MercurySend  MercuryKind = 2
	MercurySub   MercuryKind = 3
	MercuryUnsub MercuryKind = 4
)

// MercuryResponse is what a GET/SEND/SUB callback receives: either a
// successful set of parts, or a failure (spec §4.3 "{parts, header} or
// {fail}").
type MercuryResponse struct {
	StatusCode uint32
	Parts      [][]byte
	Failed     bool
}

// mercuryMux multiplexes mercury requests over one frameIO: a
// seq->callback map for request/response pairs, and a uri_prefix->
// callback map for SUB push notifications, exactly as spec §4.3
// describes.
type mercuryMux struct {
	frames *frameIO
	seq    atomic.Uint64

	mu   sync.Mutex
	pend map[uint64]chan MercuryResponse
	subs map[string]func(MercuryResponse)
}

func newMercuryMux(frames *frameIO) *mercuryMux {
	return &mercuryMux{
		frames: frames,
		pend:   make(map[uint64]chan MercuryResponse),
		subs:   make(map[string]func(MercuryResponse)),
	}
}

// encodeMercuryRequest builds: seq(8 be) | kind(1) | uri_len(2 be) |
// uri | part_count(1) | (part_len(2 be) | part)*.
func encodeMercuryRequest(seq uint64, kind MercuryKind, uri string, parts [][]byte) []byte {
	b := make([]byte, 0, 8+1+2+len(uri)+1)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	b = append(b, seqBuf[:]...)
	b = append(b, byte(kind))
	var uriLen [2]byte
	binary.BigEndian.PutUint16(uriLen[:], uint16(len(uri)))
	b = append(b, uriLen[:]...)
	b = append(b, uri...)
	b = append(b, byte(len(parts)))
	for _, p := range parts {
		var pLen [2]byte
		binary.BigEndian.PutUint16(pLen[:], uint16(len(p)))
		b = append(b, pLen[:]...)
		b = append(b, p...)
	}
	return b
}

func decodeMercuryResponse(payload []byte) (seq uint64, resp MercuryResponse, err error) {
	if len(payload) < 8+1+2 {
		return 0, MercuryResponse{}, fmt.Errorf("spotify: mercury response too short")
	}
	seq = binary.BigEndian.Uint64(payload[0:8])
	statusCode := binary.BigEndian.Uint16(payload[8:10])
	partCount := int(payload[10])
	b := payload[11:]
	parts := make([][]byte, 0, partCount)
	for i := 0; i < partCount; i++ {
		if len(b) < 2 {
			return 0, MercuryResponse{}, fmt.Errorf("spotify: mercury response truncated part %d", i)
		}
		plen := int(binary.BigEndian.Uint16(b[0:2]))
		b = b[2:]
		if len(b) < plen {
			return 0, MercuryResponse{}, fmt.Errorf("spotify: mercury response truncated part %d body", i)
		}
		parts = append(parts, append([]byte(nil), b[:plen]...))
		b = b[plen:]
	}
	resp = MercuryResponse{StatusCode: uint32(statusCode), Parts: parts, Failed: statusCode >= 300}
	return seq, resp, nil
}

// Request sends a mercury request and returns a channel that receives
// exactly one MercuryResponse once the reply (or a synthetic failure on
// session teardown) arrives.
func (m *mercuryMux) Request(kind MercuryKind, uri string, parts [][]byte) (<-chan MercuryResponse, error) {
	seq := m.seq.Add(1)
	ch := make(chan MercuryResponse, 1)

	m.mu.Lock()
	m.pend[seq] = ch
	m.mu.Unlock()

	if err := m.frames.WriteFrame(CmdMercuryReq, encodeMercuryRequest(seq, kind, uri, parts)); err != nil {
		m.mu.Lock()
		delete(m.pend, seq)
		m.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// Subscribe registers a push-notification callback for any SUB response
// whose URI starts with prefix, invoked on the session's read-loop
// goroutine (spec §4.3: "callbacks are invoked on the session task").
func (m *mercuryMux) Subscribe(prefix string, cb func(MercuryResponse)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[prefix] = cb
}

// HandleFrame dispatches one decoded mercury-kind frame to its pending
// request channel, falling back to a matching subscription.
func (m *mercuryMux) HandleFrame(payload []byte, uri string) {
	seq, resp, err := decodeMercuryResponse(payload)
	if err != nil {
		return
	}

	m.mu.Lock()
	ch, ok := m.pend[seq]
	if ok {
		delete(m.pend, seq)
	}
	var sub func(MercuryResponse)
	if !ok {
		for prefix, cb := range m.subs {
			if strings.HasPrefix(uri, prefix) {
				sub = cb
				break
			}
		}
	}
	m.mu.Unlock()

	if ok {
		ch <- resp
		return
	}
	if sub != nil {
		sub(resp)
	}
}

// Abort fails every pending request, used when the session's transport
// is torn down with requests still in flight.
func (m *mercuryMux) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for seq, ch := range m.pend {
		ch <- MercuryResponse{Failed: true}
		delete(m.pend, seq)
	}
}
