package spotify

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// audioKeyResult is the outcome of one audio-key request: the 16-byte
// content key, or a failure (spec §4.3 "the 16-byte content key or a
// failure code").
type audioKeyResult struct {
	Key    []byte
	Failed bool
}

// audioKeyMux is the audio-key mini-protocol's own seq->callback map,
// kept separate from mercuryMux since it is "a separate mini-protocol"
// per spec §4.3, not a mercury request.
type audioKeyMux struct {
	frames *frameIO
	seq    atomic.Uint32

	mu   sync.Mutex
	pend map[uint32]chan audioKeyResult
}

func newAudioKeyMux(frames *frameIO) *audioKeyMux {
	return &audioKeyMux{frames: frames, pend: make(map[uint32]chan audioKeyResult)}
}

func encodeAudioKeyRequest(trackGID, fileGID []byte, seq uint32) []byte {
	b := make([]byte, 0, len(fileGID)+len(trackGID)+4)
	b = append(b, fileGID...)
	b = append(b, trackGID...)
	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], seq)
	b = append(b, seqBuf[:]...)
	return b
}

// Request sends an audio-key request for (trackGID, fileGID) and
// returns a channel receiving exactly one result.
func (a *audioKeyMux) Request(trackGID, fileGID []byte) (<-chan audioKeyResult, error) {
	seq := a.seq.Add(1)
	ch := make(chan audioKeyResult, 1)

	a.mu.Lock()
	a.pend[seq] = ch
	a.mu.Unlock()

	if err := a.frames.WriteFrame(CmdAudioKeyReq, encodeAudioKeyRequest(trackGID, fileGID, seq)); err != nil {
		a.mu.Lock()
		delete(a.pend, seq)
		a.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// HandleOK dispatches a CmdAudioKeyRes frame: seq(4 be) | key(16).
func (a *audioKeyMux) HandleOK(payload []byte) error {
	if len(payload) < 20 {
		return fmt.Errorf("spotify: audio key response too short")
	}
	seq := binary.BigEndian.Uint32(payload[0:4])
	key := append([]byte(nil), payload[4:20]...)
	a.deliver(seq, audioKeyResult{Key: key})
	return nil
}

// HandleFail dispatches a CmdAudioKeyFail frame: seq(4 be) | code(2 be).
func (a *audioKeyMux) HandleFail(payload []byte) error {
	if len(payload) < 4 {
		return fmt.Errorf("spotify: audio key failure too short")
	}
	seq := binary.BigEndian.Uint32(payload[0:4])
	a.deliver(seq, audioKeyResult{Failed: true})
	return nil
}

func (a *audioKeyMux) deliver(seq uint32, res audioKeyResult) {
	a.mu.Lock()
	ch, ok := a.pend[seq]
	if ok {
		delete(a.pend, seq)
	}
	a.mu.Unlock()
	if ok {
		ch <- res
	}
}

// Abort fails every pending request, used on transport teardown.
func (a *audioKeyMux) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for seq, ch := range a.pend {
		ch <- audioKeyResult{Failed: true}
		delete(a.pend, seq)
	}
}
