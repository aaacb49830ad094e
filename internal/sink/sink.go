package sink

import (
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/tobiasguyer/streamcore32/internal/bufpool"
	"github.com/tobiasguyer/streamcore32/internal/errors"
	"github.com/tobiasguyer/streamcore32/internal/model"
)

// ContainerFamily selects the endFillByte/endFillBytes pair a stream
// uses, per spec §4.1 ("FLAC family: 12288; others: 2050"). Folded from
// the original's duplicate vectorWrite/vector_write constants into one
// named constant per family (see DESIGN.md Open Question).
type ContainerFamily uint8

const (
	FamilyDefault ContainerFamily = iota // OGG/MP3 and anything else
	FamilyFLAC
)

const (
	fillBytesDefault = 2050
	fillBytesFLAC    = 12288
	packetSize       = 32
	busChunkSize     = 16
	cancelAwaitRetry = 1028
	reportInterval   = 32
	idleSleep        = 50 * time.Millisecond
	packetTimeout    = 30 * time.Millisecond
)

func fillBytesFor(family ContainerFamily) int {
	if family == FamilyFLAC {
		return fillBytesFLAC
	}
	return fillBytesDefault
}

// Command is an in-band op the scheduler executes between byte-chunks on
// the decoder thread (spec §4.1 "feed_command").
type Command func(*Sink)

type pendingStream struct {
	buf    *model.StreamBuffer
	family ContainerFamily
}

// Sink is the single-task audio scheduler: it owns the decoder chip bus
// and a FIFO of pending streams, delivering exactly one at a time.
type Sink struct {
	bus ChipBus
	log *slog.Logger

	// OnStateChange, if set, is invoked whenever a stream's playback
	// state reaches Playback, PlaybackPaused or Stopped (spec §4.7 "on
	// the sink's state callback"). source is the StreamBuffer.Source
	// value the owning player stashed there at NewStream time.
	OnStateChange func(streamID uint32, state model.BufferState, source any)

	mu      sync.Mutex
	streams []*pendingStream
	cmds    []Command
	volume  int // linear 0..100

	fillByte  byte
	fillBytes int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Sink bound to bus.
func New(bus ChipBus, log *slog.Logger) *Sink {
	return &Sink{
		bus:       bus,
		log:       log,
		fillBytes: fillBytesDefault,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// NewStream appends buf (tagged with its container family) to the
// pending stream queue (spec §4.1 "new_stream(buf)").
func (s *Sink) NewStream(buf *model.StreamBuffer, family ContainerFamily) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Streams with id <= current front's id are dropped at enqueue time
	// (spec §4.2).
	if len(s.streams) > 0 && buf.StreamID <= s.streams[0].buf.StreamID {
		return
	}
	s.streams = append(s.streams, &pendingStream{buf: buf, family: family})

	// A new stream with a higher id soft-stops the current front so
	// buffered audio finishes playing (spec §4.2).
	if len(s.streams) > 1 {
		front := s.streams[0].buf
		if front.State != model.SoftCancel && front.State != model.Cancel && front.State != model.CancelAwait {
			front.State = model.SoftCancel
		}
	}
}

// FeedData writes bytes into the named stream's ring, resetting it first
// if volatile (post-seek refill), and returns the count actually
// enqueued (spec §4.1 "feed_data").
func (s *Sink) FeedData(streamID uint32, data []byte, volatile bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.find(streamID)
	if ps == nil {
		return 0
	}
	if volatile && ps.buf.HeaderSize > 0 {
		ps.buf.Reset()
	}
	return ps.buf.Write(data)
}

// Free reports how many bytes may still be written into streamID's ring
// before it is full, 0 if the stream is unknown. Producers use this to
// pace feed_data against the backpressure rules (spec §4.6).
func (s *Sink) Free(streamID uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.find(streamID)
	if ps == nil {
		return 0
	}
	return ps.buf.Free()
}

func (s *Sink) find(streamID uint32) *pendingStream {
	for _, ps := range s.streams {
		if ps.buf.StreamID == streamID {
			return ps
		}
	}
	return nil
}

// StopFeed transitions the front stream to Cancel (hard stop, drops the
// buffer).
func (s *Sink) StopFeed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) > 0 {
		s.streams[0].buf.State = model.Cancel
	}
}

// SoftStopFeed transitions the front stream to SoftCancel (drains the
// buffer first).
func (s *Sink) SoftStopFeed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) > 0 {
		s.streams[0].buf.State = model.SoftCancel
	}
}

// PauseFeed freezes the front stream in place. Nothing in the scheduler
// loop services PlaybackPaused, so the stream simply stops advancing
// until ResumeFeed puts it back to Playback.
func (s *Sink) PauseFeed() {
	s.mu.Lock()
	var ps *pendingStream
	if len(s.streams) > 0 {
		ps = s.streams[0]
		ps.buf.State = model.PlaybackPaused
	}
	s.mu.Unlock()
	if ps != nil {
		s.notifyState(ps, model.PlaybackPaused)
	}
}

// ResumeFeed resumes a PlaybackPaused front stream.
func (s *Sink) ResumeFeed() {
	s.mu.Lock()
	var ps *pendingStream
	resumed := false
	if len(s.streams) > 0 {
		ps = s.streams[0]
		if ps.buf.State == model.PlaybackPaused {
			ps.buf.State = model.Playback
			resumed = true
		}
	}
	s.mu.Unlock()
	if resumed {
		s.notifyState(ps, model.Playback)
	}
}

func (s *Sink) notifyState(ps *pendingStream, state model.BufferState) {
	if s.OnStateChange != nil {
		s.OnStateChange(ps.buf.StreamID, state, ps.buf.Source)
	}
}

// FeedCommand enqueues an in-band command executed between byte-chunks
// on the decoder thread.
func (s *Sink) FeedCommand(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
}

// DeleteAllStreams cancels the active stream and drops all pending ones.
func (s *Sink) DeleteAllStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) > 0 {
		s.streams[0].buf.State = model.Cancel
		s.streams = s.streams[:1]
	}
}

// SetVolumeLinear sets the linear volume 0..100 directly.
func (s *Sink) SetVolumeLinear(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = clampVolume(v)
}

// SetVolumeLog sets the volume from a logarithmic 0..100 input, inverse
// of LinearToLog (spec §4.1 volume formulas).
func (s *Sink) SetVolumeLog(logVal int) {
	s.SetVolumeLinear(LogToLinear(logVal))
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Run executes the scheduler loop until ctx-equivalent stop is signaled
// via Stop. Intended to run in its own goroutine, the sink's dedicated
// task per spec §5.
func (s *Sink) Run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.mu.Lock()
		if len(s.streams) == 0 {
			s.mu.Unlock()
			time.Sleep(idleSleep)
			continue
		}
		front := s.streams[0]
		s.mu.Unlock()

		s.runStream(front)

		s.mu.Lock()
		if len(s.streams) > 0 && s.streams[0] == front {
			s.streams = s.streams[1:]
		}
		s.mu.Unlock()
	}
}

// Stop halts the scheduler loop and waits for it to exit.
func (s *Sink) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sink) runStream(ps *pendingStream) {
	s.fillBytes = fillBytesFor(ps.family)
	s.fillByte = 0

	if err := s.flushFillBytes(); err != nil {
		s.logErr("flush_fill_bytes", err)
	}
	_ = s.bus.ResetDecodeTime()
	ps.buf.State = model.PlaybackStart

	packetsSent := 0
	for ps.buf.State != model.Stopped {
		s.drainOneCommand()

		switch ps.buf.State {
		case model.PlaybackStart:
			ps.buf.State = model.Playback
			s.notifyState(ps, model.Playback)
			fallthrough

		case model.Playback:
			_, _, seekable, err := s.bus.AudioFormat()
			if err != nil {
				s.logErr("audio_format", err)
			} else if seekable {
				ps.buf.HeaderSize = packetSize * packetsSent
				ps.buf.State = model.PlaybackSeekable
			}
			if ps.buf.State != model.PlaybackSeekable {
				break
			}
			fallthrough

		case model.PlaybackSeekable:
			packet := bufpool.Get(packetSize)
			n := s.readPacketWithTimeout(ps.buf, packet)
			if n > 0 {
				if err := s.sendInChunks(packet[:n]); err != nil {
					s.logErr("chip_tx", err)
					ps.buf.State = model.Stopped
					s.notifyState(ps, model.Stopped)
					bufpool.Put(packet)
					return
				}
				packetsSent++
				if packetsSent%reportInterval == 0 {
					s.refreshFormat(ps)
				}
			}
			bufpool.Put(packet)

		case model.SoftCancel:
			if ps.buf.Len > 0 {
				packet := bufpool.Get(packetSize)
				n := ps.buf.Read(packet)
				if n > 0 {
					_ = s.sendInChunks(packet[:n])
				}
				bufpool.Put(packet)
			} else {
				ps.buf.State = model.Cancel
			}

		case model.Cancel:
			ps.buf.Reset()
			if err := s.bus.SetCancelBit(true); err != nil {
				s.logErr("set_cancel_bit", err)
			}
			ps.buf.State = model.CancelAwait

		case model.CancelAwait:
			s.awaitCancelClear(ps)
		}
	}
}

func (s *Sink) readPacketWithTimeout(buf *model.StreamBuffer, p []byte) int {
	deadline := time.Now().Add(packetTimeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := buf.Read(p)
		s.mu.Unlock()
		if n > 0 {
			return n
		}
		time.Sleep(time.Millisecond)
	}
	return 0
}

func (s *Sink) sendInChunks(data []byte) error {
	for len(data) > 0 {
		n := busChunkSize
		if n > len(data) {
			n = len(data)
		}
		if err := writeChunk(s.bus, data[:n]); err != nil {
			return errors.NewSinkError("chip.spi", err)
		}
		data = data[n:]
	}
	return nil
}

func (s *Sink) flushFillBytes() error {
	filler := make([]byte, busChunkSize)
	for i := range filler {
		filler[i] = s.fillByte
	}
	remaining := s.fillBytes
	for remaining > 0 {
		n := busChunkSize
		if n > remaining {
			n = remaining
		}
		if err := writeChunk(s.bus, filler[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

func (s *Sink) awaitCancelClear(ps *pendingStream) {
	filler := []byte{s.fillByte, s.fillByte}
	for i := 0; i < cancelAwaitRetry; i++ {
		set, err := s.bus.CancelBit()
		if err != nil {
			s.logErr("cancel_bit", err)
			ps.buf.State = model.Stopped
			s.notifyState(ps, model.Stopped)
			return
		}
		if !set {
			if err := s.flushFillBytes(); err != nil {
				s.logErr("flush_fill_bytes", err)
			}
			ps.buf.State = model.Stopped
			s.notifyState(ps, model.Stopped)
			return
		}
		_ = s.bus.SPI().Tx(filler, nil)
	}
	// Cancel bit stuck: hard-reset the chip and clear do-not-jump state
	// by resetting the decode-time counter (spec §4.1 CancelAwait).
	_ = s.bus.Reset().Out(gpio.Low)
	_ = s.bus.ResetDecodeTime()
	if err := s.flushFillBytes(); err != nil {
		s.logErr("flush_fill_bytes", err)
	}
	ps.buf.State = model.Stopped
	s.notifyState(ps, model.Stopped)
}

// refreshFormat re-reads the chip's decode format and re-derives
// fillByte/fillBytes from the stream's container family (spec §4.1:
// "every REPORT_INTERVAL packets, read chip audio format and update
// endFillByte/endFillBytes"), mirroring VS1053.cpp's periodic
// get_audio_format/get_stream_info call during playback.
func (s *Sink) refreshFormat(ps *pendingStream) {
	rate, channels, _, err := s.bus.AudioFormat()
	if err != nil {
		s.logErr("audio_format", err)
		return
	}
	s.fillBytes = fillBytesFor(ps.family)
	s.fillByte = 0
	if s.log != nil {
		s.log.Debug("sink audio format refreshed", "sample_rate", rate, "channels", channels, "fill_bytes", s.fillBytes)
	}
}

func (s *Sink) drainOneCommand() {
	s.mu.Lock()
	if len(s.cmds) == 0 {
		s.mu.Unlock()
		return
	}
	cmd := s.cmds[0]
	s.cmds = s.cmds[1:]
	s.mu.Unlock()
	cmd(s)
}

func (s *Sink) logErr(op string, err error) {
	if s.log != nil {
		s.log.Error("sink operation failed", "op", op, "err", err)
	}
}
