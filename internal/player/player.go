// Package player implements the per-provider player task (spec §4.7,
// C8): it owns a track loader, the active stream-id, and a position
// snapshot, bridging loader output into internal/sink and reacting to
// the sink's Playback/Paused/Stopped state callback.
package player

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tobiasguyer/streamcore32/internal/loader"
	"github.com/tobiasguyer/streamcore32/internal/loader/probe"
	"github.com/tobiasguyer/streamcore32/internal/model"
	"github.com/tobiasguyer/streamcore32/internal/sink"
)

const (
	heartbeatPeriod = 10 * time.Second
	ringCapacity    = 64 * 1024
	feedChunk       = loader.Pull
)

// Telemetry receives the track-level events the player posts (spec
// §4.7/§4.10 C11); internal/telemetry implements this against the real
// event/JSON envelope.
type Telemetry interface {
	TrackStarted(ref model.TrackRef)
	TrackEnded(ref model.TrackRef, playedForS float64)
	EndOfInterval(ref model.TrackRef, playedForS float64)
}

// Player bridges one provider's track queue into the shared sink. The
// caller wires Start/Stop/Restart/SetVolume as the queue reducer's hooks
// (see internal/queue.Reducer).
type Player struct {
	Sink      *sink.Sink
	NewLoader func() *loader.Loader
	NextTrack func() (model.TrackRef, model.FormatTier, bool)
	Telemetry Telemetry
	Heartbeat func() // pushes current renderer state to the peer

	log *slog.Logger

	streamSeq atomic.Uint32

	mu          sync.Mutex
	running     bool
	current     *model.QueuedTrack
	streamID    uint32
	posValueMs  int64
	posAnchorMs int64
	paused      bool

	stopCh   chan struct{}
	hbStopCh chan struct{}
}

// New constructs a Player bound to s, using log for diagnostics.
func New(s *sink.Sink, log *slog.Logger) *Player {
	p := &Player{Sink: s, log: log}
	s.OnStateChange = p.onSinkState
	return p
}

// Start begins loading and feeding the next track from NextTrack (spec
// §4.7 "on track advance"). A no-op if already running or no track is
// available.
func (p *Player) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ref, tier, ok := p.nextTrackLocked()
	if !ok {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	track := model.NewQueuedTrack(ref, tier)
	p.current = track
	streamID := p.streamSeq.Add(1)
	p.streamID = streamID
	p.posValueMs, p.posAnchorMs = 0, nowMs()
	p.paused = false
	p.mu.Unlock()

	go p.runTrack(track, streamID, p.stopCh)
}

func (p *Player) nextTrackLocked() (model.TrackRef, model.FormatTier, bool) {
	if p.NextTrack == nil {
		return model.TrackRef{}, model.FormatHiRes, false
	}
	return p.NextTrack()
}

// Stop halts playback and tears down the current loader/heartbeat.
func (p *Player) Stop() {
	p.mu.Lock()
	running := p.running
	stopCh := p.stopCh
	p.running = false
	p.mu.Unlock()
	if !running {
		return
	}
	close(stopCh)
	p.Sink.StopFeed()
	p.stopHeartbeat()
}

// Restart reloads the current track position from scratch, used when
// the queue's track list was replaced out from under an active player
// (spec §4.5 QueueTracksLoaded "if a player is running, flag restart").
func (p *Player) Restart() {
	p.Stop()
	p.Start()
}

// SetVolume applies a linear 0..100 volume to the sink.
func (p *Player) SetVolume(linear int) {
	p.Sink.SetVolumeLinear(linear)
}

// RequestSeek arms a pending seek on the current track (spec §4.7 "on an
// externally signaled seek").
func (p *Player) RequestSeek(posMs int64) {
	p.mu.Lock()
	track := p.current
	p.mu.Unlock()
	if track == nil {
		return
	}
	track.Seek.Request(posMs)
}

// PositionMS returns the current playback position, accounting for
// elapsed wall-clock time unless the stream is currently paused (spec
// §4.7 "Paused -> freeze position").
func (p *Player) PositionMS() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return p.posValueMs
	}
	return p.posValueMs + (nowMs() - p.posAnchorMs)
}

func nowMs() int64 { return time.Now().UnixMilli() }

func (p *Player) runTrack(track *model.QueuedTrack, streamID uint32, stop <-chan struct{}) {
	ld := p.NewLoader()

	if err := ld.Load(track); err != nil {
		if p.log != nil {
			p.log.Warn("player: track load failed", "uri", track.Ref.URI, "error", err)
		}
		p.advanceAfterFailure()
		return
	}

	family := sink.FamilyDefault
	if ld.Family() == probe.KindFLAC {
		family = sink.FamilyFLAC
	}
	buf := model.NewStreamBuffer(streamID, ringCapacity)
	buf.Source = p
	p.Sink.NewStream(buf, family)

	if header := ld.Header(); len(header) > 0 {
		p.Sink.FeedData(streamID, header, false)
	}

	p.feedLoop(track, ld, streamID, buf, stop)
}

// feedLoop pulls decoded bytes from the loader and pushes them into the
// sink, honoring the Pull/Headroom backpressure rule and servicing
// pending seeks (spec §4.6 "Backpressure", §4.7 seek handling).
func (p *Player) feedLoop(track *model.QueuedTrack, ld *loader.Loader, streamID uint32, buf *model.StreamBuffer, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			ld.Close()
			return
		default:
		}

		if posMs, ok := track.Seek.TakeIfPending(); ok {
			p.handleSeek(track, ld, posMs)
			continue
		}

		free := p.Sink.Free(streamID) - loader.Headroom
		if free <= 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		want := free
		if want > feedChunk {
			want = feedChunk
		}

		chunk, err := ld.Pull(want)
		if len(chunk) > 0 {
			p.Sink.FeedData(streamID, chunk, false)
		}
		if err == nil {
			continue
		}
		if isEOF(err) {
			return
		}
		// Transient short read: reconnect from the last byte counter and
		// keep going (spec §4.6 failure classes).
		if rerr := ld.Reconnect(); rerr != nil {
			if p.log != nil {
				p.log.Warn("player: reconnect failed, abandoning track", "uri", track.Ref.URI, "error", rerr)
			}
			ld.Close()
			return
		}
	}
}

func (p *Player) handleSeek(track *model.QueuedTrack, ld *loader.Loader, posMs int64) {
	p.postEndOfInterval()
	if err := ld.Seek(posMs, int64(track.Meta.DurationMs)); err != nil {
		if p.log != nil {
			p.log.Warn("player: seek failed", "uri", track.Ref.URI, "error", err)
		}
		return
	}
	p.mu.Lock()
	p.posValueMs = posMs
	p.posAnchorMs = nowMs()
	p.mu.Unlock()
}

func (p *Player) postEndOfInterval() {
	if p.Telemetry == nil {
		return
	}
	p.mu.Lock()
	track := p.current
	p.mu.Unlock()
	playedS := float64(p.PositionMS()) / 1000
	if track != nil {
		p.Telemetry.EndOfInterval(track.Ref, playedS)
	}
}

// onSinkState is wired as the sink's OnStateChange callback (spec §4.7
// "on the sink's state callback").
func (p *Player) onSinkState(streamID uint32, state model.BufferState, source any) {
	owner, ok := source.(*Player)
	if !ok || owner != p {
		return
	}
	p.mu.Lock()
	if streamID != p.streamID {
		p.mu.Unlock()
		return
	}
	track := p.current
	p.mu.Unlock()

	switch state {
	case model.Playback:
		p.mu.Lock()
		p.paused = false
		p.posAnchorMs = nowMs()
		p.mu.Unlock()
		p.startHeartbeat()
		if p.Telemetry != nil && track != nil {
			p.Telemetry.TrackStarted(track.Ref)
		}

	case model.PlaybackPaused:
		p.mu.Lock()
		p.posValueMs += nowMs() - p.posAnchorMs
		p.paused = true
		p.mu.Unlock()

	case model.Stopped:
		playedS := float64(p.PositionMS()) / 1000
		p.stopHeartbeat()
		if p.Telemetry != nil && track != nil {
			p.Telemetry.TrackEnded(track.Ref, playedS)
		}
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		// Advance unless repeat-one; NextTrack is expected to re-yield the
		// same ref when LoopOne is active (spec §4.7).
		p.Start()
	}
}

func (p *Player) startHeartbeat() {
	p.mu.Lock()
	if p.hbStopCh != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.hbStopCh = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(heartbeatPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if p.Heartbeat != nil {
					p.Heartbeat()
				}
			}
		}
	}()
}

func (p *Player) stopHeartbeat() {
	p.mu.Lock()
	stop := p.hbStopCh
	p.hbStopCh = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (p *Player) advanceAfterFailure() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.Start()
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
