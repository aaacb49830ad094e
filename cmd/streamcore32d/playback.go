package main

import (
	"log/slog"
	"sync"

	"github.com/tobiasguyer/streamcore32/internal/lease"
	"github.com/tobiasguyer/streamcore32/internal/loader"
	"github.com/tobiasguyer/streamcore32/internal/model"
	"github.com/tobiasguyer/streamcore32/internal/player"
	"github.com/tobiasguyer/streamcore32/internal/queue"
	"github.com/tobiasguyer/streamcore32/internal/sink"
)

// playbackCell owns the single physical decoder sink shared by every
// provider runtime. Only one provider can actually be sounding at a
// time (spec §4.1's scheduler drains exactly one stream), so binding a
// fresh player.Player to the shared sink is how ownership of
// Sink.OnStateChange hands over between providers; internal/lease
// tracks the handoff for diagnostics rather than to enforce exclusion,
// since the hardware itself already enforces it.
type playbackCell struct {
	sink   *sink.Sink
	leases *lease.Registry
	log    *slog.Logger
}

func newPlaybackCell(s *sink.Sink, leases *lease.Registry, log *slog.Logger) *playbackCell {
	return &playbackCell{sink: s, leases: leases, log: log}
}

// providerRuntime bundles one provider's queue reducer, telemetry
// recorder, heartbeat hook and (while active) player, all guarded
// by mu: Reduce and the player's NextTrack closure run on different
// goroutines (the session's read loop and the player's feed goroutine)
// and both touch reducer.State.
type providerRuntime struct {
	name string
	cell *playbackCell
	log  *slog.Logger
	tel  telemetryRecorderAdapter
	hb   func()

	// NewLoader is set by the composition root once the provider's
	// session/resolver exists, since the concrete *loader.Loader needs
	// that provider's httpapi client and Resolver, neither of which
	// providerRuntime holds.
	NewLoader func() *loader.Loader

	mu      sync.Mutex
	reducer *queue.Reducer
	player  *player.Player
	lease   *lease.Lease
}

// telemetryRecorderAdapter exists only so providerRuntime doesn't need to
// import internal/telemetry twice under two names; it is the
// player.Telemetry interface (which *telemetry.Recorder satisfies),
// aliased for readability at call sites below.
type telemetryRecorderAdapter = player.Telemetry

func newProviderRuntime(name string, cell *playbackCell, reducer *queue.Reducer, tel telemetryRecorderAdapter, log *slog.Logger, heartbeat func()) *providerRuntime {
	pr := &providerRuntime{name: name, cell: cell, reducer: reducer, tel: tel, log: log, hb: heartbeat}
	reducer.StartPlayer = pr.start
	reducer.StopPlayer = pr.stop
	reducer.RestartPlayer = pr.restart
	reducer.SetVolume = pr.setVolume
	return pr
}

// reduce applies one already-decoded inbound queue message under the
// runtime's mutex, the same lock nextTrack takes to read reducer.State.
func (pr *providerRuntime) reduce(msg queue.Message) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if err := pr.reducer.Reduce(msg); err != nil {
		pr.log.Warn("queue: reduce failed", "provider", pr.name, "error", err)
	}
}

func (pr *providerRuntime) start() {
	l := pr.cell.leases.Acquire("sink", map[string]any{"provider": pr.name}, nil, nil)
	p := player.New(pr.cell.sink, pr.log.With("provider", pr.name))
	p.NewLoader = pr.NewLoader
	p.NextTrack = pr.nextTrack
	p.Telemetry = pr.tel
	p.Heartbeat = pr.hb

	pr.mu.Lock()
	pr.player = p
	pr.lease = l
	pr.mu.Unlock()

	p.Start()
}

func (pr *providerRuntime) stop() {
	pr.mu.Lock()
	p := pr.player
	l := pr.lease
	pr.player = nil
	pr.lease = nil
	pr.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	l.Release()
}

func (pr *providerRuntime) restart() {
	pr.mu.Lock()
	p := pr.player
	pr.mu.Unlock()
	if p != nil {
		p.Restart()
	}
}

func (pr *providerRuntime) setVolume(linear int) {
	pr.mu.Lock()
	p := pr.player
	pr.mu.Unlock()
	if p != nil {
		p.SetVolume(linear)
	}
}

// nextTrack implements the player-advance policy spec §4.7 leaves to
// "NextTrack is expected to re-yield the same ref when LoopOne is
// active": hold one lock across the read-modify-write of Index so a
// concurrent Reduce() never observes a half-advanced state.
func (pr *providerRuntime) nextTrack() (model.TrackRef, model.FormatTier, bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	st := pr.reducer.State
	n := len(st.Tracks)
	if n == 0 {
		return model.TrackRef{}, model.FormatHiRes, false
	}

	if st.Loop == model.LoopOne && st.Index < n {
		return st.Tracks[st.CurrentOrder(st.Index)], model.FormatHiRes, true
	}

	next := st.Index + 1
	if next < n {
		st.Index = next
		return st.Tracks[st.CurrentOrder(next)], model.FormatHiRes, true
	}

	if st.Loop == model.LoopContext {
		st.Index = 0
		return st.Tracks[st.CurrentOrder(0)], model.FormatHiRes, true
	}

	if len(st.AutoplayTracks) > 0 {
		ref := st.AutoplayTracks[0]
		st.AutoplayTracks = st.AutoplayTracks[1:]
		st.Index = n
		return ref, model.FormatHiRes, true
	}

	return model.TrackRef{}, model.FormatHiRes, false
}
