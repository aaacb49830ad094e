package model

import (
	"fmt"
	"sync/atomic"
)

// LoadState is the queued-track lifecycle: a strict DAG with one loop-back
// on key-retry (PENDING_KEY can fall back to KEY_REQUIRED for a retry or
// a tier downgrade, see edges and Transition).
type LoadState uint8

const (
	StateQueued LoadState = iota
	StatePendingMeta
	StateKeyRequired
	StatePendingKey
	StateCDNRequired
	StateReady
	StateLoaded
	StatePlaying
	StatePaused
	StateFinished
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StateQueued:
		return "QUEUED"
	case StatePendingMeta:
		return "PENDING_META"
	case StateKeyRequired:
		return "KEY_REQUIRED"
	case StatePendingKey:
		return "PENDING_KEY"
	case StateCDNRequired:
		return "CDN_REQUIRED"
	case StateReady:
		return "READY"
	case StateLoaded:
		return "LOADED"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateFinished:
		return "FINISHED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// edges enumerates the legal forward transitions. FAILED is reachable from
// every loading state (QUEUED..READY) and is checked separately in
// Transition rather than repeated in every entry.
var edges = map[LoadState][]LoadState{
	StateQueued:      {StatePendingMeta},
	StatePendingMeta: {StateKeyRequired, StateCDNRequired},
	StateKeyRequired: {StatePendingKey},
	StatePendingKey:  {StateCDNRequired, StateKeyRequired}, // loop-back on key retry/downgrade
	StateCDNRequired: {StateReady},
	StateReady:       {StateLoaded},
	StateLoaded:      {StatePlaying},
	StatePlaying:     {StatePaused, StateFinished},
	StatePaused:      {StatePlaying, StateFinished},
}

func isLoadingState(s LoadState) bool {
	return s >= StateQueued && s <= StateReady
}

// TrackMeta holds decoded container metadata discovered during loading.
type TrackMeta struct {
	Title      string
	Artist     string
	Album      string
	ArtURL     string
	DurationMs uint32
	SampleRate uint32
	BitDepth   uint8
	Channels   uint8
	// BlockSize is the FLAC frame's block size in samples, recovered
	// from a headerless probe's frame header (fixed code or extended
	// 8/16-bit byte); zero when not a FLAC probe result.
	BlockSize uint16
}

// FormatTier is an audio-format preference ranked highest to lowest.
type FormatTier uint8

const (
	FormatHiRes FormatTier = iota
	FormatLossless
	FormatLossy
)

// SeekRequest is the atomic cross-task seek handle: the player sets it,
// the loader task consumes and clears it. Kept as its own small type
// rather than folded into QueuedTrack's other fields per the
// shared-ownership-graph design note: a field a second task polls without
// holding the owner's lock earns its own atomics.
type SeekRequest struct {
	want   atomic.Bool
	toMs   atomic.Int64
}

// Request arms a pending seek to posMs.
func (s *SeekRequest) Request(posMs int64) {
	s.toMs.Store(posMs)
	s.want.Store(true)
}

// TakeIfPending clears and returns a pending seek, if any.
func (s *SeekRequest) TakeIfPending() (posMs int64, ok bool) {
	if !s.want.CompareAndSwap(true, false) {
		return 0, false
	}
	return s.toMs.Load(), true
}

const maxKeyRetries = 10

// QueuedTrack is owned by the track loader and tracks one track through
// its loading pipeline.
type QueuedTrack struct {
	Ref          TrackRef
	State        LoadState
	Meta         TrackMeta
	ContentKey   [16]byte
	HasKey       bool
	CDNURL       string
	CDNExpiresAt int64 // unix seconds
	Tier         FormatTier
	RetryCount   int
	Seek         SeekRequest
}

// NewQueuedTrack creates a track in the initial QUEUED state.
func NewQueuedTrack(ref TrackRef, preferred FormatTier) *QueuedTrack {
	return &QueuedTrack{Ref: ref, State: StateQueued, Tier: preferred}
}

// Transition moves the track to next, rejecting edges not present in the
// state DAG. FAILED is always reachable from a loading state.
func (q *QueuedTrack) Transition(next LoadState) error {
	if next == StateFailed {
		if !isLoadingState(q.State) {
			return fmt.Errorf("model: cannot fail from state %s", q.State)
		}
		q.State = StateFailed
		return nil
	}
	for _, allowed := range edges[q.State] {
		if allowed == next {
			q.State = next
			return nil
		}
	}
	return fmt.Errorf("model: illegal transition %s -> %s", q.State, next)
}

// RegisterKeyFailure increments the retry counter and reports whether the
// caller has exhausted retries for the current tier (cap 10).
func (q *QueuedTrack) RegisterKeyFailure() (exhausted bool) {
	q.RetryCount++
	return q.RetryCount >= maxKeyRetries
}

// DowngradeTier drops to the next lower format tier and resets the retry
// counter, reporting whether a lower tier exists.
func (q *QueuedTrack) DowngradeTier() (ok bool) {
	if q.Tier >= FormatLossy {
		return false
	}
	q.Tier++
	q.RetryCount = 0
	return true
}
