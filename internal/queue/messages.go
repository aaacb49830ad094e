// Package queue implements the queue/renderer reducer (spec §4.5): a
// pure function over explicit state, in the shape of the teacher's
// control.Handle — a typed message is decoded upstream, then a single
// Reduce call mutates the caller-owned model.QueueState.
//
// §4.5's error-handling paragraph (a peer-reported queue-version
// mismatch, or "current track not found in queue nor autoplay") is not
// part of the Message taxonomy below: both are session-level error
// reports rather than entries in the server's typed control batch, so
// they reach Reducer.AdoptMismatch and Reducer.TrackNotFound as direct
// calls instead of flowing through Decode/Reduce.
package queue

import "github.com/tobiasguyer/streamcore32/internal/model"

// PlayingState mirrors the peer's playback state as carried by SetState.
type PlayingState uint8

const (
	PlayingStopped PlayingState = iota
	PlayingPlaying
	PlayingPaused
	PlayingBuffering
)

// Message is any of the §4.5 table's inbound control messages.
type Message interface {
	isQueueMessage()
}

// SessionState replaces the held queue version and requests current
// queue and renderer state from the peer.
type SessionState struct {
	QueueVersion model.QueueVersion
	SessionID    string
}

// ActiveRendererChanged reports which renderer the peer considers active.
type ActiveRendererChanged struct {
	RendererID string
}

// QueueState replaces the full track list and autoplay tail.
type QueueState struct {
	Tracks          []model.TrackRef
	AutoplayTracks  []model.TrackRef
	ShuffledIndexes []int
	Version         model.QueueVersion
}

// QueueTracksLoaded replaces the track list for a new context.
type QueueTracksLoaded struct {
	Tracks      []model.TrackRef
	Version     model.QueueVersion
	ContextUUID [16]byte
}

// QueueTracksInserted inserts tracks after the queue-item with id
// InsertAfter.
type QueueTracksInserted struct {
	Tracks        []model.TrackRef
	InsertAfter   uint32
	AutoplayReset bool
}

// QueueTracksAdded appends tracks to the end of the queue.
type QueueTracksAdded struct {
	Tracks        []model.TrackRef
	AutoplayReset bool
}

// QueueTracksRemoved removes tracks by queue-item id.
type QueueTracksRemoved struct {
	QueueItemIDs []uint32
}

// AutoplayTracksLoaded replaces the autoplay tail.
type AutoplayTracksLoaded struct {
	Tracks      []model.TrackRef
	ContextUUID [16]byte
}

// RendererStateUpdated syncs local index/position to the peer's view.
type RendererStateUpdated struct {
	Index      int
	PositionMS int64
}

// SetState requests a seek or a track switch plus a playing-state change.
type SetState struct {
	TargetQueueItem uint32
	NextQueueItem   uint32
	PositionMS      int64
	PlayingState    PlayingState
}

// SetLoopMode changes the repeat mode.
type SetLoopMode struct {
	Mode model.LoopMode
}

// VolumeChanged forwards a renderer volume change to the sink.
type VolumeChanged struct {
	RendererID string
	Volume     int
	MaxVolume  int
}

func (SessionState) isQueueMessage()         {}
func (ActiveRendererChanged) isQueueMessage() {}
func (QueueState) isQueueMessage()            {}
func (QueueTracksLoaded) isQueueMessage()     {}
func (QueueTracksInserted) isQueueMessage()   {}
func (QueueTracksAdded) isQueueMessage()      {}
func (QueueTracksRemoved) isQueueMessage()    {}
func (AutoplayTracksLoaded) isQueueMessage()  {}
func (RendererStateUpdated) isQueueMessage()  {}
func (SetState) isQueueMessage()              {}
func (SetLoopMode) isQueueMessage()           {}
func (VolumeChanged) isQueueMessage()         {}
