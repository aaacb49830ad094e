// Package telemetry builds track-metrics events (spec §4.7/§4.10, C11)
// and fans their JSON envelope out to whatever observers are currently
// registered (Web UI websocket clients, log sinks, metrics collectors).
package telemetry

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tobiasguyer/streamcore32/internal/model"
)

// EventType names the three track-lifecycle events the player posts.
type EventType string

const (
	TrackStarted  EventType = "track_started"
	TrackEnded    EventType = "track_ended"
	EndOfInterval EventType = "end_of_interval"
)

// Event is the JSON envelope delivered to every observer.
type Event struct {
	Type        EventType `json:"type"`
	Provider    string    `json:"provider"`
	TrackURI    string    `json:"track_uri"`
	QueueItemID uint32    `json:"queue_item_id,omitempty"`
	PlayedForS  float64   `json:"played_for_s,omitempty"`
	TimestampMs int64     `json:"ts_ms"`
}

// Observer receives a marshaled Event. Implementations must not block the
// caller indefinitely; Recorder.emit fans out in parallel but still waits
// for every observer to return before the posting call completes (spec
// §5 "Queue mutations are serialized" mirrors this: callers must see a
// posted event as having actually reached every observer, not dropped
// silently).
type Observer interface {
	Send(event []byte) error
}

// Recorder implements internal/player.Telemetry: it builds an Event for
// each call and fans its JSON encoding out to every registered observer.
// Modeled on alxayo-rtmp-go/internal/rtmp/relay.DestinationManager's
// map-of-destinations-plus-parallel-WaitGroup-relay shape.
type Recorder struct {
	log *slog.Logger

	mu        sync.RWMutex
	observers map[string]Observer

	now func() int64
}

// New constructs a Recorder. now, if nil, defaults to the wall clock; a
// caller wires this to the session's synced clock (spec §5 "Time is
// provided by a shared synced clock").
func New(log *slog.Logger, now func() int64) *Recorder {
	if now == nil {
		now = defaultNow
	}
	return &Recorder{log: log, observers: make(map[string]Observer), now: now}
}

func defaultNow() int64 { return time.Now().UnixMilli() }

// Subscribe registers obs under id, replacing any prior observer with the
// same id.
func (r *Recorder) Subscribe(id string, obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[id] = obs
}

// Unsubscribe removes the observer registered under id, if any.
func (r *Recorder) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, id)
}

// TrackStarted posts a "track_started" event (spec §4.7 "Playback ->
// ... post track_started telemetry").
func (r *Recorder) TrackStarted(ref model.TrackRef) {
	r.emit(Event{
		Type:        TrackStarted,
		Provider:    ref.Provider,
		TrackURI:    ref.URI,
		QueueItemID: ref.QueueItemID,
		TimestampMs: r.now(),
	})
}

// TrackEnded posts a "track_ended" event with the played duration (spec
// §4.7 "Stopped -> post track_ended telemetry with played_for_s").
func (r *Recorder) TrackEnded(ref model.TrackRef, playedForS float64) {
	r.emit(Event{
		Type:        TrackEnded,
		Provider:    ref.Provider,
		TrackURI:    ref.URI,
		QueueItemID: ref.QueueItemID,
		PlayedForS:  playedForS,
		TimestampMs: r.now(),
	})
}

// EndOfInterval posts an "end_of_interval" event ahead of a seek (spec
// §4.7 "the player posts an end-of-interval metric").
func (r *Recorder) EndOfInterval(ref model.TrackRef, playedForS float64) {
	r.emit(Event{
		Type:        EndOfInterval,
		Provider:    ref.Provider,
		TrackURI:    ref.URI,
		QueueItemID: ref.QueueItemID,
		PlayedForS:  playedForS,
		TimestampMs: r.now(),
	})
}

func (r *Recorder) emit(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		if r.log != nil {
			r.log.Error("telemetry: marshal event failed", "type", ev.Type, "error", err)
		}
		return
	}

	r.mu.RLock()
	observers := make(map[string]Observer, len(r.observers))
	for id, obs := range r.observers {
		observers[id] = obs
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for id, obs := range observers {
		wg.Add(1)
		go func(id string, obs Observer) {
			defer wg.Done()
			if err := obs.Send(data); err != nil && r.log != nil {
				r.log.Warn("telemetry: observer send failed", "observer", id, "type", ev.Type, "error", err)
			}
		}(id, obs)
	}
	wg.Wait()
}
