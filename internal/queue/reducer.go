package queue

import (
	"log/slog"
	"math/rand"

	"github.com/tobiasguyer/streamcore32/internal/errors"
	"github.com/tobiasguyer/streamcore32/internal/model"
)

// Reducer owns the mutable queue/renderer state for one renderer and
// applies each inbound Message per §4.5's table, preserving the
// invariants: shuffle.size() ∈ {0, tracks.size()}, index <= tracks.size(),
// queue_version monotone non-decreasing.
type Reducer struct {
	State      *model.QueueState
	RendererID string
	Active     bool
	SessionID  string

	// Preload tracks which queue-item ids currently have a preloaded
	// decode buffer; cleared whenever QueueState replaces the track list
	// or a referenced item is removed.
	Preload map[uint32]struct{}

	RestartPlayer func()
	StartPlayer   func()
	StopPlayer    func()
	SetVolume     func(linear int)

	// RefreshAutoplay requests fresh autoplay suggestions from the peer;
	// the §4.5 error-handling response to a queue-version mismatch, once
	// the reported version has been adopted.
	RefreshAutoplay func()

	// ResubmitTracks requests the peer re-submit the currently loaded
	// tracks; the §4.5/§7 first-occurrence response to a peer-reported
	// "current track not found in queue nor autoplay" error.
	ResubmitTracks func()

	positionMS         int64
	playingState       PlayingState
	pendingAutoplayAdd bool

	// notFoundSeen tracks, per queue-item id, whether a prior
	// "track not found" report already triggered a re-submit, so a
	// second report for the same id stops playback instead of looping.
	notFoundSeen map[uint32]struct{}

	rng *rand.Rand
	log *slog.Logger
}

// PositionMS returns the last position reported by RendererStateUpdated
// or applied by SetState.
func (r *Reducer) PositionMS() int64 { return r.positionMS }

// PlayingState returns the last playing state applied by SetState.
func (r *Reducer) PlayingState() PlayingState { return r.playingState }

// New constructs a Reducer over state (never nil; caller owns it) bound
// to rendererID. Shuffle regeneration draws from a private source seeded
// with 1.
func New(state *model.QueueState, rendererID string, log *slog.Logger) *Reducer {
	if state == nil {
		state = &model.QueueState{}
	}
	return &Reducer{
		State:      state,
		RendererID: rendererID,
		Preload:    make(map[uint32]struct{}),
		rng:        rand.New(rand.NewSource(1)),
		log:        log,
	}
}

// Reduce applies msg to the held state, mutating it in place. It returns
// a TrackNotFoundError when SetState names a queue item that is not in
// the track list (state is left unchanged), and a FatalSessionError when
// the resulting state fails Validate. Version mismatches reach the
// reducer through AdoptMismatch, not through Reduce.
func (r *Reducer) Reduce(msg Message) error {
	switch v := msg.(type) {
	case SessionState:
		r.State.Version = v.QueueVersion
		r.SessionID = v.SessionID
		// Caller is expected to issue a QueueState request in response;
		// the reducer itself holds no transport.

	case ActiveRendererChanged:
		wasActive := r.Active
		r.Active = v.RendererID == r.RendererID
		if r.Active && !wasActive {
			r.callStart()
		} else if !r.Active && wasActive {
			r.callStop()
		}

	case QueueState:
		r.State.Tracks = v.Tracks
		r.State.AutoplayTracks = v.AutoplayTracks
		if len(v.ShuffledIndexes) == len(v.Tracks) {
			r.State.Shuffle = v.ShuffledIndexes
		} else {
			r.State.Shuffle = nil
		}
		r.State.Version = v.Version
		r.State.AutoplayLoaded = len(v.AutoplayTracks) > 0
		r.clearPreload()
		if r.State.Index > len(r.State.Tracks) {
			r.State.Index = len(r.State.Tracks)
		}

	case QueueTracksLoaded:
		restart := r.Active
		oldLen := len(r.State.Tracks)
		r.State.Tracks = v.Tracks
		r.State.Version = v.Version
		if len(r.State.Shuffle) != 0 && oldLen != len(v.Tracks) {
			r.State.Shuffle = r.newShuffle(len(v.Tracks))
		}
		if r.State.Index > len(r.State.Tracks) {
			r.State.Index = len(r.State.Tracks)
		}
		r.clearPreload()
		if restart {
			r.callRestart()
		}

	case QueueTracksInserted:
		if v.AutoplayReset {
			r.State.AutoplayTracks = nil
			r.State.AutoplayLoaded = false
		}
		pos := r.indexOfQueueItem(v.InsertAfter)
		if pos < 0 {
			pos = len(r.State.Tracks) - 1
		}
		insertAt := pos + 1
		tracks := make([]model.TrackRef, 0, len(r.State.Tracks)+len(v.Tracks))
		tracks = append(tracks, r.State.Tracks[:insertAt]...)
		tracks = append(tracks, v.Tracks...)
		tracks = append(tracks, r.State.Tracks[insertAt:]...)
		r.State.Tracks = tracks

		if len(r.State.Shuffle) != 0 {
			shifted := make([]int, 0, len(r.State.Shuffle)+len(v.Tracks))
			for _, p := range r.State.Shuffle {
				if p >= insertAt {
					p += len(v.Tracks)
				}
				shifted = append(shifted, p)
			}
			for i := 0; i < len(v.Tracks); i++ {
				shifted = append(shifted, insertAt+i)
			}
			r.State.Shuffle = shifted
		}
		if r.State.Index >= insertAt {
			r.State.Index += len(v.Tracks)
		}

	case QueueTracksAdded:
		if v.AutoplayReset {
			r.State.AutoplayTracks = nil
			r.State.AutoplayLoaded = false
		}
		base := len(r.State.Tracks)
		r.State.Tracks = append(r.State.Tracks, v.Tracks...)
		if len(r.State.Shuffle) != 0 {
			for i := 0; i < len(v.Tracks); i++ {
				r.State.Shuffle = append(r.State.Shuffle, base+i)
			}
		}
		for _, t := range v.Tracks {
			if t.IsAutoplay() {
				r.pendingAutoplayAdd = true
				break
			}
		}

	case QueueTracksRemoved:
		r.removeByID(v.QueueItemIDs)

	case AutoplayTracksLoaded:
		if r.State.AutoplayLoaded && r.pendingAutoplayAdd {
			// A prior autoplay add is pending: only the context uuid of
			// the already-queued tail changes.
			for i := range r.State.AutoplayTracks {
				r.State.AutoplayTracks[i].ContextUUID = v.ContextUUID
			}
		} else {
			r.State.AutoplayTracks = v.Tracks
		}
		r.State.AutoplayLoaded = true
		r.pendingAutoplayAdd = false

	case RendererStateUpdated:
		r.State.Index = v.Index
		r.positionMS = v.PositionMS

	case SetState:
		return r.applySetState(v)

	case SetLoopMode:
		wasContext := r.State.Loop == model.LoopContext
		r.State.Loop = v.Mode
		if wasContext && v.Mode != model.LoopContext && r.State.Index >= len(r.State.Tracks) {
			r.State.AutoplayTracks = nil
			r.State.AutoplayLoaded = false
			r.clearPreload()
		}

	case VolumeChanged:
		if v.RendererID != r.RendererID {
			return nil
		}
		max := v.MaxVolume
		if max <= 0 {
			max = 100
		}
		linear := v.Volume * 100 / max
		r.callVolume(linear)

	default:
		return nil
	}

	if err := r.State.Validate(); err != nil {
		return errors.NewFatalSessionError("queue.reduce", err)
	}
	return nil
}

func (r *Reducer) applySetState(v SetState) error {
	curPos := r.indexOfQueueItem(v.TargetQueueItem)
	if curPos < 0 {
		return errors.NewTrackNotFoundError(v.TargetQueueItem)
	}
	samePositionOnly := v.TargetQueueItem == v.NextQueueItem
	if samePositionOnly {
		r.positionMS = v.PositionMS
	} else {
		nextPos := r.indexOfQueueItem(v.NextQueueItem)
		if nextPos < 0 {
			return errors.NewTrackNotFoundError(v.NextQueueItem)
		}
		r.callStop()
		r.State.Index = nextPos
		r.positionMS = v.PositionMS
		r.callStart()
	}
	r.playingState = v.PlayingState
	return nil
}

// AdoptMismatch handles the §4.5/§8 scenario 4 error path: a
// peer-reported version mismatch is adopted verbatim, then an
// autoplay-suggestions refresh is requested. No track is stopped and
// preload is left untouched; only a subsequent QueueState clears it.
func (r *Reducer) AdoptMismatch(major, minor uint32) {
	r.State.Version = model.QueueVersion{Major: major, Minor: minor}
	r.callRefreshAutoplay()
}

// TrackNotFound handles the §4.5/§7 "current track not found in queue
// nor autoplay" error reported against queueItemID: the first
// occurrence per distinct id re-submits the loaded tracks; a second
// occurrence for the same id stops playback instead.
func (r *Reducer) TrackNotFound(queueItemID uint32) {
	if _, seen := r.notFoundSeen[queueItemID]; seen {
		r.callStop()
		return
	}
	if r.notFoundSeen == nil {
		r.notFoundSeen = make(map[uint32]struct{})
	}
	r.notFoundSeen[queueItemID] = struct{}{}
	r.callResubmit()
}

func (r *Reducer) indexOfQueueItem(id uint32) int {
	for i, t := range r.State.Tracks {
		if t.QueueItemID == id {
			return i
		}
	}
	return -1
}

func (r *Reducer) removeByID(ids []uint32) {
	remove := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
		delete(r.Preload, id)
	}

	removedBeforeIndex := 0
	currentRemoved := false
	currentID := uint32(0)
	if r.State.Index < len(r.State.Tracks) {
		currentID = r.State.Tracks[r.State.Index].QueueItemID
	}

	kept := r.State.Tracks[:0:0]
	oldToNew := make(map[int]int, len(r.State.Tracks))
	for i, t := range r.State.Tracks {
		if remove[t.QueueItemID] {
			if i < r.State.Index {
				removedBeforeIndex++
			}
			if t.QueueItemID == currentID {
				currentRemoved = true
			}
			continue
		}
		oldToNew[i] = len(kept)
		kept = append(kept, t)
	}
	r.State.Tracks = kept

	if len(r.State.Shuffle) != 0 {
		newShuffle := make([]int, 0, len(kept))
		for _, oldPos := range r.State.Shuffle {
			if np, ok := oldToNew[oldPos]; ok {
				newShuffle = append(newShuffle, np)
			}
		}
		r.State.Shuffle = newShuffle
	}

	r.State.Index -= removedBeforeIndex
	if r.State.Index < 0 {
		r.State.Index = 0
	}
	if currentRemoved && r.State.Index > len(r.State.Tracks) {
		r.State.Index = len(r.State.Tracks)
	}
	if r.State.Index > len(r.State.Tracks) {
		r.State.Index = len(r.State.Tracks)
	}
}

func (r *Reducer) newShuffle(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	r.rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	return perm
}

// clearPreload drops both the preloaded-decode-buffer set and the
// track-not-found dedup set: both key off queue-item id and are only
// meaningful against the track list that was current when they were
// populated, so a wholesale track-list replacement invalidates both.
func (r *Reducer) clearPreload() {
	for k := range r.Preload {
		delete(r.Preload, k)
	}
	for k := range r.notFoundSeen {
		delete(r.notFoundSeen, k)
	}
}

func (r *Reducer) callRefreshAutoplay() {
	if r.RefreshAutoplay != nil {
		r.RefreshAutoplay()
	}
}

func (r *Reducer) callResubmit() {
	if r.ResubmitTracks != nil {
		r.ResubmitTracks()
	}
}

func (r *Reducer) callStart() {
	if r.StartPlayer != nil {
		r.StartPlayer()
	}
}

func (r *Reducer) callStop() {
	if r.StopPlayer != nil {
		r.StopPlayer()
	}
}

func (r *Reducer) callRestart() {
	if r.RestartPlayer != nil {
		r.RestartPlayer()
	}
}

func (r *Reducer) callVolume(linear int) {
	if linear < 0 {
		linear = 0
	}
	if linear > 100 {
		linear = 100
	}
	if r.SetVolume != nil {
		r.SetVolume(linear)
	}
}
