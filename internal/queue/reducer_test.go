package queue

import (
	"testing"

	"github.com/tobiasguyer/streamcore32/internal/errors"
	"github.com/tobiasguyer/streamcore32/internal/model"
)

func track(id uint32) model.TrackRef {
	return model.TrackRef{Provider: "spotify", URI: "spotify:track:x", QueueItemID: id}
}

func newTestReducer() *Reducer {
	return New(&model.QueueState{}, "renderer-1", nil)
}

func TestReduce_QueueStateReplacesTracksAndShuffle(t *testing.T) {
	r := newTestReducer()
	err := r.Reduce(QueueState{
		Tracks:          []model.TrackRef{track(1), track(2), track(3)},
		ShuffledIndexes: []int{2, 0, 1},
		Version:         model.QueueVersion{Major: 1, Minor: 0},
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if len(r.State.Tracks) != 3 {
		t.Fatalf("want 3 tracks, got %d", len(r.State.Tracks))
	}
	if len(r.State.Shuffle) != 3 {
		t.Fatalf("want shuffle len 3, got %d", len(r.State.Shuffle))
	}
}

func TestReduce_QueueStateDropsMismatchedShuffleLength(t *testing.T) {
	r := newTestReducer()
	err := r.Reduce(QueueState{
		Tracks:          []model.TrackRef{track(1), track(2)},
		ShuffledIndexes: []int{0, 1, 2}, // wrong length for 2 tracks
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if len(r.State.Shuffle) != 0 {
		t.Fatalf("want shuffle dropped when length mismatches tracks, got %v", r.State.Shuffle)
	}
}

func TestReduce_ActiveRendererChangedStartsAndStopsPlayer(t *testing.T) {
	r := newTestReducer()
	started, stopped := 0, 0
	r.StartPlayer = func() { started++ }
	r.StopPlayer = func() { stopped++ }

	if err := r.Reduce(ActiveRendererChanged{RendererID: "renderer-1"}); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if !r.Active || started != 1 {
		t.Fatalf("want active and started once, active=%v started=%d", r.Active, started)
	}

	if err := r.Reduce(ActiveRendererChanged{RendererID: "renderer-2"}); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if r.Active || stopped != 1 {
		t.Fatalf("want inactive and stopped once, active=%v stopped=%d", r.Active, stopped)
	}
}

func TestReduce_QueueTracksInsertedShiftsShuffleAndIndex(t *testing.T) {
	r := newTestReducer()
	r.State.Tracks = []model.TrackRef{track(1), track(2), track(3)}
	r.State.Shuffle = []int{2, 0, 1}
	r.State.Index = 2

	err := r.Reduce(QueueTracksInserted{
		Tracks:      []model.TrackRef{track(10)},
		InsertAfter: 1, // after track id 1, which is at position 0
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if len(r.State.Tracks) != 4 {
		t.Fatalf("want 4 tracks, got %d", len(r.State.Tracks))
	}
	if r.State.Tracks[1].QueueItemID != 10 {
		t.Fatalf("want inserted track at position 1, got id %d", r.State.Tracks[1].QueueItemID)
	}
	if r.State.Index != 3 {
		t.Fatalf("want index shifted past insertion point, got %d", r.State.Index)
	}
	if err := r.State.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestReduce_QueueTracksAddedExtendsShuffle(t *testing.T) {
	r := newTestReducer()
	r.State.Tracks = []model.TrackRef{track(1), track(2)}
	r.State.Shuffle = []int{1, 0}

	err := r.Reduce(QueueTracksAdded{Tracks: []model.TrackRef{track(3)}})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if len(r.State.Tracks) != 3 || len(r.State.Shuffle) != 3 {
		t.Fatalf("want 3 tracks and shuffle entries, got %d/%d", len(r.State.Tracks), len(r.State.Shuffle))
	}
	if err := r.State.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestReduce_QueueTracksRemovedPastCurrentAdjustsIndex(t *testing.T) {
	r := newTestReducer()
	r.State.Tracks = []model.TrackRef{track(1), track(2), track(3), track(4)}
	r.State.Index = 3 // currently on track 4

	err := r.Reduce(QueueTracksRemoved{QueueItemIDs: []uint32{1}})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if len(r.State.Tracks) != 3 {
		t.Fatalf("want 3 tracks remaining, got %d", len(r.State.Tracks))
	}
	if r.State.Index != 2 {
		t.Fatalf("want index decremented by one removal before it, got %d", r.State.Index)
	}
	if r.State.Tracks[r.State.Index].QueueItemID != 4 {
		t.Fatalf("want current track still id 4, got %d", r.State.Tracks[r.State.Index].QueueItemID)
	}
}

func TestReduce_QueueTracksRemovedAtCurrentAdvances(t *testing.T) {
	r := newTestReducer()
	r.State.Tracks = []model.TrackRef{track(1), track(2), track(3)}
	r.State.Index = 1 // currently on track 2

	err := r.Reduce(QueueTracksRemoved{QueueItemIDs: []uint32{2}})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if len(r.State.Tracks) != 2 {
		t.Fatalf("want 2 tracks remaining, got %d", len(r.State.Tracks))
	}
	if r.State.Index != 1 {
		t.Fatalf("want index to now point at the next surviving track, got %d", r.State.Index)
	}
	if r.State.Tracks[r.State.Index].QueueItemID != 3 {
		t.Fatalf("want next track id 3 now current, got %d", r.State.Tracks[r.State.Index].QueueItemID)
	}
}

func TestReduce_QueueTracksRemovedDropsPreloadEntries(t *testing.T) {
	r := newTestReducer()
	r.State.Tracks = []model.TrackRef{track(1), track(2)}
	r.Preload[1] = struct{}{}
	r.Preload[2] = struct{}{}

	if err := r.Reduce(QueueTracksRemoved{QueueItemIDs: []uint32{1}}); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if _, ok := r.Preload[1]; ok {
		t.Fatal("want preload entry for removed id dropped")
	}
	if _, ok := r.Preload[2]; !ok {
		t.Fatal("want preload entry for surviving id kept")
	}
}

func TestReduce_SetStateTrackNotFound(t *testing.T) {
	r := newTestReducer()
	r.State.Tracks = []model.TrackRef{track(1)}

	err := r.Reduce(SetState{TargetQueueItem: 99, PositionMS: 1000})
	if !errors.IsTrackNotFound(err) {
		t.Fatalf("want TrackNotFoundError, got %v", err)
	}
}

func TestReduce_SetStateSeekWithinCurrentTrack(t *testing.T) {
	r := newTestReducer()
	r.State.Tracks = []model.TrackRef{track(1), track(2)}
	stopped := false
	r.StopPlayer = func() { stopped = true }

	err := r.Reduce(SetState{TargetQueueItem: 1, NextQueueItem: 1, PositionMS: 5000, PlayingState: PlayingPlaying})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if stopped {
		t.Fatal("want player not stopped for a pure seek")
	}
	if r.PositionMS() != 5000 {
		t.Fatalf("want position 5000, got %d", r.PositionMS())
	}
}

func TestReduce_SetStateSwitchesTrack(t *testing.T) {
	r := newTestReducer()
	r.State.Tracks = []model.TrackRef{track(1), track(2)}
	stopped, started := false, false
	r.StopPlayer = func() { stopped = true }
	r.StartPlayer = func() { started = true }

	err := r.Reduce(SetState{TargetQueueItem: 1, NextQueueItem: 2, PositionMS: 0, PlayingState: PlayingPlaying})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if !stopped || !started {
		t.Fatalf("want player stopped and restarted, stopped=%v started=%v", stopped, started)
	}
	if r.State.Index != 1 {
		t.Fatalf("want index at new track position 1, got %d", r.State.Index)
	}
}

func TestReduce_SetLoopModeTruncatesPreloadPastEnd(t *testing.T) {
	r := newTestReducer()
	r.State.Tracks = []model.TrackRef{track(1)}
	r.State.Index = 1 // past the end
	r.State.Loop = model.LoopContext
	r.State.AutoplayTracks = []model.TrackRef{track(2)}
	r.State.AutoplayLoaded = true
	r.Preload[1] = struct{}{}

	if err := r.Reduce(SetLoopMode{Mode: model.LoopOff}); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if r.State.AutoplayLoaded || r.State.AutoplayTracks != nil {
		t.Fatal("want autoplay tail truncated when context repeat turns off past end")
	}
	if len(r.Preload) != 0 {
		t.Fatal("want preload cleared")
	}
}

func TestReduce_VolumeChangedForwardsLinearVolume(t *testing.T) {
	r := newTestReducer()
	var got int = -1
	r.SetVolume = func(linear int) { got = linear }

	if err := r.Reduce(VolumeChanged{RendererID: "renderer-1", Volume: 50, MaxVolume: 100}); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if got != 50 {
		t.Fatalf("want linear 50, got %d", got)
	}
}

func TestReduce_VolumeChangedIgnoredForOtherRenderer(t *testing.T) {
	r := newTestReducer()
	called := false
	r.SetVolume = func(int) { called = true }

	if err := r.Reduce(VolumeChanged{RendererID: "renderer-2", Volume: 50, MaxVolume: 100}); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if called {
		t.Fatal("want volume not forwarded for a different renderer")
	}
}

func TestAdoptMismatch_AdoptsVersionLeavesPreloadAndRefreshesAutoplay(t *testing.T) {
	r := newTestReducer()
	r.State.Version = model.QueueVersion{Major: 3, Minor: 4}
	r.Preload[1] = struct{}{}
	stopped := false
	r.StopPlayer = func() { stopped = true }
	refreshed := false
	r.RefreshAutoplay = func() { refreshed = true }

	r.AdoptMismatch(3, 5)

	if r.State.Version != (model.QueueVersion{Major: 3, Minor: 5}) {
		t.Fatalf("want adopted version (3,5), got %+v", r.State.Version)
	}
	if _, ok := r.Preload[1]; !ok {
		t.Fatal("want preload left untouched on mismatch adoption; only a subsequent QueueState clears it")
	}
	if stopped {
		t.Fatal("want no track stopped on mismatch adoption")
	}
	if !refreshed {
		t.Fatal("want autoplay-suggestions refresh requested on mismatch adoption")
	}
}

func TestTrackNotFound_FirstOccurrenceResubmitsSecondStops(t *testing.T) {
	r := newTestReducer()
	resubmits, stops := 0, 0
	r.ResubmitTracks = func() { resubmits++ }
	r.StopPlayer = func() { stops++ }

	r.TrackNotFound(7)
	if resubmits != 1 || stops != 0 {
		t.Fatalf("want first occurrence to resubmit only, got resubmits=%d stops=%d", resubmits, stops)
	}

	r.TrackNotFound(7)
	if resubmits != 1 || stops != 1 {
		t.Fatalf("want second occurrence for same id to stop playback, got resubmits=%d stops=%d", resubmits, stops)
	}
}

func TestTrackNotFound_DistinctIDsEachGetFirstOccurrence(t *testing.T) {
	r := newTestReducer()
	resubmits := 0
	r.ResubmitTracks = func() { resubmits++ }

	r.TrackNotFound(7)
	r.TrackNotFound(8)
	if resubmits != 2 {
		t.Fatalf("want each distinct id to resubmit once, got %d", resubmits)
	}
}
