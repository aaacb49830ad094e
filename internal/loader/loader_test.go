package loader

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/tobiasguyer/streamcore32/internal/httpapi"
	"github.com/tobiasguyer/streamcore32/internal/loader/probe"
	"github.com/tobiasguyer/streamcore32/internal/model"
)

type fakeResolver struct {
	meta          model.TrackMeta
	alwaysFailKey bool
	key           []byte
	cdnURL        string
	playableBytes int64
	cdnErr        error
	metaErr       error
}

func (f *fakeResolver) ResolveMetadata(ref model.TrackRef, tier model.FormatTier) (model.TrackMeta, error) {
	return f.meta, f.metaErr
}

func (f *fakeResolver) ResolveContentKey(ref model.TrackRef, tier model.FormatTier) ([]byte, error) {
	if f.alwaysFailKey {
		return nil, fmt.Errorf("key request failed")
	}
	return f.key, nil
}

func (f *fakeResolver) ResolveCDNURL(ref model.TrackRef, tier model.FormatTier) (string, int64, error) {
	if f.cdnErr != nil {
		return "", 0, f.cdnErr
	}
	return f.cdnURL, f.playableBytes, nil
}

func flacStreamInfoBody(sampleRate uint32, channels, bits uint8) []byte {
	body := make([]byte, 34)
	var packed uint64
	packed |= uint64(sampleRate&0xfffff) << 44
	packed |= uint64((channels-1)&0x7) << 41
	packed |= uint64((bits-1)&0x1f) << 36
	binary.BigEndian.PutUint64(body[10:18], packed)
	return body
}

func testClient(t *testing.T) *httpapi.Client {
	t.Helper()
	c, err := httpapi.New(filepath.Join(t.TempDir(), "cookies.json"))
	if err != nil {
		t.Fatalf("httpapi.New: %v", err)
	}
	return c
}

func TestLoader_HappyPathFLACCleartext(t *testing.T) {
	body := flacStreamInfoBody(44100, 2, 16)
	payload := []byte("fLaC")
	payload = append(payload, 0x80, 0x00, 0x00, byte(len(body)))
	payload = append(payload, body...)
	payload = append(payload, []byte("frame-data-after-streaminfo")...)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	resolver := &fakeResolver{
		meta:          model.TrackMeta{Title: "Track", DurationMs: 200000},
		cdnURL:        srv.URL,
		playableBytes: int64(len(payload)),
	}
	l := New(testClient(t), resolver)
	track := model.NewQueuedTrack(model.TrackRef{URI: "qobuz:track:1"}, model.FormatHiRes)

	if err := l.Load(track); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if track.State != model.StateReady {
		t.Fatalf("want READY, got %s", track.State)
	}
	if l.Family() != probe.KindFLAC {
		t.Fatalf("want FLAC family")
	}
	if track.Meta.SampleRate != 44100 || track.Meta.Channels != 2 {
		t.Fatalf("want sample_rate=44100 channels=2, got %+v", track.Meta)
	}

	chunk, err := l.Pull(8)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(chunk) == 0 {
		t.Fatal("want non-empty pulled chunk")
	}
}

func TestLoader_KeyRetryExhaustionDowngradesTier(t *testing.T) {
	resolver := &fakeResolver{
		meta:          model.TrackMeta{Title: "Track"},
		alwaysFailKey: true,
	}
	l := New(testClient(t), resolver)
	track := model.NewQueuedTrack(model.TrackRef{URI: "spotify:track:1"}, model.FormatHiRes)

	err := l.Load(track)
	if err == nil {
		t.Fatal("want error since every tier exhausts retries")
	}
	if track.State != model.StateFailed {
		t.Fatalf("want FAILED after exhausting all tiers, got %s", track.State)
	}
	if track.Tier != model.FormatLossy {
		t.Fatalf("want downgraded to lowest tier before failing, got %v", track.Tier)
	}
}

func TestLoader_MetadataFailureMarksTrackFailed(t *testing.T) {
	resolver := &fakeResolver{metaErr: fmt.Errorf("not found")}
	l := New(testClient(t), resolver)
	track := model.NewQueuedTrack(model.TrackRef{URI: "spotify:track:1"}, model.FormatHiRes)

	if err := l.Load(track); err == nil {
		t.Fatal("want error on metadata failure")
	}
	if track.State != model.StateFailed {
		t.Fatalf("want FAILED, got %s", track.State)
	}
}
