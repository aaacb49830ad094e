// Package loader implements the per-track pipeline (spec §4.6, C6):
// metadata, content key, CDN URL, container probe, then a ranged byte
// stream with backpressure, composed from internal/loader/probe and
// internal/loader/cdn. Provider-specific network calls (mercury
// metadata/audio-key for provider A, signed HTTPS for provider B) are
// injected through the Resolver interface so this package stays
// provider-agnostic.
package loader

import (
	"io"

	"github.com/tobiasguyer/streamcore32/internal/errors"
	"github.com/tobiasguyer/streamcore32/internal/httpapi"
	"github.com/tobiasguyer/streamcore32/internal/loader/cdn"
	"github.com/tobiasguyer/streamcore32/internal/loader/probe"
	"github.com/tobiasguyer/streamcore32/internal/model"
)

const (
	// Pull is the maximum number of bytes read from the CDN stream per
	// loader iteration (spec §4.6 "Backpressure").
	Pull = 4 * 1024
	// Headroom is reserved ring space the loader must never fill past,
	// leaving room for the sink to keep draining concurrently.
	Headroom = 1 * 1024
	// probeWindow is how much of the track is read up front to sniff
	// container geometry (spec §4.6 step 4, "~1 KiB").
	probeWindow = 1024
)

// Resolver supplies the provider-specific lookups the loader pipeline
// needs. A provider session (internal/provider/spotify,
// internal/provider/qobuz) implements this.
type Resolver interface {
	// ResolveMetadata fetches title/artist/album/art/duration for ref at
	// the given format tier.
	ResolveMetadata(ref model.TrackRef, tier model.FormatTier) (model.TrackMeta, error)
	// ResolveContentKey returns the track's decryption key, or a nil key
	// with a nil error for providers that serve cleartext (provider B).
	// A non-nil error signals a failed key request, subject to the
	// retry-then-downgrade policy in Load.
	ResolveContentKey(ref model.TrackRef, tier model.FormatTier) ([]byte, error)
	// ResolveCDNURL returns the signed/playable CDN URL and the number of
	// playable bytes (used by the seek-offset formula).
	ResolveCDNURL(ref model.TrackRef, tier model.FormatTier) (url string, playableBytes int64, err error)
}

// Loader drives one QueuedTrack through the pipeline and then serves its
// decoded byte stream.
type Loader struct {
	client   *httpapi.Client
	resolver Resolver

	track         *model.QueuedTrack
	stream        *cdn.Stream
	baseOffset    int64
	playableBytes int64
	family        probe.ContainerKind
	headerBytes   []byte // synthesized/copied header, served before the stream's own bytes
}

// New constructs a Loader using client for all HTTP calls and resolver
// for provider-specific lookups.
func New(client *httpapi.Client, resolver Resolver) *Loader {
	return &Loader{client: client, resolver: resolver}
}

// Load runs steps 1-4 of the pipeline for track, retrying the content
// key up to the track's cap and downgrading format tier on exhaustion
// (spec §4.6 step 2), and leaves the Loader ready to serve bytes from
// BaseOffset via Read.
func (l *Loader) Load(track *model.QueuedTrack) error {
	l.track = track

	if err := track.Transition(model.StatePendingMeta); err != nil {
		return errors.NewFatalTrackError("loader.load", err)
	}
	meta, err := l.resolver.ResolveMetadata(track.Ref, track.Tier)
	if err != nil {
		_ = track.Transition(model.StateFailed)
		return errors.NewFatalTrackError("loader.metadata", err)
	}
	track.Meta = meta

	for {
		// A tier downgrade after key-retry exhaustion restarts the
		// pipeline from the content-key step, not from metadata: the
		// track's title/artist/album don't depend on format tier, only
		// which file/CDN entry gets requested.
		key, retry, keyErr := l.resolveKey(track)
		if retry {
			continue
		}
		if keyErr != nil {
			_ = track.Transition(model.StateFailed)
			return keyErr
		}
		track.ContentKey = [16]byte{}
		track.HasKey = len(key) > 0
		if track.HasKey {
			copy(track.ContentKey[:], key)
		}

		if err := track.Transition(model.StateCDNRequired); err != nil {
			return errors.NewFatalTrackError("loader.load", err)
		}
		url, playable, err := l.resolver.ResolveCDNURL(track.Ref, track.Tier)
		if err != nil {
			_ = track.Transition(model.StateFailed)
			return errors.NewFatalTrackError("loader.cdn_url", err)
		}
		l.playableBytes = playable

		if err := l.probeAndOpen(url, key); err != nil {
			_ = track.Transition(model.StateFailed)
			return err
		}

		if err := track.Transition(model.StateReady); err != nil {
			return errors.NewFatalTrackError("loader.load", err)
		}
		return nil
	}
}

// resolveKey enforces the retry-then-downgrade policy: failures up to
// the cap stay in KEY_REQUIRED/PENDING_KEY; exhaustion downgrades the
// tier and signals the caller (via retry=true) to retry key resolution
// at the new tier.
func (l *Loader) resolveKey(track *model.QueuedTrack) (key []byte, retry bool, err error) {
	if terr := track.Transition(model.StateKeyRequired); terr != nil {
		return nil, false, errors.NewFatalTrackError("loader.load", terr)
	}
	for {
		if terr := track.Transition(model.StatePendingKey); terr != nil {
			return nil, false, errors.NewFatalTrackError("loader.load", terr)
		}
		key, keyErr := l.resolver.ResolveContentKey(track.Ref, track.Tier)
		if keyErr == nil {
			return key, false, nil
		}
		if !track.RegisterKeyFailure() {
			if terr := track.Transition(model.StateKeyRequired); terr != nil {
				return nil, false, errors.NewFatalTrackError("loader.load", terr)
			}
			continue
		}
		if !track.DowngradeTier() {
			return nil, false, errors.NewFatalTrackError("loader.key_exhausted", keyErr)
		}
		return nil, true, nil
	}
}

func (l *Loader) probeAndOpen(url string, key []byte) error {
	headers := map[string]string{"User-Agent": "streamcore32/1.0"}
	resp, err := l.client.GetRanged(url, 0, headers)
	if err != nil {
		return errors.NewTransientNetworkError("loader.probe", err)
	}
	defer httpapi.DrainAndClose(resp)

	window := make([]byte, probeWindow)
	n, _ := io.ReadFull(resp.Body, window)
	window = window[:n]

	if len(key) > 0 {
		res, err := probe.ProbeOGG(window)
		if err != nil {
			return errors.NewFatalTrackError("loader.probe", err)
		}
		l.baseOffset = res.BaseOffset
		l.headerBytes = res.Header
		l.family = probe.KindOGG
	} else {
		res, err := probe.ProbeFLAC(window)
		if err != nil {
			return errors.NewFatalTrackError("loader.probe", err)
		}
		l.baseOffset = res.BaseOffset
		l.headerBytes = res.Header
		l.family = probe.KindFLAC
		if res.Meta.SampleRate != 0 {
			l.track.Meta.SampleRate = res.Meta.SampleRate
			l.track.Meta.Channels = res.Meta.Channels
			l.track.Meta.BitDepth = res.Meta.BitDepth
		}
	}

	l.stream = cdn.New(l.client, url, l.baseOffset, key, headers)
	return l.stream.Open(0)
}

// Family reports which container family the probe detected, used by the
// sink to pick the correct end-fill-byte count.
func (l *Loader) Family() probe.ContainerKind { return l.family }

// Header returns the synthesized/copied header bytes that must be fed to
// the decoder before any stream bytes (empty for OGG, since the raw
// bytes already begin with a valid Ogg page).
func (l *Loader) Header() []byte { return l.headerBytes }

// Pull reads up to Pull bytes (or less, if n is smaller) from the
// current stream, for the caller to feed into the sink. Short reads
// that are not EOF are transient: the caller should reconnect via
// Reconnect at the stream's current byte position and keep going.
func (l *Loader) Pull(n int) ([]byte, error) {
	if n > Pull {
		n = Pull
	}
	buf := make([]byte, n)
	read, err := l.stream.Read(buf)
	return buf[:read], err
}

// Pos reports the number of bytes consumed since BaseOffset.
func (l *Loader) Pos() int64 {
	if l.stream == nil {
		return 0
	}
	return l.stream.Pos()
}

// Seek reopens the stream at the byte offset corresponding to posMs
// (spec §4.6 step 6).
func (l *Loader) Seek(posMs, durationMs int64) error {
	off := cdn.SeekByteOffset(posMs, durationMs, l.playableBytes)
	return l.stream.Reopen(off)
}

// Reconnect reopens the stream at its last known byte position, used to
// recover from a transient short read (spec §4.6 "network short read ->
// reconnect and continue from last byte counter").
func (l *Loader) Reconnect() error {
	return l.stream.Reopen(l.stream.Pos())
}

// Close tears down the in-flight CDN response, if any.
func (l *Loader) Close() {
	if l.stream != nil {
		l.stream.Close()
	}
}
