package qobuz

import (
	"fmt"
	"net/http"

	"github.com/tobiasguyer/streamcore32/internal/httpapi"
	"github.com/tobiasguyer/streamcore32/internal/model"
)

// formatIDForTier maps a requested tier to provider-B's numeric
// format_id, per spec §4.6 step 1 (hi-res MQA/FLAG above CD quality,
// CD-quality FLAC, then lossy fallback).
func formatIDForTier(tier model.FormatTier) int {
	switch tier {
	case model.FormatHiRes:
		return 27
	case model.FormatLossless:
		return 6
	default:
		return 5
	}
}

// trackGetResponse is the subset of GET /track/get this resolver reads.
type trackGetResponse struct {
	Title               string  `json:"title"`
	Duration            int     `json:"duration"` // seconds
	MaximumBitDepth     int     `json:"maximum_bit_depth"`
	MaximumSamplingRate float64 `json:"maximum_sampling_rate"` // kHz
	Performer           struct {
		Name string `json:"name"`
	} `json:"performer"`
	Album struct {
		Title string `json:"title"`
		Image struct {
			Large string `json:"large"`
		} `json:"image"`
	} `json:"album"`
}

// trackFileURLResponse is GET /track/getFileUrl's response: a playable
// CDN URL, with provider-B serving cleartext (no content key), per spec
// §4.4 "provider B has no audio-key exchange; files are served
// cleartext over signed HTTPS URLs".
type trackFileURLResponse struct {
	URL          string `json:"url"`
	SamplingRate float64 `json:"sampling_rate"`
	BitDepth     int    `json:"bit_depth"`
}

// Resolver implements internal/loader.Resolver against provider-B's
// signed JSON API. Unlike the provider-A session, metadata and the CDN
// URL/content-key step are independent calls with no shared connection
// state to cache between them.
type Resolver struct {
	API  *APIClient
	HTTP *httpapi.Client
}

// ResolveMetadata fetches track title/artist/album/art/duration via
// GET /track/get (spec §4.6 step 1).
func (r *Resolver) ResolveMetadata(ref model.TrackRef, tier model.FormatTier) (model.TrackMeta, error) {
	var resp trackGetResponse
	if err := r.API.DecodeJSON("track", "get", trackIDParam(ref.URI), &resp); err != nil {
		return model.TrackMeta{}, fmt.Errorf("qobuz: track/get: %w", err)
	}
	return model.TrackMeta{
		Title:      resp.Title,
		Artist:     resp.Performer.Name,
		Album:      resp.Album.Title,
		ArtURL:     resp.Album.Image.Large,
		DurationMs: uint32(resp.Duration) * 1000,
		SampleRate: uint32(resp.MaximumSamplingRate * 1000),
		BitDepth:   uint8(resp.MaximumBitDepth),
		Channels:   2,
	}, nil
}

// ResolveContentKey always returns a nil key: provider-B files are
// served cleartext, so the loader's decrypt stage is a no-op for this
// provider (spec §4.6 step 2 "a nil key with a nil error for providers
// that serve cleartext").
func (r *Resolver) ResolveContentKey(ref model.TrackRef, tier model.FormatTier) ([]byte, error) {
	return nil, nil
}

// ResolveCDNURL fetches the signed playable URL via GET
// /track/getFileUrl (spec §4.6 step 1's "intent=stream" call), then
// HEADs it for Content-Length since the API itself doesn't report file
// size and the seek-offset formula needs playable_bytes.
func (r *Resolver) ResolveCDNURL(ref model.TrackRef, tier model.FormatTier) (string, int64, error) {
	var resp trackFileURLResponse
	params := fileURLParams(ref.URI, formatIDForTier(tier))
	if err := r.API.DecodeJSON("track", "getFileUrl", params, &resp); err != nil {
		return "", 0, fmt.Errorf("qobuz: track/getFileUrl: %w", err)
	}
	if resp.URL == "" {
		return "", 0, fmt.Errorf("qobuz: track/getFileUrl: empty url for track %s", ref.URI)
	}

	size, err := r.contentLength(resp.URL)
	if err != nil {
		return "", 0, fmt.Errorf("qobuz: content length: %w", err)
	}
	return resp.URL, size, nil
}

func (r *Resolver) contentLength(url string) (int64, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.HTTP.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer httpapi.DrainAndClose(resp)
	return resp.ContentLength, nil
}
