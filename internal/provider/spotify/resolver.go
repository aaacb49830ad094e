package spotify

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	rerrors "github.com/tobiasguyer/streamcore32/internal/errors"
	"github.com/tobiasguyer/streamcore32/internal/httpapi"
	"github.com/tobiasguyer/streamcore32/internal/model"
)

// Session implements internal/loader.Resolver, so the Loader can drive
// a provider-A track through metadata/key/CDN resolution without
// knowing anything about mercury or the audio-key mini-protocol.

// ResolveMetadata issues a mercury GET for ref's track metadata (spec
// §4.6 step 1). ref.URI is expected to be the track gid in hex, as
// handed down by the queue/reducer layer.
func (s *Session) ResolveMetadata(ref model.TrackRef, tier model.FormatTier) (model.TrackMeta, error) {
	gid, err := hex.DecodeString(ref.URI)
	if err != nil {
		return model.TrackMeta{}, rerrors.NewFatalTrackError("spotify.resolve_metadata", fmt.Errorf("bad track gid %q: %w", ref.URI, err))
	}

	ch, err := s.mercury.Request(MercuryGet, metadataURI(gid), nil)
	if err != nil {
		return model.TrackMeta{}, rerrors.NewTransientNetworkError("spotify.resolve_metadata", err)
	}
	resp := <-ch
	if resp.Failed || len(resp.Parts) == 0 {
		return model.TrackMeta{}, rerrors.NewFatalTrackError("spotify.resolve_metadata", fmt.Errorf("mercury GET failed, status %d", resp.StatusCode))
	}

	track, err := decodeTrackMetadata(resp.Parts[0])
	if err != nil {
		return model.TrackMeta{}, rerrors.NewFatalTrackError("spotify.resolve_metadata", err)
	}
	file, ok := pickFile(track.Files, tier)
	if !ok {
		return model.TrackMeta{}, rerrors.NewFatalTrackError("spotify.resolve_metadata", fmt.Errorf("no playable file for track %x", gid))
	}

	s.mu.Lock()
	s.trackCache[ref.URI] = cachedTrack{gid: gid, file: file}
	s.mu.Unlock()

	return track.Meta, nil
}

// ResolveContentKey requests the decryption key for the file chosen
// during ResolveMetadata (spec §4.6 step 2). The loader's retry-then-
// downgrade policy drives the tier; a downgrade means ResolveMetadata
// runs again with a different tier before this is retried.
func (s *Session) ResolveContentKey(ref model.TrackRef, tier model.FormatTier) ([]byte, error) {
	s.mu.Lock()
	cached, ok := s.trackCache[ref.URI]
	s.mu.Unlock()
	if !ok {
		return nil, rerrors.NewFatalTrackError("spotify.resolve_content_key", fmt.Errorf("metadata not resolved for %q", ref.URI))
	}

	ch, err := s.audioKeys.Request(cached.gid, cached.file.FileID)
	if err != nil {
		return nil, rerrors.NewTransientNetworkError("spotify.resolve_content_key", err)
	}
	result := <-ch
	if result.Failed {
		return nil, rerrors.NewTransientNetworkError("spotify.resolve_content_key", fmt.Errorf("audio key request declined"))
	}
	return result.Key, nil
}

type storageResolveResponse struct {
	CDNURL []string `json:"cdnurl"`
}

// ResolveCDNURL calls the signed storage-resolve endpoint for the file
// chosen during ResolveMetadata (spec §4.6 step 3).
func (s *Session) ResolveCDNURL(ref model.TrackRef, tier model.FormatTier) (string, int64, error) {
	s.mu.Lock()
	cached, ok := s.trackCache[ref.URI]
	s.mu.Unlock()
	if !ok {
		return "", 0, rerrors.NewFatalTrackError("spotify.resolve_cdn_url", fmt.Errorf("metadata not resolved for %q", ref.URI))
	}

	token, err := s.cachedBearerToken()
	if err != nil {
		return "", 0, rerrors.NewFatalTrackError("spotify.resolve_cdn_url", err)
	}

	url := fmt.Sprintf("%s/storage-resolve/files/audio/interactive/%s?alt=json", s.storageURL, hex.EncodeToString(cached.file.FileID))
	resp, err := s.httpClient.GetRanged(url, -1, map[string]string{"Authorization": "Bearer " + token})
	if err != nil {
		return "", 0, rerrors.NewTransientNetworkError("spotify.resolve_cdn_url", err)
	}
	defer httpapi.DrainAndClose(resp)

	var parsed storageResolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, rerrors.NewFatalTrackError("spotify.resolve_cdn_url", err)
	}
	if len(parsed.CDNURL) == 0 {
		return "", 0, rerrors.NewFatalTrackError("spotify.resolve_cdn_url", fmt.Errorf("empty cdnurl list"))
	}
	return parsed.CDNURL[0], 0, nil
}

// cachedBearerToken returns a cached login5 bearer token, refreshing it
// once it is past half its reported lifetime (spec §4.6 step 3 "cached
// with expires_at/2").
func (s *Session) cachedBearerToken() (string, error) {
	s.mu.Lock()
	token, expiresAt := s.bearerToken, s.bearerExpiresAt
	s.mu.Unlock()

	// bearerExpiresAt holds the half-life point computed when the token
	// was fetched, not the token's own expiry.
	if token != "" && time.Now().Before(expiresAt) {
		return token, nil
	}
	if s.login5 == nil {
		return "", fmt.Errorf("spotify: no login5 collaborator configured")
	}
	newToken, newExpiry, err := s.login5()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.bearerToken, s.bearerExpiresAt = newToken, halfLife(newExpiry)
	s.mu.Unlock()
	return newToken, nil
}

func halfLife(expiresAt time.Time) time.Time {
	if expiresAt.IsZero() {
		return expiresAt
	}
	remaining := time.Until(expiresAt)
	return time.Now().Add(remaining / 2)
}
