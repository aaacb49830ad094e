// Package probe implements container probing for the track loader's
// "Probe" step (spec §4.6 step 4): locating the first usable audio frame
// in a small byte window and, for headerless FLAC, synthesizing a
// STREAMINFO block so the decoder sees a well-formed stream.
package probe

import (
	"bytes"
	"errors"

	"github.com/tobiasguyer/streamcore32/internal/model"
)

// spotifyPrefixLen is the byte count the provider-A CDN prepends before
// raw OGG content begins.
const spotifyPrefixLen = 167

// oggMagic is the OGG capture pattern the probe looks for immediately
// after discarding the Spotify-format prefix.
var oggMagic = []byte("OggS")

// ContainerKind distinguishes the two container families the loader
// probes for, which the sink needs to pick the right end-fill-byte count
// (spec §4.1 "FLAC family: 12288; others: 2050").
type ContainerKind uint8

const (
	KindOGG ContainerKind = iota
	KindFLAC
)

// Result is what the probe step hands to the stream step: the synthetic
// or copied header to prepend, the byte offset of the first raw frame the
// caller should start reading from (base_offset), and whatever container
// geometry could be determined up front.
type Result struct {
	Header     []byte
	BaseOffset int64
	Meta       model.TrackMeta
}

var errNoSync = errors.New("probe: no frame sync found in probe window")

// ProbeOGG implements the provider-A path: the CDN prefixes every OGG
// response with a fixed 167-byte Spotify header; everything after it is
// raw OGG handed straight to the decoder, so base_offset is simply the
// prefix length and no header synthesis is needed.
func ProbeOGG(window []byte) (Result, error) {
	if len(window) < spotifyPrefixLen+len(oggMagic) {
		return Result{}, errors.New("probe: window too short for ogg prefix")
	}
	body := window[spotifyPrefixLen:]
	if !bytes.HasPrefix(body, oggMagic) {
		return Result{}, errors.New("probe: no OggS capture pattern after Spotify prefix")
	}
	return Result{BaseOffset: spotifyPrefixLen}, nil
}
