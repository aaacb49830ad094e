// Package model holds the data types shared across sessions, the queue
// reducer, the loader, and the sink: track references, queued-track state,
// stream buffers, queue/renderer state, and session identity. See
// DESIGN.md for which original type each is modeled on.
package model

import "strings"

const delimiterSuffix = "…delimiter"

// TrackRef is the unit exchanged with peers: a provider-tagged pointer at
// a track or an inert queue boundary.
type TrackRef struct {
	Provider      string
	URI           string
	UID           string
	QueueItemID   uint32
	OriginalIndex int
	ContextUUID   [16]byte
	Metadata      map[string]string
}

// IsDelimiter reports whether this reference marks an inert context
// boundary that must not be fed to the decoder.
func (t TrackRef) IsDelimiter() bool {
	return strings.HasSuffix(t.URI, delimiterSuffix)
}

// IsAutoplay reports whether this reference belongs to the autoplay tail,
// which carries no index into the owning context.
func (t TrackRef) IsAutoplay() bool {
	return t.Provider == "autoplay"
}
