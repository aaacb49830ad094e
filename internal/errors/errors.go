// Package errors implements the typed error-kind taxonomy from spec §7:
// fatal-to-session, fatal-to-track, transient-network, rate-limit,
// queue-version-mismatch, peer-reported-track-not-found, and sink-level
// errors. Each kind wraps an underlying cause and exposes a classifier so
// callers (session loops, the loader, the player) can branch on kind
// without string matching.
package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// kindMarker is implemented by every error kind so callers can classify
// an error chain with errors.As without naming every concrete type.
type kindMarker interface {
	error
	isStreamCoreError()
}

// FatalSessionError indicates the provider connection must close: MAC/tag
// failure, protocol decode violation, handshake rejection, or auth
// declined after retries. The session is expected to reconnect with the
// stored credential (or fail permanently if none exists).
type FatalSessionError struct {
	Op  string
	Err error
}

func (e *FatalSessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fatal session error: %s", e.Op)
	}
	return fmt.Sprintf("fatal session error: %s: %v", e.Op, e.Err)
}
func (e *FatalSessionError) Unwrap() error     { return e.Err }
func (e *FatalSessionError) isStreamCoreError() {}

// FatalTrackError indicates the current track cannot be played: metadata
// says not streamable, no format tier available, key retries exhausted,
// CDN 4xx (non-416), or container probe never found sync within the probe
// window. The track is marked FAILED and the player advances.
type FatalTrackError struct {
	Op  string
	Err error
}

func (e *FatalTrackError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fatal track error: %s", e.Op)
	}
	return fmt.Sprintf("fatal track error: %s: %v", e.Op, e.Err)
}
func (e *FatalTrackError) Unwrap() error     { return e.Err }
func (e *FatalTrackError) isStreamCoreError() {}

// TransientNetworkError indicates a short read, 5xx, or TLS EAGAIN.
// Callers retry per the backoff policy documented on the call site.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transient network error: %s", e.Op)
	}
	return fmt.Sprintf("transient network error: %s: %v", e.Op, e.Err)
}
func (e *TransientNetworkError) Unwrap() error     { return e.Err }
func (e *TransientNetworkError) isStreamCoreError() {}

// RateLimitError carries the Retry-After/X-Rate-Limit-Reset delay a caller
// should honor before retrying.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit error: %s (retry after %s)", e.Op, e.RetryAfter)
}
func (e *RateLimitError) Unwrap() error     { return e.Err }
func (e *RateLimitError) isStreamCoreError() {}

// QueueVersionMismatchError carries the peer-reported version the reducer
// should adopt before re-requesting queue state.
type QueueVersionMismatchError struct {
	Major, Minor uint32
}

func (e *QueueVersionMismatchError) Error() string {
	return fmt.Sprintf("queue version mismatch: peer reports (%d,%d)", e.Major, e.Minor)
}
func (e *QueueVersionMismatchError) isStreamCoreError() {}

// TrackNotFoundError indicates the peer reported the currently-playing
// track could not be found in its queue nor autoplay tail.
type TrackNotFoundError struct {
	QueueItemID uint32
}

func (e *TrackNotFoundError) Error() string {
	return fmt.Sprintf("track not found in queue nor autoplay: queue_item_id=%d", e.QueueItemID)
}
func (e *TrackNotFoundError) isStreamCoreError() {}

// SinkError indicates an unrecoverable decoder-chip bus failure (SPI
// transaction failure). The sink task aborts the current stream.
type SinkError struct {
	Op  string
	Err error
}

func (e *SinkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sink error: %s", e.Op)
	}
	return fmt.Sprintf("sink error: %s: %v", e.Op, e.Err)
}
func (e *SinkError) Unwrap() error     { return e.Err }
func (e *SinkError) isStreamCoreError() {}

// TimeoutError indicates an operation exceeded a deadline or idle timeout
// (WS handshake, TLS handshake, heartbeat/pong, metadata poll).
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (after %s)", e.Op, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout returns true if err is (or wraps) a TimeoutError, a context
// deadline exceeded, or any error type exposing Timeout() bool == true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// Is* classifiers let callers branch on error kind without naming the
// concrete type at every call site.
func IsFatalSession(err error) bool {
	var e *FatalSessionError
	return stdErrors.As(err, &e)
}
func IsFatalTrack(err error) bool {
	var e *FatalTrackError
	return stdErrors.As(err, &e)
}
func IsTransientNetwork(err error) bool {
	var e *TransientNetworkError
	return stdErrors.As(err, &e)
}
func IsRateLimit(err error) bool {
	var e *RateLimitError
	return stdErrors.As(err, &e)
}
func IsQueueVersionMismatch(err error) (major, minor uint32, ok bool) {
	var e *QueueVersionMismatchError
	if stdErrors.As(err, &e) {
		return e.Major, e.Minor, true
	}
	return 0, 0, false
}
func IsTrackNotFound(err error) bool {
	var e *TrackNotFoundError
	return stdErrors.As(err, &e)
}
func IsSinkError(err error) bool {
	var e *SinkError
	return stdErrors.As(err, &e)
}

// IsStreamCoreError returns true if the error chain contains any error
// kind defined by this package.
func IsStreamCoreError(err error) bool {
	if err == nil {
		return false
	}
	var km kindMarker
	return stdErrors.As(err, &km)
}

// Constructors. Encourage contextual wrapping with %w when used by callers.
func NewFatalSessionError(op string, cause error) error { return &FatalSessionError{Op: op, Err: cause} }
func NewFatalTrackError(op string, cause error) error   { return &FatalTrackError{Op: op, Err: cause} }
func NewTransientNetworkError(op string, cause error) error {
	return &TransientNetworkError{Op: op, Err: cause}
}
func NewRateLimitError(op string, retryAfter time.Duration, cause error) error {
	return &RateLimitError{Op: op, RetryAfter: retryAfter, Err: cause}
}
func NewQueueVersionMismatchError(major, minor uint32) error {
	return &QueueVersionMismatchError{Major: major, Minor: minor}
}
func NewTrackNotFoundError(queueItemID uint32) error {
	return &TrackNotFoundError{QueueItemID: queueItemID}
}
func NewSinkError(op string, cause error) error { return &SinkError{Op: op, Err: cause} }
func NewTimeoutError(op string, d time.Duration, cause error) error {
	return &TimeoutError{Op: op, Duration: d, Err: cause}
}
