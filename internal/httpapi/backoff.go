package httpapi

import (
	"net/http"
	"strconv"
	"time"
)

// Backoff centralizes rate-limit and Retry-After handling so every
// HTTPS-to-provider call routes through one policy (spec §7 design note).
type Backoff struct {
	// Base is used when a response carries no explicit Retry-After/
	// X-Rate-Limit-Reset hint.
	Base time.Duration
	// Max caps the computed delay.
	Max time.Duration
}

// DefaultBackoff is the policy used when callers don't need a custom one.
var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second}

// Delay computes how long to wait before retrying resp, honoring
// Retry-After (seconds or HTTP-date) and X-Rate-Limit-Reset (unix
// seconds) when present, falling back to Base otherwise.
func (b Backoff) Delay(resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				return b.clamp(time.Duration(secs) * time.Second)
			}
			if at, err := http.ParseTime(ra); err == nil {
				if d := time.Until(at); d > 0 {
					return b.clamp(d)
				}
			}
		}
		if reset := resp.Header.Get("X-Rate-Limit-Reset"); reset != "" {
			if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
				if d := time.Until(time.Unix(unix, 0)); d > 0 {
					return b.clamp(d)
				}
			}
		}
	}
	return b.clamp(b.Base)
}

func (b Backoff) clamp(d time.Duration) time.Duration {
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	if d < 0 {
		return 0
	}
	return d
}

// ShouldRetry reports whether status is the kind of transient failure
// (429 or 5xx) that a single retry per spec §4.6 ("HTTP non-2xx other ->
// 1 retry then FAILED") should be attempted for.
func ShouldRetry(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}
