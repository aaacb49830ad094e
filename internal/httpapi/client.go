// Package httpapi holds the HTTP collaborator contracts shared by both
// provider sessions and the loader: a cookie-jar-backed client, ranged
// GET helpers for the CDN byte stream, and a centralized backoff helper
// so every HTTPS-to-provider call honors Retry-After the same way (spec
// §7 design note).
package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"time"

	cookiejar "github.com/juju/persistent-cookiejar"
)

// DefaultTimeout bounds a single HTTP round trip (not the full body read,
// which the loader paces itself per spec §4.6's backpressure rules).
const DefaultTimeout = 15 * time.Second

// Client wraps *http.Client with a persistent cookie jar, used by
// provider-B's signed API (cookie-based session continuity) and by any
// CDN host that sets session-affinity cookies.
type Client struct {
	HTTP *http.Client
	jar  *cookiejar.Jar
}

// New builds a Client whose cookie jar is persisted to jarPath across
// restarts. An empty jarPath keeps the jar in memory only.
func New(jarPath string) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{Filename: jarPath})
	if err != nil {
		return nil, fmt.Errorf("httpapi: cookiejar: %w", err)
	}
	return &Client{
		HTTP: &http.Client{Timeout: DefaultTimeout, Jar: jar},
		jar:  jar,
	}, nil
}

// Save persists the cookie jar to disk, if a path was configured.
func (c *Client) Save() error {
	return c.jar.Save()
}

// GetRanged issues a GET with a `Range: bytes=start-` header, the form
// every CDN/loader read in spec §4.6 uses. A negative start omits the
// Range header (plain GET).
func (c *Client) GetRanged(url string, start int64, extraHeaders map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if start >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}
	req.Header.Set("Accept", "audio/*")
	req.Header.Set("Accept-Encoding", "identity")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	return c.HTTP.Do(req)
}

// IsResumeEOF reports whether resp is the spec §4.6 "HTTP 416 on resume"
// case, which the loader treats as clean end-of-file rather than an
// error.
func IsResumeEOF(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable
}

// DrainAndClose discards any remaining body and closes resp, the correct
// way to tear down an in-flight loader response on cancellation (spec §5
// "dropping the response object closes the socket").
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()
}
