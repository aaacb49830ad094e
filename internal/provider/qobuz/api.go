// Package qobuz implements the provider-B session (spec §4.4, C4): a
// keepalive-managed secure WebSocket carrying the shared control-plane
// envelope from internal/control, a fixed-backoff reconnect supervisor
// that handles JWT refresh, a signed HTTPS API client, and a
// loader.Resolver implementation for the track loader. Grounded on
// _examples/n0remac-robot-webrtc/websocket/websocket.go's
// ReadPump/WritePump split (there server-side; here the client side of
// the same shape) and internal/control for the shared wire envelope.
package qobuz

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tobiasguyer/streamcore32/internal/crypto/signing"
	"github.com/tobiasguyer/streamcore32/internal/httpapi"
)

const apiBase = "https://www.qobuz.com/api.json/0.2"

// APIClient wraps internal/httpapi.Client with the required headers and
// request-signing rule from spec §6.
type APIClient struct {
	HTTP      *httpapi.Client
	AppID     string
	AppSecret string
	SessionID string

	// Base overrides apiBase; empty means the real Qobuz host. Tests
	// point this at an httptest server.
	Base string

	// AuthHeader returns the current value of either
	// X-User-Auth-Token or Authorization: Bearer <jwt>, and which
	// header name to use, so the supervisor's token refresh is
	// reflected on the next call without the API client knowing how
	// credentials are obtained.
	AuthHeader func() (name, value string)

	// Now returns the synced clock used for request_ts; defaults to
	// time.Now if nil.
	Now func() time.Time
}

func (c *APIClient) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Call issues a signed GET to {object}/{action} with params, per spec
// §6: `request_ts` and `request_sig` are appended, and the required
// headers (X-App-Id, X-Session-Id, Referer, Origin, auth) are set.
func (c *APIClient) Call(object, action string, params map[string]string) (*http.Response, error) {
	ts := signing.RequestTimestamp(float64(c.now().UnixNano()) / 1e9)
	sig := signing.RequestSignature(object, action, params, ts, c.AppSecret)

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("request_ts", ts)
	q.Set("request_sig", sig)

	base := c.Base
	if base == "" {
		base = apiBase
	}
	reqURL := fmt.Sprintf("%s/%s/%s?%s", base, object, action, q.Encode())
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-App-Id", c.AppID)
	req.Header.Set("X-Session-Id", c.SessionID)
	req.Header.Set("Referer", "https://play.qobuz.com/")
	req.Header.Set("Origin", "https://play.qobuz.com")
	if c.AuthHeader != nil {
		if name, value := c.AuthHeader(); name != "" {
			req.Header.Set(name, value)
		}
	}
	return c.HTTP.HTTP.Do(req)
}

// DecodeJSON runs Call and decodes the JSON response body into out,
// closing the response regardless of outcome.
func (c *APIClient) DecodeJSON(object, action string, params map[string]string, out any) error {
	resp, err := c.Call(object, action, params)
	if err != nil {
		return err
	}
	defer httpapi.DrainAndClose(resp)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qobuz: %s/%s: HTTP %d", object, action, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// formatIntentStream mirrors spec §4.6 step 1's fixed "intent=stream" query
// parameter for getFileUrl.
const formatIntentStream = "stream"

func trackIDParam(trackID string) map[string]string {
	return map[string]string{"track_id": trackID}
}

func fileURLParams(trackID string, formatID int) map[string]string {
	return map[string]string{
		"track_id":  trackID,
		"format_id": strconv.Itoa(formatID),
		"intent":    formatIntentStream,
	}
}
