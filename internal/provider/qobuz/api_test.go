package qobuz

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tobiasguyer/streamcore32/internal/httpapi"
)

func newTestAPIClient(t *testing.T, srv *httptest.Server) *APIClient {
	t.Helper()
	hc, err := httpapi.New("")
	if err != nil {
		t.Fatalf("httpapi.New: %v", err)
	}
	return &APIClient{
		HTTP:      hc,
		AppID:     "app-id",
		AppSecret: "app-secret",
		SessionID: "session-id",
		Base:      srv.URL,
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func TestAPIClient_Call_SetsRequiredHeadersAndSignature(t *testing.T) {
	var gotHeaders http.Header
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotQuery = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestAPIClient(t, srv)
	c.AuthHeader = func() (string, string) { return "X-User-Auth-Token", "jwt-value" }

	resp, err := c.Call("track", "get", trackIDParam("42"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	resp.Body.Close()

	if got := gotHeaders.Get("X-App-Id"); got != "app-id" {
		t.Errorf("want X-App-Id=app-id, got %q", got)
	}
	if got := gotHeaders.Get("X-Session-Id"); got != "session-id" {
		t.Errorf("want X-Session-Id=session-id, got %q", got)
	}
	if got := gotHeaders.Get("X-User-Auth-Token"); got != "jwt-value" {
		t.Errorf("want X-User-Auth-Token=jwt-value, got %q", got)
	}
	if got := gotHeaders.Get("Origin"); got == "" {
		t.Error("want non-empty Origin header")
	}
	if gotQuery["track_id"][0] != "42" {
		t.Errorf("want track_id=42, got %v", gotQuery["track_id"])
	}
	if gotQuery["request_sig"][0] == "" {
		t.Error("want non-empty request_sig")
	}
	if gotQuery["request_ts"][0] == "" {
		t.Error("want non-empty request_ts")
	}
}

func TestAPIClient_DecodeJSON_RoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title":"Test Track"}`))
	}))
	defer srv.Close()
	c := newTestAPIClient(t, srv)

	var out struct {
		Title string `json:"title"`
	}
	if err := c.DecodeJSON("track", "get", trackIDParam("42"), &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out.Title != "Test Track" {
		t.Fatalf("want title %q, got %q", "Test Track", out.Title)
	}
}

func TestAPIClient_DecodeJSON_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := newTestAPIClient(t, srv)

	var out map[string]any
	if err := c.DecodeJSON("track", "get", trackIDParam("42"), &out); err == nil {
		t.Fatal("want error for HTTP 401")
	}
}
