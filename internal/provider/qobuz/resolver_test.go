package qobuz

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tobiasguyer/streamcore32/internal/httpapi"
	"github.com/tobiasguyer/streamcore32/internal/model"
)

func TestResolver_ResolveMetadata_MapsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"title": "Brothers in Arms",
			"duration": 330,
			"maximum_bit_depth": 24,
			"maximum_sampling_rate": 96.0,
			"performer": {"name": "Dire Straits"},
			"album": {"title": "Brothers in Arms", "image": {"large": "https://img/cover.jpg"}}
		}`))
	}))
	defer srv.Close()

	r := &Resolver{API: newTestAPIClient(t, srv)}
	meta, err := r.ResolveMetadata(model.TrackRef{URI: "123"}, model.FormatHiRes)
	if err != nil {
		t.Fatalf("ResolveMetadata: %v", err)
	}
	if meta.Title != "Brothers in Arms" || meta.Artist != "Dire Straits" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if meta.DurationMs != 330000 {
		t.Fatalf("want 330000ms, got %d", meta.DurationMs)
	}
	if meta.SampleRate != 96000 {
		t.Fatalf("want 96000 Hz, got %d", meta.SampleRate)
	}
	if meta.BitDepth != 24 {
		t.Fatalf("want bit depth 24, got %d", meta.BitDepth)
	}
}

func TestResolver_ResolveContentKey_AlwaysNil(t *testing.T) {
	r := &Resolver{}
	key, err := r.ResolveContentKey(model.TrackRef{URI: "123"}, model.FormatLossless)
	if err != nil || key != nil {
		t.Fatalf("want nil, nil for cleartext provider, got %v, %v", key, err)
	}
}

func TestResolver_ResolveCDNURL_FetchesURLAndContentLength(t *testing.T) {
	var fileSrv *httptest.Server
	fileSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "123456")
		w.WriteHeader(http.StatusOK)
	}))
	defer fileSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":"` + fileSrv.URL + `"}`))
	}))
	defer apiSrv.Close()

	hc, err := httpapi.New("")
	if err != nil {
		t.Fatalf("httpapi.New: %v", err)
	}
	r := &Resolver{API: newTestAPIClient(t, apiSrv), HTTP: hc}

	url, playable, err := r.ResolveCDNURL(model.TrackRef{URI: "123"}, model.FormatLossless)
	if err != nil {
		t.Fatalf("ResolveCDNURL: %v", err)
	}
	if !strings.HasPrefix(url, fileSrv.URL) {
		t.Fatalf("want url from fileSrv, got %q", url)
	}
	if playable != 123456 {
		t.Fatalf("want playable 123456, got %d", playable)
	}
}

func TestResolver_ResolveCDNURL_EmptyURLIsError(t *testing.T) {
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":""}`))
	}))
	defer apiSrv.Close()

	hc, _ := httpapi.New("")
	r := &Resolver{API: newTestAPIClient(t, apiSrv), HTTP: hc}
	if _, _, err := r.ResolveCDNURL(model.TrackRef{URI: "123"}, model.FormatLossless); err == nil {
		t.Fatal("want error for empty url")
	}
}

func TestFormatIDForTier_MapsEachTier(t *testing.T) {
	cases := map[model.FormatTier]int{
		model.FormatHiRes:    27,
		model.FormatLossless: 6,
		model.FormatLossy:    5,
	}
	for tier, want := range cases {
		if got := formatIDForTier(tier); got != want {
			t.Errorf("tier %v: want format_id %d, got %d", tier, want, got)
		}
	}
}
