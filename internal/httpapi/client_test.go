package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetRangedSetsRangeAndAudioHeaders(t *testing.T) {
	var gotRange, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := c.GetRanged(srv.URL, 4096, nil)
	if err != nil {
		t.Fatalf("GetRanged: %v", err)
	}
	defer DrainAndClose(resp)

	if gotRange != "bytes=4096-" {
		t.Fatalf("unexpected Range header: %s", gotRange)
	}
	if gotAccept != "audio/*" {
		t.Fatalf("unexpected Accept header: %s", gotAccept)
	}
}

func TestIsResumeEOFDetects416(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusRequestedRangeNotSatisfiable}
	if !IsResumeEOF(resp) {
		t.Fatalf("expected 416 recognized as resume EOF")
	}
	resp2 := &http.Response{StatusCode: http.StatusOK}
	if IsResumeEOF(resp2) {
		t.Fatalf("200 should not be classified as resume EOF")
	}
}
