package model

import "testing"

func TestTrackRefIsDelimiter(t *testing.T) {
	delim := TrackRef{URI: "spotify:track:abc…delimiter"}
	if !delim.IsDelimiter() {
		t.Fatalf("expected delimiter URI to be recognized")
	}
	normal := TrackRef{URI: "spotify:track:abc"}
	if normal.IsDelimiter() {
		t.Fatalf("normal URI misclassified as delimiter")
	}
}

func TestTrackRefIsAutoplay(t *testing.T) {
	ap := TrackRef{Provider: "autoplay"}
	if !ap.IsAutoplay() {
		t.Fatalf("expected autoplay provider recognized")
	}
	normal := TrackRef{Provider: "spotify"}
	if normal.IsAutoplay() {
		t.Fatalf("normal provider misclassified as autoplay")
	}
}
