package probe

import "testing"

func spotifyWindow(oggPayload []byte) []byte {
	prefix := make([]byte, spotifyPrefixLen)
	return append(prefix, oggPayload...)
}

func TestProbeOGG_DiscardsSpotifyPrefix(t *testing.T) {
	window := spotifyWindow([]byte("OggSxxxxxxxxxxxx"))
	res, err := ProbeOGG(window)
	if err != nil {
		t.Fatalf("ProbeOGG: %v", err)
	}
	if res.BaseOffset != spotifyPrefixLen {
		t.Fatalf("want base offset %d, got %d", spotifyPrefixLen, res.BaseOffset)
	}
}

func TestProbeOGG_RejectsMissingCapturePattern(t *testing.T) {
	window := spotifyWindow([]byte("NOTOGG"))
	if _, err := ProbeOGG(window); err == nil {
		t.Fatal("want error when OggS pattern absent after prefix")
	}
}

func TestProbeOGG_RejectsShortWindow(t *testing.T) {
	if _, err := ProbeOGG(make([]byte, 10)); err == nil {
		t.Fatal("want error for undersized window")
	}
}
