package spotify

import (
	"encoding/binary"
	"testing"
)

func TestAudioKeyMux_HandleOKDeliversKey(t *testing.T) {
	client, _, closeFn := pairedFrameIOs(t)
	defer closeFn()

	mux := newAudioKeyMux(client)
	ch := make(chan audioKeyResult, 1)
	mux.mu.Lock()
	mux.pend[3] = ch
	mux.mu.Unlock()

	payload := make([]byte, 20)
	binary.BigEndian.PutUint32(payload[0:4], 3)
	key := []byte("0123456789abcdef")
	copy(payload[4:], key)

	if err := mux.HandleOK(payload); err != nil {
		t.Fatalf("HandleOK: %v", err)
	}

	select {
	case res := <-ch:
		if res.Failed || string(res.Key) != string(key) {
			t.Fatalf("want key %q delivered, got %+v", key, res)
		}
	default:
		t.Fatal("want HandleOK to deliver synchronously")
	}
}

func TestAudioKeyMux_HandleFailDeliversFailure(t *testing.T) {
	client, _, closeFn := pairedFrameIOs(t)
	defer closeFn()

	mux := newAudioKeyMux(client)
	ch := make(chan audioKeyResult, 1)
	mux.mu.Lock()
	mux.pend[9] = ch
	mux.mu.Unlock()

	payload := make([]byte, 6)
	binary.BigEndian.PutUint32(payload[0:4], 9)

	if err := mux.HandleFail(payload); err != nil {
		t.Fatalf("HandleFail: %v", err)
	}

	select {
	case res := <-ch:
		if !res.Failed {
			t.Fatal("want Failed=true")
		}
	default:
		t.Fatal("want HandleFail to deliver synchronously")
	}
}

func TestAudioKeyMux_UnknownSeqIsIgnored(t *testing.T) {
	client, _, closeFn := pairedFrameIOs(t)
	defer closeFn()

	mux := newAudioKeyMux(client)
	payload := make([]byte, 20)
	binary.BigEndian.PutUint32(payload[0:4], 404)
	if err := mux.HandleOK(payload); err != nil {
		t.Fatalf("HandleOK must not error on an unknown seq: %v", err)
	}
}

func TestAudioKeyMux_AbortFailsAllPending(t *testing.T) {
	client, _, closeFn := pairedFrameIOs(t)
	defer closeFn()

	mux := newAudioKeyMux(client)
	ch := make(chan audioKeyResult, 1)
	mux.mu.Lock()
	mux.pend[1] = ch
	mux.mu.Unlock()

	mux.Abort()

	select {
	case res := <-ch:
		if !res.Failed {
			t.Fatal("want Abort to fail pending requests")
		}
	default:
		t.Fatal("want Abort to deliver synchronously")
	}
}
