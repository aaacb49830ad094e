package spotify

import (
	"net"
	"testing"

	"github.com/tobiasguyer/streamcore32/internal/crypto/shannon"
)

func pairedFrameIOs(t *testing.T) (*frameIO, *frameIO, func()) {
	t.Helper()
	a, b := net.Pipe()

	keyA := []byte("client-to-server-direction-key-a")
	keyB := []byte("server-to-client-direction-key-b")

	client := newFrameIO(a, shannon.NewKeyed(keyA), shannon.NewKeyed(keyB))
	server := newFrameIO(b, shannon.NewKeyed(keyB), shannon.NewKeyed(keyA))
	return client, server, func() { a.Close(); b.Close() }
}

func TestFrameIO_WriteReadRoundTrip(t *testing.T) {
	client, server, closeFn := pairedFrameIOs(t)
	defer closeFn()

	done := make(chan error, 1)
	go func() {
		done <- client.WriteFrame(CmdLoginRequest, []byte("hello mercury"))
	}()

	cmd, payload, err := server.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if cmd != CmdLoginRequest {
		t.Fatalf("want cmd %#x, got %#x", CmdLoginRequest, cmd)
	}
	if string(payload) != "hello mercury" {
		t.Fatalf("want payload %q, got %q", "hello mercury", payload)
	}
}

func TestFrameIO_MultipleFramesAdvanceNonceIndependently(t *testing.T) {
	client, server, closeFn := pairedFrameIOs(t)
	defer closeFn()

	msgs := []string{"one", "two", "three"}
	go func() {
		for _, m := range msgs {
			if err := client.WriteFrame(CmdPing, []byte(m)); err != nil {
				t.Errorf("WriteFrame(%q): %v", m, err)
				return
			}
		}
	}()

	for _, want := range msgs {
		_, payload, err := server.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(payload) != want {
			t.Fatalf("want %q, got %q", want, payload)
		}
	}
}

func TestFrameIO_EmptyPayloadRoundTrips(t *testing.T) {
	client, server, closeFn := pairedFrameIOs(t)
	defer closeFn()

	go func() { _ = client.WriteFrame(CmdPong, nil) }()

	cmd, payload, err := server.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if cmd != CmdPong || len(payload) != 0 {
		t.Fatalf("want cmd=%#x empty payload, got cmd=%#x payload=%v", CmdPong, cmd, payload)
	}
}
