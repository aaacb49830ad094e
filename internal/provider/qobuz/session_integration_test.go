package qobuz

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tobiasguyer/streamcore32/internal/control"
)

var upgrader = websocket.Upgrader{Subprotocols: []string{subprotocol}}

func TestDial_NegotiatesSubprotocolAndRoundTripsRecords(t *testing.T) {
	received := make(chan control.Message, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		dispatcher := control.NewDispatcher(func() int64 { return 1700000000000 })
		dispatcher.OnMessage = func(m control.Message) { received <- m }
		if _, err := dispatcher.DecodeInbound(payload); err != nil {
			t.Errorf("server decode: %v", err)
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	clientDispatcher := control.NewDispatcher(func() int64 { return 1700000000000 })
	sess, err := Dial(wsURL, nil, clientDispatcher, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	record := clientDispatcher.EncodeOutbound([]control.Message{{Kind: 7, Payload: []byte("hi")}})
	if err := sess.SendRecord(record); err != nil {
		t.Fatalf("SendRecord: %v", err)
	}

	select {
	case m := <-received:
		if m.Kind != 7 || string(m.Payload) != "hi" {
			t.Fatalf("want kind=7 payload=hi, got %+v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for server to receive the record")
	}
}

func TestDial_SucceedsWhenServerDoesNotSupportSubprotocol(t *testing.T) {
	bareUpgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := bareUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	sess, err := Dial(wsURL, nil, control.NewDispatcher(nil), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	sess.Close()
}
