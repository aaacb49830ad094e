package qobuz

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tobiasguyer/streamcore32/internal/control"
	"github.com/tobiasguyer/streamcore32/internal/errors"
)

// PingPeriod and PongWait are the provider-B keepalive budget. writePump
// sends a Ping every PingPeriod on a fixed ticker, whether or not outbound
// records crossed the socket in that time; it does not skip a Ping after
// recent traffic. Each Pong pushes the read deadline to
// PingPeriod+PongWait ahead, so a Ping left without a Pong for about
// PongWait ends the connection.
const (
	PingPeriod = 30 * time.Second
	PongWait   = 10 * time.Second

	handshakeTimeout = 6 * time.Second
)

// subprotocol is provider-B's negotiated WS sub-protocol; a server that
// doesn't understand it gets retried with no sub-protocol at all (spec
// §4.4 "fall back to an unqualified upgrade if negotiation fails").
const subprotocol = "qws"

// Session is one provider-B WebSocket connection carrying the shared
// control-plane record stream from internal/control. Grounded on
// _examples/n0remac-robot-webrtc/websocket/websocket.go's
// ReadPump/WritePump split, adapted to the client side: this dials out
// rather than accepting an Upgrade.
type Session struct {
	conn       *websocket.Conn
	dispatcher *control.Dispatcher
	log        *slog.Logger

	sendCh  chan []byte
	closeCh chan struct{}
	closed  atomic.Bool

	lastRxMs atomic.Int64

	mu      sync.Mutex
	readBuf []byte
}

// Dial opens the provider-B WebSocket at url, negotiating subprotocol
// first and retrying with a bare upgrade on failure (spec §4.4).
// dispatcher.OnMessage is invoked for every decoded inbound message.
func Dial(url string, header http.Header, dispatcher *control.Dispatcher, log *slog.Logger) (*Session, error) {
	conn, err := dialWithFallback(url, header)
	if err != nil {
		return nil, errors.NewTransientNetworkError("qobuz.dial", err)
	}

	s := &Session{
		conn:       conn,
		dispatcher: dispatcher,
		log:        log,
		sendCh:     make(chan []byte, 32),
		closeCh:    make(chan struct{}),
	}
	s.lastRxMs.Store(time.Now().UnixMilli())

	conn.SetReadDeadline(time.Now().Add(PingPeriod + PongWait))
	conn.SetPongHandler(func(string) error {
		s.lastRxMs.Store(time.Now().UnixMilli())
		conn.SetReadDeadline(time.Now().Add(PingPeriod + PongWait))
		return nil
	})

	go s.readPump()
	go s.writePump()
	return s, nil
}

func dialWithFallback(url string, header http.Header) (*websocket.Conn, error) {
	primary := websocket.Dialer{
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := primary.Dial(url, header)
	if err == nil {
		return conn, nil
	}

	fallback := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err2 := fallback.Dial(url, header)
	if err2 != nil {
		return nil, fmt.Errorf("qobuz: dial with subprotocol: %w; dial bare: %v", err, err2)
	}
	return conn, nil
}

// SendRecord enqueues one already-framed wire record (see
// control.Dispatcher.EncodeOutbound) for transmission. While the
// 32-record send buffer is full it blocks until writePump frees a slot;
// if the session closes while it waits, it returns a transient network
// error.
func (s *Session) SendRecord(record []byte) error {
	select {
	case s.sendCh <- record:
		return nil
	case <-s.closeCh:
		return errors.NewTransientNetworkError("qobuz.send", fmt.Errorf("session closed"))
	}
}

// LastRxMs reports the last time any inbound traffic (frame or pong) was
// observed, in Unix milliseconds.
func (s *Session) LastRxMs() int64 { return s.lastRxMs.Load() }

// readPump is the session task: every binary WS message is a sequence
// of length-prefixed control records (spec §4.4 "a WS binary frame may
// contain multiple records; partials are buffered until complete"),
// appended to a running buffer so a record split across two WS frames
// still decodes cleanly.
func (s *Session) readPump() {
	defer s.teardown()
	for {
		kind, payload, err := s.conn.ReadMessage()
		if err != nil {
			if s.log != nil {
				s.log.Warn("qobuz: read error", "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		s.lastRxMs.Store(time.Now().UnixMilli())

		s.mu.Lock()
		s.readBuf = drainRecords(append(s.readBuf, payload...), s.handleRecord)
		s.mu.Unlock()
	}
}

// drainRecords splits every complete record off the front of buf,
// invoking handle for each, and returns whatever incomplete tail is left
// to be completed by a later WS frame.
func drainRecords(buf []byte, handle func([]byte)) []byte {
	for {
		_, _, consumed, err := control.DecodeRecord(buf)
		if err != nil {
			return buf
		}
		handle(buf[:consumed])
		buf = buf[consumed:]
	}
}

func (s *Session) handleRecord(record []byte) {
	if s.dispatcher == nil {
		return
	}
	if _, err := s.dispatcher.DecodeInbound(record); err != nil && s.log != nil {
		s.log.Warn("qobuz: decode inbound record", "error", err)
	}
}

// writePump drains sendCh onto the wire and drives the WS-level
// keepalive ping.
func (s *Session) writePump() {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case record, ok := <-s.sendCh:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, record); err != nil {
				if s.log != nil {
					s.log.Warn("qobuz: write error", "error", err)
				}
				s.teardown()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				s.teardown()
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) teardown() {
	if s.closed.Swap(true) {
		return
	}
	close(s.closeCh)
}

// Closed reports whether the session has torn down, either from a
// transport error or an explicit Close.
func (s *Session) Closed() bool { return s.closed.Load() }

// Close idempotently shuts down the connection.
func (s *Session) Close() {
	s.teardown()
	_ = s.conn.Close()
}
