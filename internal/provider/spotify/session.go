package spotify

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tobiasguyer/streamcore32/internal/errors"
	"github.com/tobiasguyer/streamcore32/internal/httpapi"
)

// State is the provider-A connection lifecycle (spec §4.3: "DISCONNECTED
// -> HANDSHAKING -> AUTHENTICATING -> READY -> (transient RECOVERING on
// frame error) -> CLOSED").
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateAuthenticating
	StateReady
	StateRecovering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateReady:
		return "READY"
	case StateRecovering:
		return "RECOVERING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Login5 fetches a bearer token for the signed storage-resolve HTTPS
// call, cached by the session at half its reported lifetime (spec §4.6
// step 3 "cached with expires_at/2"). The real login5 RPC is a
// separate, undocumented-in-spec exchange, so it's injected rather than
// implemented here.
type Login5 func() (token string, expiresAt time.Time, err error)

// Session is one provider-A connection: handshake, authenticated
// framed transport, mercury mux, audio-key mux, and a resolver the
// track loader drives (implements internal/loader.Resolver).
type Session struct {
	conn   net.Conn
	frames *frameIO

	mercury   *mercuryMux
	audioKeys *audioKeyMux

	httpClient *httpapi.Client
	login5     Login5
	storageURL string // override for tests; defaults to the spec-named host

	log   *slog.Logger
	state atomic.Int32

	loginDone chan loginOutcome

	mu               sync.Mutex
	reusableCred     []byte
	bearerToken      string
	bearerExpiresAt  time.Time
	trackCache       map[string]cachedTrack
	clockOffsetMs    int64
}

type loginOutcome struct {
	welcome welcome
	reason  uint32
	ok      bool
}

type cachedTrack struct {
	gid    []byte
	file   resolvedFile
}

// Dial opens a TCP connection to addr, performs the handshake (spec
// §4.3), and starts the read loop. Login must be called afterward to
// reach StateReady.
func Dial(addr string, pinnedModulus *rsa.PublicKey, httpClient *httpapi.Client, login5 Login5, log *slog.Logger) (*Session, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.NewTransientNetworkError("spotify.dial", err)
	}

	s := &Session{
		conn:       conn,
		httpClient: httpClient,
		login5:     login5,
		log:        log,
		loginDone:  make(chan loginOutcome, 1),
		trackCache: make(map[string]cachedTrack),
		storageURL: "https://spclient.wg.spotify.com",
	}
	s.state.Store(int32(StateHandshaking))

	frames, err := ClientHandshake(conn, pinnedModulus)
	if err != nil {
		conn.Close()
		s.state.Store(int32(StateClosed))
		return nil, errors.NewFatalSessionError("spotify.handshake", err)
	}
	s.frames = frames
	s.mercury = newMercuryMux(frames)
	s.audioKeys = newAudioKeyMux(frames)

	go s.readLoop()
	return s, nil
}

// Login authenticates with username/authData under authType, blocking
// until the peer replies CmdLoginOK or CmdLoginDeclined (spec §4.3
// "Authentication packet carries blob type and blob bytes").
func (s *Session) Login(username string, authType AuthType, authData []byte) error {
	s.state.Store(int32(StateAuthenticating))
	if err := s.frames.WriteFrame(CmdLoginRequest, encodeLoginRequest(username, authType, authData)); err != nil {
		return errors.NewFatalSessionError("spotify.login", err)
	}

	select {
	case out := <-s.loginDone:
		if !out.ok {
			return errors.NewFatalSessionError("spotify.login", fmt.Errorf("declined: reason %d", out.reason))
		}
		s.mu.Lock()
		s.reusableCred = out.welcome.ReusableCredential
		s.mu.Unlock()
		s.state.Store(int32(StateReady))
		return nil
	case <-time.After(15 * time.Second):
		return errors.NewTimeoutError("spotify.login", 15*time.Second, nil)
	}
}

// ReusableCredential returns the credential the server issued on
// successful login, which replaces the original password for future
// connections (spec §4.3).
func (s *Session) ReusableCredential() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.reusableCred...)
}

// State reports the current connection lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// readLoop is the session task: every inbound frame is decoded and
// dispatched here, matching spec §5 "callbacks are invoked on the
// session task". A MAC failure or unexpected EOF moves the session to
// RECOVERING then CLOSED, per spec §4.3.
func (s *Session) readLoop() {
	for {
		cmd, payload, err := s.frames.ReadFrame()
		if err != nil {
			s.onTransportError(err)
			return
		}
		s.dispatch(cmd, payload)
	}
}

func (s *Session) dispatch(cmd byte, payload []byte) {
	switch cmd {
	case CmdLoginOK:
		w, err := decodeWelcome(payload)
		if err != nil {
			s.logErr("decode_welcome", err)
			return
		}
		s.loginDone <- loginOutcome{welcome: w, ok: true}
	case CmdLoginDeclined:
		s.loginDone <- loginOutcome{reason: loginFailureReason(payload), ok: false}
	case CmdMercuryRes, CmdMercurySub:
		s.mercury.HandleFrame(payload, "")
	case CmdAudioKeyRes:
		if err := s.audioKeys.HandleOK(payload); err != nil {
			s.logErr("audio_key_ok", err)
		}
	case CmdAudioKeyFail:
		if err := s.audioKeys.HandleFail(payload); err != nil {
			s.logErr("audio_key_fail", err)
		}
	case CmdPing:
		if err := s.frames.WriteFrame(CmdPong, payload); err != nil {
			s.logErr("pong", err)
		}
		s.syncClock(payload)
	default:
		if s.log != nil {
			s.log.Debug("spotify: unhandled frame", "cmd", fmt.Sprintf("0x%02x", cmd))
		}
	}
}

// syncClock derives a monotonic offset from the server's ping timestamp
// (spec §4.3 "Time sync ... gives a monotonic synced clock used for
// request signing and event timestamps"). The ping payload's first 4
// bytes are treated as a big-endian server-seconds timestamp.
func (s *Session) syncClock(payload []byte) {
	if len(payload) < 4 {
		return
	}
	serverSec := int64(payload[0])<<24 | int64(payload[1])<<16 | int64(payload[2])<<8 | int64(payload[3])
	nowMs := time.Now().UnixMilli()
	s.mu.Lock()
	s.clockOffsetMs = serverSec*1000 - nowMs
	s.mu.Unlock()
}

// SyncedNowMs returns the current time adjusted by the last observed
// clock offset.
func (s *Session) SyncedNowMs() int64 {
	s.mu.Lock()
	offset := s.clockOffsetMs
	s.mu.Unlock()
	return time.Now().UnixMilli() + offset
}

func (s *Session) onTransportError(err error) {
	prev := State(s.state.Load())
	if prev == StateClosed {
		return
	}
	s.state.Store(int32(StateRecovering))
	s.mercury.Abort()
	s.audioKeys.Abort()
	if s.log != nil {
		s.log.Warn("spotify: transport error, session recovering", "error", err)
	}
	s.state.Store(int32(StateClosed))
	_ = s.conn.Close()
}

func (s *Session) logErr(op string, err error) {
	if s.log != nil {
		s.log.Warn("spotify: dispatch error", "op", op, "error", err)
	}
}

// SubscribeConnectState registers cb for mercury push notifications whose
// uri starts with prefix, the transport provider-A's connect-state queue
// sync rides on (spec §4.5's message table, carried as mercury SUB pushes
// rather than a dedicated socket the way provider-B's session.go gets
// its own transport). The exchange's uri naming is undocumented in the
// distilled control-flow description; see DESIGN.md.
func (s *Session) SubscribeConnectState(prefix string, cb func(MercuryResponse)) {
	s.mercury.Subscribe(prefix, cb)
}

// Close idempotently tears down the transport (spec §5 "Cancellation
// must be idempotent").
func (s *Session) Close() {
	if s.state.Swap(int32(StateClosed)) == int32(StateClosed) {
		return
	}
	s.mercury.Abort()
	s.audioKeys.Abort()
	_ = s.conn.Close()
}
