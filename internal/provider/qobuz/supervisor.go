package qobuz

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tobiasguyer/streamcore32/internal/control"
)

// ReconnectBackoff is the fixed reconnect delay (spec §4.4 "Retry
// backoff is fixed 2 s; no exponential growth required").
const ReconnectBackoff = 2 * time.Second

// RefreshWindow is how far ahead of token expiry the supervisor starts a
// proactive reconnect (spec §4.4 step 3).
const RefreshWindow = 30 * time.Second

// Credentials supplies a dial URL, a JWT (fresh or refreshed), and its
// expiry, re-invoked by the supervisor on every (re)connect.
type Credentials func() (url string, jwt string, expiresAt time.Time, err error)

// Supervisor owns the provider-B connection's reconnect loop: dial, run
// until the session dies or the token nears expiry, back off 2 s,
// repeat. This is the task the composition root starts and cancels, not
// the Session itself, since a Session is single-shot.
type Supervisor struct {
	Credentials Credentials
	Dispatcher  *control.Dispatcher
	Log         *slog.Logger

	current *Session
}

// Run blocks until stop is closed, maintaining a live Session throughout
// (spec §5 "the session task owns reconnect; callers see a continuous
// logical connection").
func (sv *Supervisor) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			if sv.current != nil {
				sv.current.Close()
			}
			return
		default:
		}

		url, jwt, expiresAt, err := sv.Credentials()
		if err != nil {
			if sv.Log != nil {
				sv.Log.Warn("qobuz: credentials", "error", err)
			}
			if !sleepOrStop(ReconnectBackoff, stop) {
				return
			}
			continue
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+jwt)
		sess, err := Dial(url, header, sv.Dispatcher, sv.Log)
		if err != nil {
			if sv.Log != nil {
				sv.Log.Warn("qobuz: dial", "error", err)
			}
			if !sleepOrStop(ReconnectBackoff, stop) {
				return
			}
			continue
		}
		sv.current = sess

		sv.waitForRefreshOrDeath(sess, expiresAt, stop)
		sess.Close()
		sv.current = nil

		if !sleepOrStop(ReconnectBackoff, stop) {
			return
		}
	}
}

// waitForRefreshOrDeath returns once the session has died on its own, a
// token refresh is due, or stop fires.
func (sv *Supervisor) waitForRefreshOrDeath(sess *Session, expiresAt time.Time, stop <-chan struct{}) {
	refreshAt := expiresAt.Add(-RefreshWindow)
	timer := time.NewTimer(time.Until(refreshAt))
	defer timer.Stop()

	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			return
		case <-poll.C:
			if sess.Closed() {
				return
			}
		}
	}
}

func sleepOrStop(d time.Duration, stop <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}
