package control

import (
	"log/slog"
	"time"
)

func defaultNow() int64 { return time.Now().UnixMilli() }

const heartbeatPeriod = 30 * time.Second

// HeartbeatHooks are the three actions the periodic heartbeat task
// performs every cycle (spec §4.8): refresh the provider-B JWT if it's
// within 60 s of expiry, re-establish the X-session if it expired, and
// push the current renderer state if a player is active. Each hook is
// optional; a provider session wires only the ones it needs (provider A
// has no JWT to refresh, for instance).
type HeartbeatHooks struct {
	RefreshTokenIfExpiring func() error
	RestartSessionIfExpired func() error
	EmitRendererState       func()
}

// Heartbeat runs HeartbeatHooks on a fixed 30 s period until Stop.
type Heartbeat struct {
	hooks HeartbeatHooks
	log   *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHeartbeat constructs a Heartbeat bound to hooks.
func NewHeartbeat(hooks HeartbeatHooks, log *slog.Logger) *Heartbeat {
	return &Heartbeat{
		hooks:  hooks,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run executes the heartbeat loop; intended to run in its own goroutine.
func (h *Heartbeat) Run() {
	defer close(h.doneCh)
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Heartbeat) tick() {
	if h.hooks.RefreshTokenIfExpiring != nil {
		if err := h.hooks.RefreshTokenIfExpiring(); err != nil {
			h.logErr("refresh_token", err)
		}
	}
	if h.hooks.RestartSessionIfExpired != nil {
		if err := h.hooks.RestartSessionIfExpired(); err != nil {
			h.logErr("restart_session", err)
		}
	}
	if h.hooks.EmitRendererState != nil {
		h.hooks.EmitRendererState()
	}
}

func (h *Heartbeat) logErr(op string, err error) {
	if h.log != nil {
		h.log.Warn("heartbeat step failed", "op", op, "error", err)
	}
}

// Stop halts the heartbeat loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	close(h.stopCh)
	<-h.doneCh
}
