package main

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/tobiasguyer/streamcore32/internal/config"
	"github.com/tobiasguyer/streamcore32/internal/control"
	"github.com/tobiasguyer/streamcore32/internal/credstore"
	"github.com/tobiasguyer/streamcore32/internal/discovery"
	"github.com/tobiasguyer/streamcore32/internal/httpapi"
	"github.com/tobiasguyer/streamcore32/internal/identity"
	"github.com/tobiasguyer/streamcore32/internal/lease"
	"github.com/tobiasguyer/streamcore32/internal/loader"
	"github.com/tobiasguyer/streamcore32/internal/model"
	"github.com/tobiasguyer/streamcore32/internal/provider/qobuz"
	"github.com/tobiasguyer/streamcore32/internal/provider/spotify"
	"github.com/tobiasguyer/streamcore32/internal/queue"
	"github.com/tobiasguyer/streamcore32/internal/sink"
	"github.com/tobiasguyer/streamcore32/internal/telemetry"
)

// app is the composition root: every long-lived collaborator the daemon
// needs, wired once at startup and torn down in reverse order on
// shutdown (spec §5/§6 data flow, cmd/rtmp-server/main.go's shape).
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	identity model.SessionIdentity

	creds      *credstore.Store
	httpClient *httpapi.Client
	leases     *lease.Registry
	cell       *playbackCell
	tel        *telemetry.Recorder

	spotify *providerRuntime
	qobuz   *providerRuntime

	mdns       *mdnsAdvertiser
	httpServer *http.Server

	mu             sync.Mutex
	spotifySession *spotify.Session
	qobuzStop      chan struct{}
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	id, err := loadOrCreateIdentity(cfg.Storage.CredentialDir)
	if err != nil {
		return nil, err
	}

	mac := firstHardwareMAC()
	masterKey := identity.DeriveMasterKey(mac, cfg.Device.ChipInfo, []byte(cfg.Device.ProductSalt))

	creds, err := credstore.New(cfg.Storage.CredentialDir, masterKey)
	if err != nil {
		return nil, err
	}

	httpClient, err := httpapi.New(cfg.Storage.CookieJarPath)
	if err != nil {
		return nil, err
	}

	bus, err := sink.OpenVS1053Bus(fmt.Sprintf("SPI%d.0", cfg.Sink.SPIBus), cfg.Sink.DREQPin, cfg.Sink.ResetPin)
	if err != nil {
		return nil, fmt.Errorf("streamcore32d: sink: %w", err)
	}
	s := sink.New(bus, log.With("component", "sink"))
	go s.Run()

	leases := lease.New()
	cell := newPlaybackCell(s, leases, log.With("component", "playback"))
	tel := telemetry.New(log.With("component", "telemetry"), nil)

	a := &app{
		cfg:        cfg,
		log:        log,
		identity:   id,
		creds:      creds,
		httpClient: httpClient,
		leases:     leases,
		cell:       cell,
		tel:        tel,
	}

	a.spotify = newProviderRuntime("spotify", cell, queue.New(nil, "spotify-renderer", log), tel, log.With("provider", "spotify"), a.spotifyHeartbeat)
	a.qobuz = newProviderRuntime("qobuz", cell, queue.New(nil, "qobuz-renderer", log), tel, log.With("provider", "qobuz"), a.qobuzHeartbeat)

	handlers := &discovery.Handlers{
		Identity:             id,
		AppID:                cfg.Qobuz.AppID,
		Log:                  log.With("component", "discovery"),
		OnSpotifyCredentials: a.onSpotifyCredentials,
		OnQobuzConnect:       a.onQobuzConnect,
	}
	router := discovery.NewRouter(handlers)
	a.httpServer = &http.Server{Addr: cfg.Discovery.ListenAddr, Handler: router}

	adv, err := startMDNSAdvertisers(id, cfg.Device.Name, httpPort(cfg.Discovery.ListenAddr), log.With("component", "mdns"))
	if err != nil {
		return nil, err
	}
	a.mdns = adv
	a.reconnectSpotify()

	return a, nil
}

// httpPort extracts the numeric port from a ":9931"-shaped listen
// address for mDNS advertisement; 0 on parse failure, which mdns treats
// as "unknown" rather than refusing to advertise.
func httpPort(addr string) int {
	var port int
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			fmt.Sscanf(addr[i+1:], "%d", &port)
			break
		}
	}
	return port
}

// run starts the HTTP listener and blocks until ctx is canceled, then
// tears every subsystem down.
func (a *app) run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpServer.Shutdown(shutdownCtx)

	a.mu.Lock()
	if a.qobuzStop != nil {
		close(a.qobuzStop)
	}
	if a.spotifySession != nil {
		a.spotifySession.Close()
	}
	a.mu.Unlock()

	a.mdns.Shutdown()
	a.cell.sink.Stop()
	_ = a.httpClient.Save()
	return nil
}

// onSpotifyCredentials is the discovery callback for POST /spotify_info
// (spec §6): dial and log in against provider A using whatever
// username/blob fields the zeroconf request carried. The blob-decrypt
// exchange (Login5) is undocumented outside the original ESP-IDF source
// and is not reimplemented here; see DESIGN.md.
func (a *app) onSpotifyCredentials(fields map[string]string) {
	username := fields["userName"]
	blobB64 := fields["blob"]
	if username == "" || blobB64 == "" {
		a.log.Warn("spotify: credential callback missing userName/blob")
		return
	}
	blob, err := base64.StdEncoding.DecodeString(blobB64)
	if err != nil {
		a.log.Warn("spotify: decode blob failed", "error", err)
		return
	}

	var modulus *big.Int
	if a.cfg.Spotify.PinnedModulusHex != "" {
		raw, err := hex.DecodeString(a.cfg.Spotify.PinnedModulusHex)
		if err != nil {
			a.log.Warn("spotify: invalid pinned modulus", "error", err)
			return
		}
		modulus = new(big.Int).SetBytes(raw)
	}

	go a.dialSpotify(username, blob, modulus)
}

func (a *app) dialSpotify(username string, blob []byte, modulus *big.Int) {
	var pub *rsa.PublicKey
	if modulus != nil {
		pub = &rsa.PublicKey{N: modulus, E: rsaExponent}
	}

	sess, err := spotify.Dial(a.cfg.Spotify.APAddress, pub, a.httpClient, a.spotifyLogin5, a.log.With("component", "spotify"))
	if err != nil {
		a.log.Error("spotify: dial failed", "error", err)
		return
	}
	if err := sess.Login(username, 0, blob); err != nil {
		a.log.Error("spotify: login failed", "error", err)
		sess.Close()
		return
	}

	a.mu.Lock()
	prev := a.spotifySession
	a.spotifySession = sess
	a.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	a.spotify.NewLoader = func() *loader.Loader { return loader.New(a.httpClient, sess) }
	sess.SubscribeConnectState("hm://connect-state/v1/cluster", a.handleSpotifyConnectState)

	rec := credstore.Record{UserKey: username}
	rec.Set("blob", blob)
	if err := a.creds.Save(rec, true); err != nil {
		a.log.Warn("spotify: persist credential failed", "error", err)
	} else if err := a.creds.SetCurrent(username); err != nil {
		a.log.Warn("spotify: set current credential failed", "error", err)
	}

	a.log.Info("spotify: session ready", "user", username)
}

// reconnectSpotify retries the persisted startup credential, if any,
// letting the device come back up already paired after a restart rather
// than waiting for a fresh zeroconf POST /spotify_info (spec §6's
// pairing flow is for first-time setup; credstore.GetStartupRecord
// mirrors NvsCredStore's own boot-time behavior).
func (a *app) reconnectSpotify() {
	rec, err := a.creds.GetStartupRecord()
	if err != nil {
		a.log.Info("spotify: no persisted credential, waiting for zeroconf pairing")
		return
	}
	blob, ok := rec.Get("blob")
	if !ok {
		return
	}

	var modulus *big.Int
	if a.cfg.Spotify.PinnedModulusHex != "" {
		if raw, err := hex.DecodeString(a.cfg.Spotify.PinnedModulusHex); err == nil {
			modulus = new(big.Int).SetBytes(raw)
		}
	}
	go a.dialSpotify(rec.UserKey, blob, modulus)
}

func (a *app) handleSpotifyConnectState(resp spotify.MercuryResponse) {
	if resp.Failed || len(resp.Parts) == 0 {
		return
	}
	for _, part := range resp.Parts {
		msg, err := queue.Decode(control.Message{Kind: queue.KindQueueState, Payload: part})
		if err != nil {
			a.log.Warn("spotify: decode connect-state push failed", "error", err)
			continue
		}
		a.spotify.reduce(msg)
	}
}

// onQobuzConnect is the discovery callback for POST
// /streamcore/connect-to-qconnect (spec §6): it starts (or replaces) the
// provider-B reconnect supervisor using the delivered JWTs.
func (a *app) onQobuzConnect(info discovery.QConnectInfo) error {
	a.mu.Lock()
	if a.qobuzStop != nil {
		close(a.qobuzStop)
	}
	stop := make(chan struct{})
	a.qobuzStop = stop
	a.mu.Unlock()

	dispatcher := control.NewDispatcher(nil)
	dispatcher.OnMessage = func(m control.Message) {
		msg, err := queue.Decode(m)
		if err != nil {
			a.log.Warn("qobuz: decode inbound failed", "error", err)
			return
		}
		a.qobuz.reduce(msg)
	}

	apiClient := &qobuz.APIClient{
		HTTP:      a.httpClient,
		AppID:     a.cfg.Qobuz.AppID,
		AppSecret: a.cfg.Qobuz.AppSecret,
		SessionID: info.SessionID,
		AuthHeader: func() (string, string) {
			return "Authorization", "Bearer " + info.APIJWT
		},
	}
	resolver := &qobuz.Resolver{API: apiClient, HTTP: a.httpClient}
	a.qobuz.NewLoader = func() *loader.Loader { return loader.New(a.httpClient, resolver) }

	sv := &qobuz.Supervisor{
		Dispatcher: dispatcher,
		Log:        a.log.With("component", "qobuz"),
		Credentials: func() (string, string, time.Time, error) {
			return info.WSEndpoint, info.WSJWT, time.Unix(int64(info.WSExpS), 0), nil
		},
	}
	go sv.Run(stop)

	a.log.Info("qobuz: supervisor started", "session_id", info.SessionID)
	return nil
}

func (a *app) spotifyHeartbeat() {
	a.log.Debug("spotify: heartbeat")
}

func (a *app) qobuzHeartbeat() {
	a.log.Debug("qobuz: heartbeat")
}

// rsaExponent is Spotify's fixed public exponent for the pinned AP
// modulus (spec's §4.3 handshake never varies it).
const rsaExponent = 65537

// spotifyLogin5 is the Login5 collaborator spotify.Session calls to
// refresh a reusable-credential-derived bearer token (spec §4.3's
// token refresh is a separate, undocumented exchange); this
// implementation declines every refresh rather than fabricate one, so a
// long-lived session simply loses its cached bearer token and the next
// metadata/CDN call surfaces that as a resolver error instead of
// silently proceeding with forged credentials.
func (a *app) spotifyLogin5() (string, time.Time, error) {
	return "", time.Time{}, fmt.Errorf("streamcore32d: login5 refresh not implemented")
}
