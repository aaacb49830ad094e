// Package discovery implements the local HTTP surface the two
// provider zeroconf services advertise over mDNS (spec §6): provider A's
// `GET/POST /spotify_info` credential handoff, and provider B's
// `/streamcore/*` display/session/connect endpoints. It exposes a plain
// http.Handler (a *gin.Engine) for an external composition root to mount
// and serve; this package owns none of the TLS termination, mDNS
// registration, or Web UI rendering.
//
// GET/POST /spotify_info's shape is undocumented by the distilled
// control-flow description and is instead grounded on the original
// ZeroconfAuthenticator in original_source/StreamCore32/stream/spotify's
// include headers: GET returns a zeroconf info blob built by the login
// blob; POST parses a form-urlencoded credential blob, hands it to an
// auth-success callback, and always acknowledges with a fixed
// {status, spotifyError, statusString} body, whether or not the blob
// parsed. Grounded on arung-agamani-denpa-radio/internal/radio/handler's
// Handlers-struct-plus-gin.H shape and
// other_examples/...rms-chatroom.../main.go's gin.Default()/r.GET/r.POST
// router setup.
package discovery

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/tobiasguyer/streamcore32/internal/model"
)

// QConnectInfo is the session handed off by POST
// /streamcore/connect-to-qconnect (spec §6: "supplies session_id (36-char
// UUID), jwt_qconnect{endpoint,jwt,exp}, jwt_api{jwt,exp}").
type QConnectInfo struct {
	SessionID string

	WSEndpoint string
	WSJWT      string
	WSExpS     uint64

	APIJWT  string
	APIExpS uint64
}

// Handlers backs the discovery HTTP surface. Device/display fields are
// fixed at construction; the two On* callbacks hand credentials to
// whatever owns the provider sessions (the composition root).
type Handlers struct {
	Identity model.SessionIdentity
	AppID    string
	Log      *slog.Logger

	// OnSpotifyCredentials is invoked with the raw form fields POST
	// /spotify_info received (blob version, device id, user name,
	// encrypted login blob, client key, etc. - provider-A's zeroconf
	// login query). A nil callback silently discards the credentials.
	OnSpotifyCredentials func(fields map[string]string)

	// OnQobuzConnect is invoked once connect-to-qconnect's body has
	// parsed successfully. An error return is logged only: the original
	// endpoint always acknowledges with "{}" regardless of outcome.
	OnQobuzConnect func(QConnectInfo) error

	mu               sync.Mutex
	currentSessionID string
}

// NewRouter builds the gin engine serving every discovery endpoint.
func NewRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/spotify_info", h.GetSpotifyInfo)
	r.POST("/spotify_info", h.PostSpotifyInfo)
	r.GET("/streamcore/get-display-info", h.GetDisplayInfo)
	r.GET("/streamcore/get-connect-info", h.GetConnectInfo)
	r.POST("/streamcore/connect-to-qconnect", h.PostConnectToQConnect)
	r.GET("/close", h.Close)
	return r
}

func (h *Handlers) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *Handlers) setCurrentSessionID(id string) {
	h.mu.Lock()
	h.currentSessionID = id
	h.mu.Unlock()
}

func (h *Handlers) currentSession() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentSessionID
}

// Close handles GET /close, the zeroconf authenticator's shutdown probe.
func (h *Handlers) Close(c *gin.Context) {
	c.String(http.StatusOK, "")
}
