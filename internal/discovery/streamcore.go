package discovery

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxAudioQuality is fixed: spec §4.6 step 1 names hi-res as the top
// tier this device ever requests.
const maxAudioQuality = "HIRES_L3"

// GetDisplayInfo handles GET /streamcore/get-display-info, grounded on
// QobuzStream's fixed display-info JSON.
func (h *Handlers) GetDisplayInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":               "SPEAKER",
		"friendly_name":      "StreamCore32",
		"model_display_name": "StreamCore32 ESP32",
		"brand_display_name": "StreamCore",
		"serial_number":      h.Identity.Hex(),
		"max_audio_quality":  maxAudioQuality,
	})
}

// GetConnectInfo handles GET /streamcore/get-connect-info: reports
// whichever provider-B session is currently attached, if any.
func (h *Handlers) GetConnectInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"current_session_id": h.currentSession(),
		"app_id":             h.AppID,
	})
}

// connectToQConnectRequest is the body POST /streamcore/connect-to-qconnect
// supplies (spec §6: "session_id (36-char UUID), jwt_qconnect{endpoint,
// jwt,exp}, jwt_api{jwt,exp}").
type connectToQConnectRequest struct {
	SessionID   string `json:"session_id"`
	JWTQConnect struct {
		Endpoint string `json:"endpoint"`
		JWT      string `json:"jwt"`
		Exp      uint64 `json:"exp"`
	} `json:"jwt_qconnect"`
	JWTAPI struct {
		JWT string `json:"jwt"`
		Exp uint64 `json:"exp"`
	} `json:"jwt_api"`
}

// PostConnectToQConnect handles POST /streamcore/connect-to-qconnect.
// Grounded on QobuzStream's connect-to-qconnect endpoint: the body is
// parsed best-effort, a parse failure is logged and otherwise ignored,
// and the response is always the empty JSON object regardless of
// outcome - the original never surfaces connect failures to the caller
// over this endpoint.
func (h *Handlers) PostConnectToQConnect(c *gin.Context) {
	var req connectToQConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger().Warn("connect-to-qconnect: parse error", "error", err)
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	if _, err := uuid.Parse(req.SessionID); err != nil {
		h.logger().Warn("connect-to-qconnect: malformed session_id", "error", err)
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	info := QConnectInfo{
		SessionID:  req.SessionID,
		WSEndpoint: req.JWTQConnect.Endpoint,
		WSJWT:      req.JWTQConnect.JWT,
		WSExpS:     req.JWTQConnect.Exp,
		APIJWT:     req.JWTAPI.JWT,
		APIExpS:    req.JWTAPI.Exp,
	}

	if h.OnQobuzConnect != nil {
		if err := h.OnQobuzConnect(info); err != nil {
			h.logger().Warn("connect-to-qconnect: callback failed", "error", err)
		} else {
			h.setCurrentSessionID(info.SessionID)
		}
	}

	c.JSON(http.StatusOK, gin.H{})
}
