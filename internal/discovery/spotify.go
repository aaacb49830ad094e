package discovery

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// zeroconfStatus mirrors librespot's zeroconf status codes; only the two
// this device ever returns are named.
const (
	zeroconfStatusOK       = 101
	zeroconfErrorNone      = 0
	zeroconfStatusStringOK = "ERROR-OK"
)

// GetSpotifyInfo handles GET /spotify_info: the zeroconf info blob a
// Spotify Connect controller reads before attempting a handoff.
// Grounded on ZeroconfAuthenticator::buildZeroconfInfo's field set.
func (h *Handlers) GetSpotifyInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           zeroconfStatusOK,
		"statusString":     zeroconfStatusStringOK,
		"spotifyError":     zeroconfErrorNone,
		"version":          "2.7.1",
		"deviceID":         h.Identity.Hex(),
		"remoteName":       "StreamCore32",
		"activeUser":       "",
		"publicKey":        "",
		"deviceType":       "SPEAKER",
		"libraryVersion":   "1.0.0",
		"accountReq":       "PREMIUM",
		"brandDisplayName": "StreamCore",
		"modelDisplayName": "StreamCore32",
	})
}

// PostSpotifyInfo handles POST /spotify_info: a controller posts a
// form-urlencoded login blob (deviceId, userName, blob, clientKey,
// loginId and friends). Grounded on
// ZeroconfAuthenticator::handleAddUser's parse-then-acknowledge flow:
// the response is the same fixed body whether or not the blob was
// usable, since provider-A's own handshake is what actually validates
// it.
func (h *Handlers) PostSpotifyInfo(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		h.logger().Warn("spotify_info: parse form", "error", err)
	} else if h.OnSpotifyCredentials != nil {
		fields := make(map[string]string, len(c.Request.PostForm))
		for k := range c.Request.PostForm {
			fields[k] = c.Request.PostForm.Get(k)
		}
		h.OnSpotifyCredentials(fields)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       zeroconfStatusOK,
		"spotifyError": zeroconfErrorNone,
		"statusString": zeroconfStatusStringOK,
	})
}
