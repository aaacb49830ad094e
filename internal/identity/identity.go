// Package identity derives the device's session identity and master key
// (spec §3) and builds the mDNS TXT records both provider discovery
// paths advertise (spec §6).
package identity

import (
	"crypto/sha256"

	"github.com/google/uuid"

	"github.com/tobiasguyer/streamcore32/internal/model"
)

// NewSessionIdentity derives a SessionIdentity from a stable seed (in
// production, a UUID persisted on first boot). Deterministic given the
// same seed, so a restarted process keeps the same device identity.
func NewSessionIdentity(seed [16]byte) model.SessionIdentity {
	return model.SessionIdentity{DeviceUUID: seed}
}

// NewRandomSessionIdentity mints a fresh random device identity, used on
// first boot before any identity has been persisted.
func NewRandomSessionIdentity() model.SessionIdentity {
	var u [16]byte
	copy(u[:], uuid.New()[:])
	return model.SessionIdentity{DeviceUUID: u}
}

// MasterKeyLen is the size of the derived master key (spec §3: "A
// 32-byte master key").
const MasterKeyLen = 32

// DeriveMasterKey derives the 32-byte master key used only by the
// credential store, from device MAC, chip info, and a product salt
// (spec §3: "SHA-256" over MAC ‖ chip-info ‖ product-salt).
func DeriveMasterKey(deviceMAC [6]byte, chipInfo string, productSalt []byte) [MasterKeyLen]byte {
	h := sha256.New()
	h.Write(deviceMAC[:])
	h.Write([]byte(chipInfo))
	h.Write(productSalt)
	var out [MasterKeyLen]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SpotifyConnectTXT returns the TXT record fields for the
// `_spotify-connect._tcp` mDNS service (spec §6).
func SpotifyConnectTXT() map[string]string {
	return map[string]string{
		"VERSION": "1.0",
		"CPath":   "/spotify_info",
		"Stack":   "SP",
	}
}

// QobuzConnectTXT returns the TXT record fields for the
// `_qobuz-connect._tcp` mDNS service (spec §6).
func QobuzConnectTXT(identity model.SessionIdentity) map[string]string {
	return map[string]string{
		"path":        "/streamcore",
		"type":        "SPEAKER",
		"sdk_version": "sc32-1.0.0",
		"device_uuid": uuid.UUID(identity.DeviceUUID).String(),
	}
}
