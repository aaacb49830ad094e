package model

import (
	"encoding/base64"
	"encoding/hex"
)

// SessionIdentity is the 16-byte opaque device UUID and its derived
// string representations. Construction (MAC/chip-info/salt hashing) lives
// in internal/identity; this type only holds the agreed-upon byte value
// and its two textual forms.
type SessionIdentity struct {
	DeviceUUID [16]byte
}

// Hex returns the 32-character lowercase hex representation.
func (s SessionIdentity) Hex() string {
	return hex.EncodeToString(s.DeviceUUID[:])
}

// Base64URL returns the 22-character unpadded base64url representation.
func (s SessionIdentity) Base64URL() string {
	return base64.RawURLEncoding.EncodeToString(s.DeviceUUID[:])
}
