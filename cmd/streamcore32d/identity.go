package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/tobiasguyer/streamcore32/internal/identity"
	"github.com/tobiasguyer/streamcore32/internal/model"
)

const deviceIDFileName = "device-id"

// loadOrCreateIdentity persists a random SessionIdentity on first boot
// (dir/device-id, hex-encoded) and reloads it on every subsequent start,
// since spec §3's master-key derivation and both providers' mDNS TXT
// records need a stable device uuid across restarts.
func loadOrCreateIdentity(dir string) (model.SessionIdentity, error) {
	path := filepath.Join(dir, deviceIDFileName)

	if b, err := os.ReadFile(path); err == nil {
		seed, decErr := hex.DecodeString(string(b))
		if decErr == nil && len(seed) == 16 {
			var arr [16]byte
			copy(arr[:], seed)
			return identity.NewSessionIdentity(arr), nil
		}
	}

	id := identity.NewRandomSessionIdentity()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return model.SessionIdentity{}, fmt.Errorf("identity: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.Hex()), 0o600); err != nil {
		return model.SessionIdentity{}, fmt.Errorf("identity: %w", err)
	}
	return id, nil
}

// firstHardwareMAC returns the first non-loopback interface's hardware
// address, used as the MAC component of spec §3's master-key derivation.
// A host with no such interface (containers, CI) falls back to the
// zero MAC rather than failing startup.
func firstHardwareMAC() [6]byte {
	var mac [6]byte
	ifaces, err := net.Interfaces()
	if err != nil {
		return mac
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 6 {
			copy(mac[:], iface.HardwareAddr)
			return mac
		}
	}
	return mac
}
