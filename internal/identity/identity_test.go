package identity

import "testing"

func TestNewSessionIdentityIsDeterministic(t *testing.T) {
	seed := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	a := NewSessionIdentity(seed)
	b := NewSessionIdentity(seed)
	if a.Hex() != b.Hex() {
		t.Fatalf("expected deterministic identity from the same seed")
	}
}

func TestDeriveMasterKeyLengthAndDeterminism(t *testing.T) {
	mac := [6]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	k1 := DeriveMasterKey(mac, "esp32-s3", []byte("product-salt"))
	k2 := DeriveMasterKey(mac, "esp32-s3", []byte("product-salt"))
	if k1 != k2 {
		t.Fatalf("expected deterministic master key derivation")
	}
	if len(k1) != MasterKeyLen {
		t.Fatalf("expected %d-byte key, got %d", MasterKeyLen, len(k1))
	}
	k3 := DeriveMasterKey(mac, "esp32-s3", []byte("different-salt"))
	if k1 == k3 {
		t.Fatalf("expected different salt to change derived key")
	}
}

func TestSpotifyConnectTXTFields(t *testing.T) {
	txt := SpotifyConnectTXT()
	if txt["CPath"] != "/spotify_info" || txt["Stack"] != "SP" || txt["VERSION"] != "1.0" {
		t.Fatalf("unexpected spotify TXT record: %+v", txt)
	}
}

func TestQobuzConnectTXTIncludesDeviceUUID(t *testing.T) {
	seed := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	identity := NewSessionIdentity(seed)
	txt := QobuzConnectTXT(identity)
	if len(txt["device_uuid"]) != 36 {
		t.Fatalf("expected 36-char device_uuid, got %q (%d chars)", txt["device_uuid"], len(txt["device_uuid"]))
	}
	if txt["path"] != "/streamcore" || txt["type"] != "SPEAKER" {
		t.Fatalf("unexpected qobuz TXT record: %+v", txt)
	}
}
