// Package signing holds the two small authentication primitives the two
// provider sessions need: the provider-A handshake's HMAC-SHA1 keystream
// expansion (spec §4.3) and provider-B's MD5 request signature (spec §6).
package signing

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// ExpandedKeystreamLen is the total size of the handshake's derived
// keystream: 20-byte HMAC key, then two 32-byte Shannon keys.
const ExpandedKeystreamLen = 20 + 32 + 32

// ExpandKeystream derives ExpandedKeystreamLen bytes of keying material
// from the DH shared secret, seeded by the packet transcript, by
// iterating HMAC-SHA1(sharedSecret, transcript || counter). Only the
// first ExpandedKeystreamLen (84) bytes of that stream are produced,
// since SplitKeystream reads nothing beyond them.
func ExpandKeystream(sharedSecret, transcript []byte) []byte {
	out := make([]byte, 0, ExpandedKeystreamLen)
	for counter := byte(1); len(out) < ExpandedKeystreamLen; counter++ {
		mac := hmac.New(sha1.New, sharedSecret)
		mac.Write(transcript)
		mac.Write([]byte{counter})
		out = append(out, mac.Sum(nil)...)
	}
	return out[:ExpandedKeystreamLen]
}

// SplitKeystream returns the HMAC key, send Shannon key, and recv Shannon
// key carved out of an ExpandKeystream result, matching spec §4.3's byte
// ranges (0..20, 20..52, 52..84).
func SplitKeystream(keystream []byte) (hmacKey, sendKey, recvKey []byte) {
	return keystream[0:20], keystream[20:52], keystream[52:84]
}

// RequestSignature computes provider-B's md5_lowercase_hex(object ||
// action || sorted_concat(key||value) || request_ts || app_secret)
// signature (spec §6).
func RequestSignature(object, action string, params map[string]string, requestTS, appSecret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := md5.New()
	fmt.Fprint(h, object, action)
	for _, k := range keys {
		fmt.Fprint(h, k, params[k])
	}
	fmt.Fprint(h, requestTS, appSecret)
	return hex.EncodeToString(h.Sum(nil))
}

// RequestTimestamp formats the epoch seconds with 6 decimal digits as
// provider-B's `request_ts` parameter expects.
func RequestTimestamp(epochSeconds float64) string {
	return strconv.FormatFloat(epochSeconds, 'f', 6, 64)
}
