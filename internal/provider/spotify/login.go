package spotify

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for the hand-rolled LoginRequest/LoginResponse shapes
// (spec §6 "LoginRequest/LoginResponse are treated as fixed", but no
// schema ships with this protocol's public description). Open Question
// decision, see DESIGN.md.
const (
	fieldLoginUsername = 1
	fieldLoginAuthType = 2
	fieldLoginAuthData = 3

	fieldWelcomeUsername       = 1
	fieldWelcomeReusableCred   = 2
	fieldWelcomeReusableCredID = 3
)

// AuthType distinguishes a password login from a reusable-credential
// login (spec §4.3 "the server returns a reusable credential that
// replaces the original password").
type AuthType byte

const (
	AuthPassword          AuthType = 0
	AuthStoredCredential  AuthType = 1
)

func encodeLoginRequest(username string, authType AuthType, authData []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldLoginUsername, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(username))
	b = protowire.AppendTag(b, fieldLoginAuthType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(authType))
	b = protowire.AppendTag(b, fieldLoginAuthData, protowire.BytesType)
	b = protowire.AppendBytes(b, authData)
	return b
}

// welcome is the decoded APWelcome (login accepted) message.
type welcome struct {
	Username          string
	ReusableCredential []byte
}

func decodeWelcome(b []byte) (welcome, error) {
	var w welcome
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return w, fmt.Errorf("spotify: welcome tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldWelcomeUsername && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return w, protowire.ParseError(m)
			}
			w.Username = string(v)
			b = b[m:]
		case num == fieldWelcomeReusableCred && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return w, protowire.ParseError(m)
			}
			w.ReusableCredential = append([]byte(nil), v...)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return w, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return w, nil
}

// loginFailureReason decodes the single varint error code a
// CmdLoginDeclined frame carries.
func loginFailureReason(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	_, typ, n := protowire.ConsumeTag(b)
	if n < 0 || typ != protowire.VarintType {
		return 0
	}
	v, m := protowire.ConsumeVarint(b[n:])
	if m < 0 {
		return 0
	}
	return uint32(v)
}
