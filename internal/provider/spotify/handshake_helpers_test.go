package spotify

import (
	"net"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tobiasguyer/streamcore32/internal/crypto/dh"
)

// encodeAPResponseForTest builds the wire body a fake AP would send back,
// mirroring encodeClientHello's field layout for the response side.
func encodeAPResponseForTest(publicKey, signature []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldAPRespPublicKey, protowire.BytesType)
	b = protowire.AppendBytes(b, publicKey)
	b = protowire.AppendTag(b, fieldAPRespSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, signature)
	return b
}

func decodeClientHelloForTest(b []byte) (gsPublicKey, clientNonce []byte, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldHelloClientNonce && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, nil, protowire.ParseError(m)
			}
			clientNonce = append([]byte(nil), v...)
			b = b[m:]
		case num == fieldHelloGSPublicKey && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, nil, protowire.ParseError(m)
			}
			gsPublicKey = append([]byte(nil), v...)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, nil, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return gsPublicKey, clientNonce, nil
}

// runFakeAP plays the server side of ClientHandshake over conn, enough
// to exercise the client's key derivation end to end: read ClientHello,
// reply with a real DH public key (no signature, since the test passes
// a nil pinned modulus and skips verification), then drain the client's
// ClientResponsePlaintext.
func runFakeAP(conn net.Conn) error {
	_, helloBody, err := readHandshakeFrame(conn)
	if err != nil {
		return err
	}
	clientPub, _, err := decodeClientHelloForTest(helloBody)
	if err != nil {
		return err
	}

	serverKP, err := dh.Generate()
	if err != nil {
		return err
	}
	apBody := encodeAPResponseForTest(serverKP.Public[:], nil)
	if _, err := writeHandshakeFrame(conn, apBody); err != nil {
		return err
	}

	// Drain the ClientResponsePlaintext frame so the client's write
	// completes.
	_, _, err = readHandshakeFrame(conn)
	_ = clientPub
	return err
}
