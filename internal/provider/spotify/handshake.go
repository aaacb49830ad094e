package spotify

import (
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tobiasguyer/streamcore32/internal/crypto/dh"
	"github.com/tobiasguyer/streamcore32/internal/crypto/shannon"
	"github.com/tobiasguyer/streamcore32/internal/crypto/signing"
)

// Field numbers for the handshake's two hand-rolled protobuf messages.
// No .proto schema ships with this protocol's public description, so
// these are assigned in the order spec §4.3 lists the fields; a real
// deployment would need to confirm them against a wire capture (Open
// Question decision, see DESIGN.md).
const (
	fieldHelloClientNonce  = 1
	fieldHelloGSPublicKey  = 2
	fieldHelloPaddingFlags = 3

	fieldAPRespPublicKey = 1
	fieldAPRespSignature = 2
)

// helloMagic/version prefix each handshake frame: 2 bytes magic+version,
// then a 4-byte big-endian length, then the protobuf body. Chosen for
// symmetry with the post-handshake frame's own length-prefixing rather
// than lifted from a specific wire capture.
var helloMagic = [2]byte{0x00, 0x04}

func encodeClientHello(gsPublicKey, clientNonce []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldHelloClientNonce, protowire.BytesType)
	b = protowire.AppendBytes(b, clientNonce)
	b = protowire.AppendTag(b, fieldHelloGSPublicKey, protowire.BytesType)
	b = protowire.AppendBytes(b, gsPublicKey)
	b = protowire.AppendTag(b, fieldHelloPaddingFlags, protowire.VarintType)
	b = protowire.AppendVarint(b, 0)
	return b
}

type apResponse struct {
	PublicKey []byte
	Signature []byte
}

func decodeAPResponse(b []byte) (apResponse, error) {
	var out apResponse
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return out, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldAPRespPublicKey && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return out, protowire.ParseError(m)
			}
			out.PublicKey = append([]byte(nil), v...)
			b = b[m:]
		case num == fieldAPRespSignature && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return out, protowire.ParseError(m)
			}
			out.Signature = append([]byte(nil), v...)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return out, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return out, nil
}

func writeHandshakeFrame(conn net.Conn, body []byte) ([]byte, error) {
	frame := make([]byte, 0, 6+len(body))
	frame = append(frame, helloMagic[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, body...)
	if _, err := conn.Write(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func readHandshakeFrame(conn net.Conn) ([]byte, []byte, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, nil, err
	}
	length := binary.BigEndian.Uint32(header[2:6])
	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, nil, err
	}
	return header, body, nil
}

// ClientHandshake performs the provider-A key exchange over conn (spec
// §4.3): ClientHello with a fresh DH keypair and nonce, APResponseMessage
// verified against pinnedModulus (nil skips verification, logged by the
// caller since this package stays silent), then HMAC-SHA1 keystream
// expansion into a send/recv Shannon cipher pair. The returned frameIO
// is ready for Login.
func ClientHandshake(conn net.Conn, pinnedModulus *rsa.PublicKey) (*frameIO, error) {
	kp, err := dh.Generate()
	if err != nil {
		return nil, fmt.Errorf("spotify: generate dh keypair: %w", err)
	}
	nonce, err := dh.ClientNonce()
	if err != nil {
		return nil, fmt.Errorf("spotify: client nonce: %w", err)
	}

	hello := encodeClientHello(kp.Public[:], nonce)
	helloFrame, err := writeHandshakeFrame(conn, hello)
	if err != nil {
		return nil, fmt.Errorf("spotify: write ClientHello: %w", err)
	}

	apHeader, apBody, err := readHandshakeFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("spotify: read APResponseMessage: %w", err)
	}
	apResp, err := decodeAPResponse(apBody)
	if err != nil {
		return nil, fmt.Errorf("spotify: decode APResponseMessage: %w", err)
	}

	if pinnedModulus != nil {
		if err := dh.VerifyAPResponse(apResp.PublicKey, apResp.Signature, pinnedModulus); err != nil {
			return nil, fmt.Errorf("spotify: verify AP signature: %w", err)
		}
	}

	shared := kp.SharedSecret(apResp.PublicKey)
	transcript := make([]byte, 0, len(helloFrame)+len(apHeader)+len(apBody))
	transcript = append(transcript, helloFrame...)
	transcript = append(transcript, apHeader...)
	transcript = append(transcript, apBody...)

	keystream := signing.ExpandKeystream(shared, transcript)
	hmacKey, sendKey, recvKey := signing.SplitKeystream(keystream)

	challenge := hmac.New(sha1.New, hmacKey)
	challenge.Write(transcript)
	if _, err := writeHandshakeFrame(conn, challenge.Sum(nil)); err != nil {
		return nil, fmt.Errorf("spotify: write ClientResponsePlaintext: %w", err)
	}

	return newFrameIO(conn, shannon.NewKeyed(sendKey), shannon.NewKeyed(recvKey)), nil
}
