// Package spotify implements the provider-A persistent session (spec
// §4.3, C3): Diffie-Hellman handshake, Shannon-framed transport, mercury
// request/response multiplexing, the audio-key mini-protocol, and a
// loader.Resolver implementation the track loader drives. Grounded on
// the teacher's conn/session.go connection-state shape and
// control/{encoder,decoder}.go's framed-read-loop idiom.
package spotify

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/tobiasguyer/streamcore32/internal/crypto/shannon"
)

// Command bytes used on the post-handshake framed channel (spec §6).
const (
	CmdLoginRequest  byte = 0xAB
	CmdLoginOK       byte = 0xAC
	CmdLoginDeclined byte = 0xAD
	CmdMercuryReq    byte = 0xB2
	CmdMercuryRes    byte = 0xB3
	CmdMercurySub    byte = 0xB4
	CmdAudioKeyReq   byte = 0x0C
	CmdAudioKeyRes   byte = 0x0D
	CmdAudioKeyFail  byte = 0x0E
	CmdPing          byte = 0x04
	CmdPong          byte = 0x49
)

const macLen = 4

// frameIO owns one direction-keyed pair of Shannon ciphers over conn and
// implements the "u8 cmd | u16 be len | bytes[len] | u32 mac" frame
// shape from spec §6. Nonces are never carried on the wire: spec §4.3's
// "every packet carries a 16-bit nonce" describes the local counter
// width, not a wire field. This implementation keeps a 32-bit counter
// per direction rather than 16 bits, so a long-lived session never
// wraps a nonce back onto itself (documented in DESIGN.md).
type frameIO struct {
	conn net.Conn

	send      *shannon.Cipher
	recv      *shannon.Cipher
	sendNonce uint32
	recvNonce uint32
}

func newFrameIO(conn net.Conn, send, recv *shannon.Cipher) *frameIO {
	return &frameIO{conn: conn, send: send, recv: recv}
}

func nonceBytes(counter uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], counter)
	return b[:]
}

// WriteFrame encrypts and sends one cmd/payload frame, advancing the
// send nonce.
func (f *frameIO) WriteFrame(cmd byte, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("spotify: frame payload too large: %d", len(payload))
	}
	f.send.Nonce(nonceBytes(f.sendNonce))
	f.sendNonce++

	header := []byte{cmd, byte(len(payload) >> 8), byte(len(payload))}
	encHeader := make([]byte, len(header))
	f.send.XORKeyStreamEncrypt(encHeader, header)
	encBody := make([]byte, len(payload))
	f.send.XORKeyStreamEncrypt(encBody, payload)
	mac := f.send.Finish(macLen)

	out := make([]byte, 0, len(encHeader)+len(encBody)+macLen)
	out = append(out, encHeader...)
	out = append(out, encBody...)
	out = append(out, mac...)
	_, err := f.conn.Write(out)
	return err
}

// ReadFrame blocks for and decrypts the next frame, advancing the recv
// nonce.
func (f *frameIO) ReadFrame() (cmd byte, payload []byte, err error) {
	f.recv.Nonce(nonceBytes(f.recvNonce))
	f.recvNonce++

	encHeader := make([]byte, 3)
	if _, err := io.ReadFull(f.conn, encHeader); err != nil {
		return 0, nil, err
	}
	header := make([]byte, 3)
	f.recv.XORKeyStreamDecrypt(header, encHeader)
	cmd = header[0]
	length := int(header[1])<<8 | int(header[2])

	encBody := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(f.conn, encBody); err != nil {
			return 0, nil, err
		}
	}
	payload = make([]byte, length)
	f.recv.XORKeyStreamDecrypt(payload, encBody)

	wantMAC := f.recv.Finish(macLen)
	gotMAC := make([]byte, macLen)
	if _, err := io.ReadFull(f.conn, gotMAC); err != nil {
		return 0, nil, err
	}
	if !macEqual(wantMAC, gotMAC) {
		return 0, nil, fmt.Errorf("spotify: MAC mismatch on cmd 0x%02x", cmd)
	}
	return cmd, payload, nil
}

func macEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
