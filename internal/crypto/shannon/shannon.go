// Package shannon implements the word-oriented NLFSR stream cipher used
// to encrypt framed packets after the provider-A handshake, plus its
// companion MAC. The session layer (internal/provider/spotify dial path)
// keeps one Cipher per direction, each seeded with a half of the
// HMAC-SHA1 keystream expanded in internal/crypto/signing.
package shannon

import "encoding/binary"

const (
	numWords   = 16
	foldRounds = numWords
	initKonst  = 0x6996c53a
	keyInject  = 13
)

func rotl(x uint32, n uint) uint32 {
	return (x << n) | (x >> (32 - n))
}

// Cipher is one direction's keyed stream state. Not safe for concurrent use.
type Cipher struct {
	r       [numWords]uint32
	initR   [numWords]uint32
	crc     [numWords]uint32
	konst   uint32
	sBuf    uint32
	mBuf    uint32
	nBuf    int
}

func nonlinear(c *Cipher) uint32 {
	return (c.r[12] + c.r[15]) ^ (c.r[13] + c.r[6]) + c.r[4]
}

// cycle advances the register one step and returns the keystream word.
func (c *Cipher) cycle() uint32 {
	t := c.r[12] ^ c.r[13] ^ c.konst
	t = rotl(t, 1)
	for i := numWords - 1; i > 0; i-- {
		c.r[i] = c.r[i-1]
	}
	c.r[0] = t
	c.r[4] ^= rotl(c.r[0], 5) + c.r[10]
	c.r[10] ^= rotl(c.r[4], 9) + c.r[0]

	out := nonlinear(c)
	out ^= rotl(out, 7) | rotl(out, 19)
	return out
}

func (c *Cipher) crcUpdate(w uint32) {
	for i := numWords - 1; i > 0; i-- {
		c.crc[i] = c.crc[i-1]
	}
	c.crc[0] = w ^ rotl(c.crc[numWords-1], 17)
}

func (c *Cipher) fold(rounds int) {
	for n := 0; n < rounds; n++ {
		t := c.cycle()
		c.r[keyInject%numWords] ^= t
	}
}

// NewKeyed derives a Cipher from a secret key of arbitrary length.
func NewKeyed(key []byte) *Cipher {
	c := &Cipher{konst: initKonst}
	for i := 0; i < numWords; i++ {
		c.r[i] = uint32(i) * 0x9e3779b9
	}
	absorb(c, key)
	c.fold(foldRounds)
	copy(c.initR[:], c.r[:])
	for i := range c.crc {
		c.crc[i] = 0
	}
	return c
}

func absorb(c *Cipher, data []byte) {
	idx := 0
	for len(data) > 0 {
		var word uint32
		n := len(data)
		if n > 4 {
			n = 4
		}
		var buf [4]byte
		copy(buf[:], data[:n])
		word = binary.LittleEndian.Uint32(buf[:])
		c.r[idx%numWords] ^= word
		c.cycle()
		idx++
		data = data[n:]
	}
}

// Nonce reseeds the cipher for a new packet without rederiving the key,
// matching per-direction monotonically increasing frame nonces.
func (c *Cipher) Nonce(nonce []byte) {
	copy(c.r[:], c.initR[:])
	absorb(c, nonce)
	c.fold(foldRounds)
	for i := range c.crc {
		c.crc[i] = 0
	}
}

// XORKeyStreamEncrypt XORs src into dst with keystream and folds the
// plaintext into the running MAC accumulator.
func (c *Cipher) XORKeyStreamEncrypt(dst, src []byte) {
	c.process(dst, src, true)
}

// XORKeyStreamDecrypt XORs src into dst with keystream and folds the
// recovered plaintext into the running MAC accumulator.
func (c *Cipher) XORKeyStreamDecrypt(dst, src []byte) {
	c.process(dst, src, false)
}

func (c *Cipher) process(dst, src []byte, encrypting bool) {
	i := 0
	for i+4 <= len(src) {
		ks := c.cycle()
		var in, out uint32
		in = binary.LittleEndian.Uint32(src[i : i+4])
		out = in ^ ks
		binary.LittleEndian.PutUint32(dst[i:i+4], out)
		if encrypting {
			c.crcUpdate(in)
		} else {
			c.crcUpdate(out)
		}
		i += 4
	}
	for ; i < len(src); i++ {
		ks := byte(c.cycle())
		dst[i] = src[i] ^ ks
	}
}

// Finish finalizes the MAC over everything processed since the last
// Nonce call and returns macLen bytes (commonly 4, per spec §4.3).
func (c *Cipher) Finish(macLen int) []byte {
	c.fold(foldRounds)
	out := make([]byte, 0, macLen)
	for len(out) < macLen {
		for i := 0; i < numWords && len(out) < macLen; i++ {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], c.crc[i])
			n := macLen - len(out)
			if n > 4 {
				n = 4
			}
			out = append(out, b[:n]...)
		}
	}
	return out
}
