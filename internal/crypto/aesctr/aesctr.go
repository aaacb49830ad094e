// Package aesctr implements the provider-A content-key decryption used by
// the CDN byte stream: AES-CTR keyed by the unwrapped 16-byte content key
// with a fixed IV incremented by the 16-byte-aligned block position
// (spec §4.6 step 5).
package aesctr

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"math/big"
)

// BaseIV is the fixed initialization vector provider-A content streams
// start from; it is incremented by pos/16 for a read beginning mid-file.
var BaseIV = [aes.BlockSize]byte{
	0x72, 0xe0, 0x67, 0xfb, 0xdd, 0xcb, 0xcf, 0x77,
	0xeb, 0xe8, 0xbc, 0x64, 0x3f, 0x63, 0x0d, 0x93,
}

// ivForOffset returns BaseIV advanced by byteOffset/16 blocks.
func ivForOffset(byteOffset int64) []byte {
	blocks := byteOffset / aes.BlockSize
	base := new(big.Int).SetBytes(BaseIV[:])
	base.Add(base, big.NewInt(blocks))
	iv := make([]byte, aes.BlockSize)
	b := base.Bytes()
	if len(b) > aes.BlockSize {
		b = b[len(b)-aes.BlockSize:]
	}
	copy(iv[aes.BlockSize-len(b):], b)
	return iv
}

// NewStream returns an AES-CTR stream positioned to decrypt bytes
// starting at byteOffset (which must be a multiple of 16 per spec §4.6's
// seek rounding). key is the 16-byte unwrapped content key.
func NewStream(key []byte, byteOffset int64) (cipher.Stream, error) {
	if byteOffset%aes.BlockSize != 0 {
		return nil, fmt.Errorf("aesctr: offset %d is not 16-byte aligned", byteOffset)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aesctr: %w", err)
	}
	return cipher.NewCTR(block, ivForOffset(byteOffset)), nil
}

// Reader wraps an io.Reader of ciphertext bytes starting at a known
// offset, decrypting in place as callers Read.
type Reader struct {
	src    readerFunc
	stream cipher.Stream
}

type readerFunc func([]byte) (int, error)

// NewReader builds a Reader that decrypts bytes produced by read, which
// must begin at byteOffset in the underlying ciphertext.
func NewReader(key []byte, byteOffset int64, read func([]byte) (int, error)) (*Reader, error) {
	stream, err := NewStream(key, byteOffset)
	if err != nil {
		return nil, err
	}
	return &Reader{src: read, stream: stream}, nil
}

// Read decrypts the next chunk of ciphertext into p.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src(p)
	if n > 0 {
		r.stream.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}
