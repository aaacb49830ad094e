package shannon

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := []byte("a 32 byte shared secret key!!!!!")
	enc := NewKeyed(key)
	dec := NewKeyed(key)
	enc.Nonce([]byte{0, 1})
	dec.Nonce([]byte{0, 1})

	plain := []byte("mercury request payload goes here, 43 bytes")
	cipher := make([]byte, len(plain))
	enc.XORKeyStreamEncrypt(cipher, plain)

	if bytes.Equal(cipher, plain) {
		t.Fatalf("ciphertext must differ from plaintext")
	}

	recovered := make([]byte, len(cipher))
	dec.XORKeyStreamDecrypt(recovered, cipher)
	if !bytes.Equal(recovered, plain) {
		t.Fatalf("decrypted plaintext mismatch: got %q want %q", recovered, plain)
	}
}

func TestMacMatchesBetweenEncryptAndDecrypt(t *testing.T) {
	key := []byte("another shared secret, 31 bytes")
	enc := NewKeyed(key)
	dec := NewKeyed(key)
	enc.Nonce([]byte{0, 0, 0, 1})
	dec.Nonce([]byte{0, 0, 0, 1})

	plain := []byte("short frame")
	cipher := make([]byte, len(plain))
	enc.XORKeyStreamEncrypt(cipher, plain)
	recovered := make([]byte, len(cipher))
	dec.XORKeyStreamDecrypt(recovered, cipher)

	macA := enc.Finish(4)
	macB := dec.Finish(4)
	if !bytes.Equal(macA, macB) {
		t.Fatalf("MAC mismatch: enc=%x dec=%x", macA, macB)
	}
}

func TestDifferentNonceProducesDifferentKeystream(t *testing.T) {
	key := []byte("shared secret for nonce test 31")
	c1 := NewKeyed(key)
	c2 := NewKeyed(key)
	c1.Nonce([]byte{0, 0, 0, 1})
	c2.Nonce([]byte{0, 0, 0, 2})

	plain := bytes.Repeat([]byte{0}, 16)
	out1 := make([]byte, len(plain))
	out2 := make([]byte, len(plain))
	c1.XORKeyStreamEncrypt(out1, plain)
	c2.XORKeyStreamEncrypt(out2, plain)
	if bytes.Equal(out1, out2) {
		t.Fatalf("expected different keystreams for different nonces")
	}
}
