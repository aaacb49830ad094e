// Package dh implements the provider-A handshake's Diffie-Hellman key
// exchange: a 768-bit prime-field exchange over a pinned generator,
// client nonce generation, and RSA signature verification of the
// server's response against the pinned modulus (spec §4.3).
package dh

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"errors"
	"math/big"
)

// PublicKeyLen is the wire size of a DH public key (96 bytes / 768 bits).
const PublicKeyLen = 96

// NonceLen is the wire size of the client hello nonce.
const NonceLen = 16

var (
	// prime is the pinned 768-bit safe prime for the exchange.
	prime, _ = new(big.Int).SetString(
		"ffffffffffffffffc90fdaa22168c234c4c6628b80dc1cd1"+
			"29024e088a67cc74020bbea63b139b22514a08798e3404dd"+
			"ef9519b3cd3a431b302b0a6df25f14374fe1356d6d51c245"+
			"e485b576625e7ec6f44c42e9a63a3620ffffffffffffffff",
		16,
	)
	generator = big.NewInt(2)
)

// KeyPair holds one side's ephemeral DH secret and its corresponding
// public value.
type KeyPair struct {
	private *big.Int
	Public  [PublicKeyLen]byte
}

// Generate creates a fresh ephemeral keypair.
func Generate() (*KeyPair, error) {
	secret, err := rand.Int(rand.Reader, prime)
	if err != nil {
		return nil, err
	}
	pub := new(big.Int).Exp(generator, secret, prime)
	kp := &KeyPair{private: secret}
	pub.FillBytes(kp.Public[:])
	return kp, nil
}

// SharedSecret derives the shared secret given the peer's public value.
func (kp *KeyPair) SharedSecret(peerPublic []byte) []byte {
	peer := new(big.Int).SetBytes(peerPublic)
	shared := new(big.Int).Exp(peer, kp.private, prime)
	out := make([]byte, PublicKeyLen)
	shared.FillBytes(out)
	return out
}

// ClientNonce returns a fresh random nonce for the ClientHello.
func ClientNonce() ([]byte, error) {
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// VerifyAPResponse checks the AP's signature over its public key using
// the pinned RSA modulus, per spec §4.3 ("verify signature against
// pinned RSA modulus").
func VerifyAPResponse(apPublicKey, signature []byte, pinnedModulus *rsa.PublicKey) error {
	if pinnedModulus == nil {
		return errors.New("dh: no pinned AP modulus configured")
	}
	digest := sha1.Sum(apPublicKey)
	return rsa.VerifyPKCS1v15(pinnedModulus, 0, digest[:], signature)
}
