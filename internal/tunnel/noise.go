// Package tunnel implements the encrypted channel peer Routers use to
// bridge a CONNECT request across an untrusted network: a Noise-style XX
// handshake that derives a shared session key and reveals the responder's
// (and, by the third message, the initiator's) long-term public key,
// followed by length-prefixed AEAD-sealed transport frames with
// independent per-direction counters.
package tunnel

import (
	"crypto/rand"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const protocolName = "Noise_XX_25519_ChaChaPoly_BLAKE2s"

// symmetricState tracks the running handshake hash and chaining key, per
// the Noise Protocol Framework's symmetric-state object.
type symmetricState struct {
	ck     [32]byte // chaining key
	h      [32]byte // handshake hash
	hasKey bool
	key    [32]byte
	nonce  uint64
}

func newSymmetricState() *symmetricState {
	s := &symmetricState{}
	var nameHash [32]byte
	if len(protocolName) <= 32 {
		copy(nameHash[:], protocolName)
	} else {
		nameHash = blake2s.Sum256([]byte(protocolName))
	}
	s.h = nameHash
	s.ck = nameHash
	return s
}

func (s *symmetricState) mixHash(data []byte) {
	h := blake2s.Sum256(append(append([]byte{}, s.h[:]...), data...))
	s.h = h
}

func (s *symmetricState) mixKey(ikm []byte) {
	out := make([]byte, 64)
	r := hkdf.New(newBlake2s, ikm, s.ck[:], nil)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("tunnel: hkdf derivation failed: %v", err))
	}
	copy(s.ck[:], out[:32])
	copy(s.key[:], out[32:])
	s.hasKey = true
	s.nonce = 0
}

func newBlake2s() hash.Hash {
	h, err := blake2s.New256(nil)
	if err != nil {
		panic(err) // only fails for an oversize key, which we never pass
	}
	return h
}

func (s *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(plaintext)
		return append([]byte{}, plaintext...), nil
	}
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, err
	}
	nonce := encodeNonce(s.nonce)
	s.nonce++
	ciphertext := aead.Seal(nil, nonce, plaintext, s.h[:])
	s.mixHash(ciphertext)
	return ciphertext, nil
}

func (s *symmetricState) decryptAndHash(ciphertext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(ciphertext)
		return append([]byte{}, ciphertext...), nil
	}
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, err
	}
	nonce := encodeNonce(s.nonce)
	s.nonce++
	plaintext, err := aead.Open(nil, nonce, ciphertext, s.h[:])
	if err != nil {
		return nil, fmt.Errorf("tunnel: handshake decrypt failed: %w", err)
	}
	s.mixHash(ciphertext)
	return plaintext, nil
}

func encodeNonce(n uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	for i := 0; i < 8; i++ {
		nonce[4+i] = byte(n >> (8 * i))
	}
	return nonce
}

// dh performs X25519 between priv and pub.
func dh(priv, pub [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, fmt.Errorf("tunnel: dh: %w", err)
	}
	copy(out[:], shared)
	return out, nil
}

func generateEphemeral() (priv, pub [32]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, pub, fmt.Errorf("tunnel: generate ephemeral: %w", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("tunnel: derive ephemeral public: %w", err)
	}
	copy(pub[:], p)
	return priv, pub, nil
}
