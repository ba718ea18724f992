package transport

import (
	"encoding/binary"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
)

// AeadKeyPair holds the two independent AEAD key/nonce pairs negotiated for
// an endpoint session: one for sealing outbound frames, one for opening
// inbound frames. What one side seals with, the other opens with.
type AeadKeyPair struct {
	SealingKey   [32]byte
	SealingNonce [chacha20poly1305.NonceSize]byte
	OpeningKey   [32]byte
	OpeningNonce [chacha20poly1305.NonceSize]byte
}

// aeadStream owns one direction's monotonic frame counter. The sealing
// side's counter is mutated only by the writer goroutine; the opening
// side's only by the reader goroutine, so no locking is required beyond
// that single-owner discipline.
type aeadStream struct {
	aead    cipherAEAD
	base    [chacha20poly1305.NonceSize]byte
	counter atomic.Uint64
}

// cipherAEAD is the subset of cipher.AEAD used here.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	Overhead() int
	NonceSize() int
}

func newAeadStream(key [32]byte, base [chacha20poly1305.NonceSize]byte) (*aeadStream, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &aeadStream{aead: aead, base: base}, nil
}

// nonceFor XORs the starting nonce with the big-endian encoding of counter
// into the low 8 bytes.
func nonceFor(base [chacha20poly1305.NonceSize]byte, counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce, base[:])
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)
	offset := len(nonce) - 8
	for i := 0; i < 8; i++ {
		nonce[offset+i] ^= counterBytes[i]
	}
	return nonce
}

// sealNext encrypts plaintext under the next nonce in sequence and
// advances the counter. aad is kind || length_be.
func (s *aeadStream) sealNext(plaintext, aad []byte) []byte {
	counter := s.counter.Add(1) - 1
	return s.aead.Seal(nil, nonceFor(s.base, counter), plaintext, aad)
}

// openNext decrypts a frame sealed by the peer's matching stream, checked
// against the next expected counter, and advances it. A mismatched tag
// (wrong key, tampered bytes, or a replayed/reordered frame) is always
// ErrIntegrity and is fatal to the session.
func (s *aeadStream) openNext(ciphertext, aad []byte) ([]byte, error) {
	counter := s.counter.Add(1) - 1
	pt, err := s.aead.Open(nil, nonceFor(s.base, counter), ciphertext, aad)
	if err != nil {
		return nil, ErrIntegrity
	}
	return pt, nil
}
