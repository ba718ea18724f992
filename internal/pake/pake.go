// Package pake implements the password-authenticated key exchange used by
// signaling's key_exchange operation: a CPace/SPAKE2-style
// construction over Curve25519 in which the Diffie-Hellman generator point
// is itself derived from the shared password and session context, instead
// of the curve's standard base point. An ephemeral share only combines into
// a matching session secret when both sides blinded the same generator with
// the same password — a party that guessed wrong derives an unrelated
// point, and the resulting keys simply fail to authenticate on first use.
// No distinguishable "wrong password" error is ever produced, which is the
// PAKE's core security property.
package pake

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// ErrKeyExchangeFailed covers every way the exchange can fail to produce a
// usable shared secret: wrong password, malformed peer share, or a
// low-order point. It deliberately carries no further detail.
var ErrKeyExchangeFailed = errors.New("pake: key exchange failed")

const hkdfInfoLabel = "lantern-desktop-v1"

// Result is the AeadKeyPair-shaped material handed to the Endpoint
// Connection's framed transport once key exchange succeeds.
type Result struct {
	SealingKey   [32]byte
	SealingNonce [12]byte
	OpeningKey   [32]byte
	OpeningNonce [12]byte
}

// Session holds one side's ephemeral state between Start and Finish.
type Session struct {
	scalar    [32]byte
	generator [32]byte
	share     [32]byte
}

// Start derives the password-blinded generator for (domain, localID,
// remoteID) — symmetric in the two ids, so both peers land on the same
// point regardless of which one is "local" — and computes this side's
// ephemeral Diffie-Hellman share. The returned share is sent to the peer as
// part of the key_exchange request/response.
func Start(password, domain string, localID, remoteID int64) (*Session, error) {
	generator := deriveGenerator(password, domain, localID, remoteID)

	var scalar [32]byte
	if _, err := io.ReadFull(rand.Reader, scalar[:]); err != nil {
		return nil, fmt.Errorf("pake: generate ephemeral scalar: %w", err)
	}

	share, err := curve25519.X25519(scalar[:], generator[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyExchangeFailed, err)
	}

	s := &Session{generator: generator}
	copy(s.scalar[:], scalar[:])
	copy(s.share[:], share)
	return s, nil
}

// PublicShare returns this side's Diffie-Hellman share to send to the peer.
func (s *Session) PublicShare() [32]byte {
	return s.share
}

// Finish combines the peer's share with this side's ephemeral scalar into a
// session secret, then expands it (bound to both devices' fingerprints) into
// the four pieces of AEAD key material the Endpoint Connection needs.
// initiator distinguishes which of the two expanded key halves seals this
// side's outbound traffic, so both peers agree on direction without an
// extra round trip.
func (s *Session) Finish(peerShare [32]byte, initiator bool, fingerprintLocal, fingerprintRemote [32]byte) (Result, error) {
	secret, err := curve25519.X25519(s.scalar[:], peerShare[:])
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrKeyExchangeFailed, err)
	}
	if isLowOrder(secret) {
		return Result{}, ErrKeyExchangeFailed
	}

	// Canonicalize fingerprint order so both sides build identical HKDF
	// info regardless of who initiated.
	fingerprintA, fingerprintB := fingerprintLocal, fingerprintRemote
	if !initiator {
		fingerprintA, fingerprintB = fingerprintRemote, fingerprintLocal
	}

	info := make([]byte, 0, len(hkdfInfoLabel)+64)
	info = append(info, hkdfInfoLabel...)
	info = append(info, fingerprintA[:]...)
	info = append(info, fingerprintB[:]...)

	h := hkdf.New(sha256.New, secret, nil, info)
	var material [2*32 + 2*12]byte
	if _, err := io.ReadFull(h, material[:]); err != nil {
		return Result{}, fmt.Errorf("pake: expand key material: %w", err)
	}

	var aToB, bToA Result
	copy(aToB.SealingKey[:], material[0:32])
	copy(bToA.SealingKey[:], material[32:64])
	copy(aToB.SealingNonce[:], material[64:76])
	copy(bToA.SealingNonce[:], material[76:88])

	var out Result
	if initiator {
		out.SealingKey, out.SealingNonce = aToB.SealingKey, aToB.SealingNonce
		out.OpeningKey, out.OpeningNonce = bToA.SealingKey, bToA.SealingNonce
	} else {
		out.SealingKey, out.SealingNonce = bToA.SealingKey, bToA.SealingNonce
		out.OpeningKey, out.OpeningNonce = aToB.SealingKey, aToB.SealingNonce
	}
	return out, nil
}

func deriveGenerator(password, domain string, idA, idB int64) [32]byte {
	if idA > idB {
		idA, idB = idB, idA
	}
	salt := fmt.Sprintf("%s|%d|%d", domain, idA, idB)
	h := hkdf.New(sha256.New, []byte(password), nil, []byte(salt))
	var out [32]byte
	_, _ = io.ReadFull(h, out[:])
	return out
}

var zero32 [32]byte

func isLowOrder(secret []byte) bool {
	return subtle.ConstantTimeCompare(secret, zero32[:]) == 1
}
