package endpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/lantern-desktop/desktopd/internal/transport"
)

func matchingKeys() (active, passive transport.AeadKeyPair) {
	var a2p, p2a [32]byte
	for i := range a2p {
		a2p[i] = byte(i)
		p2a[i] = byte(255 - i)
	}
	active = transport.AeadKeyPair{SealingKey: a2p, OpeningKey: p2a}
	passive = transport.AeadKeyPair{SealingKey: p2a, OpeningKey: a2p}
	return
}

func dialAcceptPair(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan *Connection, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptCh <- nil
			return
		}
		acceptCh <- Accept(conn)
	}()

	active, err := Connect(context.Background(), ln.Addr().String(), 100, 200)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	passive := <-acceptCh
	if passive == nil {
		t.Fatalf("accept failed")
	}
	return active, passive
}

func TestHandshakeSucceeds(t *testing.T) {
	active, passive := dialAcceptPair(t)
	defer active.Close()
	defer passive.Close()

	activeKeys, passiveKeys := matchingKeys()
	var creds [16]byte
	copy(creds[:], []byte("visit-credential-"))

	resolve := func(got [16]byte) (PendingHandshake, bool) {
		if got != creds {
			return PendingHandshake{}, false
		}
		return PendingHandshake{LocalID: 200, RemoteID: 100, Keys: passiveKeys}, true
	}

	errCh := make(chan error, 1)
	go func() { errCh <- passive.RespondHandshake(context.Background(), resolve) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := active.Handshake(ctx, creds, activeKeys); err != nil {
		t.Fatalf("active handshake: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("passive handshake: %v", err)
	}
	if passive.LocalID() != 200 || passive.RemoteID() != 100 {
		t.Fatalf("passive ids = (%d,%d), want (200,100)", passive.LocalID(), passive.RemoteID())
	}
}

func TestHandshakeRejectsUnknownCredentials(t *testing.T) {
	active, passive := dialAcceptPair(t)
	defer active.Close()
	defer passive.Close()

	activeKeys, _ := matchingKeys()
	var creds [16]byte
	copy(creds[:], []byte("bogus"))

	resolve := func(got [16]byte) (PendingHandshake, bool) { return PendingHandshake{}, false }

	errCh := make(chan error, 1)
	go func() { errCh <- passive.RespondHandshake(context.Background(), resolve) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := active.Handshake(ctx, creds, activeKeys); err != ErrHandshakeFailed {
		t.Fatalf("active handshake err = %v, want ErrHandshakeFailed", err)
	}
	if err := <-errCh; err != ErrHandshakeFailed {
		t.Fatalf("passive handshake err = %v, want ErrHandshakeFailed", err)
	}
}

// TestStreamingDeliversVideoAfterHandshake exercises the happy path for
// the streaming precondition: once handshake installs AEAD keys, a sealed
// video frame is delivered intact through the per-kind demux channel.
func TestStreamingDeliversVideoAfterHandshake(t *testing.T) {
	active, passive := dialAcceptPair(t)
	defer active.Close()
	defer passive.Close()

	activeKeys, passiveKeys := matchingKeys()
	var creds [16]byte
	resolve := func([16]byte) (PendingHandshake, bool) {
		return PendingHandshake{LocalID: 200, RemoteID: 100, Keys: passiveKeys}, true
	}
	errCh := make(chan error, 1)
	go func() { errCh <- passive.RespondHandshake(context.Background(), resolve) }()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := active.Handshake(ctx, creds, activeKeys); err != nil {
		t.Fatalf("active handshake: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("passive handshake: %v", err)
	}

	if err := active.SendVideo([]byte("frame-bytes")); err != nil {
		t.Fatalf("send video: %v", err)
	}

	select {
	case f := <-passive.Video():
		if string(f.Payload) != "frame-bytes" {
			t.Fatalf("payload = %q, want %q", f.Payload, "frame-bytes")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for video frame")
	}
}
