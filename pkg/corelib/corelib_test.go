package corelib

import (
	"context"
	"testing"

	"github.com/lantern-desktop/desktopd/internal/transport"
)

// Init is process-wide; every test shares the same core.
func testCore(t *testing.T) *Core {
	t.Helper()
	if c := Current(); c != nil {
		return c
	}
	c, err := Init("linux", "test", t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return c
}

func TestInitIsIdempotent(t *testing.T) {
	c := testCore(t)
	again, err := Init("linux", "test", "unused")
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if again != c {
		t.Fatal("Init must return the process singleton")
	}
	if Current() != c {
		t.Fatal("Current must return the singleton")
	}
}

func TestConfigStoreOps(t *testing.T) {
	c := testCore(t)

	if err := c.SavePrimaryDomain("default"); err != nil {
		t.Fatalf("SavePrimaryDomain: %v", err)
	}
	primary, err := c.ReadPrimaryDomain()
	if err != nil || primary != "default" {
		t.Fatalf("ReadPrimaryDomain = %q, %v", primary, err)
	}

	dc := DomainConfig{URI: "tcp://rv.local:28000", DeviceID: 100, Fingerprint: make([]byte, 32)}
	if err := c.SaveDomainConfig("default", dc); err != nil {
		t.Fatalf("SaveDomainConfig: %v", err)
	}
	got, ok, err := c.ReadDomainConfig("default")
	if err != nil || !ok {
		t.Fatalf("ReadDomainConfig: ok=%v err=%v", ok, err)
	}
	if got.URI != dc.URI || got.DeviceID != dc.DeviceID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if _, ok, _ := c.ReadDomainConfig("absent"); ok {
		t.Fatal("unknown domain must report ok=false")
	}
}

func TestAuthorizeVisitIsOneShot(t *testing.T) {
	c := testCore(t)

	var creds [16]byte
	copy(creds[:], "one-shot-creds!!")
	c.AuthorizeVisit(creds, 200, 100, transport.AeadKeyPair{})

	if _, ok := c.resolveCredentials(creds); !ok {
		t.Fatal("first resolve must succeed")
	}
	if _, ok := c.resolveCredentials(creds); ok {
		t.Fatal("credentials are valid for exactly one handshake")
	}
}

func TestEndpointOpsRequireConnection(t *testing.T) {
	c := testCore(t)

	ctx := context.Background()
	if err := c.EndpointHandshake(ctx, 1, 2, [16]byte{}, transport.AeadKeyPair{}); err != ErrNoSuchSession {
		t.Fatalf("EndpointHandshake = %v, want ErrNoSuchSession", err)
	}
	if _, err := c.EndpointNegotiateVisitDesktopParams(ctx, 1, 2); err != ErrNoSuchSession {
		t.Fatalf("NegotiateVisitDesktopParams = %v, want ErrNoSuchSession", err)
	}
	if err := c.EndpointClose(1, 2); err != ErrNoSuchSession {
		t.Fatalf("EndpointClose = %v, want ErrNoSuchSession", err)
	}
	if c.SignalingState() != "disconnected" {
		t.Fatalf("SignalingState = %q before any dial", c.SignalingState())
	}
}
