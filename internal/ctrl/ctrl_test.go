//go:build !windows

package ctrl

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStatusRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.sock")
	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	want := Status{
		Version:        "1.2.3",
		SignalingState: "subscribed",
		ActiveSessions: 2,
		PrimaryDomain:  "default",
		UptimeSeconds:  42,
	}
	srv := NewServer(func() Status { return want })
	go srv.Serve(ln)
	defer srv.Close()

	got, err := RequestStatus(path, 2*time.Second)
	if err != nil {
		t.Fatalf("RequestStatus: %v", err)
	}
	if got != want {
		t.Fatalf("status = %+v, want %+v", got, want)
	}
}

func TestStatusUnreachable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nobody-home.sock")
	if _, err := RequestStatus(path, 200*time.Millisecond); err == nil {
		t.Fatal("expected an error for a missing socket")
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.sock")
	ln1, err := Listen(path)
	if err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	ln1.Close()

	ln2, err := Listen(path)
	if err != nil {
		t.Fatalf("second Listen over stale socket: %v", err)
	}
	ln2.Close()
}
