package negotiate

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lantern-desktop/desktopd/internal/endpoint"
)

func connPair(t *testing.T) (active, passive *endpoint.Connection) {
	t.Helper()
	a, b := net.Pipe()
	return endpoint.Accept(a), endpoint.Accept(b)
}

// TestHappyPathReachesStreaming drives the full happy path: GetDisplayInfo →
// SelectMonitor → NegotiateFinished reaches Streaming in bounded time.
func TestHappyPathReachesStreaming(t *testing.T) {
	active, passive := connPair(t)
	defer active.Close()
	defer passive.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pick := func(monitors []MonitorDescriptor) (string, int) {
		return monitors[0].ID, 30
	}

	activeErr := make(chan error, 1)
	go func() { activeErr <- RunActive(ctx, active, pick) }()

	var openedMonitor string
	var openedFPS int
	handlers := PassiveHandlers{
		ListMonitors: func(context.Context) ([]MonitorDescriptor, error) {
			return []MonitorDescriptor{{ID: "1", Name: "Built-in", Width: 1920, Height: 1080, RefreshRate: 60, IsPrimary: true}}, nil
		},
		SelectMonitor: func(monitorID string, fps int) error {
			if monitorID != "1" {
				return ErrMonitorNotFound
			}
			return nil
		},
		OpenMediaChannels: func(monitorID string, fps int) error {
			openedMonitor, openedFPS = monitorID, fps
			return nil
		},
	}
	passiveErr := make(chan error, 1)
	go func() { passiveErr <- RunPassive(ctx, passive, handlers) }()

	if err := <-activeErr; err != nil {
		t.Fatalf("active: %v", err)
	}
	if err := <-passiveErr; err != nil {
		t.Fatalf("passive: %v", err)
	}
	if openedMonitor != "1" || openedFPS != 30 {
		t.Fatalf("opened (%q,%d), want (\"1\",30)", openedMonitor, openedFPS)
	}
}

// TestMonitorNotFoundRetriesWithoutTearDown exercises the non-fatal retry
// path: the active side's first choice is rejected, it retries with
// another id, and negotiation still completes.
func TestMonitorNotFoundRetriesWithoutTearDown(t *testing.T) {
	active, passive := connPair(t)
	defer active.Close()
	defer passive.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	calls := 0
	pick := func(monitors []MonitorDescriptor) (string, int) {
		calls++
		if calls == 1 {
			return "missing", 30
		}
		return "1", 30
	}

	activeErr := make(chan error, 1)
	go func() { activeErr <- RunActive(ctx, active, pick) }()

	handlers := PassiveHandlers{
		ListMonitors: func(context.Context) ([]MonitorDescriptor, error) {
			return []MonitorDescriptor{{ID: "1", IsPrimary: true}}, nil
		},
		SelectMonitor: func(monitorID string, fps int) error {
			if monitorID != "1" {
				return ErrMonitorNotFound
			}
			return nil
		},
		OpenMediaChannels: func(string, int) error { return nil },
	}
	passiveErr := make(chan error, 1)
	go func() { passiveErr <- RunPassive(ctx, passive, handlers) }()

	if err := <-activeErr; err != nil {
		t.Fatalf("active: %v", err)
	}
	if err := <-passiveErr; err != nil {
		t.Fatalf("passive: %v", err)
	}
	if calls != 2 {
		t.Fatalf("pick called %d times, want 2", calls)
	}
}

// TestIllegalMessageIsFatal verifies that a message of the wrong type for
// the current state terminates the FSM with ErrProtocolViolation.
func TestIllegalMessageIsFatal(t *testing.T) {
	active, passive := connPair(t)
	defer active.Close()
	defer passive.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Send something that isn't get_display_info; RunPassive should
	// reject it instead of proceeding.
	go func() {
		_ = sendJSON(active, ackMsg{Type: typeAck, OK: true})
	}()

	err := RunPassive(ctx, passive, PassiveHandlers{
		ListMonitors:      func(context.Context) ([]MonitorDescriptor, error) { return nil, nil },
		SelectMonitor:     func(string, int) error { return nil },
		OpenMediaChannels: func(string, int) error { return nil },
	})
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("err = %v, want ErrProtocolViolation", err)
	}
}
