// Package negotiate implements the post-handshake negotiation: after
// endpoint handshake, active and passive exchange display info, a selected
// monitor, and a framerate, then transition to Streaming.
package negotiate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lantern-desktop/desktopd/internal/endpoint"
	"github.com/lantern-desktop/desktopd/internal/logging"
)

var log = logging.L("negotiate")

// StepTimeout bounds each request/ack round trip.
const StepTimeout = 5 * time.Second

var (
	// ErrProtocolViolation is fatal: a message arrived whose type is
	// illegal for the FSM's current state.
	ErrProtocolViolation = errors.New("negotiate: protocol violation")
	// ErrTimeout is fatal: a negotiation step did not complete within
	// StepTimeout.
	ErrTimeout = errors.New("negotiate: step timed out")
	// ErrConnectionClosed is fatal: the endpoint connection went away
	// mid-negotiation.
	ErrConnectionClosed = errors.New("negotiate: connection closed")
	// ErrMonitorNotFound is non-fatal: the requested monitor id does not
	// exist on the passive side. The active side may retry select_monitor
	// with a different id without tearing down the session.
	ErrMonitorNotFound = errors.New("negotiate: monitor not found")
)

// MonitorDescriptor describes one display output as exchanged on the
// wire during negotiation.
type MonitorDescriptor struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RefreshRate   int    `json:"refresh_rate"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	IsPrimary     bool   `json:"is_primary"`
	ScreenshotPNG []byte `json:"screenshot_png,omitempty"`
}

type messageHead struct {
	Type string `json:"type"`
}

type getDisplayInfoMsg struct {
	Type string `json:"type"`
}

type displayInfoReplyMsg struct {
	Type     string              `json:"type"`
	Monitors []MonitorDescriptor `json:"monitors"`
}

type selectMonitorMsg struct {
	Type      string `json:"type"`
	MonitorID string `json:"monitor_id"`
	ExpectFPS int    `json:"expect_fps"`
}

type ackMsg struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type negotiateFinishedMsg struct {
	Type      string `json:"type"`
	MonitorID string `json:"monitor_id"`
	ExpectFPS int    `json:"expect_fps"`
}

const (
	typeGetDisplayInfo    = "get_display_info"
	typeDisplayInfoReply  = "display_info_reply"
	typeSelectMonitor     = "select_monitor"
	typeAck               = "ack"
	typeNegotiateFinished = "negotiate_finished"

	errMonitorNotFound = "monitor_not_found"
	errInternal        = "internal_error"
)

func clampFPS(fps int) int {
	if fps < 1 {
		return 1
	}
	if fps > 120 {
		return 120
	}
	return fps
}

func sendJSON(conn *endpoint.Connection, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("negotiate: marshal: %w", err)
	}
	return conn.SendControl(b)
}

func recvControl(ctx context.Context, conn *endpoint.Connection) (string, []byte, error) {
	stepCtx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	select {
	case f, ok := <-conn.Control():
		if !ok {
			return "", nil, ErrConnectionClosed
		}
		var head messageHead
		if err := json.Unmarshal(f.Payload, &head); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		return head.Type, f.Payload, nil
	case <-stepCtx.Done():
		return "", nil, ErrTimeout
	case <-conn.Done():
		return "", nil, ErrConnectionClosed
	}
}

// expect reads the next control message and requires it to have the given
// type, unmarshaling its body into out. Any other type is a fatal protocol
// violation.
func expect(ctx context.Context, conn *endpoint.Connection, wantType string, out any) error {
	typ, payload, err := recvControl(ctx, conn)
	if err != nil {
		return err
	}
	if typ != wantType {
		return fmt.Errorf("%w: got %q, want %q", ErrProtocolViolation, typ, wantType)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return nil
}

// PickMonitor chooses a monitor id and requested framerate from the
// passive side's reported monitor list.
type PickMonitor func(monitors []MonitorDescriptor) (monitorID string, expectFPS int)

// ActiveGetDisplayInfo runs FSM step 1: request and return the passive
// side's display list.
func ActiveGetDisplayInfo(ctx context.Context, conn *endpoint.Connection) ([]MonitorDescriptor, error) {
	if err := sendJSON(conn, getDisplayInfoMsg{Type: typeGetDisplayInfo}); err != nil {
		return nil, err
	}
	var reply displayInfoReplyMsg
	if err := expect(ctx, conn, typeDisplayInfoReply, &reply); err != nil {
		return nil, err
	}
	return reply.Monitors, nil
}

// ActiveSelectMonitor runs FSM step 2. ErrMonitorNotFound is non-fatal:
// the caller may retry with another id without tearing down the session.
func ActiveSelectMonitor(ctx context.Context, conn *endpoint.Connection, monitorID string, expectFPS int) error {
	if err := sendJSON(conn, selectMonitorMsg{Type: typeSelectMonitor, MonitorID: monitorID, ExpectFPS: clampFPS(expectFPS)}); err != nil {
		return err
	}
	var ack ackMsg
	if err := expect(ctx, conn, typeAck, &ack); err != nil {
		return err
	}
	if ack.OK {
		return nil
	}
	if ack.Error == errMonitorNotFound {
		return ErrMonitorNotFound
	}
	return fmt.Errorf("%w: select_monitor rejected: %s", ErrProtocolViolation, ack.Error)
}

// ActiveFinish runs FSM step 3; a nil return means both sides have reached
// Streaming.
func ActiveFinish(ctx context.Context, conn *endpoint.Connection, monitorID string, expectFPS int) error {
	if err := sendJSON(conn, negotiateFinishedMsg{Type: typeNegotiateFinished, MonitorID: monitorID, ExpectFPS: clampFPS(expectFPS)}); err != nil {
		return err
	}
	var finalAck ackMsg
	if err := expect(ctx, conn, typeAck, &finalAck); err != nil {
		return err
	}
	if !finalAck.OK {
		return fmt.Errorf("%w: negotiate_finished rejected: %s", ErrProtocolViolation, finalAck.Error)
	}
	return nil
}

// RunActive drives all three active-side steps: GetDisplayInfo,
// SelectMonitor (retrying once per MonitorNotFound), then Finished. It
// returns nil once Streaming has been reached.
func RunActive(ctx context.Context, conn *endpoint.Connection, pick PickMonitor) error {
	monitors, err := ActiveGetDisplayInfo(ctx, conn)
	if err != nil {
		return err
	}

	monitorID, fps := pick(monitors)
	for {
		err := ActiveSelectMonitor(ctx, conn, monitorID, fps)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrMonitorNotFound) {
			return err
		}
		log.Warn("negotiate: monitor not found, retrying with another", "monitor_id", monitorID)
		monitorID, fps = pick(nil)
	}

	return ActiveFinish(ctx, conn, monitorID, fps)
}

// PassiveHandlers are the capture/encode side-effects the passive FSM
// triggers as it progresses.
type PassiveHandlers struct {
	// ListMonitors returns the current monitor list for display_info_reply.
	ListMonitors func(ctx context.Context) ([]MonitorDescriptor, error)
	// SelectMonitor (re)starts Capturer+Encoder for monitorID at fps.
	// Returning ErrMonitorNotFound is non-fatal; the active side retries.
	SelectMonitor func(monitorID string, fps int) error
	// OpenMediaChannels is called once NegotiateFinished arrives, to open
	// the video/audio/input channels for streaming.
	OpenMediaChannels func(monitorID string, fps int) error
}

// RunPassive drives the passive side's mirror of the FSM.
func RunPassive(ctx context.Context, conn *endpoint.Connection, h PassiveHandlers) error {
	if err := expect(ctx, conn, typeGetDisplayInfo, nil); err != nil {
		return err
	}
	monitors, err := h.ListMonitors(ctx)
	if err != nil {
		return fmt.Errorf("negotiate: list monitors: %w", err)
	}
	if err := sendJSON(conn, displayInfoReplyMsg{Type: typeDisplayInfoReply, Monitors: monitors}); err != nil {
		return err
	}

	var sel selectMonitorMsg
	var monitorID string
	var fps int
	for {
		if err := expect(ctx, conn, typeSelectMonitor, &sel); err != nil {
			return err
		}
		fps = clampFPS(sel.ExpectFPS)
		monitorID = sel.MonitorID
		err := h.SelectMonitor(monitorID, fps)
		if errors.Is(err, ErrMonitorNotFound) {
			if sendErr := sendJSON(conn, ackMsg{Type: typeAck, OK: false, Error: errMonitorNotFound}); sendErr != nil {
				return sendErr
			}
			continue
		}
		if err != nil {
			_ = sendJSON(conn, ackMsg{Type: typeAck, OK: false, Error: errInternal})
			return fmt.Errorf("negotiate: select monitor: %w", err)
		}
		if err := sendJSON(conn, ackMsg{Type: typeAck, OK: true}); err != nil {
			return err
		}
		break
	}

	var fin negotiateFinishedMsg
	if err := expect(ctx, conn, typeNegotiateFinished, &fin); err != nil {
		return err
	}
	if err := h.OpenMediaChannels(fin.MonitorID, clampFPS(fin.ExpectFPS)); err != nil {
		_ = sendJSON(conn, ackMsg{Type: typeAck, OK: false, Error: errInternal})
		return fmt.Errorf("negotiate: open media channels: %w", err)
	}
	return sendJSON(conn, ackMsg{Type: typeAck, OK: true})
}
