package desktop

import (
	"encoding/json"
	"time"
)

// Streaming-state control messages, JSON-tagged like the negotiation
// payloads that precede them.
type controlMsg struct {
	Type string `json:"type"`
	// Value carries set_bitrate/set_fps/toggle_audio operands.
	Value int `json:"value,omitempty"`
	// RTTMillis/Loss carry link_report samples for the adaptive
	// controller.
	RTTMillis int     `json:"rtt_ms,omitempty"`
	Loss      float64 `json:"loss,omitempty"`
}

const maxBitrateCap = 20_000_000 // 20 Mbps hard cap

// controlLoop dispatches streaming-state control frames until the
// connection dies or the peer requests close.
func (s *PassiveSession) controlLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.conn.Done():
			return
		case f, ok := <-s.conn.Control():
			if !ok {
				return
			}
			var msg controlMsg
			if err := json.Unmarshal(f.Payload, &msg); err != nil {
				log.Warn("malformed control message", "error", err)
				continue
			}
			if msg.Type == "close" {
				log.Info("peer requested close", "remote", s.key.RemoteID)
				return
			}
			s.handleControlMessage(msg)
		}
	}
}

func (s *PassiveSession) handleControlMessage(msg controlMsg) {
	s.mu.Lock()
	encoder := s.encoder
	adaptive := s.adaptive
	s.mu.Unlock()

	switch msg.Type {
	case "set_bitrate":
		if msg.Value > 0 && msg.Value <= maxBitrateCap {
			// Update the adaptive controller's ceiling so it ramps up to
			// the user-chosen max rather than bypassing adaptive entirely.
			if adaptive != nil {
				adaptive.SetMaxBitrate(msg.Value)
			} else if encoder != nil {
				if err := encoder.SetBitrate(msg.Value); err != nil {
					log.Warn("failed to set bitrate", "bitrate", msg.Value, "error", err)
				}
			}
		}
	case "set_fps":
		if msg.Value > 0 && msg.Value <= maxFrameRate {
			if adaptive != nil {
				adaptive.SetMaxFPS(msg.Value)
			}
			s.mu.Lock()
			s.fps = msg.Value
			s.mu.Unlock()
			if encoder != nil {
				if err := encoder.SetFPS(msg.Value); err != nil {
					log.Warn("failed to set fps", "fps", msg.Value, "error", err)
				}
			}
		}
	case "request_keyframe":
		// Viewer window regained focus: force IDR so the picture is
		// immediately sharp.
		if encoder != nil {
			encoder.ForceKeyframe()
		}
	case "toggle_audio":
		enabled := msg.Value != 0
		s.audioEnabled.Store(enabled)
		log.Info("audio toggled", "enabled", enabled)
	case "link_report":
		if adaptive != nil {
			adaptive.Update(time.Duration(msg.RTTMillis)*time.Millisecond, msg.Loss)
		}
	default:
		log.Warn("unknown control message type", "type", msg.Type)
	}
}

// inputLoop injects received input events. The input channel applies
// backpressure upstream; events are never dropped, only delayed.
func (s *PassiveSession) inputLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.conn.Done():
			return
		case f, ok := <-s.conn.Input():
			if !ok {
				return
			}
			var event InputEvent
			if err := json.Unmarshal(f.Payload, &event); err != nil {
				log.Warn("malformed input event", "error", err)
				continue
			}
			s.handleInputEvent(event)
		}
	}
}

func (s *PassiveSession) handleInputEvent(event InputEvent) {
	s.mu.Lock()
	injector := s.injector
	encoder := s.encoder
	monitor := s.monitor
	s.mu.Unlock()

	if injector == nil {
		return
	}

	event.ClampToMonitor(monitor.Width, monitor.Height)

	switch {
	case event.Mouse != nil:
		// Flush to a keyframe on clicks so the click result appears
		// immediately instead of behind buffered frames.
		if event.Mouse.Action == MouseDown && encoder != nil {
			encoder.ForceKeyframe()
		}
		if err := injector.InjectMouse(*event.Mouse); err != nil {
			log.Warn("mouse injection failed", "error", err)
		}
	case event.Keyboard != nil:
		if err := injector.InjectKeyboard(*event.Keyboard); err != nil {
			log.Warn("keyboard injection failed", "error", err)
		}
	}
}
