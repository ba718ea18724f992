package desktop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lantern-desktop/desktopd/internal/endpoint"
	"github.com/lantern-desktop/desktopd/internal/negotiate"
	"github.com/lantern-desktop/desktopd/internal/registry"
)

// ActiveSession is the viewing/controlling side of one endpoint session:
// it drives negotiation, decodes inbound video onto a frame sink, and
// forwards local input events to the peer.
type ActiveSession struct {
	conn *endpoint.Connection
	reg  *registry.Registry
	key  registry.Key

	decoder *VideoDecoder
	sink    FrameSink

	// audioSink receives μ-law frames when the peer streams audio; a nil
	// sink discards them.
	audioSink func([]byte)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewActiveSession registers the session in reg under the active role and
// prepares a decoder delivering frames to sink.
func NewActiveSession(conn *endpoint.Connection, reg *registry.Registry, sink FrameSink) (*ActiveSession, error) {
	if sink == nil {
		return nil, fmt.Errorf("desktop: active session needs a frame sink")
	}
	key := registry.Key{LocalID: conn.LocalID(), RemoteID: conn.RemoteID(), Role: registry.RoleActive}
	decoder, err := NewVideoDecoder("auto")
	if err != nil {
		return nil, err
	}
	s := &ActiveSession{
		conn:    conn,
		reg:     reg,
		key:     key,
		decoder: decoder,
		sink:    sink,
		done:    make(chan struct{}),
	}
	if err := reg.Insert(key, s); err != nil {
		_ = decoder.Close()
		return nil, err
	}
	decoder.SetSink(sink)
	return s, nil
}

// SetAudioSink installs a consumer for inbound μ-law audio frames. Must be
// called before Run.
func (s *ActiveSession) SetAudioSink(sink func([]byte)) { s.audioSink = sink }

// Negotiate runs the active half of the negotiation FSM. pick chooses the
// monitor and framerate from the peer's display list.
func (s *ActiveSession) Negotiate(ctx context.Context, pick negotiate.PickMonitor) error {
	return negotiate.RunActive(ctx, s.conn, pick)
}

// Run starts the decode and audio tasks and blocks until the connection
// dies or Stop is called. The registry entry is removed before Run returns.
func (s *ActiveSession) Run() error {
	defer s.Stop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.audioLoop()
	}()

	// The decode loop owns this goroutine: it is the session's "decoder
	// thread", blocking on codec work off the protocol tasks.
	return s.decodeLoop()
}

func (s *ActiveSession) decodeLoop() error {
	for {
		select {
		case <-s.done:
			return nil
		case <-s.conn.Done():
			return nil
		case f, ok := <-s.conn.Video():
			if !ok {
				return nil
			}
			pkt, err := decodeVideoPacket(f.Payload)
			if err != nil {
				log.Warn("malformed video frame", "error", err)
				continue
			}
			if err := s.decoder.Decode(pkt); err != nil {
				// Decode errors are fatal to the session.
				log.Error("video decode failed, closing session", "error", err)
				return err
			}
		}
	}
}

func (s *ActiveSession) audioLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.conn.Done():
			return
		case f, ok := <-s.conn.Audio():
			if !ok {
				return
			}
			if s.audioSink != nil {
				s.audioSink(f.Payload)
			}
		}
	}
}

// Input serializes one event and sends it on the endpoint input stream.
func (s *ActiveSession) Input(event InputEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("desktop: marshal input event: %w", err)
	}
	return s.conn.SendInput(payload)
}

// SendControl sends one streaming-state control message (set_bitrate,
// set_fps, request_keyframe, toggle_audio, link_report).
func (s *ActiveSession) SendControl(msgType string, value int) error {
	payload, err := json.Marshal(controlMsg{Type: msgType, Value: value})
	if err != nil {
		return err
	}
	return s.conn.SendControl(payload)
}

// ReportLink feeds the passive side's adaptive controller with an observed
// round-trip time and loss fraction.
func (s *ActiveSession) ReportLink(rttMillis int, loss float64) error {
	payload, err := json.Marshal(controlMsg{Type: "link_report", RTTMillis: rttMillis, Loss: loss})
	if err != nil {
		return err
	}
	return s.conn.SendControl(payload)
}

// Close requests a graceful shutdown: the peer is told to close, then the
// local session stops.
func (s *ActiveSession) Close() error {
	payload, _ := json.Marshal(controlMsg{Type: "close"})
	_ = s.conn.SendControl(payload)
	s.Stop()
	return nil
}

// Stop tears down the session and removes the registry entry. Safe to call
// multiple times.
func (s *ActiveSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		s.wg.Wait()
		_ = s.decoder.Close()
		s.reg.Remove(s.key)
	})
}

// Done is closed once Stop has begun.
func (s *ActiveSession) Done() <-chan struct{} { return s.done }
