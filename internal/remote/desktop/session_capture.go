package desktop

import (
	"errors"
	"time"

	"github.com/lantern-desktop/desktopd/internal/transport"
)

// enqueueFrame is the capture sink: it hands the frame to the encoder
// goroutine through the bounded queue, dropping the oldest pending frame
// when the encoder falls behind. Capture therefore never blocks beyond one
// frame period.
func (s *PassiveSession) enqueueFrame(f *VideoFrame) {
	select {
	case <-s.done:
		return
	default:
	}

	cp := cloneFrame(f)
	t0 := time.Now()
	for {
		select {
		case s.encodeCh <- cp:
			s.metrics.RecordCapture(time.Since(t0))
			return
		default:
		}
		select {
		case stale := <-s.encodeCh:
			putNV12Frame(stale)
			s.metrics.RecordSkip()
		default:
		}
	}
}

// encodeLoop drains the frame queue on its own goroutine; the encoder
// blocks on CPU work here without stalling capture or protocol tasks.
func (s *PassiveSession) encodeLoop() {
	for {
		select {
		case <-s.done:
			// Release anything still queued.
			for {
				select {
				case f := <-s.encodeCh:
					putNV12Frame(f)
				default:
					return
				}
			}
		case f := <-s.encodeCh:
			s.mu.Lock()
			encoder := s.encoder
			s.mu.Unlock()
			if encoder == nil {
				putNV12Frame(f)
				continue
			}
			t0 := time.Now()
			err := encoder.Encode(f)
			putNV12Frame(f)
			if err != nil {
				log.Warn("video encode failed", "error", err)
				continue
			}
			s.metrics.RecordEncode(time.Since(t0))
		}
	}
}

// packetSink receives encoded packets from the encoder and writes them as
// endpoint video frames. A full outbound queue drops the packet; the next
// keyframe recovers the viewer.
func (s *PassiveSession) packetSink(pkt VideoPacket) {
	payload := encodeVideoPacket(pkt)
	if err := s.conn.SendVideo(payload); err != nil {
		if errors.Is(err, transport.ErrBackpressureExceeded) {
			s.metrics.RecordDrop()
			// Make sure the stream resumes from a decodable point.
			s.mu.Lock()
			if s.encoder != nil {
				s.encoder.ForceKeyframe()
			}
			s.mu.Unlock()
			return
		}
		log.Warn("video send failed", "error", err)
		return
	}
	s.metrics.RecordSend(len(payload))
}

// sendAudioFrame forwards one μ-law audio frame when the viewer has audio
// enabled.
func (s *PassiveSession) sendAudioFrame(frame []byte) {
	if !s.audioEnabled.Load() {
		return
	}
	if err := s.conn.SendAudio(frame); err != nil && !errors.Is(err, transport.ErrBackpressureExceeded) {
		log.Debug("audio send failed", "error", err)
	}
}
