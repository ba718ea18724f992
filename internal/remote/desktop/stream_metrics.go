package desktop

import (
	"sync/atomic"
	"time"
)

// StreamMetrics tracks one session's pipeline counters. Every recorder is
// lock-free so the capture and encode hot paths never contend: counts are
// monotonic atomics and the "last observed" gauges are single-word stores.
type StreamMetrics struct {
	framesCaptured atomic.Uint64
	framesEncoded  atomic.Uint64
	framesSent     atomic.Uint64
	framesSkipped  atomic.Uint64
	framesDropped  atomic.Uint64
	bytesSent      atomic.Uint64

	lastCaptureNanos atomic.Int64
	lastEncodeNanos  atomic.Int64
	lastPacketBytes  atomic.Int64

	startUnixNano int64
}

func newStreamMetrics() *StreamMetrics {
	return &StreamMetrics{startUnixNano: time.Now().UnixNano()}
}

// RecordCapture counts one captured frame and its capture latency.
func (m *StreamMetrics) RecordCapture(d time.Duration) {
	m.framesCaptured.Add(1)
	m.lastCaptureNanos.Store(int64(d))
}

// RecordSkip counts a frame discarded before encode (unchanged desktop,
// encoder backlog).
func (m *StreamMetrics) RecordSkip() {
	m.framesSkipped.Add(1)
}

// RecordEncode counts one encoded frame and its encode latency.
func (m *StreamMetrics) RecordEncode(d time.Duration) {
	m.framesEncoded.Add(1)
	m.lastEncodeNanos.Store(int64(d))
}

// RecordSend counts one packet written to the transport.
func (m *StreamMetrics) RecordSend(size int) {
	m.framesSent.Add(1)
	m.bytesSent.Add(uint64(size))
	m.lastPacketBytes.Store(int64(size))
}

// RecordDrop counts a packet lost to outbound backpressure.
func (m *StreamMetrics) RecordDrop() {
	m.framesDropped.Add(1)
}

// MetricsSnapshot is a point-in-time copy of metrics for logging. The
// fields are read independently, so a snapshot taken mid-frame may be off
// by one between counters; the log line does not care.
type MetricsSnapshot struct {
	FramesCaptured uint64
	FramesEncoded  uint64
	FramesSent     uint64
	FramesSkipped  uint64
	FramesDropped  uint64
	CaptureMs      float64
	EncodeMs       float64
	LastPacketSize int
	BandwidthKBps  float64
	Uptime         time.Duration
}

func (m *StreamMetrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(time.Unix(0, m.startUnixNano))
	bw := float64(0)
	if secs := uptime.Seconds(); secs > 0 {
		bw = float64(m.bytesSent.Load()) / secs / 1024.0
	}

	return MetricsSnapshot{
		FramesCaptured: m.framesCaptured.Load(),
		FramesEncoded:  m.framesEncoded.Load(),
		FramesSent:     m.framesSent.Load(),
		FramesSkipped:  m.framesSkipped.Load(),
		FramesDropped:  m.framesDropped.Load(),
		CaptureMs:      float64(m.lastCaptureNanos.Load()) / 1e6,
		EncodeMs:       float64(m.lastEncodeNanos.Load()) / 1e6,
		LastPacketSize: int(m.lastPacketBytes.Load()),
		BandwidthKBps:  bw,
		Uptime:         uptime,
	}
}
