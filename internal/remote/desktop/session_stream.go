package desktop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Video frames cross the endpoint as a small binary header followed by the
// Annex-B payload. All integers big-endian, matching the rest of the wire.
//
//	[u8 flags][u32 timescale][i64 dts][i64 pts][annexb...]
const (
	videoHeaderSize = 1 + 4 + 8 + 8

	videoFlagKeyframe   = 1 << 0
	videoFlagParamsChng = 1 << 1
)

var errShortVideoFrame = errors.New("desktop: video frame shorter than header")

func encodeVideoPacket(pkt VideoPacket) []byte {
	buf := make([]byte, videoHeaderSize+len(pkt.Data))
	var flags byte
	if pkt.Keyframe {
		flags |= videoFlagKeyframe
	}
	if pkt.ParametersChanged {
		flags |= videoFlagParamsChng
	}
	buf[0] = flags
	binary.BigEndian.PutUint32(buf[1:5], pkt.Timescale)
	binary.BigEndian.PutUint64(buf[5:13], uint64(pkt.DTS))
	binary.BigEndian.PutUint64(buf[13:21], uint64(pkt.PTS))
	copy(buf[videoHeaderSize:], pkt.Data)
	return buf
}

func decodeVideoPacket(payload []byte) (VideoPacket, error) {
	if len(payload) < videoHeaderSize {
		return VideoPacket{}, errShortVideoFrame
	}
	flags := payload[0]
	return VideoPacket{
		Data:              payload[videoHeaderSize:],
		Timescale:         binary.BigEndian.Uint32(payload[1:5]),
		DTS:               int64(binary.BigEndian.Uint64(payload[5:13])),
		PTS:               int64(binary.BigEndian.Uint64(payload[13:21])),
		Keyframe:          flags&videoFlagKeyframe != 0,
		ParametersChanged: flags&videoFlagParamsChng != 0,
	}, nil
}

// metricsLogger periodically logs streaming counters.
func (s *PassiveSession) metricsLogger() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			snap := s.metrics.Snapshot()
			log.Info("desktop stream metrics",
				"local", s.key.LocalID,
				"remote", s.key.RemoteID,
				"captured", snap.FramesCaptured,
				"encoded", snap.FramesEncoded,
				"sent", snap.FramesSent,
				"skipped", snap.FramesSkipped,
				"dropped", snap.FramesDropped,
				"encodeMs", fmt.Sprintf("%.1f", snap.EncodeMs),
				"packetBytes", snap.LastPacketSize,
				"bandwidthKBps", fmt.Sprintf("%.1f", snap.BandwidthKBps),
				"uptime", snap.Uptime.Round(time.Second),
			)
		}
	}
}
