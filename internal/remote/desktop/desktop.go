// Package desktop implements the passive-side media pipeline (screen
// capture, video encode, input injection) and the active-side inverse
// (video decode, frame delivery) for remote desktop sessions. Frames move
// capture → encoder → endpoint transport → decoder → frame sink; input
// events move the other way.
package desktop

import (
	"errors"

	"github.com/lantern-desktop/desktopd/internal/logging"
)

var log = logging.L("desktop")

// DefaultTimescale is the dts/pts unit used by the capture pipeline:
// 90 kHz, the conventional video transport timebase.
const DefaultTimescale = 90000

// ColorRange describes the luma/chroma quantization range of a frame.
type ColorRange int

const (
	// RangeStudio is the 16-235 (luma) / 16-240 (chroma) range.
	RangeStudio ColorRange = iota
	// RangeFull is the 0-255 range.
	RangeFull
)

func (r ColorRange) String() string {
	if r == RangeFull {
		return "full"
	}
	return "studio"
}

// VideoFrame is one uncompressed NV12 picture. The Y plane is full
// resolution; UV is interleaved CbCr at half resolution in each dimension.
// Ownership passes along the pipeline: whoever receives the frame may reuse
// or release its backing buffer once done.
type VideoFrame struct {
	Y        []byte
	UV       []byte
	YStride  int
	UVStride int
	Width    int
	Height   int
	Range    ColorRange

	// DTS/PTS are in Timescale units since an arbitrary epoch fixed at
	// capture start. The pipeline preserves them end to end so the
	// renderer can order and pace.
	DTS       int64
	PTS       int64
	Timescale uint32
}

// Validate checks the NV12 plane geometry invariants.
func (f *VideoFrame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return errors.New("desktop: frame has no dimensions")
	}
	if f.YStride < f.Width || f.UVStride < f.Width {
		return errors.New("desktop: plane stride smaller than width")
	}
	if len(f.Y) < f.YStride*f.Height {
		return errors.New("desktop: Y plane short")
	}
	if len(f.UV) < f.UVStride*(f.Height/2) {
		return errors.New("desktop: UV plane short")
	}
	return nil
}

// VideoPacket is one encoded Annex-B bitstream blob.
type VideoPacket struct {
	Data []byte
	DTS  int64
	PTS  int64
	// Timescale gives the unit of DTS/PTS in 1/Timescale seconds.
	Timescale uint32
	// Keyframe marks an IDR the decoder can start from.
	Keyframe bool
	// ParametersChanged marks the first packet after an encoder
	// reinitialization (dimension or color-range change). The decoder
	// flushes its pipeline when it sees this.
	ParametersChanged bool
}

// FrameSink receives decoded or captured frames. Implementations must copy
// what they need and return promptly; the frame's buffers may be reused by
// the caller after the sink returns.
type FrameSink func(*VideoFrame)

// PacketSink receives encoded packets from a VideoEncoder.
type PacketSink func(VideoPacket)
