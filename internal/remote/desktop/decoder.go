package desktop

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDecodeFailed is a fatal decoder error; the owning session tears
	// down. Backend EAGAIN/EOF conditions are absorbed and never surface
	// here.
	ErrDecodeFailed = errors.New("decode failed")

	// errDecodeAgain is the backends' non-fatal "no output yet" signal.
	errDecodeAgain = errors.New("decoder needs more input")
)

// decoderBackend is one decode realization. Hardware backends transfer
// their output to CPU-side NV12 before delivery.
type decoderBackend interface {
	// Decode consumes one packet and returns zero or more frames. It may
	// return errDecodeAgain to indicate buffering; any other error is
	// fatal.
	Decode(pkt VideoPacket) ([]*VideoFrame, error)
	// Flush drops buffered state (parameter change, seek).
	Flush()
	Close() error
	Name() string
	IsHardware() bool
}

var (
	hwDecoderFactoriesMu sync.Mutex
	hwDecoderFactories   []func(name string) (decoderBackend, error)
)

// registerHardwareDecoderFactory mirrors the encoder side: platform init()
// functions register hardware decode paths here.
func registerHardwareDecoderFactory(factory func(name string) (decoderBackend, error)) {
	hwDecoderFactoriesMu.Lock()
	defer hwDecoderFactoriesMu.Unlock()
	hwDecoderFactories = append(hwDecoderFactories, factory)
}

// VideoDecoder turns Annex-B packets back into NV12 frames delivered to a
// sink. A hardware device context is attached when a platform factory
// offers one; otherwise the bitstream-parsing software backend serves.
type VideoDecoder struct {
	mu      sync.Mutex
	backend decoderBackend
	sink    FrameSink
	closed  bool
}

// NewVideoDecoder creates a decoder for the named codec backend ("auto"
// prefers hardware).
func NewVideoDecoder(name string) (*VideoDecoder, error) {
	var backend decoderBackend
	if name == "" || name == "auto" {
		hwDecoderFactoriesMu.Lock()
		factories := append([]func(string) (decoderBackend, error)(nil), hwDecoderFactories...)
		hwDecoderFactoriesMu.Unlock()
		for _, factory := range factories {
			if b, err := factory(name); err == nil && b != nil {
				backend = b
				break
			}
		}
	}
	if backend == nil {
		backend = newSoftwareDecoder()
	}
	return &VideoDecoder{backend: backend}, nil
}

// SetSink installs the frame delivery callback. Must be set before Decode.
func (d *VideoDecoder) SetSink(sink FrameSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// Decode submits one packet. Frames come out through the sink, zero or
// more per call. ParametersChanged packets flush buffered backend state
// first. Returns ErrDecodeFailed on fatal backend errors.
func (d *VideoDecoder) Decode(pkt VideoPacket) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDecodeFailed
	}
	if d.sink == nil {
		return errors.New("desktop: decoder has no sink")
	}
	if pkt.ParametersChanged {
		d.backend.Flush()
	}
	frames, err := d.backend.Decode(pkt)
	if errors.Is(err, errDecodeAgain) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	for _, f := range frames {
		d.sink(f)
		putNV12Frame(f)
	}
	return nil
}

// BackendName reports the selected backend.
func (d *VideoDecoder) BackendName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backend.Name()
}

// Close releases the backend. Decode after Close fails.
func (d *VideoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.backend.Close()
}

// softwareDecoder parses the software backend's Annex-B stream: a
// parameter-set NAL establishes dimensions, frame NALs carry raw planes.
type softwareDecoder struct {
	width      int
	height     int
	rng        ColorRange
	timescale  uint32
	haveParams bool
}

func newSoftwareDecoder() *softwareDecoder {
	return &softwareDecoder{}
}

func (s *softwareDecoder) Decode(pkt VideoPacket) ([]*VideoFrame, error) {
	var frames []*VideoFrame
	nals := splitNALs(pkt.Data)
	if len(nals) == 0 {
		return nil, errDecodeAgain
	}
	for _, nal := range nals {
		if len(nal) < 2 {
			continue
		}
		payload := ebspUnescape(nal[1:])
		switch nal[0] {
		case nalTypeParams:
			w, h, rng, ts, err := decodeParamSet(payload)
			if err != nil {
				return nil, err
			}
			s.width, s.height, s.rng, s.timescale = w, h, rng, ts
			s.haveParams = true
		case nalTypeFrame:
			if !s.haveParams {
				// Mid-stream join before the first keyframe: wait.
				return nil, errDecodeAgain
			}
			yPlane, uvPlane, err := decodeFramePayload(payload, s.width, s.height)
			if err != nil {
				return nil, err
			}
			f := getNV12Frame(s.width, s.height)
			f.Range = s.rng
			f.DTS, f.PTS = pkt.DTS, pkt.PTS
			f.Timescale = pkt.Timescale
			if f.Timescale == 0 {
				f.Timescale = s.timescale
			}
			for y := 0; y < s.height; y++ {
				copy(f.Y[y*f.YStride:y*f.YStride+s.width], yPlane[y*s.width:(y+1)*s.width])
			}
			for y := 0; y < s.height/2; y++ {
				copy(f.UV[y*f.UVStride:y*f.UVStride+s.width], uvPlane[y*s.width:(y+1)*s.width])
			}
			frames = append(frames, f)
		default:
			// Unknown NAL types are skipped, matching how real decoders
			// treat SEI and filler units.
		}
	}
	if len(frames) == 0 {
		return nil, errDecodeAgain
	}
	return frames, nil
}

func (s *softwareDecoder) Flush() {
	s.haveParams = false
}

func (s *softwareDecoder) Close() error { return nil }

func (s *softwareDecoder) Name() string     { return "software" }
func (s *softwareDecoder) IsHardware() bool { return false }
