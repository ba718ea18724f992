package desktop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// The software backend carries NV12 planes raw inside Annex-B framing,
// using NAL unit types from the application-reserved range. It is the
// fallback when no hardware factory is registered for the platform, and
// the deterministic codec the pipeline tests run against. Real compression
// arrives when x264/x265 bindings are integrated; the packet contract
// (keyframe cadence, parameter sets, emulation prevention) is already the
// final one.
const (
	nalTypeParams = 24 // application-reserved: width/height/range/timescale
	nalTypeFrame  = 25 // application-reserved: raw NV12 planes
)

type softwareEncoder struct {
	mu       sync.Mutex
	cfg      EncoderConfig
	opened   bool
	frameIdx int64
}

func newSoftwareEncoder(cfg EncoderConfig) (encoderBackend, error) {
	return &softwareEncoder{cfg: cfg}, nil
}

func (s *softwareEncoder) Open(cfg EncoderConfig, opts map[string]string) error {
	switch opts["profile"] {
	case "", "baseline", "main", "high":
	default:
		return fmt.Errorf("%w: profile %q", ErrInvalidOption, opts["profile"])
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.frameIdx = 0
	s.opened = true
	return nil
}

func (s *softwareEncoder) Encode(frame *VideoFrame, forceKeyframe bool) ([]VideoPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil, errors.New("software encoder not opened")
	}

	keyframe := forceKeyframe || s.frameIdx%int64(gopLength(s.cfg.FPS)) == 0
	s.frameIdx++

	data := make([]byte, 0, frame.Width*frame.Height*3/2+64)
	if keyframe {
		data = appendNAL(data, nalTypeParams, encodeParamSet(frame))
	}
	data = appendNAL(data, nalTypeFrame, encodeFramePayload(frame))

	return []VideoPacket{{
		Data:      data,
		DTS:       frame.DTS,
		PTS:       frame.PTS,
		Timescale: frame.Timescale,
		Keyframe:  keyframe,
	}}, nil
}

func (s *softwareEncoder) SetBitrate(bitrate int) error {
	if bitrate <= 0 {
		return ErrInvalidBitrate
	}
	s.mu.Lock()
	s.cfg.Bitrate = bitrate
	s.mu.Unlock()
	return nil
}

func (s *softwareEncoder) SetQuality(quality QualityPreset) error {
	if !quality.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidQuality, quality)
	}
	s.mu.Lock()
	s.cfg.Quality = quality
	s.mu.Unlock()
	return nil
}

func (s *softwareEncoder) SetFPS(fps int) error {
	if fps <= 0 {
		return ErrInvalidFPS
	}
	s.mu.Lock()
	s.cfg.FPS = fps
	s.mu.Unlock()
	return nil
}

func (s *softwareEncoder) Close() error {
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	return nil
}

func (s *softwareEncoder) Name() string     { return "software" }
func (s *softwareEncoder) IsHardware() bool { return false }

// encodeParamSet serializes the stream parameters carried on every
// keyframe: BE u16 width, u16 height, u8 range, u32 timescale, then a stop
// byte so the escaped payload never ends in zero.
func encodeParamSet(frame *VideoFrame) []byte {
	p := make([]byte, 9, 10)
	binary.BigEndian.PutUint16(p[0:2], uint16(frame.Width))
	binary.BigEndian.PutUint16(p[2:4], uint16(frame.Height))
	p[4] = byte(frame.Range)
	binary.BigEndian.PutUint32(p[5:9], frame.Timescale)
	return append(p, 0x80)
}

func decodeParamSet(p []byte) (width, height int, rng ColorRange, timescale uint32, err error) {
	if len(p) < 10 || p[len(p)-1] != 0x80 {
		return 0, 0, 0, 0, errors.New("malformed parameter set")
	}
	width = int(binary.BigEndian.Uint16(p[0:2]))
	height = int(binary.BigEndian.Uint16(p[2:4]))
	rng = ColorRange(p[4])
	timescale = binary.BigEndian.Uint32(p[5:9])
	if width <= 0 || height <= 0 {
		return 0, 0, 0, 0, errors.New("parameter set has no dimensions")
	}
	return width, height, rng, timescale, nil
}

// encodeFramePayload packs the planes row by row without stride padding,
// Y first then UV, with a trailing stop byte.
func encodeFramePayload(frame *VideoFrame) []byte {
	p := make([]byte, 0, frame.Width*frame.Height*3/2+1)
	for y := 0; y < frame.Height; y++ {
		p = append(p, frame.Y[y*frame.YStride:y*frame.YStride+frame.Width]...)
	}
	for y := 0; y < frame.Height/2; y++ {
		p = append(p, frame.UV[y*frame.UVStride:y*frame.UVStride+frame.Width]...)
	}
	return append(p, 0x80)
}

func decodeFramePayload(p []byte, width, height int) (yPlane, uvPlane []byte, err error) {
	want := width*height + width*(height/2) + 1
	if len(p) != want || p[len(p)-1] != 0x80 {
		return nil, nil, fmt.Errorf("frame payload size %d, want %d", len(p), want)
	}
	return p[:width*height], p[width*height : len(p)-1], nil
}
