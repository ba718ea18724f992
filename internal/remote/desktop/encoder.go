package desktop

import (
	"errors"
	"fmt"
	"sync"
)

// Codec identifies the video bitstream format. The supported set is fixed:
// H.264 and HEVC, NV12 input.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecHEVC Codec = "hevc"
)

func (c Codec) valid() bool {
	return c == CodecH264 || c == CodecHEVC
}

// QualityPreset maps to backend-specific rate/speed tradeoffs.
type QualityPreset string

const (
	QualityAuto   QualityPreset = "auto"
	QualityLow    QualityPreset = "low"
	QualityMedium QualityPreset = "medium"
	QualityHigh   QualityPreset = "high"
	QualityUltra  QualityPreset = "ultra"
)

func (q QualityPreset) valid() bool {
	switch q {
	case QualityAuto, QualityLow, QualityMedium, QualityHigh, QualityUltra:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidCodec   = errors.New("invalid codec")
	ErrInvalidQuality = errors.New("invalid quality preset")
	ErrInvalidBitrate = errors.New("invalid bitrate")
	ErrInvalidFPS     = errors.New("invalid fps")
	ErrInvalidOption  = errors.New("option rejected")
	ErrNotOpened      = errors.New("encoder not opened")
	ErrEncodeFailed   = errors.New("encode failed")
)

// EncoderConfig is the encoder's declared input contract. Every submitted
// frame must match Width/Height/Range; a mismatch drops the frame and
// triggers a parameter reset on the next submission.
type EncoderConfig struct {
	Codec          Codec
	Quality        QualityPreset
	Bitrate        int
	Width          int
	Height         int
	FPS            int
	Range          ColorRange
	PreferHardware bool
}

func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Codec:          CodecH264,
		Quality:        QualityAuto,
		Bitrate:        2_500_000,
		FPS:            30,
		Range:          RangeStudio,
		PreferHardware: true,
	}
}

// encoderBackend is one codec realization. Backends are configured for
// zero B-frames and a GOP of 3x fps; both peers rely on every packet being
// decodable in submission order.
type encoderBackend interface {
	Open(cfg EncoderConfig, opts map[string]string) error
	// Encode submits one NV12 frame and returns zero or more packets.
	Encode(frame *VideoFrame, forceKeyframe bool) ([]VideoPacket, error)
	SetBitrate(bitrate int) error
	SetQuality(quality QualityPreset) error
	SetFPS(fps int) error
	Close() error
	Name() string
	IsHardware() bool
}

type backendFactory func(cfg EncoderConfig) (encoderBackend, error)

var (
	hardwareFactoriesMu sync.Mutex
	hardwareFactories   []backendFactory
)

// registerHardwareFactory is called from platform init() functions to make
// a hardware encoder available to the selection in Open.
func registerHardwareFactory(factory backendFactory) {
	hardwareFactoriesMu.Lock()
	defer hardwareFactoriesMu.Unlock()
	hardwareFactories = append(hardwareFactories, factory)
}

// VideoEncoder turns NV12 frames into Annex-B packets via a hardware
// backend when one is available, the software backend otherwise.
type VideoEncoder struct {
	mu      sync.Mutex
	cfg     EncoderConfig
	opts    map[string]string
	backend encoderBackend
	sink    PacketSink
	opened  bool

	// flagNext marks the next emitted packet ParametersChanged, set after
	// a reinitialization caused by a frame/config mismatch.
	flagNext bool
	forceKey bool
}

// NewVideoEncoder creates a closed encoder for the named backend
// ("auto" selects hardware-preferred) at the given dimensions and rate.
func NewVideoEncoder(name string, width, height, fps int) (*VideoEncoder, error) {
	cfg := DefaultEncoderConfig()
	cfg.Width, cfg.Height, cfg.FPS = width, height, fps
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("desktop: encoder dimensions %dx%d invalid", width, height)
	}
	if fps <= 0 {
		return nil, ErrInvalidFPS
	}
	switch name {
	case "", "auto":
	case "software":
		cfg.PreferHardware = false
	default:
		cfg.PreferHardware = true
	}
	return &VideoEncoder{cfg: cfg, opts: map[string]string{}}, nil
}

// SetOption records a backend option (preset, profile, tune). Options are
// validated on Open; unknown keys are rejected here.
func (v *VideoEncoder) SetOption(key, value string) error {
	switch key {
	case "preset", "profile", "tune":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidOption, key)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.opened {
		return fmt.Errorf("%w: options must be set before Open", ErrInvalidOption)
	}
	v.opts[key] = value
	return nil
}

// SetCodec selects h264 or hevc. Must be called before Open.
func (v *VideoEncoder) SetCodec(codec Codec) error {
	if !codec.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidCodec, codec)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cfg.Codec = codec
	return nil
}

// SetColorRange declares the expected input range. Must match submitted
// frames once open.
func (v *VideoEncoder) SetColorRange(r ColorRange) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cfg.Range = r
}

// Open selects a backend and starts delivering packets to sink.
func (v *VideoEncoder) Open(sink PacketSink) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.opened {
		return nil
	}
	if sink == nil {
		return errors.New("desktop: nil packet sink")
	}
	backend, err := selectBackend(v.cfg)
	if err != nil {
		return err
	}
	if err := backend.Open(v.cfg, v.opts); err != nil {
		return fmt.Errorf("desktop: open %s encoder: %w", backend.Name(), err)
	}
	v.backend = backend
	v.sink = sink
	v.opened = true
	log.Info("video encoder opened",
		"backend", backend.Name(),
		"hardware", backend.IsHardware(),
		"codec", v.cfg.Codec,
		"size", fmt.Sprintf("%dx%d", v.cfg.Width, v.cfg.Height),
		"fps", v.cfg.FPS,
	)
	return nil
}

// Encode submits one frame. A frame whose (width, height, range) differ
// from the configured contract is dropped; the encoder reinitializes to the
// frame's parameters and the first packet produced after the reset carries
// ParametersChanged so the decoder flushes.
func (v *VideoEncoder) Encode(frame *VideoFrame) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.opened {
		return ErrNotOpened
	}
	if err := frame.Validate(); err != nil {
		return err
	}

	if frame.Width != v.cfg.Width || frame.Height != v.cfg.Height || frame.Range != v.cfg.Range {
		log.Warn("frame parameters differ from encoder contract, reinitializing",
			"got", fmt.Sprintf("%dx%d %s", frame.Width, frame.Height, frame.Range),
			"want", fmt.Sprintf("%dx%d %s", v.cfg.Width, v.cfg.Height, v.cfg.Range),
		)
		v.cfg.Width, v.cfg.Height, v.cfg.Range = frame.Width, frame.Height, frame.Range
		if err := v.backend.Close(); err != nil {
			log.Warn("backend close during reinit failed", "error", err)
		}
		if err := v.backend.Open(v.cfg, v.opts); err != nil {
			return fmt.Errorf("desktop: encoder reinit: %w", err)
		}
		v.flagNext = true
		v.forceKey = true
		return nil // mismatched frame is dropped
	}

	force := v.forceKey
	v.forceKey = false
	packets, err := v.backend.Encode(frame, force)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	for i := range packets {
		if v.flagNext {
			packets[i].ParametersChanged = true
			v.flagNext = false
		}
		v.sink(packets[i])
	}
	return nil
}

// ForceKeyframe requests an IDR on the next submission.
func (v *VideoEncoder) ForceKeyframe() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.forceKey = true
}

// SetBitrate adjusts the target bitrate at runtime (adaptive control).
func (v *VideoEncoder) SetBitrate(bitrate int) error {
	if bitrate <= 0 {
		return ErrInvalidBitrate
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cfg.Bitrate = bitrate
	if v.backend != nil {
		return v.backend.SetBitrate(bitrate)
	}
	return nil
}

// SetQuality adjusts the quality preset at runtime.
func (v *VideoEncoder) SetQuality(quality QualityPreset) error {
	if !quality.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidQuality, quality)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cfg.Quality = quality
	if v.backend != nil {
		return v.backend.SetQuality(quality)
	}
	return nil
}

// SetFPS adjusts the declared rate at runtime. The GOP follows (3x fps).
func (v *VideoEncoder) SetFPS(fps int) error {
	if fps <= 0 {
		return ErrInvalidFPS
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cfg.FPS = fps
	if v.backend != nil {
		return v.backend.SetFPS(fps)
	}
	return nil
}

// Config returns a copy of the current contract.
func (v *VideoEncoder) Config() EncoderConfig {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cfg
}

// BackendName reports the selected backend, "" before Open.
func (v *VideoEncoder) BackendName() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.backend == nil {
		return ""
	}
	return v.backend.Name()
}

// BackendIsHardware reports whether the selected backend is a hardware
// encoder.
func (v *VideoEncoder) BackendIsHardware() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.backend != nil && v.backend.IsHardware()
}

// Close releases the backend. Encode after Close returns ErrNotOpened.
func (v *VideoEncoder) Close() error {
	v.mu.Lock()
	backend := v.backend
	v.backend = nil
	v.opened = false
	v.mu.Unlock()
	if backend == nil {
		return nil
	}
	return backend.Close()
}

func selectBackend(cfg EncoderConfig) (encoderBackend, error) {
	if cfg.PreferHardware {
		hardwareFactoriesMu.Lock()
		factories := append([]backendFactory(nil), hardwareFactories...)
		hardwareFactoriesMu.Unlock()
		for _, factory := range factories {
			backend, err := factory(cfg)
			if err == nil && backend != nil {
				return backend, nil
			}
		}
	}
	return newSoftwareEncoder(cfg)
}

// gopLength is the keyframe interval: one IDR every 3 seconds of video.
func gopLength(fps int) int {
	if fps < 1 {
		fps = 1
	}
	return 3 * fps
}
