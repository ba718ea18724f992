//go:build darwin

package desktop

import "fmt"

func init() {
	registerHardwareFactory(newVideoToolboxEncoder)
}

// newVideoToolboxEncoder probes for VideoToolbox hardware encode. Until the
// VideoToolbox bindings are integrated it reports unavailable and backend
// selection falls through to the software encoder.
func newVideoToolboxEncoder(cfg EncoderConfig) (encoderBackend, error) {
	if cfg.Codec != CodecH264 && cfg.Codec != CodecHEVC {
		return nil, fmt.Errorf("videotoolbox unsupported codec: %s", cfg.Codec)
	}
	return nil, fmt.Errorf("videotoolbox bindings not available")
}
