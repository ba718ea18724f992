//go:build windows

package desktop

import "fmt"

func init() {
	registerHardwareFactory(newMFTEncoder)
}

// newMFTEncoder probes for a Media Foundation hardware H.264/HEVC encoder.
// Until the MFT bindings are integrated it reports unavailable and backend
// selection falls through to the software encoder.
func newMFTEncoder(cfg EncoderConfig) (encoderBackend, error) {
	if cfg.Codec != CodecH264 && cfg.Codec != CodecHEVC {
		return nil, fmt.Errorf("mft unsupported codec: %s", cfg.Codec)
	}
	return nil, fmt.Errorf("mft bindings not available")
}
