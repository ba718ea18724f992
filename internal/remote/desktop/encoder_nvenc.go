//go:build nvenc

package desktop

import "fmt"

func init() {
	registerHardwareFactory(newNVENCEncoder)
}

// newNVENCEncoder probes for NVENC hardware encode. Built only with the
// nvenc tag; reports unavailable until the NVENC bindings are integrated.
func newNVENCEncoder(cfg EncoderConfig) (encoderBackend, error) {
	if cfg.Codec != CodecH264 && cfg.Codec != CodecHEVC {
		return nil, fmt.Errorf("nvenc unsupported codec: %s", cfg.Codec)
	}
	return nil, fmt.Errorf("nvenc bindings not available")
}
