//go:build windows

package ctrl

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// DefaultSocketPath is the named pipe the daemon listens on absent
// configuration.
func DefaultSocketPath() string {
	return `\\.\pipe\desktopd-ctrl`
}

// Listen binds the control pipe, restricted to SYSTEM, Administrators,
// and Interactive users.
func Listen(path string) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;SY)(A;;GA;;;BA)(A;;GRGW;;;IU)",
		MessageMode:        false,
		InputBufferSize:    65536,
		OutputBufferSize:   65536,
	}
	return winio.ListenPipe(path, cfg)
}

func dial(path string, timeout time.Duration) (net.Conn, error) {
	return winio.DialPipe(path, &timeout)
}
