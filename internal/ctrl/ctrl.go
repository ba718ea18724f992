// Package ctrl is the local control surface of a running desktopd
// process: a line-of-sight socket (unix socket, Windows named pipe) that
// the CLI queries for liveness and session counts. It is not reachable
// from the network.
package ctrl

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lantern-desktop/desktopd/internal/logging"
)

var log = logging.L("ctrl")

// maxMessageSize bounds one control message.
const maxMessageSize = 1 << 20

// Envelope frames every request and response.
type Envelope struct {
	ID      string          `json:"id"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	opStatus = "status"
)

// Status is the diagnostic snapshot served to the CLI.
type Status struct {
	Version          string `json:"version"`
	SignalingState   string `json:"signaling_state"`
	ActiveSessions   int    `json:"active_sessions"`
	PrimaryDomain    string `json:"primary_domain,omitempty"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	EndpointListener string `json:"endpoint_listener,omitempty"`
}

func writeMessage(conn net.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := conn.Write(header[:]); err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

func readMessage(conn net.Conn) (Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return Envelope{}, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 || length > maxMessageSize {
		return Envelope{}, fmt.Errorf("ctrl: message length %d out of range", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(conn, data); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("ctrl: malformed envelope: %w", err)
	}
	return env, nil
}

// Server answers control requests with snapshots from statusFn.
type Server struct {
	statusFn func() Status

	mu sync.Mutex
	ln net.Listener
}

// NewServer wraps the status provider.
func NewServer(statusFn func() Status) *Server {
	return &Server{statusFn: statusFn}
}

// Serve accepts on ln until Close. It returns after the listener fails.
func (s *Server) Serve(ln net.Listener) {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go s.serveConn(conn)
	}
}

// Close stops the listener.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	req, err := readMessage(conn)
	if err != nil {
		return
	}
	resp := Envelope{ID: req.ID, Op: req.Op}
	switch req.Op {
	case opStatus:
		payload, err := json.Marshal(s.statusFn())
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Payload = payload
		}
	default:
		resp.Error = fmt.Sprintf("unknown op %q", req.Op)
	}
	if err := writeMessage(conn, resp); err != nil {
		log.Debug("control reply failed", "error", err)
	}
}

// RequestStatus dials the control socket at path and fetches a Status.
func RequestStatus(path string, timeout time.Duration) (Status, error) {
	conn, err := dial(path, timeout)
	if err != nil {
		return Status{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	req := Envelope{ID: uuid.NewString(), Op: opStatus}
	if err := writeMessage(conn, req); err != nil {
		return Status{}, err
	}
	resp, err := readMessage(conn)
	if err != nil {
		return Status{}, err
	}
	if resp.ID != req.ID {
		return Status{}, fmt.Errorf("ctrl: response id mismatch")
	}
	if resp.Error != "" {
		return Status{}, fmt.Errorf("ctrl: %s", resp.Error)
	}
	var status Status
	if err := json.Unmarshal(resp.Payload, &status); err != nil {
		return Status{}, fmt.Errorf("ctrl: malformed status: %w", err)
	}
	return status, nil
}
