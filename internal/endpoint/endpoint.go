// Package endpoint implements the Endpoint Connection: the
// direct peer-to-peer transport established after signaling visit +
// key_exchange, carrying the Handshake control frame and, once streaming
// starts, video/audio/input/control traffic concurrently over one Framed
// Transport.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/lantern-desktop/desktopd/internal/transport"
)

// Per-kind demux channel depths.
const (
	videoChanDepth   = 64
	audioChanDepth   = 64
	inputChanDepth   = 256
	controlChanDepth = 256
)

var (
	// ErrDialFailed is returned by Connect when the direct TCP dial to
	// the endpoint address fails.
	ErrDialFailed = errors.New("endpoint: dial failed")
	// ErrHandshakeFailed covers a rejected or malformed Handshake frame.
	// Always fatal to the attempt.
	ErrHandshakeFailed = errors.New("endpoint: handshake failed")
	// ErrHandshakeTimeout is returned when the handshake does not
	// complete within its 5s deadline.
	ErrHandshakeTimeout = errors.New("endpoint: handshake timed out")
	// ErrProtocolViolation is returned when a frame's kind is illegal
	// for the connection's current stage.
	ErrProtocolViolation = errors.New("endpoint: protocol violation")
	// ErrClosed is returned once the connection has been torn down.
	ErrClosed = errors.New("endpoint: connection closed")
)

// Frame is one demultiplexed inbound frame.
type Frame struct {
	Kind    transport.Kind
	Payload []byte
}

// PendingHandshake is the credential/key material a passive-side listener
// has on hand for one expected inbound connection, resolved from the
// visit_credentials token the rendezvous issued during key_exchange.
type PendingHandshake struct {
	LocalID  int64
	RemoteID int64
	Keys     transport.AeadKeyPair
}

// CredentialResolver maps a presented 16-byte visit_credentials token to
// the pending handshake it authorizes, if any.
type CredentialResolver func(credentials [16]byte) (PendingHandshake, bool)

type handshakeMsg struct {
	Type        string `json:"type"`
	Credentials []byte `json:"credentials"`
}

type handshakeAck struct {
	Type string `json:"type"`
	OK   bool   `json:"ok"`
}

// Connection is one Endpoint Session's transport: a Framed Transport plus
// its per-kind demultiplexed inbound channels.
type Connection struct {
	transport *transport.Transport

	localID  int64
	remoteID int64

	video   chan Frame
	audio   chan Frame
	input   chan Frame
	control chan Frame

	closeOnce sync.Once
	done      chan struct{}
	stopping  chan struct{}
	wg        sync.WaitGroup
}

func newConnection(t *transport.Transport, localID, remoteID int64) *Connection {
	c := &Connection{
		transport: t,
		localID:   localID,
		remoteID:  remoteID,
		video:     make(chan Frame, videoChanDepth),
		audio:     make(chan Frame, audioChanDepth),
		input:     make(chan Frame, inputChanDepth),
		control:   make(chan Frame, controlChanDepth),
		done:      make(chan struct{}),
		stopping:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

// Connect dials addr directly (active side, post key_exchange) and returns
// an unhandshaked Connection. Call Handshake next.
func Connect(ctx context.Context, addr string, localID, remoteID int64) (*Connection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}
	return newConnection(transport.New(conn), localID, remoteID), nil
}

// Accept wraps an already-accepted inbound net.Conn (passive side,
// listening for endpoint connections) as an unhandshaked Connection. Call
// RespondHandshake next.
func Accept(conn net.Conn) *Connection {
	return newConnection(transport.New(conn), 0, 0)
}

// LocalID and RemoteID identify the (local_id, remote_id) pair this
// connection serves, for Session Registry keying. They are valid on the
// active side immediately, and on the passive side only after
// RespondHandshake returns successfully.
func (c *Connection) LocalID() int64  { return c.localID }
func (c *Connection) RemoteID() int64 { return c.remoteID }

// Handshake is the active side's half: send the Handshake control frame
// carrying visitCredentials, install the AEAD keys the rendezvous supplied
// during key_exchange, then wait for the passive side's sealed Ack.
func (c *Connection) Handshake(ctx context.Context, visitCredentials [16]byte, keys transport.AeadKeyPair) error {
	req := handshakeMsg{Type: "handshake", Credentials: visitCredentials[:]}
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if err := c.transport.Send(transport.KindEndpointControl, b); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	// The passive side seals everything from its ack onward, so the
	// opening keys must be live before the reply arrives. A rejection is
	// sent unsealed and therefore fails to open, which lands in the same
	// ErrHandshakeFailed path without disclosing why.
	if err := c.transport.InstallAEAD(keys); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	select {
	case f := <-c.control:
		if f.Kind != transport.KindEndpointControl {
			return ErrProtocolViolation
		}
		var ack handshakeAck
		if err := json.Unmarshal(f.Payload, &ack); err != nil || ack.Type != "handshake_ack" || !ack.OK {
			return ErrHandshakeFailed
		}
	case <-ctx.Done():
		return ErrHandshakeTimeout
	case <-c.done:
		return ErrHandshakeFailed
	}

	return nil
}

// RespondHandshake is the passive side's half: wait for the
// Handshake control frame, resolve its credentials against resolve, and on
// success install the matching AEAD keys and reply with an Ack. On failure
// it replies with a negative Ack (never revealing why) and returns
// ErrHandshakeFailed.
func (c *Connection) RespondHandshake(ctx context.Context, resolve CredentialResolver) error {
	select {
	case f := <-c.control:
		if f.Kind != transport.KindEndpointControl {
			return ErrProtocolViolation
		}
		var msg handshakeMsg
		if err := json.Unmarshal(f.Payload, &msg); err != nil || msg.Type != "handshake" {
			return ErrProtocolViolation
		}
		var creds [16]byte
		copy(creds[:], msg.Credentials)

		pending, ok := resolve(creds)
		if !ok {
			ackBytes, _ := json.Marshal(handshakeAck{Type: "handshake_ack", OK: false})
			_ = c.transport.Send(transport.KindEndpointControl, ackBytes)
			return ErrHandshakeFailed
		}

		c.localID, c.remoteID = pending.LocalID, pending.RemoteID
		if err := c.transport.InstallAEAD(pending.Keys); err != nil {
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		ackBytes, err := json.Marshal(handshakeAck{Type: "handshake_ack", OK: true})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		return c.transport.Send(transport.KindEndpointControl, ackBytes)
	case <-ctx.Done():
		return ErrHandshakeTimeout
	case <-c.done:
		return ErrHandshakeFailed
	}
}

// Video, Audio, Input, and Control expose the per-kind inbound channels for
// consumers (decoder thread, input dispatcher, negotiation FSM).
func (c *Connection) Video() <-chan Frame   { return c.video }
func (c *Connection) Audio() <-chan Frame   { return c.audio }
func (c *Connection) Input() <-chan Frame   { return c.input }
func (c *Connection) Control() <-chan Frame { return c.control }

// SendVideo, SendAudio, SendInput, and SendControl write an outbound frame
// of the matching kind.
func (c *Connection) SendVideo(payload []byte) error {
	return c.transport.Send(transport.KindEndpointVideo, payload)
}
func (c *Connection) SendAudio(payload []byte) error {
	return c.transport.Send(transport.KindEndpointAudio, payload)
}
func (c *Connection) SendInput(payload []byte) error {
	return c.transport.Send(transport.KindEndpointInput, payload)
}
func (c *Connection) SendControl(payload []byte) error {
	return c.transport.Send(transport.KindEndpointControl, payload)
}

// Done is closed once the reader has observed a fatal transport error
// (closed, frame-too-large, or integrity failure).
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close tears down the transport. Callers should stop all
// producers (capture/encode threads, writer task) before calling Close.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopping)
		_ = c.transport.Close()
	})
	return nil
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	defer close(c.done)
	for {
		kind, payload, err := c.transport.Recv()
		if err != nil {
			return
		}
		f := Frame{Kind: kind, Payload: payload}
		switch kind {
		case transport.KindEndpointVideo:
			dispatchDropOldest(c.video, f)
		case transport.KindEndpointAudio:
			dispatchDropOldest(c.audio, f)
		case transport.KindEndpointInput:
			if !blockingSend(c.input, f, c.stopping) {
				return
			}
		default:
			if !blockingSend(c.control, f, c.stopping) {
				return
			}
		}
	}
}

// dispatchDropOldest implements the "keep newest" backpressure policy: if
// the channel is full, the oldest pending frame is dropped to make room.
func dispatchDropOldest(ch chan Frame, f Frame) {
	for {
		select {
		case ch <- f:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// blockingSend applies backpressure: it blocks the reader (and thus,
// transitively, the peer's writer once its outbound queue also fills)
// until there is room, or the connection is closing.
func blockingSend(ch chan Frame, f Frame, stopping chan struct{}) bool {
	select {
	case ch <- f:
		return true
	case <-stopping:
		return false
	}
}
