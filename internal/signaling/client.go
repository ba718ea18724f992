// Package signaling implements the Signaling Client: a
// request/response-multiplexed connection to the rendezvous service, plus
// its server-push channel for inbound visit requests.
package signaling

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lantern-desktop/desktopd/internal/logging"
	"github.com/lantern-desktop/desktopd/internal/pake"
	"github.com/lantern-desktop/desktopd/internal/transport"
)

var log = logging.L("signaling")

// State is the Signaling Client's connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateDialing
	StateConnected
	StateSubscribed
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// DefaultRequestTimeout is the per-request deadline for signaling calls.
const DefaultRequestTimeout = 10 * time.Second

type pendingRequest struct {
	ch chan pendingResult
}

type pendingResult struct {
	data json.RawMessage
	err  *serverError
}

// Client is one long-lived connection to the rendezvous service.
type Client struct {
	transport *transport.Transport

	state atomic.Int32

	seqMu sync.Mutex
	seq   uint16

	pendingMu sync.Mutex
	pending   map[uint16]pendingRequest

	pushCh chan VisitRequest

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Dial establishes the TCP (or TLS, or WebSocket) link to uri and performs
// no further handshake: the rendezvous protocol itself starts with
// register. Supported schemes are tcp://, tls://, ws://, wss://. tlsConfig
// is used for tls:// and wss:// dials; it may be nil to use the default.
func Dial(ctx context.Context, uri string, tlsConfig *tls.Config) (*Client, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}

	var conn rwc
	switch u.Scheme {
	case "tcp", "":
		var d net.Dialer
		c, derr := d.DialContext(ctx, "tcp", u.Host)
		if derr != nil {
			return nil, classifyDialErr(derr)
		}
		conn = c
	case "tls":
		dialer := tls.Dialer{Config: tlsConfig}
		c, derr := dialer.DialContext(ctx, "tcp", u.Host)
		if derr != nil {
			return nil, classifyDialErr(derr)
		}
		conn = c
	case "ws", "wss":
		wsDialer := *websocket.DefaultDialer
		wsDialer.TLSClientConfig = tlsConfig
		wsConn, _, derr := wsDialer.DialContext(ctx, uri, nil)
		if derr != nil {
			return nil, classifyDialErr(derr)
		}
		conn = transport.NewWebSocketConn(wsConn)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrDialFailed, u.Scheme)
	}

	c := &Client{
		transport: transport.New(conn),
		pending:   make(map[uint16]pendingRequest),
		pushCh:    make(chan VisitRequest, 32),
		done:      make(chan struct{}),
	}
	c.state.Store(int32(StateConnected))
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

type rwc interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}

func classifyDialErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrDialFailed, err)
}

// State returns the client's current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// VisitRequests returns the channel on which inbound visit invitations are
// delivered once Subscribe has been called.
func (c *Client) VisitRequests() <-chan VisitRequest { return c.pushCh }

// Done is closed once the underlying transport has failed or Disconnect has
// been called.
func (c *Client) Done() <-chan struct{} { return c.done }

// Disconnect tears the session down. Safe to call multiple times.
func (c *Client) Disconnect() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.done)
		_ = c.transport.Close()
	})
	return nil
}

func (c *Client) nextSeq() uint16 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seq++
	return c.seq
}

func (c *Client) request(ctx context.Context, op string, reqData any) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	// Every request carries a deadline; callers without one get the
	// default.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	seq := c.nextSeq()
	ch := make(chan pendingResult, 1)
	c.pendingMu.Lock()
	c.pending[seq] = pendingRequest{ch: ch}
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
	}()

	body, err := json.Marshal(reqData)
	if err != nil {
		return nil, fmt.Errorf("signaling: marshal %s request: %w", op, err)
	}
	payload, err := json.Marshal(envelope{Seq: seq, Op: op, Data: body})
	if err != nil {
		return nil, fmt.Errorf("signaling: marshal %s envelope: %w", op, err)
	}
	if err := c.transport.Send(transport.KindSignalingRequest, payload); err != nil {
		return nil, fmt.Errorf("signaling: send %s: %w", op, err)
	}

	select {
	case result := <-ch:
		if result.err != nil {
			return nil, result.err.toError()
		}
		return result.data, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	case <-c.done:
		return nil, ErrClosed
	}
}

// Register claims or reclaims a device id (deviceID nil claims a fresh one).
func (c *Client) Register(ctx context.Context, deviceID *int64, fingerprint [32]byte) (RegisterResult, error) {
	data, err := c.request(ctx, opRegister, registerRequest{DeviceID: deviceID, Fingerprint: fingerprint[:]})
	if err != nil {
		return RegisterResult{}, err
	}
	var result RegisterResult
	if err := json.Unmarshal(data, &result); err != nil {
		return RegisterResult{}, fmt.Errorf("%w: malformed register response: %v", ErrProtocolViolation, err)
	}
	return result, nil
}

// subscribeRefreshInterval is how often the fingerprint proof is written
// back to keep the push channel installed across rendezvous restarts.
const subscribeRefreshInterval = 5 * time.Minute

// Subscribe installs the server-push channel carrying inbound VisitRequests
// and starts a background fingerprint proof writeback loop. Idempotent:
// repeat calls re-send the (idempotent) subscribe op without spawning a
// second writeback loop.
func (c *Client) Subscribe(ctx context.Context, deviceID int64, fingerprint [32]byte, configPath string) error {
	req := subscribeRequest{DeviceID: deviceID, Fingerprint: fingerprint[:], ConfigPath: configPath}
	if _, err := c.request(ctx, opSubscribe, req); err != nil {
		return err
	}
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateSubscribed)) {
		c.wg.Add(1)
		go c.subscribeRefreshLoop(req)
	}
	return nil
}

// subscribeRefreshLoop periodically re-proves the fingerprint. Failures are
// logged, not fatal: the heartbeat deadline owns liveness decisions.
func (c *Client) subscribeRefreshLoop(req subscribeRequest) {
	defer c.wg.Done()
	ticker := time.NewTicker(subscribeRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
			_, err := c.request(ctx, opSubscribe, req)
			cancel()
			if err != nil {
				log.Warn("fingerprint proof writeback failed", "device_id", req.DeviceID, "error", err)
			}
		}
	}
}

// HeartbeatPayload lets callers enrich the liveness ping with host metrics
// (e.g. from gopsutil); a zero value sends timestamp-only liveness.
type HeartbeatPayload struct {
	LoadAverage1M float64
	HostUptimeSec uint64
}

// Heartbeat sends one liveness ping. Callers are responsible for the 20s
// cadence and the three-miss reset rule (see RunHeartbeat for a driver that
// implements both).
func (c *Client) Heartbeat(ctx context.Context, deviceID int64, ts time.Time, payload HeartbeatPayload) error {
	_, err := c.request(ctx, opHeartbeat, heartbeatRequest{
		DeviceID:      deviceID,
		Timestamp:     ts.Unix(),
		LoadAverage1M: payload.LoadAverage1M,
		HostUptimeSec: payload.HostUptimeSec,
	})
	return err
}

// RunHeartbeat drives Heartbeat on interval until ctx is done or three
// consecutive heartbeats fail. payloadFn is called fresh
// before each beat so callers can attach current host metrics.
func (c *Client) RunHeartbeat(ctx context.Context, deviceID int64, interval time.Duration, payloadFn func() HeartbeatPayload) error {
	if payloadFn == nil {
		payloadFn = func() HeartbeatPayload { return HeartbeatPayload{} }
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		case <-ticker.C:
			hctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
			err := c.Heartbeat(hctx, deviceID, time.Now(), payloadFn())
			cancel()
			if err != nil {
				misses++
				log.Warn("heartbeat failed", "device_id", deviceID, "misses", misses, "error", err)
				if misses >= 3 {
					_ = c.Disconnect()
					return fmt.Errorf("%w: device %d", ErrHeartbeatDeadline, deviceID)
				}
				continue
			}
			misses = 0
		}
	}
}

// Visit asks the rendezvous to forward a visit invitation to remoteID and
// blocks until the remote side answers via visit_reply.
func (c *Client) Visit(ctx context.Context, domain string, localID, remoteID int64, resourceType int) (bool, error) {
	data, err := c.request(ctx, opVisit, visitRequestData{Domain: domain, LocalID: localID, RemoteID: remoteID, ResourceType: resourceType})
	if err != nil {
		return false, err
	}
	var result visitResponseData
	if err := json.Unmarshal(data, &result); err != nil {
		return false, fmt.Errorf("%w: malformed visit response: %v", ErrProtocolViolation, err)
	}
	return result.Allow, nil
}

// VisitReply answers an inbound VisitRequest (received via
// VisitRequests()) with the local user's allow/deny decision.
func (c *Client) VisitReply(ctx context.Context, domain string, activeID, passiveID int64, allow bool) error {
	_, err := c.request(ctx, opVisitReply, visitReplyRequest{Domain: domain, ActiveID: activeID, PassiveID: passiveID, Allow: allow})
	return err
}

// KeyExchangeIdentity is the caller-supplied identity material bound into
// the derived session keys.
type KeyExchangeIdentity struct {
	LocalFingerprint [32]byte
}

// KeyExchange runs the PAKE via the rendezvous as a
// relay for the two sides' ephemeral Diffie-Hellman shares, and returns the
// resulting visit credentials, endpoint address, and AEAD key pair. initiator
// must be true on the active side (the party that called Visit) and false
// on the passive side.
func (c *Client) KeyExchange(ctx context.Context, domain string, localID, remoteID int64, password string, identity KeyExchangeIdentity, initiator bool) (KeyExchangeResult, transport.AeadKeyPair, error) {
	session, err := pake.Start(password, domain, localID, remoteID)
	if err != nil {
		return KeyExchangeResult{}, transport.AeadKeyPair{}, fmt.Errorf("%w: %v", ErrKeyExchangeFailed, err)
	}
	share := session.PublicShare()

	data, err := c.request(ctx, opKeyExchange, keyExchangeRequest{Domain: domain, LocalID: localID, RemoteID: remoteID, Share: share[:]})
	if err != nil {
		return KeyExchangeResult{}, transport.AeadKeyPair{}, err
	}

	var resp keyExchangeResponseData
	if err := json.Unmarshal(data, &resp); err != nil {
		return KeyExchangeResult{}, transport.AeadKeyPair{}, fmt.Errorf("%w: malformed key_exchange response: %v", ErrProtocolViolation, err)
	}
	if len(resp.PeerShare) != 32 || len(resp.VisitCredentials) != 16 {
		return KeyExchangeResult{}, transport.AeadKeyPair{}, fmt.Errorf("%w: malformed key_exchange response shape", ErrProtocolViolation)
	}

	var peerShare [32]byte
	copy(peerShare[:], resp.PeerShare)
	var peerFingerprint [32]byte
	copy(peerFingerprint[:], resp.PeerFingerprint)

	pakeResult, err := session.Finish(peerShare, initiator, identity.LocalFingerprint, peerFingerprint)
	if err != nil {
		return KeyExchangeResult{}, transport.AeadKeyPair{}, err
	}

	var creds [16]byte
	copy(creds[:], resp.VisitCredentials)

	result := KeyExchangeResult{VisitCredentials: creds, EndpointAddr: resp.EndpointAddr}
	keys := transport.AeadKeyPair{
		SealingKey:   pakeResult.SealingKey,
		SealingNonce: pakeResult.SealingNonce,
		OpeningKey:   pakeResult.OpeningKey,
		OpeningNonce: pakeResult.OpeningNonce,
	}
	return result, keys, nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.Disconnect()
	for {
		kind, payload, err := c.transport.Recv()
		if err != nil {
			c.failAllPending(ErrClosed)
			return
		}
		switch kind {
		case transport.KindSignalingResponse:
			c.handleResponse(payload)
		case transport.KindSignalingPush:
			c.handlePush(payload)
		default:
			log.Warn("signaling: unexpected frame kind", "kind", kind.String())
		}
	}
}

func (c *Client) handleResponse(payload []byte) {
	var env responseEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn("signaling: malformed response envelope", "error", err)
		return
	}
	c.pendingMu.Lock()
	pr, ok := c.pending[env.Seq]
	c.pendingMu.Unlock()
	if !ok {
		log.Warn("signaling: orphan response dropped", "seq", env.Seq)
		return
	}
	select {
	case pr.ch <- pendingResult{data: env.Data, err: env.Error}:
	default:
	}
}

func (c *Client) handlePush(payload []byte) {
	var push pushEnvelope
	if err := json.Unmarshal(payload, &push); err != nil {
		log.Warn("signaling: malformed push envelope", "error", err)
		return
	}
	switch push.Op {
	case pushVisitRequest:
		var vr VisitRequest
		if err := json.Unmarshal(push.Data, &vr); err != nil {
			log.Warn("signaling: malformed visit_request push", "error", err)
			return
		}
		select {
		case c.pushCh <- vr:
		default:
			log.Warn("signaling: visit request push channel full, dropping", "active_id", vr.ActiveID)
		}
	default:
		log.Warn("signaling: unknown push op", "op", push.Op)
	}
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for seq, pr := range c.pending {
		select {
		case pr.ch <- pendingResult{err: &serverError{Code: "transport_closed", Message: err.Error()}}:
		default:
		}
		delete(c.pending, seq)
	}
}
