package corelib

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/lantern-desktop/desktopd/internal/mtls"
	"github.com/lantern-desktop/desktopd/internal/secmem"
	"github.com/lantern-desktop/desktopd/internal/signaling"
	"github.com/lantern-desktop/desktopd/internal/transport"
)

// signalingState holds the process-wide current signaling session. The
// mutex protects the slot, never a blocking call: operations copy the
// client out under lock and then run unlocked.
type signalingState struct {
	mu     sync.Mutex
	client *signaling.Client

	clientCertPEM string
	clientKeyPEM  string

	heartbeatCancel context.CancelFunc
}

func newSignalingState() *signalingState {
	return &signalingState{}
}

func (s *signalingState) current() (*signaling.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, signaling.ErrClosed
	}
	return s.client, nil
}

// SignalingState reports the current session's lifecycle state,
// "disconnected" when no session exists.
func (c *Core) SignalingState() string {
	c.signaling.mu.Lock()
	client := c.signaling.client
	c.signaling.mu.Unlock()
	if client == nil {
		return signaling.StateDisconnected.String()
	}
	return client.State().String()
}

// SessionCount reports the number of live endpoint sessions.
func (c *Core) SessionCount() int {
	return c.registry.Len()
}

// SetClientCertificate installs a PEM client certificate presented on
// tls:// and wss:// signaling dials.
func (c *Core) SetClientCertificate(certPEM, keyPEM string) {
	c.signaling.mu.Lock()
	defer c.signaling.mu.Unlock()
	c.signaling.clientCertPEM = certPEM
	c.signaling.clientKeyPEM = keyPEM
}

// SignalingDial opens the rendezvous connection. An existing session is
// disconnected first; the new one becomes the process-wide current
// session.
func (c *Core) SignalingDial(ctx context.Context, uri string) error {
	var tlsCfg *tls.Config
	c.signaling.mu.Lock()
	certPEM, keyPEM := c.signaling.clientCertPEM, c.signaling.clientKeyPEM
	c.signaling.mu.Unlock()
	if certPEM != "" {
		cfg, err := mtls.BuildTLSConfig(certPEM, keyPEM)
		if err != nil {
			return fmt.Errorf("corelib: client certificate: %w", err)
		}
		tlsCfg = cfg
	}

	client, err := signaling.Dial(ctx, uri, tlsCfg)
	if err != nil {
		return err
	}

	c.signaling.mu.Lock()
	prev := c.signaling.client
	c.signaling.client = client
	c.signaling.mu.Unlock()
	if prev != nil {
		_ = prev.Disconnect()
	}
	log.Info("signaling connected", "uri", uri)
	return nil
}

// SignalingDisconnect tears down the current signaling session, if any.
func (c *Core) SignalingDisconnect() {
	c.signaling.mu.Lock()
	client := c.signaling.client
	c.signaling.client = nil
	cancel := c.signaling.heartbeatCancel
	c.signaling.heartbeatCancel = nil
	c.signaling.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		_ = client.Disconnect()
	}
}

// SignalingRegister claims (deviceID nil) or reclaims a device id.
func (c *Core) SignalingRegister(ctx context.Context, deviceID *int64, fingerprint [32]byte) (signaling.RegisterResult, error) {
	client, err := c.signaling.current()
	if err != nil {
		return signaling.RegisterResult{}, err
	}
	return client.Register(ctx, deviceID, fingerprint)
}

// SignalingSubscribe installs the server-push channel for inbound visit
// requests and returns it.
func (c *Core) SignalingSubscribe(ctx context.Context, deviceID int64, fingerprint [32]byte, configPath string) (<-chan signaling.VisitRequest, error) {
	client, err := c.signaling.current()
	if err != nil {
		return nil, err
	}
	if err := client.Subscribe(ctx, deviceID, fingerprint, configPath); err != nil {
		return nil, err
	}
	return client.VisitRequests(), nil
}

// hostHeartbeatPayload samples load average and uptime. Platforms without
// a load average (Windows) report zero fields; the rendezvous treats them
// as absent.
func hostHeartbeatPayload() signaling.HeartbeatPayload {
	var payload signaling.HeartbeatPayload
	if avg, err := load.Avg(); err == nil && avg != nil {
		payload.LoadAverage1M = avg.Load1
	}
	if up, err := host.Uptime(); err == nil {
		payload.HostUptimeSec = up
	}
	return payload
}

// SignalingHeartbeat sends one liveness ping enriched with host metrics.
func (c *Core) SignalingHeartbeat(ctx context.Context, deviceID int64, ts time.Time) error {
	client, err := c.signaling.current()
	if err != nil {
		return err
	}
	return client.Heartbeat(ctx, deviceID, ts, hostHeartbeatPayload())
}

// StartHeartbeat runs the 20s heartbeat cadence in the background until
// the signaling session ends or three consecutive beats fail.
func (c *Core) StartHeartbeat(deviceID int64) error {
	client, err := c.signaling.current()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.signaling.mu.Lock()
	if prev := c.signaling.heartbeatCancel; prev != nil {
		prev()
	}
	c.signaling.heartbeatCancel = cancel
	c.signaling.mu.Unlock()

	go func() {
		interval := 20 * time.Second
		if err := client.RunHeartbeat(ctx, deviceID, interval, hostHeartbeatPayload); err != nil && ctx.Err() == nil {
			log.Warn("heartbeat driver stopped", "error", err)
		}
	}()
	return nil
}

// SignalingVisit asks the rendezvous to forward a visit invitation and
// blocks for the remote side's allow/deny answer.
func (c *Core) SignalingVisit(ctx context.Context, domain string, localID, remoteID int64, resourceType int) (bool, error) {
	client, err := c.signaling.current()
	if err != nil {
		return false, err
	}
	return client.Visit(ctx, domain, localID, remoteID, resourceType)
}

// SignalingVisitReply answers an inbound visit request.
func (c *Core) SignalingVisitReply(ctx context.Context, domain string, activeID, passiveID int64, allow bool) error {
	client, err := c.signaling.current()
	if err != nil {
		return err
	}
	return client.VisitReply(ctx, domain, activeID, passiveID, allow)
}

// KeyExchangeOutcome bundles what a successful key exchange yields.
type KeyExchangeOutcome struct {
	VisitCredentials [16]byte
	EndpointAddr     string
	Keys             transport.AeadKeyPair
}

// SignalingKeyExchange runs the password-authenticated exchange for the
// (localID, remoteID) pair. initiator must be true on the active side. The
// password is wrapped for zeroing before this call returns.
func (c *Core) SignalingKeyExchange(ctx context.Context, domain string, localID, remoteID int64, password string, localFingerprint [32]byte, initiator bool) (KeyExchangeOutcome, error) {
	client, err := c.signaling.current()
	if err != nil {
		return KeyExchangeOutcome{}, err
	}

	secret := secmem.NewSecureString(password)
	defer secret.Zero()

	result, keys, err := client.KeyExchange(ctx, domain, localID, remoteID, secret.Reveal(),
		signaling.KeyExchangeIdentity{LocalFingerprint: localFingerprint}, initiator)
	if err != nil {
		return KeyExchangeOutcome{}, err
	}
	return KeyExchangeOutcome{
		VisitCredentials: result.VisitCredentials,
		EndpointAddr:     result.EndpointAddr,
		Keys:             keys,
	}, nil
}
