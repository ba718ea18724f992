package corelib

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lantern-desktop/desktopd/internal/endpoint"
	"github.com/lantern-desktop/desktopd/internal/negotiate"
	"github.com/lantern-desktop/desktopd/internal/remote/desktop"
	"github.com/lantern-desktop/desktopd/internal/transport"
)

// HandshakeTimeout bounds the endpoint handshake round trip.
const HandshakeTimeout = 5 * time.Second

// ErrNoSuchSession is returned by endpoint operations addressing a pair
// that has no connection or session.
var ErrNoSuchSession = errors.New("corelib: no session for this pair")

type pairKey struct {
	activeID  int64
	passiveID int64
}

// endpointState tracks connections between their creation and their
// hand-off to a running session, the passive listener, and the authorized
// visit credentials awaiting inbound handshakes.
type endpointState struct {
	mu sync.Mutex

	frameSink desktop.FrameSink

	// Active side: dialed-but-not-yet-negotiated connections, then the
	// sessions built on top of them.
	conns    map[pairKey]*endpoint.Connection
	sessions map[pairKey]*desktop.ActiveSession

	// Passive side: visit credentials issued by the rendezvous that an
	// inbound handshake may redeem, and the listener redeeming them.
	authorized map[[16]byte]endpoint.PendingHandshake
	listener   net.Listener
}

func newEndpointState() *endpointState {
	return &endpointState{
		conns:      make(map[pairKey]*endpoint.Connection),
		sessions:   make(map[pairKey]*desktop.ActiveSession),
		authorized: make(map[[16]byte]endpoint.PendingHandshake),
	}
}

func (e *endpointState) setFrameSink(sink desktop.FrameSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frameSink = sink
}

func (e *endpointState) stopAll() {
	e.mu.Lock()
	conns := e.conns
	sessions := e.sessions
	ln := e.listener
	e.conns = make(map[pairKey]*endpoint.Connection)
	e.sessions = make(map[pairKey]*desktop.ActiveSession)
	e.listener = nil
	e.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	for _, s := range sessions {
		s.Stop()
	}
}

// AuthorizeVisit arms the passive side for one inbound handshake: a
// connection presenting credentials gets the session keys derived in the
// matching key exchange. localID is this device, remoteID the visitor.
func (c *Core) AuthorizeVisit(credentials [16]byte, localID, remoteID int64, keys transport.AeadKeyPair) {
	c.endpoints.mu.Lock()
	defer c.endpoints.mu.Unlock()
	c.endpoints.authorized[credentials] = endpoint.PendingHandshake{
		LocalID:  localID,
		RemoteID: remoteID,
		Keys:     keys,
	}
}

func (c *Core) resolveCredentials(credentials [16]byte) (endpoint.PendingHandshake, bool) {
	c.endpoints.mu.Lock()
	defer c.endpoints.mu.Unlock()
	pending, ok := c.endpoints.authorized[credentials]
	if ok {
		// Credentials are valid for exactly one handshake.
		delete(c.endpoints.authorized, credentials)
	}
	return pending, ok
}

// StartEndpointListener begins accepting direct peer connections on addr
// (the passive side). Each accepted connection must complete a handshake
// within HandshakeTimeout; successful ones become passive sessions that
// negotiate and stream autonomously.
func (c *Core) StartEndpointListener(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("corelib: endpoint listen on %s: %w", addr, err)
	}

	c.endpoints.mu.Lock()
	if prev := c.endpoints.listener; prev != nil {
		_ = prev.Close()
	}
	c.endpoints.listener = ln
	c.endpoints.mu.Unlock()

	go func() {
		for {
			raw, err := ln.Accept()
			if err != nil {
				return
			}
			go c.servePassiveConn(raw)
		}
	}()
	log.Info("endpoint listener started", "addr", ln.Addr().String())
	return ln, nil
}

func (c *Core) servePassiveConn(raw net.Conn) {
	conn := endpoint.Accept(raw)

	ctx, cancel := context.WithTimeout(context.Background(), HandshakeTimeout)
	err := conn.RespondHandshake(ctx, c.resolveCredentials)
	cancel()
	if err != nil {
		log.Warn("inbound endpoint handshake failed", "peer", raw.RemoteAddr().String(), "error", err)
		_ = conn.Close()
		return
	}

	session, err := desktop.NewPassiveSession(conn, c.registry)
	if err != nil {
		log.Warn("passive session rejected", "error", err)
		_ = conn.Close()
		return
	}
	go func() {
		if err := session.Run(context.Background()); err != nil {
			log.Warn("passive session ended with error", "error", err)
		}
	}()
}

// EndpointConnect dials the direct endpoint address obtained from key
// exchange (the active side). The connection awaits EndpointHandshake.
func (c *Core) EndpointConnect(ctx context.Context, activeID, passiveID int64, addr string) error {
	conn, err := endpoint.Connect(ctx, addr, activeID, passiveID)
	if err != nil {
		return err
	}
	key := pairKey{activeID: activeID, passiveID: passiveID}
	c.endpoints.mu.Lock()
	if prev, exists := c.endpoints.conns[key]; exists {
		_ = prev.Close()
	}
	c.endpoints.conns[key] = conn
	c.endpoints.mu.Unlock()
	return nil
}

func (c *Core) connFor(activeID, passiveID int64) (*endpoint.Connection, error) {
	c.endpoints.mu.Lock()
	defer c.endpoints.mu.Unlock()
	conn, ok := c.endpoints.conns[pairKey{activeID: activeID, passiveID: passiveID}]
	if !ok {
		return nil, ErrNoSuchSession
	}
	return conn, nil
}

func (c *Core) sessionFor(activeID, passiveID int64) (*desktop.ActiveSession, error) {
	c.endpoints.mu.Lock()
	defer c.endpoints.mu.Unlock()
	s, ok := c.endpoints.sessions[pairKey{activeID: activeID, passiveID: passiveID}]
	if !ok {
		return nil, ErrNoSuchSession
	}
	return s, nil
}

// EndpointHandshake presents the visit credentials on a dialed connection
// and installs the AEAD keys, then builds the active session that will
// decode the stream into the installed frame sink.
func (c *Core) EndpointHandshake(ctx context.Context, activeID, passiveID int64, visitCredentials [16]byte, keys transport.AeadKeyPair) error {
	conn, err := c.connFor(activeID, passiveID)
	if err != nil {
		return err
	}

	hsCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()
	if err := conn.Handshake(hsCtx, visitCredentials, keys); err != nil {
		_ = conn.Close()
		c.dropPair(activeID, passiveID)
		return err
	}

	c.endpoints.mu.Lock()
	sink := c.endpoints.frameSink
	c.endpoints.mu.Unlock()
	if sink == nil {
		sink = func(*desktop.VideoFrame) {}
	}

	session, err := desktop.NewActiveSession(conn, c.registry, sink)
	if err != nil {
		_ = conn.Close()
		c.dropPair(activeID, passiveID)
		return err
	}

	key := pairKey{activeID: activeID, passiveID: passiveID}
	c.endpoints.mu.Lock()
	c.endpoints.sessions[key] = session
	c.endpoints.mu.Unlock()
	return nil
}

// EndpointNegotiateVisitDesktopParams runs negotiation step 1 and returns
// the peer's display list.
func (c *Core) EndpointNegotiateVisitDesktopParams(ctx context.Context, activeID, passiveID int64) ([]negotiate.MonitorDescriptor, error) {
	conn, err := c.connFor(activeID, passiveID)
	if err != nil {
		return nil, err
	}
	return negotiate.ActiveGetDisplayInfo(ctx, conn)
}

// EndpointNegotiateSelectMonitor runs negotiation step 2.
// negotiate.ErrMonitorNotFound is non-fatal; retry with another id.
func (c *Core) EndpointNegotiateSelectMonitor(ctx context.Context, activeID, passiveID int64, monitorID string, expectFPS int) error {
	conn, err := c.connFor(activeID, passiveID)
	if err != nil {
		return err
	}
	return negotiate.ActiveSelectMonitor(ctx, conn, monitorID, expectFPS)
}

// EndpointNegotiateFinished runs negotiation step 3 and, on success,
// starts the session's decode and audio tasks.
func (c *Core) EndpointNegotiateFinished(ctx context.Context, activeID, passiveID int64, monitorID string, expectFPS int) error {
	conn, err := c.connFor(activeID, passiveID)
	if err != nil {
		return err
	}
	session, err := c.sessionFor(activeID, passiveID)
	if err != nil {
		return err
	}
	if err := negotiate.ActiveFinish(ctx, conn, monitorID, expectFPS); err != nil {
		return err
	}
	go func() {
		if err := session.Run(); err != nil {
			log.Warn("active session ended with error", "error", err)
		}
		c.dropPair(activeID, passiveID)
	}()
	return nil
}

// EndpointInput queues one input event for delivery. Events are sent by a
// single worker, preserving submission order.
func (c *Core) EndpointInput(activeID, passiveID int64, event desktop.InputEvent) error {
	session, err := c.sessionFor(activeID, passiveID)
	if err != nil {
		return err
	}
	if !c.inputPool.Submit(func() {
		if err := session.Input(event); err != nil {
			log.Warn("input delivery failed", "error", err)
		}
	}) {
		return fmt.Errorf("corelib: input queue full")
	}
	return nil
}

// EndpointClose gracefully closes the session for the pair.
func (c *Core) EndpointClose(activeID, passiveID int64) error {
	session, err := c.sessionFor(activeID, passiveID)
	if err == nil {
		_ = session.Close()
		c.dropPair(activeID, passiveID)
		return nil
	}
	conn, err := c.connFor(activeID, passiveID)
	if err != nil {
		return err
	}
	_ = conn.Close()
	c.dropPair(activeID, passiveID)
	return nil
}

func (c *Core) dropPair(activeID, passiveID int64) {
	key := pairKey{activeID: activeID, passiveID: passiveID}
	c.endpoints.mu.Lock()
	delete(c.endpoints.conns, key)
	delete(c.endpoints.sessions, key)
	c.endpoints.mu.Unlock()
}
