package signaling

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/lantern-desktop/desktopd/internal/transport"
)

// fakeRendezvous is a minimal in-process stand-in for the rendezvous
// service, used to drive the Signaling Client through request/response
// multiplexing and a server push without a real network service.
type fakeRendezvous struct {
	t    *testing.T
	conn *transport.Transport
}

func newFakeRendezvous(t *testing.T) (*fakeRendezvous, *Client) {
	t.Helper()
	a, b := net.Pipe()

	client := &Client{
		transport: transport.New(a),
		pending:   make(map[uint16]pendingRequest),
		pushCh:    make(chan VisitRequest, 32),
		done:      make(chan struct{}),
	}
	client.wg.Add(1)
	go client.readLoop()

	return &fakeRendezvous{t: t, conn: transport.New(b)}, client
}

func (f *fakeRendezvous) nextRequest() (envelope, error) {
	_, payload, err := f.conn.Recv()
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		f.t.Fatalf("unmarshal request: %v", err)
	}
	return env, nil
}

func (f *fakeRendezvous) reply(seq uint16, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		f.t.Fatalf("marshal reply: %v", err)
	}
	payload, err := json.Marshal(responseEnvelope{Seq: seq, Data: body})
	if err != nil {
		f.t.Fatalf("marshal envelope: %v", err)
	}
	if err := f.conn.Send(transport.KindSignalingResponse, payload); err != nil {
		f.t.Fatalf("send reply: %v", err)
	}
}

func (f *fakeRendezvous) push(op string, data any) {
	body, _ := json.Marshal(data)
	payload, _ := json.Marshal(pushEnvelope{Op: op, Data: body})
	if err := f.conn.Send(transport.KindSignalingPush, payload); err != nil {
		f.t.Fatalf("send push: %v", err)
	}
}

// TestRegisterAndVisit covers the rendezvous happy path: two registrations followed by
// an active-initiated visit that the passive side allows.
func TestRegisterAndVisit(t *testing.T) {
	srv, client := newFakeRendezvous(t)
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var fp [32]byte
	fp[31] = 1

	registerErr := make(chan error, 1)
	var result RegisterResult
	go func() {
		var err error
		result, err = client.Register(ctx, nil, fp)
		registerErr <- err
	}()

	env, err := srv.nextRequest()
	if err != nil {
		t.Fatalf("recv register request: %v", err)
	}
	if env.Op != opRegister {
		t.Fatalf("op = %q, want register", env.Op)
	}
	srv.reply(env.Seq, RegisterResult{DeviceID: 100, Expiry: 9999})

	if err := <-registerErr; err != nil {
		t.Fatalf("register: %v", err)
	}
	if result.DeviceID != 100 {
		t.Fatalf("device id = %d, want 100", result.DeviceID)
	}

	visitErr := make(chan error, 1)
	var allow bool
	go func() {
		var err error
		allow, err = client.Visit(ctx, "default", 100, 200, 1)
		visitErr <- err
	}()

	env, err = srv.nextRequest()
	if err != nil {
		t.Fatalf("recv visit request: %v", err)
	}
	if env.Op != opVisit {
		t.Fatalf("op = %q, want visit", env.Op)
	}
	srv.reply(env.Seq, visitResponseData{Allow: true})

	if err := <-visitErr; err != nil {
		t.Fatalf("visit: %v", err)
	}
	if !allow {
		t.Fatalf("allow = false, want true")
	}
}

// TestSeqUniquenessAndOrphanResponse checks seq multiplexing: two
// concurrent in-flight requests get distinct seqs, and a response for an
// unknown seq is dropped without disturbing the in-flight ones.
func TestSeqUniquenessAndOrphanResponse(t *testing.T) {
	srv, client := newFakeRendezvous(t)
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var fp [32]byte
	req1 := make(chan error, 1)
	req2 := make(chan error, 1)
	go func() { _, err := client.Register(ctx, nil, fp); req1 <- err }()
	go func() { _, err := client.Register(ctx, nil, fp); req2 <- err }()

	env1, err := srv.nextRequest()
	if err != nil {
		t.Fatalf("recv 1: %v", err)
	}
	env2, err := srv.nextRequest()
	if err != nil {
		t.Fatalf("recv 2: %v", err)
	}
	if env1.Seq == env2.Seq {
		t.Fatalf("two in-flight requests shared seq %d", env1.Seq)
	}

	// Orphan response for a seq nobody is waiting on.
	srv.reply(env1.Seq+100, RegisterResult{DeviceID: 1})

	srv.reply(env1.Seq, RegisterResult{DeviceID: 100})
	srv.reply(env2.Seq, RegisterResult{DeviceID: 200})

	if err := <-req1; err != nil {
		t.Fatalf("req1: %v", err)
	}
	if err := <-req2; err != nil {
		t.Fatalf("req2: %v", err)
	}
}

func TestVisitRequestPush(t *testing.T) {
	srv, client := newFakeRendezvous(t)
	defer client.Disconnect()

	srv.push(pushVisitRequest, VisitRequest{Domain: "default", ActiveID: 100, PassiveID: 200, ResourceType: 1})

	select {
	case vr := <-client.VisitRequests():
		if vr.ActiveID != 100 || vr.PassiveID != 200 {
			t.Fatalf("unexpected visit request: %+v", vr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for visit request push")
	}
}
