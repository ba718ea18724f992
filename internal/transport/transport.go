package transport

import (
	"encoding/binary"
	"io"
	"sync"
)

const headerSize = lengthPrefixSize + kindSize

// Transport turns a duplex byte stream into an ordered sequence of typed,
// optionally AEAD-sealed frames. One goroutine (the caller's "reader task")
// calls Recv in a loop; Send may be called from any number of producer
// goroutines, but the actual wire write — and the mutation of the sealing
// nonce once AEAD is installed — happens only on the single internal writer
// goroutine, matching the "writer is the single mutator of sealing_nonce"
// rule.
type Transport struct {
	conn io.ReadWriteCloser

	out chan outboundFrame

	// sealing/opening are installed once, by InstallAEAD, before the
	// transport carries any endpoint traffic. Nil means frames are sent
	// and received in the clear (signaling, and the endpoint channel
	// before handshake completes).
	sealing *aeadStream
	opening *aeadStream

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

type outboundFrame struct {
	kind    Kind
	payload []byte
}

// New wraps conn (a raw net.Conn, or any other io.ReadWriteCloser — e.g. a
// WebSocket message adapter) as a Framed Transport.
func New(conn io.ReadWriteCloser) *Transport {
	t := &Transport{
		conn:   conn,
		out:    make(chan outboundFrame, outboundQueueDepth),
		closed: make(chan struct{}),
	}
	t.wg.Add(1)
	go t.writeLoop()
	return t
}

// InstallAEAD activates post-handshake encryption: every subsequent Send is
// sealed with keys.SealingKey/SealingNonce, every subsequent Recv is opened
// with keys.OpeningKey/OpeningNonce. Must be called before any streaming
// traffic and exactly once per Transport.
func (t *Transport) InstallAEAD(keys AeadKeyPair) error {
	sealing, err := newAeadStream(keys.SealingKey, keys.SealingNonce)
	if err != nil {
		return err
	}
	opening, err := newAeadStream(keys.OpeningKey, keys.OpeningNonce)
	if err != nil {
		return err
	}
	t.sealing = sealing
	t.opening = opening
	return nil
}

// Send queues a frame for the write-half. It returns once the frame is
// enqueued, not once it has hit the wire. ErrBackpressureExceeded is
// returned immediately (never blocks) when the outbound queue is already at
// capacity; ErrTransportClosed once the transport has been closed.
func (t *Transport) Send(kind Kind, payload []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case t.out <- outboundFrame{kind: kind, payload: cp}:
		return nil
	case <-t.closed:
		return ErrTransportClosed
	default:
		return ErrBackpressureExceeded
	}
}

// Recv blocks for the next decoded (and, once AEAD is installed, decrypted)
// frame. It is not safe to call Recv from more than one goroutine at a
// time — the Framed Transport has exactly one reader.
func (t *Transport) Recv() (Kind, []byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		t.Close()
		return 0, nil, ErrTransportClosed
	}
	length := binary.BigEndian.Uint32(header[0:lengthPrefixSize])
	if length == 0 || length > MaxFrameLength {
		t.Close()
		return 0, nil, ErrFrameTooLarge
	}
	kind := Kind(header[lengthPrefixSize])
	body := make([]byte, length-kindSize)
	if _, err := io.ReadFull(t.conn, body); err != nil {
		t.Close()
		return 0, nil, ErrTransportClosed
	}
	if t.opening == nil {
		return kind, body, nil
	}
	pt, err := t.opening.openNext(body, aeadAAD(kind, length))
	if err != nil {
		t.Close()
		return 0, nil, ErrIntegrity
	}
	return kind, pt, nil
}

// Close shuts down the write loop and the underlying connection. It is safe
// to call multiple times and from multiple goroutines.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		_ = t.conn.Close()
	})
	return nil
}

// Wait blocks until the writer goroutine has exited, i.e. after Close.
func (t *Transport) Wait() {
	t.wg.Wait()
}

func (t *Transport) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case f, ok := <-t.out:
			if !ok {
				return
			}
			if err := t.writeFrame(f.kind, f.payload); err != nil {
				t.Close()
				return
			}
		case <-t.closed:
			return
		}
	}
}

func (t *Transport) writeFrame(kind Kind, payload []byte) error {
	body := payload
	if t.sealing != nil {
		length := uint32(kindSize+len(payload)) + uint32(t.sealing.aead.Overhead())
		body = t.sealing.sealNext(payload, aeadAAD(kind, length))
	}
	length := uint32(kindSize + len(body))
	if length > MaxFrameLength {
		return ErrFrameTooLarge
	}
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[0:lengthPrefixSize], length)
	header[lengthPrefixSize] = byte(kind)
	if _, err := t.conn.Write(header[:]); err != nil {
		return err
	}
	_, err := t.conn.Write(body)
	return err
}

// aeadAAD builds the associated data bound into every sealed frame: the
// frame kind followed by the big-endian wire length (kind + ciphertext +
// tag), so a tampered length or kind byte fails authentication too.
func aeadAAD(kind Kind, length uint32) []byte {
	aad := make([]byte, kindSize+lengthPrefixSize)
	aad[0] = byte(kind)
	binary.BigEndian.PutUint32(aad[1:], length)
	return aad
}
