package transport

import (
	"github.com/gorilla/websocket"
)

// WebSocketConn adapts a *websocket.Conn into an io.ReadWriteCloser so a
// Transport can ride over a ws://wss:// rendezvous dial path exactly as it
// would over a raw net.Conn: each outbound Write becomes one binary
// WebSocket message, and inbound messages are buffered internally so Read
// can be called with the small, arbitrarily-sized slices the frame decoder
// uses (a length header, then a body) rather than whole messages.
type WebSocketConn struct {
	conn *websocket.Conn
	buf  []byte
}

// NewWebSocketConn wraps an already-established WebSocket connection.
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn}
}

func (w *WebSocketConn) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.buf = data
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *WebSocketConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConn) Close() error {
	return w.conn.Close()
}
