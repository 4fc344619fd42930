package server

import (
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes sent to clients. Aliased so the rest of the package doesn't
// import gorilla directly.
const (
	protocolCloseNormal          = websocket.CloseNormalClosure
	protocolClosePolicyViolation = websocket.ClosePolicyViolation
)

// Conn is the transport-level connection the registry fans out to. The
// transport layer delivers whole parsed messages in arrival order per
// connection; this interface covers the write side so handlers and tests
// don't depend on a live WebSocket.
type Conn interface {
	WriteMessage(payload []byte) error
	CloseWithCode(code int, reason string) error
	Close() error
	RemoteAddr() net.Addr
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Game clients connect from the mod, not a browser
		return true
	},
}

// wsConn adapts a gorilla WebSocket connection to the Conn interface with
// automatic write synchronization.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// WriteMessage sends a payload as a single text frame.
func (c *wsConn) WriteMessage(payload []byte) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return net.ErrClosed
	}
	c.closeMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// CloseWithCode sends a close frame with the given code before tearing down
// the connection.
func (c *wsConn) CloseWithCode(code int, reason string) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closeMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(time.Second)
	return c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// Close implements Conn.Close. Safe to call more than once.
func (c *wsConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

// RemoteAddr implements Conn.RemoteAddr.
func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// HandleWebSocket upgrades an HTTP request and runs the connection's message
// loop.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := newWSConn(ws)
	s.trackConn(conn)
	debugLog.Printf("New connection from %s", conn.RemoteAddr())

	go s.readLoop(conn, ws)
}

// readLoop processes inbound messages until the transport reports a terminal
// condition. Both a read error and a close land here exactly once; the
// disconnect finalizer is idempotent regardless.
func (s *Server) readLoop(conn *wsConn, ws *websocket.Conn) {
	defer s.finalizeDisconnect(conn)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debugLog.Printf("Connection %s read error: %v", conn.RemoteAddr(), err)
			}
			return
		}

		s.route(conn, data)
	}
}
