package server

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
)

// mockConn is an in-memory Conn for testing handlers without a live
// WebSocket.
type mockConn struct {
	mu          sync.Mutex
	writes      [][]byte
	closed      bool
	closeCode   int
	closeReason string
	failWrites  bool
}

func newMockConn() *mockConn {
	return &mockConn{}
}

func (c *mockConn) WriteMessage(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.failWrites {
		return net.ErrClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.writes = append(c.writes, buf)
	return nil
}

func (c *mockConn) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

func (c *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

// messages decodes every written payload as a generic JSON object.
func (c *mockConn) messages(t *testing.T) []map[string]interface{} {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	decoded := make([]map[string]interface{}, 0, len(c.writes))
	for _, raw := range c.writes {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("failed to decode written message %q: %v", raw, err)
		}
		decoded = append(decoded, m)
	}
	return decoded
}

// lastMessage returns the most recent decoded write, or nil when nothing was
// written.
func (c *mockConn) lastMessage(t *testing.T) map[string]interface{} {
	t.Helper()

	msgs := c.messages(t)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (c *mockConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.writes)
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *mockConn) closedWith() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeCode
}

// newTestServer builds a server with short timeouts and a known admin token.
func newTestServer() *Server {
	cfg := DefaultConfig()
	cfg.AdminTokens = []string{"test-admin-token"}
	return NewServer(cfg)
}

// authClient runs a successful auth for a fresh mock connection and returns
// the connection and its session.
func authClient(t *testing.T, s *Server) (*mockConn, *Session) {
	t.Helper()

	conn := newMockConn()
	s.trackConn(conn) // HandleWebSocket does this on upgrade
	s.route(conn, []byte(`{"type":"auth","token":"longenoughtoken"}`))

	resp := conn.lastMessage(t)
	if resp == nil || resp["success"] != true {
		t.Fatalf("expected successful auth response, got %v", resp)
	}

	sess, ok := s.registry.SessionFor(conn)
	if !ok {
		t.Fatal("expected session after successful auth")
	}
	return conn, sess
}
