package server

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestRouteMalformedPayload(t *testing.T) {
	s := newTestServer()
	conn := newMockConn()

	before := s.stats.Snapshot().MessagesProcessed
	s.route(conn, []byte(`not json at all`))

	resp := conn.lastMessage(t)
	if resp == nil || resp["type"] != "error" {
		t.Fatalf("expected error response, got %v", resp)
	}
	if resp["message"] != "Invalid message format" {
		t.Errorf("unexpected error message: %v", resp["message"])
	}
	if conn.isClosed() {
		t.Error("connection must stay open after a malformed payload")
	}
	if got := s.stats.Snapshot().MessagesProcessed; got != before {
		t.Errorf("malformed payload should not count as processed, got %d", got)
	}
}

func TestAuthRejectsShortToken(t *testing.T) {
	s := newTestServer()
	conn := newMockConn()

	s.route(conn, []byte(`{"type":"auth","token":"short"}`))

	resp := conn.lastMessage(t)
	if resp == nil || resp["type"] != "auth_response" || resp["success"] != false {
		t.Fatalf("expected failed auth_response, got %v", resp)
	}
	if _, present := resp["client_id"]; present {
		t.Error("no client_id may be issued on failed auth")
	}
	if conn.closedWith() != websocket.ClosePolicyViolation {
		t.Errorf("expected policy violation close code %d, got %d", websocket.ClosePolicyViolation, conn.closedWith())
	}
	if s.registry.Count() != 0 {
		t.Error("no session may be created on failed auth")
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	s := newTestServer()
	conn := newMockConn()

	s.route(conn, []byte(`{"type":"auth"}`))

	resp := conn.lastMessage(t)
	if resp == nil || resp["success"] != false {
		t.Fatalf("expected failed auth_response, got %v", resp)
	}
	if s.registry.Count() != 0 {
		t.Error("no session may be created on failed auth")
	}
}

func TestAuthSuccess(t *testing.T) {
	s := newTestServer()
	conn, sess := authClient(t, s)

	resp := conn.lastMessage(t)
	if resp["client_id"] != sess.ID {
		t.Errorf("auth_response client_id %v does not match session id %s", resp["client_id"], sess.ID)
	}
	if conn.isClosed() {
		t.Error("connection must stay open after successful auth")
	}
}

func TestAuthRepeatKeepsSession(t *testing.T) {
	s := newTestServer()
	conn, sess := authClient(t, s)

	s.route(conn, []byte(`{"type":"auth","token":"longenoughtoken"}`))

	resp := conn.lastMessage(t)
	if resp["client_id"] != sess.ID {
		t.Errorf("re-auth should keep the existing session id, got %v", resp["client_id"])
	}
	if s.registry.Count() != 1 {
		t.Errorf("expected exactly one session, got %d", s.registry.Count())
	}
}

func TestPlayerUpdateRelayedExceptSender(t *testing.T) {
	s := newTestServer()
	x, _ := authClient(t, s)
	y, _ := authClient(t, s)
	z, _ := authClient(t, s)

	update := `{"type":"player_update","uuid":"p1","username":"Alice","x":1,"y":2,"z":3,"server":"s1"}`
	xBefore := x.writeCount()
	s.route(x, []byte(update))

	if x.writeCount() != xBefore {
		t.Error("player_update must not be echoed to the sender")
	}
	for name, conn := range map[string]*mockConn{"y": y, "z": z} {
		msg := conn.lastMessage(t)
		if msg == nil || msg["type"] != "player_update" || msg["uuid"] != "p1" {
			t.Errorf("peer %s: expected relayed player_update, got %v", name, msg)
		}
	}

	// State upserted, game identity tracked on the session
	p, ok := s.state.Player("p1")
	if !ok || p.Username != "Alice" || p.X != 1 || p.Server != "s1" {
		t.Errorf("expected player state upserted, got %v, %v", p, ok)
	}
	sess, _ := s.registry.SessionFor(x)
	if sess.PlayerUUID() != "p1" {
		t.Errorf("expected session to track player uuid, got %q", sess.PlayerUUID())
	}
}

func TestBountyUpdateBroadcastIncludesSender(t *testing.T) {
	s := newTestServer()
	x, _ := authClient(t, s)
	y, _ := authClient(t, s)

	s.route(x, []byte(`{"type":"bounty_update","bounty_uuid":"p9"}`))

	if s.state.Bounty() != "p9" {
		t.Errorf("expected bounty p9, got %q", s.state.Bounty())
	}
	for name, conn := range map[string]*mockConn{"x": x, "y": y} {
		msg := conn.lastMessage(t)
		if msg == nil || msg["type"] != "bounty_update" {
			t.Errorf("%s: expected bounty_update broadcast, got %v", name, msg)
		}
	}
}

func TestRelayOnlyKindsPassThroughVerbatim(t *testing.T) {
	s := newTestServer()
	x, _ := authClient(t, s)
	y, _ := authClient(t, s)

	for _, kind := range []string{"kill_event", "shop_purchase", "currency_sync"} {
		t.Run(kind, func(t *testing.T) {
			payload := `{"type":"` + kind + `","free":"form","nested":{"n":1}}`
			s.route(x, []byte(payload))

			raw := y.writes[len(y.writes)-1]
			if string(raw) != payload {
				t.Errorf("expected verbatim relay, got %s", raw)
			}
		})
	}

	if s.state.PlayerCount() != 0 || s.state.Bounty() != "" || len(s.state.ActiveEvents()) != 0 {
		t.Error("relay-only kinds must not mutate game state")
	}
}

func TestGlobalEventCreatesTimedEvent(t *testing.T) {
	s := newTestServer()
	defer s.state.Close()
	x, _ := authClient(t, s)
	y, _ := authClient(t, s)

	s.route(x, []byte(`{"type":"global_event","event_type":"double_xp","duration":1}`))

	events := s.state.ActiveEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 active event, got %d", len(events))
	}
	if events[0].EventType != "double_xp" || events[0].Duration != time.Minute {
		t.Errorf("unexpected event: %+v", events[0])
	}

	for name, conn := range map[string]*mockConn{"x": x, "y": y} {
		msg := conn.lastMessage(t)
		if msg == nil || msg["type"] != "global_event" {
			t.Errorf("%s: expected global_event broadcast, got %v", name, msg)
		}
	}
}

func TestHeartbeatRefreshesSessionOnly(t *testing.T) {
	s := newTestServer()
	conn, sess := authClient(t, s)

	sess.lastSeen.Store(0)
	before := conn.writeCount()

	s.route(conn, []byte(`{"type":"heartbeat"}`))

	if sess.lastSeen.Load() == 0 {
		t.Error("heartbeat should refresh the session liveness marker")
	}
	if conn.writeCount() != before {
		t.Error("heartbeat produces no response")
	}
	if s.state.PlayerCount() != 0 {
		t.Error("heartbeat must not touch player state")
	}
}

func TestUnauthenticatedMessagesDropped(t *testing.T) {
	s := newTestServer()
	conn := newMockConn()

	s.route(conn, []byte(`{"type":"player_update","uuid":"p1","username":"Eve","x":0,"y":0,"z":0,"server":"s1"}`))
	s.route(conn, []byte(`{"type":"bounty_update","bounty_uuid":"p1"}`))
	s.route(conn, []byte(`{"type":"global_event","event_type":"x","duration":1}`))

	if conn.writeCount() != 0 {
		t.Error("default mode stays silent toward unauthenticated peers")
	}
	if s.state.PlayerCount() != 0 || s.state.Bounty() != "" || len(s.state.ActiveEvents()) != 0 {
		t.Error("unauthenticated messages must not mutate shared state")
	}
}

func TestUnauthenticatedStrictReject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictRejects = true
	s := NewServer(cfg)
	conn := newMockConn()

	s.route(conn, []byte(`{"type":"player_update","uuid":"p1","username":"Eve","x":0,"y":0,"z":0,"server":"s1"}`))

	resp := conn.lastMessage(t)
	if resp == nil || resp["type"] != "error" || resp["message"] != "not authenticated" {
		t.Fatalf("expected explicit rejection in strict mode, got %v", resp)
	}
	if s.state.PlayerCount() != 0 {
		t.Error("strict mode must not mutate shared state either")
	}
}

func TestUnknownKindIgnored(t *testing.T) {
	s := newTestServer()
	conn, _ := authClient(t, s)

	before := conn.writeCount()
	s.route(conn, []byte(`{"type":"teleport_request","target":"spawn"}`))

	if conn.writeCount() != before {
		t.Error("unknown kinds are ignored without a response")
	}
	if conn.isClosed() {
		t.Error("unknown kinds must not close the connection")
	}
}

func TestDisconnectFinalization(t *testing.T) {
	s := newTestServer()
	x, xSess := authClient(t, s)
	y, _ := authClient(t, s)

	s.route(x, []byte(`{"type":"player_update","uuid":"p1","username":"Alice","x":1,"y":2,"z":3,"server":"s1"}`))

	s.finalizeDisconnect(x)

	t.Run("player state removed by tracked uuid", func(t *testing.T) {
		if _, ok := s.state.Player("p1"); ok {
			t.Error("player state should be cleaned up on disconnect even though uuid != session id")
		}
	})

	t.Run("peers told with the session id", func(t *testing.T) {
		msg := y.lastMessage(t)
		if msg == nil || msg["type"] != "player_disconnected" {
			t.Fatalf("expected player_disconnected broadcast, got %v", msg)
		}
		if msg["player_uuid"] != xSess.ID {
			t.Errorf("expected session id %s, got %v", xSess.ID, msg["player_uuid"])
		}
	})

	t.Run("second signal is a no-op", func(t *testing.T) {
		active := s.stats.Snapshot().ActiveConnections
		yWrites := y.writeCount()

		// Transport layers can raise both an error and a close for one
		// failure; only the first finalization counts.
		s.finalizeDisconnect(x)

		if got := s.stats.Snapshot().ActiveConnections; got != active {
			t.Errorf("active connections changed on duplicate signal: %d -> %d", active, got)
		}
		if y.writeCount() != yWrites {
			t.Error("duplicate signal must not rebroadcast player_disconnected")
		}
	})

	if !x.isClosed() {
		t.Error("finalization closes the transport")
	}
}

func TestUnauthenticatedDisconnectAccounting(t *testing.T) {
	s := newTestServer()
	conn := newMockConn()

	// A connection that never authenticates still counts, and its terminal
	// accounting still runs exactly once.
	s.trackConn(conn)
	if got := s.stats.Snapshot().ActiveConnections; got != 1 {
		t.Fatalf("expected 1 active, got %d", got)
	}

	s.finalizeDisconnect(conn)
	s.finalizeDisconnect(conn)

	if got := s.stats.Snapshot().ActiveConnections; got != 0 {
		t.Errorf("expected 0 active, got %d", got)
	}
}

func TestConnectDisconnectBalance(t *testing.T) {
	s := newTestServer()

	const k = 10
	conns := make([]*mockConn, 0, k)
	for i := 0; i < k; i++ {
		conn, _ := authClient(t, s)
		conns = append(conns, conn)
	}

	if got := s.stats.Snapshot().ActiveConnections; got != k {
		t.Fatalf("expected %d active, got %d", k, got)
	}

	// Mix duplicate signals in; the balance must still come out at zero
	for i, conn := range conns {
		s.finalizeDisconnect(conn)
		if i%2 == 0 {
			s.finalizeDisconnect(conn)
		}
		if got := s.stats.Snapshot().ActiveConnections; got < 0 {
			t.Fatalf("active connections went negative: %d", got)
		}
	}

	if got := s.stats.Snapshot().ActiveConnections; got != 0 {
		t.Errorf("expected 0 active after balanced disconnects, got %d", got)
	}
}
