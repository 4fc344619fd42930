package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/friendhunter/relay/pkg/protocol"
)

// Session represents an authenticated client connection.
type Session struct {
	ID    string
	Token string
	Conn  Conn

	// playerUUID is the game identity reported by the client's first
	// player_update. It is not the session id; disconnect cleanup keys on
	// it explicitly.
	playerUUID atomic.Value // string

	lastSeen atomic.Int64 // unix milliseconds
}

// SetPlayerUUID records the game identity associated with this session.
func (s *Session) SetPlayerUUID(playerUUID string) {
	s.playerUUID.Store(playerUUID)
}

// PlayerUUID returns the game identity for this session, or "" if the client
// has not sent a player_update yet.
func (s *Session) PlayerUUID() string {
	v, _ := s.playerUUID.Load().(string)
	return v
}

// Touch refreshes the session liveness marker.
func (s *Session) Touch() {
	s.lastSeen.Store(time.Now().UnixMilli())
}

// LastSeen returns the session's liveness marker.
func (s *Session) LastSeen() time.Time {
	return time.UnixMilli(s.lastSeen.Load())
}

// SessionRegistry owns the bidirectional mapping between connections and
// sessions. The forward index (session id → session) and the reverse index
// (conn → session id) are always updated together under one lock, so the
// mapping stays a bijection over live connections.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byConn   map[Conn]string

	metrics *Metrics
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		byConn:   make(map[Conn]string),
	}
}

// SetMetrics attaches metrics to the registry.
func (r *SessionRegistry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Register creates a session for an authenticated connection and returns it.
// Session ids are collision-resistant opaque strings.
func (r *SessionRegistry) Register(conn Conn, token string) *Session {
	sess := &Session{
		ID:    uuid.NewString(),
		Token: token,
		Conn:  conn,
	}
	sess.Touch()

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.byConn[conn] = sess.ID
	r.mu.Unlock()

	return sess
}

// Unregister removes the session for a connection and returns it. It is
// idempotent: transport layers may deliver both an error and a close signal
// for one failure, and only the first call wins. Removal from the maps is
// the single source of truth for "already finalized".
func (r *SessionRegistry) Unregister(conn Conn) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.byConn[conn]
	if !ok {
		return nil, false
	}
	sess := r.sessions[sessionID]
	delete(r.byConn, conn)
	delete(r.sessions, sessionID)
	return sess, true
}

// Get returns a session by id.
func (r *SessionRegistry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// SessionFor returns the session bound to a connection.
func (r *SessionRegistry) SessionFor(conn Conn) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionID, ok := r.byConn[conn]
	if !ok {
		return nil, false
	}
	return r.sessions[sessionID], true
}

// FindByPlayerUUID returns the session whose reported player uuid matches.
// Sessions that never sent a player_update are matched by session id, which
// is what older clients present as their identity.
func (r *SessionRegistry) FindByPlayerUUID(playerUUID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sess := range r.sessions {
		if sess.PlayerUUID() == playerUUID {
			return sess, true
		}
	}
	if sess, ok := r.sessions[playerUUID]; ok {
		return sess, true
	}
	return nil, false
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// BroadcastAll sends a payload to every live session. A send failure on one
// connection never aborts delivery to the others; the failing connection's
// read loop will notice the dead transport and finalize it.
func (r *SessionRegistry) BroadcastAll(payload []byte) {
	r.broadcast(nil, payload)
}

// BroadcastExcept sends a payload to every live session except the one bound
// to the given connection.
func (r *SessionRegistry) BroadcastExcept(conn Conn, payload []byte) {
	r.broadcast(conn, payload)
}

func (r *SessionRegistry) broadcast(except Conn, payload []byte) {
	delivered := 0

	r.mu.RLock()
	for _, sess := range r.sessions {
		if except != nil && sess.Conn == except {
			continue
		}
		if err := sess.Conn.WriteMessage(payload); err != nil {
			debugLog.Printf("Session %s: broadcast send failed: %v", sess.ID, err)
			if r.metrics != nil {
				r.metrics.RecordSendFailure()
			}
			continue
		}
		delivered++
	}
	r.mu.RUnlock()

	if r.metrics != nil {
		r.metrics.RecordBroadcast(delivered)
	}
}

// CloseAll closes every live connection and clears the registry.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sess := range r.sessions {
		sess.Conn.CloseWithCode(protocolCloseNormal, "server shutting down")
		sess.Conn.Close()
	}
	r.sessions = make(map[string]*Session)
	r.byConn = make(map[Conn]string)
}

// BroadcastPlayerDisconnected tells all peers that a session ended. The
// payload carries the session id, matching what clients were told at auth
// time.
func (r *SessionRegistry) BroadcastPlayerDisconnected(sessionID string) {
	r.BroadcastAll(protocol.Encode(protocol.NewPlayerDisconnected(sessionID)))
}
