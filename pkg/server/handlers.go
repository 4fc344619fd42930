package server

import (
	"encoding/json"
	"time"

	"github.com/friendhunter/relay/pkg/protocol"
)

// route dispatches an inbound message by its type field. Mutating handlers
// update the game state and then relay the original payload verbatim; the
// wire bytes are never reconstructed from stored state.
func (s *Server) route(conn Conn, data []byte) {
	msgType, err := protocol.Peek(data)
	if err != nil {
		// Malformed payload: report back, keep the connection open
		s.send(conn, protocol.Encode(protocol.NewError("Invalid message format")))
		return
	}

	s.stats.RecordMessage()
	if s.metrics != nil {
		s.metrics.RecordMessageReceived(msgType)
	}

	if msgType == protocol.TypeAuth {
		s.handleAuth(conn, data)
		return
	}

	sess, ok := s.registry.SessionFor(conn)
	if !ok {
		// No session yet. Default is a silent drop so unauthenticated
		// peers learn nothing about the protocol; strict mode answers
		// with an explicit rejection.
		if s.config.StrictRejects {
			s.send(conn, protocol.Encode(protocol.NewError("not authenticated")))
		}
		return
	}

	switch msgType {
	case protocol.TypePlayerUpdate:
		s.handlePlayerUpdate(sess, data)
	case protocol.TypeBountyUpdate:
		s.handleBountyUpdate(data)
	case protocol.TypeKillEvent, protocol.TypeShopPurchase, protocol.TypeCurrencySync:
		// Pure relay, no state touched
		s.registry.BroadcastAll(data)
	case protocol.TypeGlobalEvent:
		s.handleGlobalEvent(data)
	case protocol.TypeHeartbeat:
		sess.Touch()
	default:
		debugLog.Printf("Session %s: ignoring unknown message type %q", sess.ID, msgType)
	}
}

// handleAuth validates the presented token and creates a session. Failure
// sends an explicit rejection and closes the connection with a policy
// violation code; no session is created.
func (s *Server) handleAuth(conn Conn, data []byte) {
	var msg protocol.AuthMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.send(conn, protocol.Encode(protocol.NewError("Invalid message format")))
		return
	}

	// Re-auth on an open session keeps the existing id; one connection maps
	// to exactly one session.
	if sess, ok := s.registry.SessionFor(conn); ok {
		s.send(conn, protocol.Encode(protocol.NewAuthSuccess(sess.ID)))
		return
	}

	if err := s.authenticator.Authenticate(msg.Token); err != nil {
		s.send(conn, protocol.Encode(protocol.NewAuthFailure("Invalid auth token")))
		conn.CloseWithCode(protocolClosePolicyViolation, "Invalid auth token")
		conn.Close()
		return
	}

	sess := s.registry.Register(conn, msg.Token)
	s.send(conn, protocol.Encode(protocol.NewAuthSuccess(sess.ID)))
	debugLog.Printf("Session %s authenticated", sess.ID)
}

// handlePlayerUpdate upserts the sender's player state and relays the update
// to everyone except the sender.
func (s *Server) handlePlayerUpdate(sess *Session, data []byte) {
	var msg protocol.PlayerUpdateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.send(sess.Conn, protocol.Encode(protocol.NewError("Invalid message format")))
		return
	}

	s.state.UpsertPlayer(PlayerState{
		UUID:     msg.UUID,
		Username: msg.Username,
		X:        msg.X,
		Y:        msg.Y,
		Z:        msg.Z,
		Server:   msg.Server,
		LastSeen: time.Now(),
	})

	// Remember the game identity so disconnect cleanup removes the right
	// player entry; the session id is not the player uuid.
	sess.SetPlayerUUID(msg.UUID)
	sess.Touch()

	s.registry.BroadcastExcept(sess.Conn, data)
}

// handleBountyUpdate replaces the single bounty target. Last writer wins.
func (s *Server) handleBountyUpdate(data []byte) {
	var msg protocol.BountyUpdateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	s.state.SetBounty(msg.BountyUUID)
	s.registry.BroadcastAll(data)
}

// handleGlobalEvent creates a timed event and relays the announcement. The
// event removes itself after its duration elapses.
func (s *Server) handleGlobalEvent(data []byte) {
	var msg protocol.GlobalEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	duration := time.Duration(msg.Duration * float64(time.Minute))
	event := s.state.AddEvent(msg.EventType, duration)
	debugLog.Printf("Global event %s (%s) active for %v", event.ID, event.EventType, duration)

	s.registry.BroadcastAll(data)
}

// send writes a payload to a single connection, logging failures without
// propagating them; a dead transport is finalized by its own read loop.
func (s *Server) send(conn Conn, payload []byte) {
	if err := conn.WriteMessage(payload); err != nil {
		debugLog.Printf("Send to %s failed: %v", conn.RemoteAddr(), err)
	}
}
