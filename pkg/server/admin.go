package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/friendhunter/relay/pkg/protocol"
)

// adminPlayer is a PlayerState entry as the control plane reports it.
type adminPlayer struct {
	UUID     string  `json:"uuid"`
	Username string  `json:"username"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Server   string  `json:"server"`
	LastSeen int64   `json:"lastSeen"`
	IsBounty bool    `json:"isBounty"`
}

// writeJSON writes a JSON response with the shared CORS headers.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// handlePreflight answers CORS preflight requests. Returns true when the
// request was a preflight and has been handled.
func handlePreflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodOptions {
		return false
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusOK)
	return true
}

// authorize checks the bearer credential on a gated request. On failure it
// writes the 401 response itself and returns false; no state has been read
// or mutated at that point.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if header == "" || !s.adminAuth.Authorize(token) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return false
	}
	return true
}

// HealthHandler serves the unauthenticated health/status read.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if handlePreflight(w, r) {
		return
	}

	stats := s.stats.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"uptime":            stats.Uptime.Milliseconds(),
		"activeConnections": stats.ActiveConnections,
		"totalConnections":  stats.TotalConnections,
		"messagesProcessed": stats.MessagesProcessed,
		"onlinePlayers":     s.state.PlayerCount(),
		"currentBounty":     s.state.Bounty(),
	})
}

// AdminPlayersHandler lists all tracked player states.
func (s *Server) AdminPlayersHandler(w http.ResponseWriter, r *http.Request) {
	if handlePreflight(w, r) {
		return
	}
	if !s.authorize(w, r) {
		return
	}

	bounty := s.state.Bounty()
	states := s.state.Players()

	players := make([]adminPlayer, 0, len(states))
	for _, p := range states {
		players = append(players, adminPlayer{
			UUID:     p.UUID,
			Username: p.Username,
			X:        p.X,
			Y:        p.Y,
			Z:        p.Z,
			Server:   p.Server,
			LastSeen: p.LastSeen.UnixMilli(),
			IsBounty: bounty != "" && bounty == p.UUID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"players":       players,
		"totalPlayers":  len(players),
		"currentBounty": bounty,
	})
}

// AdminKickHandler force-closes the session matching a player uuid. Closing
// runs the same disconnect path as an organic close, so a racing transport
// signal cannot double-count the disconnect.
func (s *Server) AdminKickHandler(w http.ResponseWriter, r *http.Request) {
	if handlePreflight(w, r) {
		return
	}
	if !s.authorize(w, r) {
		return
	}

	var req struct {
		PlayerUUID string `json:"playerUuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerUUID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return
	}

	sess, ok := s.registry.FindByPlayerUUID(req.PlayerUUID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Player not found"})
		return
	}

	sess.Conn.CloseWithCode(protocolCloseNormal, "Kicked by admin")
	sess.Conn.Close()
	s.finalizeDisconnect(sess.Conn)

	log.Printf("Admin kicked player %s (session %s)", req.PlayerUUID, sess.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Player kicked"})
}

// AdminBroadcastHandler injects an operator message into the fan-out. This
// is a trusted-operator surface: the type field is broadcast as given.
func (s *Server) AdminBroadcastHandler(w http.ResponseWriter, r *http.Request) {
	if handlePreflight(w, r) {
		return
	}
	if !s.authorize(w, r) {
		return
	}

	var req struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return
	}
	if req.Type == "" {
		req.Type = protocol.TypeAdminMessage
	}

	s.registry.BroadcastAll(protocol.Encode(protocol.BroadcastMessage{
		Type:      req.Type,
		Message:   req.Message,
		Timestamp: time.Now().UnixMilli(),
	}))

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Broadcast sent"})
}
