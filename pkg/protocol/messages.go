// Package protocol defines the JSON messages exchanged between game clients
// and the relay server. Every message is a single JSON object with a "type"
// field; relay-only kinds (kill_event, shop_purchase, currency_sync) carry
// free-form payloads and are forwarded byte-for-byte, so they have no structs
// here.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client → server message types
const (
	TypeAuth         = "auth"
	TypePlayerUpdate = "player_update"
	TypeBountyUpdate = "bounty_update"
	TypeKillEvent    = "kill_event"
	TypeShopPurchase = "shop_purchase"
	TypeCurrencySync = "currency_sync"
	TypeGlobalEvent  = "global_event"
	TypeHeartbeat    = "heartbeat"
)

// Server → client message types
const (
	TypeAuthResponse       = "auth_response"
	TypePlayerDisconnected = "player_disconnected"
	TypeError              = "error"
	TypeAdminMessage       = "admin_message"
)

// Envelope carries only the type discriminator. Peek decodes it without
// touching the rest of the payload, so handlers can unmarshal the full
// message themselves and the raw bytes stay available for verbatim relay.
type Envelope struct {
	Type string `json:"type"`
}

// Peek extracts the message type from a raw payload.
func Peek(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("invalid message format: %w", err)
	}
	return env.Type, nil
}

// AuthMessage is the first message a client must send.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// PlayerUpdateMessage reports a player's position on their current server.
type PlayerUpdateMessage struct {
	Type     string  `json:"type"`
	UUID     string  `json:"uuid"`
	Username string  `json:"username"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Server   string  `json:"server"`
}

// BountyUpdateMessage designates the current bounty target.
type BountyUpdateMessage struct {
	Type       string `json:"type"`
	BountyUUID string `json:"bounty_uuid"`
}

// GlobalEventMessage starts a timed global event. Duration is in minutes.
type GlobalEventMessage struct {
	Type      string  `json:"type"`
	EventType string  `json:"event_type"`
	Duration  float64 `json:"duration"`
}

// AuthResponseMessage answers an AuthMessage. ClientID is set on success,
// Message on failure.
type AuthResponseMessage struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	ClientID string `json:"client_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// PlayerDisconnectedMessage tells peers a client's session ended.
type PlayerDisconnectedMessage struct {
	Type       string `json:"type"`
	PlayerUUID string `json:"player_uuid"`
}

// ErrorMessage reports a per-message failure back to the sender. The
// connection stays open.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// BroadcastMessage is an operator-injected announcement from the admin
// control plane.
type BroadcastMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Encode marshals an outbound message. It exists so callers don't sprinkle
// json.Marshal error handling around every send site; outbound structs are
// always marshalable, so the error path is an internal bug.
func Encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: failed to encode %T: %v", v, err))
	}
	return data
}

// NewAuthSuccess builds the response for an accepted auth.
func NewAuthSuccess(clientID string) AuthResponseMessage {
	return AuthResponseMessage{Type: TypeAuthResponse, Success: true, ClientID: clientID}
}

// NewAuthFailure builds the response for a rejected auth.
func NewAuthFailure(reason string) AuthResponseMessage {
	return AuthResponseMessage{Type: TypeAuthResponse, Success: false, Message: reason}
}

// NewError builds an ErrorMessage.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// NewPlayerDisconnected builds a PlayerDisconnectedMessage.
func NewPlayerDisconnected(playerUUID string) PlayerDisconnectedMessage {
	return PlayerDisconnectedMessage{Type: TypePlayerDisconnected, PlayerUUID: playerUUID}
}
