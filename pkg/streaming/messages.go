package streaming

import (
	"encoding/json"
	"fmt"
)

// Topic names for dashboard subscriptions. Per-user and per-character
// topics are derived with UserTopic and CharacterTopic.
const (
	TopicGlobal        = "global"
	TopicAuthenticated = "authenticated"
)

// UserTopic returns the topic that addresses every socket authenticated
// as the given user.
func UserTopic(userID string) string {
	return "user:" + userID
}

// CharacterTopic returns the topic that addresses every socket bound to
// the given character.
func CharacterTopic(characterID string) string {
	return "character:" + characterID
}

// Client-to-server message types.
const (
	TypeAuth = "auth"
)

// Server-to-client message types not derived from an event kind.
const (
	TypeAuthResult   = "auth_result"
	TypeAnnouncement = "server_announcement"
)

// Envelope wraps every message on the dashboard socket in both
// directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it with the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// AuthRequest is sent by a dashboard client to bind its identity.
type AuthRequest struct {
	Token string `json:"token"`
}

// AuthResult reports the outcome of an auth request. A failed auth
// leaves the connection open; it keeps receiving global broadcasts.
type AuthResult struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	UserID      string `json:"userId,omitempty"`
	CharacterID string `json:"characterId,omitempty"`
	Role        string `json:"role,omitempty"`
}

// HostEnvelope is one raw event pushed by the game host over the ingest
// feed. Payload shapes are host-defined and validated downstream.
type HostEnvelope struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}
