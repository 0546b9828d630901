package streaming

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicBuilders(t *testing.T) {
	assert.Equal(t, "user:u-42", UserTopic("u-42"))
	assert.Equal(t, "character:c-7", CharacterTopic("c-7"))
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(TypeAuthResult, AuthResult{OK: true, UserID: "u1", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, TypeAuthResult, env.Type)

	var result AuthResult
	require.NoError(t, json.Unmarshal(env.Payload, &result))
	assert.True(t, result.OK)
	assert.Equal(t, "u1", result.UserID)
	assert.Equal(t, "admin", result.Role)
}

func TestNewEnvelope_UnmarshalablePayload(t *testing.T) {
	_, err := NewEnvelope("bad", func() {})
	assert.Error(t, err)
}

func TestAuthResult_OmitsEmptyFields(t *testing.T) {
	raw, err := json.Marshal(AuthResult{OK: false, Error: "invalid token"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false,"error":"invalid token"}`, string(raw))
}

func TestHostEnvelope_Decode(t *testing.T) {
	var env HostEnvelope
	require.NoError(t, json.Unmarshal(
		[]byte(`{"event":"player_join","payload":{"id":7,"displayName":"Ada"}}`), &env))
	assert.Equal(t, "player_join", env.Event)
	assert.Equal(t, float64(7), env.Payload["id"])
}
