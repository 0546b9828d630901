// Package sessioncache mirrors live player sessions into Redis so the
// web backend can read presence without talking to this process. The
// registry stays authoritative; everything here is best-effort.
package sessioncache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/openrp/presence/pkg/core"
)

const keyPrefix = "presence:session:"

// Manager handles the Redis connection and session writes. When Redis
// is unreachable at startup the manager stays invalid and every write
// degrades to a no-op.
type Manager struct {
	Client  *redis.Client
	IsValid bool
	Logger  zerolog.Logger
}

// NewManager creates a Redis session cache manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		IsValid: false,
		Logger:  log,
	}
}

// Connect establishes the Redis connection and pings it. A failed ping
// leaves the manager invalid rather than returning an error; presence
// works without the cache.
func (m *Manager) Connect(ctx context.Context) error {
	if !viper.GetBool("redis.enabled") {
		return fmt.Errorf("redis.enabled is false")
	}

	m.Client = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf(
			"%s:%s",
			viper.GetString("redis.host"),
			viper.GetString("redis.port"),
		),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.database"),
	})

	if _, err := m.Client.Ping(ctx).Result(); err != nil {
		m.IsValid = false
		m.Logger.Warn().Err(err).Msg("Redis unreachable, session cache disabled")
		return nil
	}

	m.IsValid = true
	m.Logger.Info().Msg("Redis session cache initialized")
	return nil
}

func sessionKey(id int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, id)
}

// SetSession upserts the session record with a TTL.
func (m *Manager) SetSession(ctx context.Context, session core.PlayerSession, ttl time.Duration) error {
	if !m.IsValid {
		return nil
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %d: %w", session.ID, err)
	}
	if err := m.Client.Set(ctx, sessionKey(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set session %d: %w", session.ID, err)
	}
	return nil
}

// DeleteSession drops the session record. Deleting an absent key is
// not an error.
func (m *Manager) DeleteSession(ctx context.Context, sessionID int64) error {
	if !m.IsValid {
		return nil
	}

	if err := m.Client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("cache delete session %d: %w", sessionID, err)
	}
	return nil
}

// GetSession reads one cached session. Returns false when the key is
// absent or the cache is disabled.
func (m *Manager) GetSession(ctx context.Context, sessionID int64) (core.PlayerSession, bool, error) {
	var session core.PlayerSession
	if !m.IsValid {
		return session, false, nil
	}

	data, err := m.Client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return session, false, nil
	}
	if err != nil {
		return session, false, fmt.Errorf("cache get session %d: %w", sessionID, err)
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return session, false, fmt.Errorf("unmarshal session %d: %w", sessionID, err)
	}
	return session, true, nil
}

// Close disconnects from Redis.
func (m *Manager) Close() error {
	if m.Client == nil {
		return nil
	}
	return m.Client.Close()
}
