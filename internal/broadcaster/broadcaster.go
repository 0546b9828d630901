// Package broadcaster fans normalized events out to the session cache,
// the dashboard sockets, the session history and the metrics counters.
// Sinks are isolated: a failing sink is logged and the siblings still
// run. Nothing in this package mutates the registry.
package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openrp/presence/internal/auth"
	"github.com/openrp/presence/pkg/core"
	"github.com/openrp/presence/pkg/streaming"
)

// DefaultCacheTTL bounds how long a cached session outlives its last
// update. Long enough to survive a process restart, short enough that a
// crashed host does not leave ghosts.
const DefaultCacheTTL = 5 * time.Minute

// Transport is the topic-addressed socket layer. Implemented by the
// hub. Delivery is best-effort; absence of a subscriber is not an
// error.
type Transport interface {
	Subscribe(connID, topic string)
	Publish(topic string, data []byte) int
	Send(connID string, data []byte) bool
	Disconnect(connID string)
}

// CacheSink is the short-lived session store. Best-effort; errors are
// logged and swallowed here.
type CacheSink interface {
	SetSession(ctx context.Context, session core.PlayerSession, ttl time.Duration) error
	DeleteSession(ctx context.Context, sessionID int64) error
}

// HistorySink receives session lifecycle and moderation-relevant
// notifications for durable history. Implementations must not block.
type HistorySink interface {
	SessionStarted(session core.PlayerSession)
	SessionEnded(sessionID int64, reason string, at time.Time)
	ChatLogged(player core.PlayerRef, text string, command bool, at time.Time)
	DeathLogged(victim core.PlayerRef, killer *core.PlayerRef, at time.Time)
}

// Subscription is the broadcaster's view of one dashboard connection.
// It moves from unauthenticated to authenticated at most once and never
// back; a disconnect drops it entirely.
type Subscription struct {
	ConnID        string
	Identity      auth.Identity
	Authenticated bool
	ConnectedAt   time.Time
}

// Stats is a point-in-time summary over tracked subscriptions.
type Stats struct {
	Total         int            `json:"total"`
	Authenticated int            `json:"authenticated"`
	ByRole        map[string]int `json:"byRole"`
}

// Config holds broadcaster tunables.
type Config struct {
	CacheTTL time.Duration
}

// Broadcaster delivers normalized events to every downstream sink and
// tracks dashboard subscriptions. Cache and verifier are optional;
// history is optional.
type Broadcaster struct {
	transport Transport
	cache     CacheSink
	history   HistorySink
	verifier  auth.Verifier
	logger    *slog.Logger
	cacheTTL  time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	subs map[string]*Subscription

	eventsOut  metric.Int64Counter
	sinkErrors metric.Int64Counter
}

// New creates a broadcaster. transport and logger are required.
func New(transport Transport, verifier auth.Verifier, cache CacheSink, history HistorySink, cfg Config, logger *slog.Logger) (*Broadcaster, error) {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	b := &Broadcaster{
		transport: transport,
		cache:     cache,
		history:   history,
		verifier:  verifier,
		logger:    logger,
		cacheTTL:  ttl,
		now:       time.Now,
		subs:      make(map[string]*Subscription),
	}

	m := meter()

	var err error
	b.eventsOut, err = m.Int64Counter(
		"broadcaster.events.out",
		metric.WithDescription("Normalized events fanned out, by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events counter: %w", err)
	}
	b.sinkErrors, err = m.Int64Counter(
		"broadcaster.sink.errors",
		metric.WithDescription("Sink failures swallowed during fan-out, by sink"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sink error counter: %w", err)
	}

	return b, nil
}

// HandleConnect registers a new dashboard connection and puts it on the
// global topic. Wired to the hub's OnConnect callback.
func (b *Broadcaster) HandleConnect(connID string) {
	b.mu.Lock()
	b.subs[connID] = &Subscription{ConnID: connID, ConnectedAt: b.now()}
	b.mu.Unlock()

	b.transport.Subscribe(connID, streaming.TopicGlobal)
}

// HandleDisconnect drops the subscription. Topic memberships are
// cleaned up by the hub itself.
func (b *Broadcaster) HandleDisconnect(connID string) {
	b.mu.Lock()
	delete(b.subs, connID)
	b.mu.Unlock()
}

// HandleMessage processes one inbound dashboard message. Only auth
// requests are recognized; anything else is logged and ignored.
func (b *Broadcaster) HandleMessage(connID string, data []byte) {
	var env streaming.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.logger.Debug("ignoring unparseable dashboard message", "conn", connID, "error", err)
		return
	}

	switch env.Type {
	case streaming.TypeAuth:
		var req streaming.AuthRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			b.logger.Debug("ignoring malformed auth request", "conn", connID, "error", err)
			return
		}
		result := b.AuthenticateConnection(connID, req.Token)
		b.sendTo(connID, streaming.TypeAuthResult, result)
	default:
		b.logger.Debug("ignoring unknown dashboard message", "conn", connID, "type", env.Type)
	}
}

// AuthenticateConnection verifies the token and, on success, binds the
// connection to its identity topics. A failed auth leaves the
// connection on the global topic; it is not disconnected.
func (b *Broadcaster) AuthenticateConnection(connID, token string) streaming.AuthResult {
	identity, err := b.verifier.Verify(token)
	if err != nil {
		b.logger.Info("dashboard auth rejected", "conn", connID, "error", err)
		return streaming.AuthResult{OK: false, Error: "invalid token"}
	}

	b.mu.Lock()
	sub, ok := b.subs[connID]
	if !ok {
		// Disconnected while the token was being verified.
		b.mu.Unlock()
		return streaming.AuthResult{OK: false, Error: "connection closed"}
	}
	sub.Identity = identity
	sub.Authenticated = true
	b.mu.Unlock()

	b.transport.Subscribe(connID, streaming.TopicAuthenticated)
	b.transport.Subscribe(connID, streaming.UserTopic(identity.UserID))
	if identity.CharacterID != "" {
		b.transport.Subscribe(connID, streaming.CharacterTopic(identity.CharacterID))
	}

	b.logger.Info("dashboard authenticated",
		"conn", connID, "user", identity.UserID, "role", identity.Role)

	return streaming.AuthResult{
		OK:          true,
		UserID:      identity.UserID,
		CharacterID: identity.CharacterID,
		Role:        identity.Role,
	}
}

// OnEvent fans one normalized event out to cache, sockets and metrics.
// Registry state is already updated by the time this runs, so sink
// failures can only lose a notification, never corrupt state.
func (b *Broadcaster) OnEvent(evt core.NormalizedEvent) {
	b.eventsOut.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", string(evt.Kind))))

	// Any event carrying a session snapshot re-arms the cache TTL, so a
	// record can only expire once the player actually stops producing
	// events.
	if evt.Session != nil {
		b.cacheSet(*evt.Session)
	}

	switch payload := evt.Payload.(type) {
	case core.PlayerJoinPayload:
		if b.history != nil {
			b.guard("history", func() error {
				b.history.SessionStarted(payload.Session)
				return nil
			})
		}
		b.BroadcastGlobal(string(core.EventPlayerJoin), payload)

	case core.PlayerQuitPayload:
		b.cacheDelete(payload.Player.ID)
		if b.history != nil {
			b.guard("history", func() error {
				b.history.SessionEnded(payload.Player.ID, payload.Reason, evt.Timestamp)
				return nil
			})
		}
		b.BroadcastGlobal(string(core.EventPlayerQuit), payload)

	case core.PlayerMovePayload:
		// Positions are visible to authenticated dashboards only, plus
		// the bound character's own stream.
		b.BroadcastAuthenticatedOnly(string(core.EventPlayerMove), payload)
		if payload.CharacterID != "" {
			b.SendToCharacter(payload.CharacterID, string(core.EventPlayerMove), payload)
		}

	case core.PlayerDeathPayload:
		if b.history != nil {
			b.guard("history", func() error {
				b.history.DeathLogged(payload.Victim, payload.Killer, evt.Timestamp)
				return nil
			})
		}
		b.BroadcastGlobal(string(core.EventPlayerDeath), payload)

	case core.PlayerChatPayload:
		if b.history != nil {
			b.guard("history", func() error {
				b.history.ChatLogged(payload.Player, payload.Text, false, evt.Timestamp)
				return nil
			})
		}
		b.BroadcastAuthenticatedOnly(string(core.EventPlayerChat), payload)

	case core.PlayerCommandPayload:
		if b.history != nil {
			b.guard("history", func() error {
				b.history.ChatLogged(payload.Player, payload.Command, true, evt.Timestamp)
				return nil
			})
		}
		b.BroadcastAuthenticatedOnly(string(core.EventPlayerCommand), payload)

	case core.VehicleSpawnPayload:
		b.BroadcastGlobal(string(core.EventVehicleSpawn), payload)

	case core.VehicleDestroyPayload:
		b.BroadcastGlobal(string(core.EventVehicleDestroy), payload)

	case core.VehicleSeatPayload:
		b.BroadcastGlobal(string(evt.Kind), payload)

	default:
		b.logger.Error("unhandled normalized event payload",
			"kind", evt.Kind, "payload", fmt.Sprintf("%T", evt.Payload))
	}
}

// BroadcastGlobal emits to every connected socket. Zero subscribers is
// not an error.
func (b *Broadcaster) BroadcastGlobal(eventName string, payload any) {
	b.publish(streaming.TopicGlobal, eventName, payload)
}

// BroadcastAuthenticatedOnly emits to authenticated sockets only.
func (b *Broadcaster) BroadcastAuthenticatedOnly(eventName string, payload any) {
	b.publish(streaming.TopicAuthenticated, eventName, payload)
}

// SendToUser emits to every socket authenticated as the user. No-op if
// none is connected.
func (b *Broadcaster) SendToUser(userID, eventName string, payload any) {
	b.publish(streaming.UserTopic(userID), eventName, payload)
}

// SendToCharacter emits to every socket bound to the character.
func (b *Broadcaster) SendToCharacter(characterID, eventName string, payload any) {
	b.publish(streaming.CharacterTopic(characterID), eventName, payload)
}

// KickConnection notifies the connection and then drops it.
func (b *Broadcaster) KickConnection(connID, reason string) {
	b.sendTo(connID, streaming.TypeAnnouncement, map[string]string{"message": reason})
	b.transport.Disconnect(connID)
}

// GetConnectionStats snapshots the tracked subscriptions.
func (b *Broadcaster) GetConnectionStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{
		Total:  len(b.subs),
		ByRole: make(map[string]int),
	}
	for _, sub := range b.subs {
		if sub.Authenticated {
			stats.Authenticated++
			stats.ByRole[sub.Identity.Role]++
		}
	}
	return stats
}

// publish marshals the envelope and hands it to the transport. Any
// failure ends here.
func (b *Broadcaster) publish(topic, eventName string, payload any) {
	env, err := streaming.NewEnvelope(eventName, payload)
	if err != nil {
		b.logger.Error("marshal broadcast payload failed", "event", eventName, "error", err)
		b.countSinkError("socket")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("marshal broadcast envelope failed", "event", eventName, "error", err)
		b.countSinkError("socket")
		return
	}

	b.guard("socket", func() error {
		b.transport.Publish(topic, data)
		return nil
	})
}

// sendTo marshals the envelope and queues it for one connection. A
// vanished connection is a no-op.
func (b *Broadcaster) sendTo(connID, msgType string, payload any) {
	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		b.logger.Error("marshal direct payload failed", "type", msgType, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("marshal direct envelope failed", "type", msgType, "error", err)
		return
	}

	b.guard("socket", func() error {
		b.transport.Send(connID, data)
		return nil
	})
}

// cacheSet upserts the session record asynchronously so a slow cache
// never stalls event processing.
func (b *Broadcaster) cacheSet(session core.PlayerSession) {
	if b.cache == nil {
		return
	}
	go b.guard("cache", func() error {
		return b.cache.SetSession(context.Background(), session, b.cacheTTL)
	})
}

func (b *Broadcaster) cacheDelete(sessionID int64) {
	if b.cache == nil {
		return
	}
	go b.guard("cache", func() error {
		return b.cache.DeleteSession(context.Background(), sessionID)
	})
}

// guard runs one sink call, catching both errors and panics so sibling
// sinks still execute.
func (b *Broadcaster) guard(sink string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("sink panicked", "sink", sink, "panic", r)
			b.countSinkError(sink)
		}
	}()
	if err := fn(); err != nil {
		b.logger.Error("sink failed", "sink", sink, "error", err)
		b.countSinkError(sink)
	}
}

func (b *Broadcaster) countSinkError(sink string) {
	b.sinkErrors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("sink", sink)))
}
