// Package normalizer translates the game host's loosely-typed event
// callbacks into the fixed NormalizedEvent vocabulary and applies the
// corresponding registry mutation, exactly once per raw event.
//
// The host is an untrusted, best-effort source: it may replay, reorder,
// or race join/quit against action events. An event referencing an
// unknown entity is therefore never an error here; it is logged at
// debug level and dropped. The registry is always updated before the
// derived event is emitted, so a downstream sink failure can never
// leave the registry stale relative to what was broadcast.
package normalizer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openrp/presence/internal/dispatcher"
	"github.com/openrp/presence/internal/registry"
	"github.com/openrp/presence/pkg/core"
)

// Raw event names as raised by the game host.
const (
	RawPlayerJoin         = "playerJoin"
	RawPlayerQuit         = "playerQuit"
	RawPlayerMove         = "playerMove"
	RawPlayerDeath        = "playerDeath"
	RawPlayerChat         = "playerChat"
	RawPlayerCommand      = "playerCommand"
	RawVehicleSpawn       = "vehicleSpawn"
	RawVehicleDestroy     = "vehicleDestroy"
	RawPlayerEnterVehicle = "playerEnterVehicle"
	RawPlayerExitVehicle  = "playerExitVehicle"

	// RawPlayerBindCharacter is raised by the host once the backend has
	// authenticated a character selection for a session.
	RawPlayerBindCharacter = "playerBindCharacter"
)

// ErrMalformedPayload marks a host payload missing a required field.
var ErrMalformedPayload = errors.New("malformed host payload")

// Emitter receives normalized events. Implemented by the broadcaster.
type Emitter interface {
	OnEvent(core.NormalizedEvent)
}

// Normalizer owns all registry writes. One instance per registry.
type Normalizer struct {
	reg    *registry.Registry
	emit   Emitter
	logger *slog.Logger
	now    func() time.Time
}

// New creates a normalizer writing through to reg and emitting to sink.
func New(reg *registry.Registry, sink Emitter, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		reg:    reg,
		emit:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Register wires every raw host event onto the dispatcher. Join, quit
// and vehicle lifecycle events run synchronously so the registry is
// current before the state events that follow them; high-volume state
// events are buffered.
func (n *Normalizer) Register(d *dispatcher.Dispatcher) {
	d.Register(RawPlayerJoin, n.HandleJoin, dispatcher.Logged())
	d.Register(RawPlayerQuit, n.HandleQuit, dispatcher.Logged())
	d.Register(RawVehicleSpawn, n.HandleVehicleSpawn, dispatcher.Logged())
	d.Register(RawVehicleDestroy, n.HandleVehicleDestroy, dispatcher.Logged())
	d.Register(RawPlayerBindCharacter, n.HandleBindCharacter, dispatcher.Logged())

	d.Register(RawPlayerMove, n.HandleMove, dispatcher.Buffered(10000))
	d.Register(RawPlayerChat, n.HandleChat, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(RawPlayerCommand, n.HandleCommand, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(RawPlayerDeath, n.HandleDeath, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(RawPlayerEnterVehicle, n.HandleEnterVehicle, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(RawPlayerExitVehicle, n.HandleExitVehicle, dispatcher.Buffered(1000), dispatcher.Logged())
}

func (n *Normalizer) malformed(event, field string) error {
	n.logger.Warn("rejecting malformed host payload", "event", event, "missing", field)
	return fmt.Errorf("%w: %s missing %s", ErrMalformedPayload, event, field)
}

func (n *Normalizer) emitEvent(kind core.EventKind, payload any) {
	n.emit.OnEvent(core.NormalizedEvent{
		Kind:      kind,
		Timestamp: n.now(),
		Payload:   payload,
	})
}

// emitSessionEvent attaches the post-mutation session snapshot so sinks
// can refresh external session state alongside the fan-out.
func (n *Normalizer) emitSessionEvent(kind core.EventKind, payload any, session core.PlayerSession) {
	n.emit.OnEvent(core.NormalizedEvent{
		Kind:      kind,
		Timestamp: n.now(),
		Payload:   payload,
		Session:   &session,
	})
}

// HandleJoin creates (or restarts) a session and emits player_join.
func (n *Normalizer) HandleJoin(e dispatcher.Event) error {
	id, ok := getInt64(e.Payload, "id")
	if !ok {
		return n.malformed(RawPlayerJoin, "id")
	}

	patch := registry.PlayerPatch{}
	if name, ok := getString(e.Payload, "name"); ok {
		patch.DisplayName = &name
	}
	if pos, ok := getPosition(e.Payload, "position"); ok {
		patch.Position = &pos
	}
	if dim, ok := getInt(e.Payload, "dimension"); ok {
		patch.Dimension = &dim
	}
	if interior, ok := getInt(e.Payload, "interior"); ok {
		patch.Interior = &interior
	}
	if health, ok := getInt(e.Payload, "health"); ok {
		patch.Health = &health
	}
	if armor, ok := getInt(e.Payload, "armor"); ok {
		patch.Armor = &armor
	}
	if sc, ok := getString(e.Payload, "socialClub"); ok {
		patch.SocialClub = &sc
	}
	if ip, ok := getString(e.Payload, "ip"); ok {
		patch.IP = &ip
	}
	if ping, ok := getInt(e.Payload, "ping"); ok {
		patch.Ping = &ping
	}

	session := n.reg.UpsertPlayer(id, patch)
	n.emitSessionEvent(core.EventPlayerJoin, core.PlayerJoinPayload{Session: session}, session)
	return nil
}

// HandleQuit marks the session offline and emits player_quit. A quit
// for an unknown id is dropped silently apart from a debug log.
func (n *Normalizer) HandleQuit(e dispatcher.Event) error {
	id, ok := getInt64(e.Payload, "id")
	if !ok {
		return n.malformed(RawPlayerQuit, "id")
	}
	reason, _ := getString(e.Payload, "reason")

	session, removed := n.reg.RemovePlayer(id)
	if !removed {
		n.logger.Debug("quit for unknown session", "id", id, "reason", reason)
		return nil
	}

	n.emitEvent(core.EventPlayerQuit, core.PlayerQuitPayload{
		Player:      core.PlayerRef{ID: session.ID, DisplayName: session.DisplayName},
		Reason:      reason,
		CharacterID: session.CharacterID,
	})
	return nil
}

// HandleMove overwrites the session position and emits player_move.
func (n *Normalizer) HandleMove(e dispatcher.Event) error {
	id, ok := getInt64(e.Payload, "id")
	if !ok {
		return n.malformed(RawPlayerMove, "id")
	}
	pos, ok := getPosition(e.Payload, "position")
	if !ok {
		return n.malformed(RawPlayerMove, "position")
	}

	// Moves run on a buffered consumer goroutine while quits run on the
	// ingest goroutine, so the existence check and the mutation must be
	// one registry operation: a quit landing between a GetPlayer check
	// and an UpsertPlayer would see the stale move start a fresh session.
	session, online := n.reg.UpsertPlayerIfOnline(id, registry.PlayerPatch{Position: &pos})
	if !online {
		n.logger.Debug("move for unknown session", "id", id)
		return nil
	}

	n.emitSessionEvent(core.EventPlayerMove, core.PlayerMovePayload{
		Player:      core.PlayerRef{ID: session.ID, DisplayName: session.DisplayName},
		Position:    session.Position,
		CharacterID: session.CharacterID,
	}, session)
	return nil
}

// HandleChat passes a chat line through, refreshing the session's
// lastSeen on the way.
func (n *Normalizer) HandleChat(e dispatcher.Event) error {
	id, ok := getInt64(e.Payload, "id")
	if !ok {
		return n.malformed(RawPlayerChat, "id")
	}
	text, ok := getString(e.Payload, "text")
	if !ok {
		return n.malformed(RawPlayerChat, "text")
	}

	// Empty patch still touches lastSeen. Same single-operation rule as
	// HandleMove: chat races quits across goroutines.
	session, online := n.reg.UpsertPlayerIfOnline(id, registry.PlayerPatch{})
	if !online {
		n.logger.Debug("chat for unknown session", "id", id)
		return nil
	}

	n.emitSessionEvent(core.EventPlayerChat, core.PlayerChatPayload{
		Player: core.PlayerRef{ID: session.ID, DisplayName: session.DisplayName},
		Text:   text,
	}, session)
	return nil
}

// HandleCommand passes a slash command through.
func (n *Normalizer) HandleCommand(e dispatcher.Event) error {
	id, ok := getInt64(e.Payload, "id")
	if !ok {
		return n.malformed(RawPlayerCommand, "id")
	}
	command, ok := getString(e.Payload, "command")
	if !ok {
		return n.malformed(RawPlayerCommand, "command")
	}

	session, found := n.reg.GetPlayer(id)
	if !found || !session.Online {
		n.logger.Debug("command for unknown session", "id", id)
		return nil
	}

	n.emitEvent(core.EventPlayerCommand, core.PlayerCommandPayload{
		Player:  core.PlayerRef{ID: session.ID, DisplayName: session.DisplayName},
		Command: command,
	})
	return nil
}

// HandleDeath emits player_death. The killer is resolved through the
// registry; an absent or unknown killer id yields a nil killer, which
// is a valid death payload.
func (n *Normalizer) HandleDeath(e dispatcher.Event) error {
	id, ok := getInt64(e.Payload, "id")
	if !ok {
		return n.malformed(RawPlayerDeath, "id")
	}

	victim, found := n.reg.GetPlayer(id)
	if !found || !victim.Online {
		n.logger.Debug("death for unknown session", "id", id)
		return nil
	}

	var killer *core.PlayerRef
	if killerID, ok := getInt64(e.Payload, "killerId"); ok {
		if k, found := n.reg.GetPlayer(killerID); found && k.Online {
			killer = &core.PlayerRef{ID: k.ID, DisplayName: k.DisplayName}
		} else {
			n.logger.Debug("death with unknown killer", "id", id, "killerId", killerID)
		}
	}

	n.emitEvent(core.EventPlayerDeath, core.PlayerDeathPayload{
		Victim: core.PlayerRef{ID: victim.ID, DisplayName: victim.DisplayName},
		Killer: killer,
	})
	return nil
}

// HandleVehicleSpawn registers the vehicle and emits vehicle_spawn.
func (n *Normalizer) HandleVehicleSpawn(e dispatcher.Event) error {
	id, ok := getInt64(e.Payload, "id")
	if !ok {
		return n.malformed(RawVehicleSpawn, "id")
	}

	patch := registry.VehiclePatch{}
	if model, ok := getString(e.Payload, "model"); ok {
		patch.Model = &model
	}
	if pos, ok := getPosition(e.Payload, "position"); ok {
		patch.Position = &pos
	}
	if rot, ok := getPosition(e.Payload, "rotation"); ok {
		patch.Rotation = &rot
	}
	if locked, ok := getBool(e.Payload, "locked"); ok {
		patch.Locked = &locked
	}
	if engine, ok := getBool(e.Payload, "engine"); ok {
		patch.EngineOn = &engine
	}
	if fuel, ok := getInt(e.Payload, "fuel"); ok {
		patch.Fuel = &fuel
	}
	if plate, ok := getString(e.Payload, "plate"); ok {
		patch.Plate = &plate
	}
	primary, hasPrimary := getInt(e.Payload, "colorPrimary")
	secondary, hasSecondary := getInt(e.Payload, "colorSecondary")
	if hasPrimary || hasSecondary {
		patch.Color = &core.VehicleColor{Primary: primary, Secondary: secondary}
	}
	if ownerID, ok := getInt64(e.Payload, "ownerId"); ok {
		// Owner must reference a session known at assignment time.
		if _, found := n.reg.GetPlayer(ownerID); found {
			patch.OwnerSessionID = &ownerID
		} else {
			n.logger.Debug("vehicle spawn with unknown owner", "id", id, "ownerId", ownerID)
		}
	}

	vehicle := n.reg.UpsertVehicle(id, patch)
	n.emitEvent(core.EventVehicleSpawn, core.VehicleSpawnPayload{Vehicle: vehicle})
	return nil
}

// HandleVehicleDestroy removes the vehicle and emits vehicle_destroy.
func (n *Normalizer) HandleVehicleDestroy(e dispatcher.Event) error {
	id, ok := getInt64(e.Payload, "id")
	if !ok {
		return n.malformed(RawVehicleDestroy, "id")
	}

	if !n.reg.RemoveVehicle(id) {
		n.logger.Debug("destroy for unknown vehicle", "id", id)
		return nil
	}

	n.emitEvent(core.EventVehicleDestroy, core.VehicleDestroyPayload{VehicleID: id})
	return nil
}

// HandleEnterVehicle emits player_enter_vehicle when both entities are
// known; otherwise the event is dropped.
func (n *Normalizer) HandleEnterVehicle(e dispatcher.Event) error {
	return n.handleSeatChange(e, RawPlayerEnterVehicle, core.EventPlayerEnterVehicle, true)
}

// HandleExitVehicle emits player_exit_vehicle when both entities are known.
func (n *Normalizer) HandleExitVehicle(e dispatcher.Event) error {
	return n.handleSeatChange(e, RawPlayerExitVehicle, core.EventPlayerExitVehicle, false)
}

func (n *Normalizer) handleSeatChange(e dispatcher.Event, raw string, kind core.EventKind, withSeat bool) error {
	playerID, ok := getInt64(e.Payload, "playerId")
	if !ok {
		return n.malformed(raw, "playerId")
	}
	vehicleID, ok := getInt64(e.Payload, "vehicleId")
	if !ok {
		return n.malformed(raw, "vehicleId")
	}

	player, found := n.reg.GetPlayer(playerID)
	if !found || !player.Online {
		n.logger.Debug("seat change for unknown session", "event", raw, "playerId", playerID)
		return nil
	}
	if _, found := n.reg.GetVehicle(vehicleID); !found {
		n.logger.Debug("seat change for unknown vehicle", "event", raw, "vehicleId", vehicleID)
		return nil
	}

	seat := -1
	if withSeat {
		if s, ok := getInt(e.Payload, "seat"); ok {
			seat = s
		}
	}

	n.emitEvent(kind, core.VehicleSeatPayload{
		Player:    core.PlayerRef{ID: player.ID, DisplayName: player.DisplayName},
		VehicleID: vehicleID,
		Seat:      seat,
	})
	return nil
}

// HandleBindCharacter applies a character binding raised by the host
// after the backend authenticated the selection.
func (n *Normalizer) HandleBindCharacter(e dispatcher.Event) error {
	id, ok := getInt64(e.Payload, "id")
	if !ok {
		return n.malformed(RawPlayerBindCharacter, "id")
	}
	characterID, ok := getString(e.Payload, "characterId")
	if !ok {
		return n.malformed(RawPlayerBindCharacter, "characterId")
	}

	if _, err := n.BindCharacter(id, characterID); err != nil {
		n.logger.Debug("character bind for unknown session", "id", id, "characterId", characterID)
	}
	return nil
}

// BindCharacter links an authenticated character profile to an online
// session.
func (n *Normalizer) BindCharacter(id int64, characterID string) (core.PlayerSession, error) {
	session, online := n.reg.UpsertPlayerIfOnline(id, registry.PlayerPatch{CharacterID: &characterID})
	if !online {
		return core.PlayerSession{}, fmt.Errorf("session %d is not online", id)
	}
	return session, nil
}
