package core

import "time"

// EventKind identifies a normalized event. The set is closed: consumers
// switch over it exhaustively instead of matching on free-form strings.
type EventKind string

const (
	EventPlayerJoin         EventKind = "player_join"
	EventPlayerQuit         EventKind = "player_quit"
	EventPlayerMove         EventKind = "player_move"
	EventPlayerDeath        EventKind = "player_death"
	EventPlayerChat         EventKind = "player_chat"
	EventPlayerCommand      EventKind = "player_command"
	EventVehicleSpawn       EventKind = "vehicle_spawn"
	EventVehicleDestroy     EventKind = "vehicle_destroy"
	EventPlayerEnterVehicle EventKind = "player_enter_vehicle"
	EventPlayerExitVehicle  EventKind = "player_exit_vehicle"
)

// Kinds lists every event kind, in the order the host raises them most
// frequently. Used for registering metrics and handlers.
func Kinds() []EventKind {
	return []EventKind{
		EventPlayerMove,
		EventPlayerJoin,
		EventPlayerQuit,
		EventPlayerDeath,
		EventPlayerChat,
		EventPlayerCommand,
		EventVehicleSpawn,
		EventVehicleDestroy,
		EventPlayerEnterVehicle,
		EventPlayerExitVehicle,
	}
}

// NormalizedEvent is the validated, fixed-vocabulary form of a raw host
// event. Payload holds exactly one of the *Payload structs below,
// matching Kind. Timestamp is when the event was normalized, not when
// the host raised it; host clocks are not trusted.
type NormalizedEvent struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`

	// Session is the registry snapshot taken after the event mutated the
	// player's session, for events that do. Sinks use it to keep external
	// session state (the presence cache) fresh; it never goes over the
	// wire.
	Session *PlayerSession `json:"-"`
}

// PlayerRef is a minimal reference to a player carried inside event
// payloads, so consumers do not need a registry lookup to render it.
type PlayerRef struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
}

// PlayerJoinPayload carries the full session snapshot of the joining player.
type PlayerJoinPayload struct {
	Session PlayerSession `json:"session"`
}

// PlayerQuitPayload is emitted after the session is marked offline.
type PlayerQuitPayload struct {
	Player PlayerRef `json:"player"`
	Reason string    `json:"reason"`

	// CharacterID of the session at quit time, if it was bound.
	CharacterID string `json:"characterId,omitempty"`
}

// PlayerMovePayload carries a position overwrite for an online session.
type PlayerMovePayload struct {
	Player   PlayerRef  `json:"player"`
	Position Position3D `json:"position"`

	// CharacterID of the session, if bound, for per-character routing.
	CharacterID string `json:"characterId,omitempty"`
}

// PlayerDeathPayload describes a death. Killer is nil when the killer
// id was absent or unknown to the registry; that is a valid death.
type PlayerDeathPayload struct {
	Victim PlayerRef  `json:"victim"`
	Killer *PlayerRef `json:"killer"`
}

// PlayerChatPayload is a pass-through chat line.
type PlayerChatPayload struct {
	Player PlayerRef `json:"player"`
	Text   string    `json:"text"`
}

// PlayerCommandPayload is a pass-through slash command.
type PlayerCommandPayload struct {
	Player  PlayerRef `json:"player"`
	Command string    `json:"command"`
}

// VehicleSpawnPayload carries the full snapshot of the spawned vehicle.
type VehicleSpawnPayload struct {
	Vehicle VehicleSession `json:"vehicle"`
}

// VehicleDestroyPayload is emitted after the vehicle leaves the registry.
type VehicleDestroyPayload struct {
	VehicleID int64 `json:"vehicleId"`
}

// VehicleSeatPayload is shared by enter/exit vehicle events. Seat is
// meaningful only for enters; exits carry -1.
type VehicleSeatPayload struct {
	Player    PlayerRef `json:"player"`
	VehicleID int64     `json:"vehicleId"`
	Seat      int       `json:"seat"`
}
