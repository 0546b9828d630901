package core

import "time"

// Position3D represents a world-space coordinate.
type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// VehicleColor holds the primary/secondary paint indexes of a vehicle.
type VehicleColor struct {
	Primary   int `json:"primary"`
	Secondary int `json:"secondary"`
}

// PlayerSession is the last-known state of a connected player.
// The ID is assigned by the game host and is unique among online
// sessions within a running host process.
type PlayerSession struct {
	ID          int64      `json:"id"`
	DisplayName string     `json:"displayName"`
	SocialClub  string     `json:"socialClub,omitempty"`
	IP          string     `json:"-"`
	Position    Position3D `json:"position"`
	Dimension   int        `json:"dimension"`
	Interior    int        `json:"interior"`
	Health      int        `json:"health"`
	Armor       int        `json:"armor"`
	Ping        int        `json:"ping"`
	Online      bool       `json:"online"`
	JoinedAt    time.Time  `json:"joinedAt"`
	LastSeen    time.Time  `json:"lastSeen"`

	// CharacterID links the session to a persisted character profile.
	// Empty until the player authenticates and selects a character.
	CharacterID string `json:"characterId,omitempty"`
}

// VehicleSession is the last-known state of a spawned vehicle.
type VehicleSession struct {
	ID       int64        `json:"id"`
	Model    string       `json:"model"`
	Position Position3D   `json:"position"`
	Rotation Position3D   `json:"rotation"`
	Locked   bool         `json:"locked"`
	EngineOn bool         `json:"engineOn"`
	Fuel     int          `json:"fuel"`
	Plate    string       `json:"plate,omitempty"`
	Color    VehicleColor `json:"color"`

	// OwnerSessionID references the PlayerSession that spawned the
	// vehicle. The owner going offline does not remove the vehicle.
	OwnerSessionID int64     `json:"ownerSessionId,omitempty"`
	SpawnedAt      time.Time `json:"spawnedAt"`
}
