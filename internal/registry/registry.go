package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/openrp/presence/pkg/core"
)

// DefaultRetention is how long an offline player session stays readable
// before the janitor purges it. Late host events referencing the id are
// dropped during this window instead of resurrecting the session.
const DefaultRetention = 60 * time.Second

// Registry is the authoritative in-memory store of current player and
// vehicle state. It performs no I/O. All mutation funnels through the
// normalizer (single writer); readers only receive copies, so a caller
// can never bypass that discipline by mutating a returned snapshot.
type Registry struct {
	mu       sync.RWMutex
	players  map[int64]*core.PlayerSession
	vehicles map[int64]*core.VehicleSession

	// offlineAt tracks when an offline session was removed from the
	// online set, for retention-window purging.
	offlineAt map[int64]time.Time

	maxPlayers int
	retention  time.Duration
	started    time.Time
	now        func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxPlayers sets the advertised capacity reported by Stats.
func WithMaxPlayers(n int) Option {
	return func(r *Registry) { r.maxPlayers = n }
}

// WithRetention sets how long offline sessions stay readable.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) { r.retention = d }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		players:    make(map[int64]*core.PlayerSession),
		vehicles:   make(map[int64]*core.VehicleSession),
		offlineAt:  make(map[int64]time.Time),
		maxPlayers: 1000,
		retention:  DefaultRetention,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.started = r.now()
	return r
}

// PlayerPatch is a partial update to a player session. Nil fields are
// left untouched. Health and armor are clamped to [0,100] on apply.
type PlayerPatch struct {
	DisplayName *string
	SocialClub  *string
	IP          *string
	Position    *core.Position3D
	Dimension   *int
	Interior    *int
	Health      *int
	Armor       *int
	Ping        *int
	CharacterID *string
}

// VehiclePatch is a partial update to a vehicle session. Fuel is
// clamped to [0,100] on apply.
type VehiclePatch struct {
	Model          *string
	Position       *core.Position3D
	Rotation       *core.Position3D
	Locked         *bool
	EngineOn       *bool
	Fuel           *int
	Plate          *string
	Color          *core.VehicleColor
	OwnerSessionID *int64
}

func clamp100(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// UpsertPlayer creates the session if absent and merges patch fields
// otherwise, returning the resulting snapshot. An offline record is not
// addressable for mutation: upserting an id whose session is offline
// starts a fresh session, it never resurrects the old one.
func (r *Registry) UpsertPlayer(id int64, patch PlayerPatch) core.PlayerSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	p, ok := r.players[id]
	if !ok || !p.Online {
		p = &core.PlayerSession{
			ID:       id,
			Health:   100,
			Online:   true,
			JoinedAt: now,
		}
		r.players[id] = p
		delete(r.offlineAt, id)
	}

	applyPlayerPatch(p, patch)
	p.LastSeen = now
	return *p
}

// UpsertPlayerIfOnline merges patch fields into an existing online
// session and returns the resulting snapshot. It reports false, without
// creating anything, when the id is absent or offline. Handlers that
// run concurrently with quits use this instead of a GetPlayer check
// followed by UpsertPlayer, which would start a fresh session if the
// quit landed between the two calls.
func (r *Registry) UpsertPlayerIfOnline(id int64, patch PlayerPatch) (core.PlayerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[id]
	if !ok || !p.Online {
		return core.PlayerSession{}, false
	}

	applyPlayerPatch(p, patch)
	p.LastSeen = r.now()
	return *p, true
}

func applyPlayerPatch(p *core.PlayerSession, patch PlayerPatch) {
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.SocialClub != nil {
		p.SocialClub = *patch.SocialClub
	}
	if patch.IP != nil {
		p.IP = *patch.IP
	}
	if patch.Position != nil {
		p.Position = *patch.Position
	}
	if patch.Dimension != nil {
		p.Dimension = *patch.Dimension
	}
	if patch.Interior != nil {
		p.Interior = *patch.Interior
	}
	if patch.Health != nil {
		p.Health = clamp100(*patch.Health)
	}
	if patch.Armor != nil {
		p.Armor = clamp100(*patch.Armor)
	}
	if patch.Ping != nil {
		p.Ping = *patch.Ping
	}
	if patch.CharacterID != nil {
		p.CharacterID = *patch.CharacterID
	}
}

// RemovePlayer marks the session offline and evicts it from the online
// set. Idempotent: removing an unknown or already-offline id is a
// no-op. Returns the final snapshot and whether the session was online.
func (r *Registry) RemovePlayer(id int64) (core.PlayerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[id]
	if !ok || !p.Online {
		return core.PlayerSession{}, false
	}
	p.Online = false
	p.LastSeen = r.now()
	r.offlineAt[id] = p.LastSeen
	return *p, true
}

// GetPlayer returns a snapshot of the session. Offline sessions inside
// the retention window are returned with Online=false.
func (r *Registry) GetPlayer(id int64) (core.PlayerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	if !ok {
		return core.PlayerSession{}, false
	}
	return *p, true
}

// ListOnlinePlayers returns snapshots of every online session, ordered
// by id. Never includes an id whose most recent operation was a remove.
func (r *Registry) ListOnlinePlayers() []core.PlayerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.PlayerSession, 0, len(r.players))
	for _, p := range r.players {
		if p.Online {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertVehicle creates or merges a vehicle session, returning the
// resulting snapshot.
func (r *Registry) UpsertVehicle(id int64, patch VehiclePatch) core.VehicleSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.vehicles[id]
	if !ok {
		v = &core.VehicleSession{
			ID:        id,
			Fuel:      100,
			SpawnedAt: r.now(),
		}
		r.vehicles[id] = v
	}
	applyVehiclePatch(v, patch)
	return *v
}

func applyVehiclePatch(v *core.VehicleSession, patch VehiclePatch) {
	if patch.Model != nil {
		v.Model = *patch.Model
	}
	if patch.Position != nil {
		v.Position = *patch.Position
	}
	if patch.Rotation != nil {
		v.Rotation = *patch.Rotation
	}
	if patch.Locked != nil {
		v.Locked = *patch.Locked
	}
	if patch.EngineOn != nil {
		v.EngineOn = *patch.EngineOn
	}
	if patch.Fuel != nil {
		v.Fuel = clamp100(*patch.Fuel)
	}
	if patch.Plate != nil {
		v.Plate = *patch.Plate
	}
	if patch.Color != nil {
		v.Color = *patch.Color
	}
	if patch.OwnerSessionID != nil {
		v.OwnerSessionID = *patch.OwnerSessionID
	}
}

// RemoveVehicle deletes the vehicle. Idempotent.
func (r *Registry) RemoveVehicle(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vehicles[id]; !ok {
		return false
	}
	delete(r.vehicles, id)
	return true
}

// GetVehicle returns a snapshot of the vehicle session.
func (r *Registry) GetVehicle(id int64) (core.VehicleSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[id]
	if !ok {
		return core.VehicleSession{}, false
	}
	return *v, true
}

// ListVehicles returns snapshots of every vehicle, ordered by id.
func (r *Registry) ListVehicles() []core.VehicleSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.VehicleSession, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats is an on-demand summary of registry state.
type Stats struct {
	OnlinePlayers   int           `json:"onlinePlayers"`
	OfflineRetained int           `json:"offlineRetained"`
	MaxPlayers      int           `json:"maxPlayers"`
	Vehicles        int           `json:"vehicles"`
	Uptime          time.Duration `json:"uptime"`
	AveragePing     float64       `json:"averagePing"`
}

// Stats computes counts over the online set. O(n) over online players,
// which stay in the low thousands.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		OfflineRetained: len(r.offlineAt),
		MaxPlayers:      r.maxPlayers,
		Vehicles:        len(r.vehicles),
		Uptime:          r.now().Sub(r.started),
	}
	var pingSum int
	for _, p := range r.players {
		if !p.Online {
			continue
		}
		s.OnlinePlayers++
		pingSum += p.Ping
	}
	if s.OnlinePlayers > 0 {
		s.AveragePing = float64(pingSum) / float64(s.OnlinePlayers)
	}
	return s
}

// PurgeExpired removes offline sessions whose retention window has
// elapsed. Returns how many were purged. Called periodically by the
// monitor; vehicles are unaffected.
func (r *Registry) PurgeExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.retention)
	purged := 0
	for id, at := range r.offlineAt {
		if at.Before(cutoff) || at.Equal(cutoff) {
			delete(r.players, id)
			delete(r.offlineAt, id)
			purged++
		}
	}
	return purged
}
