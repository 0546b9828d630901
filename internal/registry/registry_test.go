package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrp/presence/pkg/core"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func posPtr(x, y, z float64) *core.Position3D {
	return &core.Position3D{X: x, Y: y, Z: z}
}

func TestRegistry_JoinMoveQuit(t *testing.T) {
	r := New()

	r.UpsertPlayer(7, PlayerPatch{
		DisplayName: strPtr("Ada"),
		Position:    posPtr(0, 0, 0),
		Health:      intPtr(100),
		Armor:       intPtr(0),
	})

	r.UpsertPlayer(7, PlayerPatch{Position: posPtr(10, 0, 0)})

	p, ok := r.GetPlayer(7)
	require.True(t, ok)
	assert.Equal(t, core.Position3D{X: 10, Y: 0, Z: 0}, p.Position)
	assert.True(t, p.Online)

	_, removed := r.RemovePlayer(7)
	require.True(t, removed)

	p, ok = r.GetPlayer(7)
	require.True(t, ok, "offline session stays readable inside the retention window")
	assert.False(t, p.Online)

	for _, online := range r.ListOnlinePlayers() {
		assert.NotEqual(t, int64(7), online.ID)
	}
}

func TestRegistry_RemovePlayerIdempotent(t *testing.T) {
	r := New()
	r.UpsertPlayer(1, PlayerPatch{DisplayName: strPtr("A")})

	_, first := r.RemovePlayer(1)
	_, second := r.RemovePlayer(1)

	assert.True(t, first)
	assert.False(t, second)
	assert.Empty(t, r.ListOnlinePlayers())
}

func TestRegistry_RemoveUnknownPlayer(t *testing.T) {
	r := New()
	_, removed := r.RemovePlayer(999)
	assert.False(t, removed)
}

func TestRegistry_HealthArmorClamped(t *testing.T) {
	r := New()

	tests := []struct {
		name       string
		health     int
		armor      int
		wantHealth int
		wantArmor  int
	}{
		{"negative", -50, -1, 0, 0},
		{"over max", 260, 101, 100, 100},
		{"in range", 42, 100, 42, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.UpsertPlayer(1, PlayerPatch{Health: &tt.health, Armor: &tt.armor})
			assert.Equal(t, tt.wantHealth, p.Health)
			assert.Equal(t, tt.wantArmor, p.Armor)
		})
	}
}

func TestRegistry_OfflineRecordNotMutable(t *testing.T) {
	r := New()
	r.UpsertPlayer(5, PlayerPatch{DisplayName: strPtr("Old"), CharacterID: strPtr("char-1")})
	r.RemovePlayer(5)

	// Upserting the same id starts a fresh session.
	p := r.UpsertPlayer(5, PlayerPatch{DisplayName: strPtr("New")})

	assert.True(t, p.Online)
	assert.Equal(t, "New", p.DisplayName)
	assert.Empty(t, p.CharacterID, "fresh session must not inherit the old character binding")
}

func TestRegistry_UpsertPlayerIfOnline(t *testing.T) {
	r := New()
	r.UpsertPlayer(5, PlayerPatch{DisplayName: strPtr("Ada")})

	p, ok := r.UpsertPlayerIfOnline(5, PlayerPatch{Position: posPtr(10, 0, 0)})
	require.True(t, ok)
	assert.Equal(t, core.Position3D{X: 10, Y: 0, Z: 0}, p.Position)

	r.RemovePlayer(5)

	// A quit session is not addressable; the patch must not start a
	// fresh one.
	_, ok = r.UpsertPlayerIfOnline(5, PlayerPatch{Position: posPtr(20, 0, 0)})
	assert.False(t, ok)
	got, found := r.GetPlayer(5)
	require.True(t, found)
	assert.False(t, got.Online)
	assert.Equal(t, core.Position3D{X: 10, Y: 0, Z: 0}, got.Position)

	_, ok = r.UpsertPlayerIfOnline(999, PlayerPatch{})
	assert.False(t, ok)
	_, found = r.GetPlayer(999)
	assert.False(t, found, "conditional upsert must not create sessions")
}

func TestRegistry_SnapshotsAreCopies(t *testing.T) {
	r := New()
	r.UpsertPlayer(1, PlayerPatch{DisplayName: strPtr("Ada"), Position: posPtr(1, 2, 3)})

	p, _ := r.GetPlayer(1)
	p.DisplayName = "mutated"
	p.Position.X = 99

	again, _ := r.GetPlayer(1)
	assert.Equal(t, "Ada", again.DisplayName)
	assert.Equal(t, float64(1), again.Position.X)

	list := r.ListOnlinePlayers()
	require.Len(t, list, 1)
	list[0].DisplayName = "mutated"
	again, _ = r.GetPlayer(1)
	assert.Equal(t, "Ada", again.DisplayName)
}

func TestRegistry_VehicleLifecycle(t *testing.T) {
	r := New()

	fuel := 150
	v := r.UpsertVehicle(20, VehiclePatch{
		Model: strPtr("adder"),
		Fuel:  &fuel,
	})
	assert.Equal(t, "adder", v.Model)
	assert.Equal(t, 100, v.Fuel, "fuel clamps to [0,100]")

	locked := true
	v = r.UpsertVehicle(20, VehiclePatch{Locked: &locked})
	assert.True(t, v.Locked)
	assert.Equal(t, "adder", v.Model, "merge keeps earlier fields")

	assert.True(t, r.RemoveVehicle(20))
	assert.False(t, r.RemoveVehicle(20), "second remove is a no-op")

	_, ok := r.GetVehicle(20)
	assert.False(t, ok)
}

func TestRegistry_VehicleSurvivesOwnerQuit(t *testing.T) {
	r := New()
	r.UpsertPlayer(1, PlayerPatch{DisplayName: strPtr("Owner")})
	owner := int64(1)
	r.UpsertVehicle(10, VehiclePatch{Model: strPtr("sultan"), OwnerSessionID: &owner})

	r.RemovePlayer(1)

	v, ok := r.GetVehicle(10)
	require.True(t, ok)
	assert.Equal(t, int64(1), v.OwnerSessionID)
}

func TestRegistry_Stats(t *testing.T) {
	r := New(WithMaxPlayers(128))

	ping1, ping2 := 30, 50
	r.UpsertPlayer(1, PlayerPatch{Ping: &ping1})
	r.UpsertPlayer(2, PlayerPatch{Ping: &ping2})
	r.UpsertVehicle(10, VehiclePatch{Model: strPtr("adder")})
	r.RemovePlayer(2)

	s := r.Stats()
	assert.Equal(t, 1, s.OnlinePlayers)
	assert.Equal(t, 1, s.OfflineRetained)
	assert.Equal(t, 128, s.MaxPlayers)
	assert.Equal(t, 1, s.Vehicles)
	assert.Equal(t, float64(30), s.AveragePing)
}

func TestRegistry_PurgeExpired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	r := New(WithRetention(time.Minute), WithClock(clock))

	r.UpsertPlayer(1, PlayerPatch{DisplayName: strPtr("A")})
	r.RemovePlayer(1)

	assert.Equal(t, 0, r.PurgeExpired(), "inside retention window")

	now = now.Add(time.Minute + time.Second)
	assert.Equal(t, 1, r.PurgeExpired())

	_, ok := r.GetPlayer(1)
	assert.False(t, ok, "purged session is gone entirely")
}
