package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrp/presence/internal/broadcaster"
	"github.com/openrp/presence/internal/influx"
	"github.com/openrp/presence/internal/registry"
)

type fakeSessions struct {
	stats  registry.Stats
	purged int
}

func (f *fakeSessions) Stats() registry.Stats { return f.stats }
func (f *fakeSessions) PurgeExpired() int     { return f.purged }

type fakeConnections struct {
	stats broadcaster.Stats
}

func (f *fakeConnections) GetConnectionStats() broadcaster.Stats { return f.stats }

type fakeEvents struct {
	processed, dropped uint64
}

func (f *fakeEvents) Counts() (uint64, uint64) { return f.processed, f.dropped }

type recordedPoint struct {
	bucket string
	point  *influxdb2_write.Point
}

type fakeSink struct {
	mu     sync.Mutex
	points []recordedPoint
}

func (f *fakeSink) WritePoint(_ context.Context, bucket string, point *influxdb2_write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, recordedPoint{bucket: bucket, point: point})
	return nil
}

func (f *fakeSink) snapshot() []recordedPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedPoint, len(f.points))
	copy(out, f.points)
	return out
}

func fieldValue(t *testing.T, p *influxdb2_write.Point, key string) any {
	t.Helper()
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value
		}
	}
	t.Fatalf("field %q not found", key)
	return nil
}

func newTestService(sessions *fakeSessions, conns *fakeConnections, events *fakeEvents, sink *fakeSink) *Service {
	return NewService(Dependencies{
		Sessions:    sessions,
		Connections: conns,
		Events:      events,
		Metrics:     sink,
		Interval:    time.Hour, // ticker never fires in tests; Sample is called directly
	})
}

func TestSample_WritesAllBuckets(t *testing.T) {
	sessions := &fakeSessions{
		stats:  registry.Stats{OnlinePlayers: 5, OfflineRetained: 2, Vehicles: 3},
		purged: 1,
	}
	conns := &fakeConnections{
		stats: broadcaster.Stats{Total: 8, Authenticated: 6, ByRole: map[string]int{"admin": 1}},
	}
	events := &fakeEvents{processed: 40, dropped: 2}
	sink := &fakeSink{}

	svc := newTestService(sessions, conns, events, sink)
	svc.Sample(context.Background())

	points := sink.snapshot()
	require.Len(t, points, 3)

	byBucket := make(map[string]*influxdb2_write.Point)
	for _, p := range points {
		byBucket[p.bucket] = p.point
	}

	sessionPoint := byBucket[influx.BucketSessions]
	require.NotNil(t, sessionPoint)
	assert.Equal(t, int64(5), fieldValue(t, sessionPoint, "online"))
	assert.Equal(t, int64(2), fieldValue(t, sessionPoint, "offline_retained"))
	assert.Equal(t, int64(1), fieldValue(t, sessionPoint, "purged"))

	connPoint := byBucket[influx.BucketConnections]
	require.NotNil(t, connPoint)
	assert.Equal(t, int64(8), fieldValue(t, connPoint, "total"))
	assert.Equal(t, int64(6), fieldValue(t, connPoint, "authenticated"))
	assert.Equal(t, int64(1), fieldValue(t, connPoint, "role_admin"))

	eventPoint := byBucket[influx.BucketEvents]
	require.NotNil(t, eventPoint)
	assert.Equal(t, int64(40), fieldValue(t, eventPoint, "processed"))
	assert.Equal(t, int64(2), fieldValue(t, eventPoint, "dropped"))
}

func TestSample_ReportsDeltas(t *testing.T) {
	sessions := &fakeSessions{}
	conns := &fakeConnections{}
	events := &fakeEvents{processed: 100, dropped: 5}
	sink := &fakeSink{}

	svc := newTestService(sessions, conns, events, sink)
	svc.Sample(context.Background())

	events.processed = 130
	events.dropped = 5
	svc.Sample(context.Background())

	points := sink.snapshot()
	require.Len(t, points, 6)

	// second sample's event point carries only the increment
	last := points[5]
	require.Equal(t, influx.BucketEvents, last.bucket)
	assert.Equal(t, int64(30), fieldValue(t, last.point, "processed"))
	assert.Equal(t, int64(0), fieldValue(t, last.point, "dropped"))
}

func TestStartStop(t *testing.T) {
	sessions := &fakeSessions{}
	conns := &fakeConnections{}
	events := &fakeEvents{}
	sink := &fakeSink{}

	svc := NewService(Dependencies{
		Sessions:    sessions,
		Connections: conns,
		Events:      events,
		Metrics:     sink,
		Interval:    5 * time.Millisecond,
	})

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())

	// starting twice is a no-op
	require.NoError(t, svc.Start())

	assert.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 3
	}, time.Second, time.Millisecond, "ticker should produce samples")

	svc.Stop()
	assert.Eventually(t, func() bool {
		return !svc.IsRunning()
	}, time.Second, time.Millisecond)
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(Dependencies{
		Sessions:    &fakeSessions{},
		Connections: &fakeConnections{},
		Events:      &fakeEvents{},
		Metrics:     &fakeSink{},
	})
	assert.Equal(t, DefaultInterval, svc.deps.Interval)
	assert.NotNil(t, svc.deps.Logger)
}
