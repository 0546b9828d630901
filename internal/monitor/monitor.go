// Package monitor periodically samples session, connection, and event
// counters, purges expired offline sessions, and ships the samples to
// InfluxDB.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/openrp/presence/internal/broadcaster"
	"github.com/openrp/presence/internal/influx"
	"github.com/openrp/presence/internal/registry"
)

// DefaultInterval is how often the monitor samples when not configured.
const DefaultInterval = 10 * time.Second

// SessionSource provides registry counts and offline cleanup.
type SessionSource interface {
	Stats() registry.Stats
	PurgeExpired() int
}

// ConnectionSource provides subscriber counts.
type ConnectionSource interface {
	GetConnectionStats() broadcaster.Stats
}

// EventSource provides dispatch throughput counters.
type EventSource interface {
	Counts() (processed, dropped uint64)
}

// MetricsSink receives sampled points. Satisfied by *influx.Manager.
type MetricsSink interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service.
type Dependencies struct {
	Sessions    SessionSource
	Connections ConnectionSource
	Events      EventSource
	Metrics     MetricsSink
	Logger      *slog.Logger
	Interval    time.Duration
}

// Service samples counters on a fixed interval.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	now       func() time.Time

	lastProcessed uint64
	lastDropped   uint64
}

// NewService creates a new monitor service.
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// IsRunning returns whether the monitor loop is running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Sample takes one measurement: purges expired sessions, reads the
// counters, and writes one point per bucket.
func (s *Service) Sample(ctx context.Context) {
	at := s.now()

	purged := s.deps.Sessions.PurgeExpired()
	stats := s.deps.Sessions.Stats()
	connStats := s.deps.Connections.GetConnectionStats()

	processed, dropped := s.deps.Events.Counts()
	// report deltas per interval, not lifetime totals
	deltaProcessed := processed - s.lastProcessed
	deltaDropped := dropped - s.lastDropped
	s.lastProcessed = processed
	s.lastDropped = dropped

	if err := s.deps.Metrics.WritePoint(ctx, influx.BucketSessions,
		influx.SessionPoint(stats.OnlinePlayers, stats.OfflineRetained, purged, at)); err != nil {
		s.deps.Logger.Error("failed to write session point", "error", err)
	}

	if err := s.deps.Metrics.WritePoint(ctx, influx.BucketConnections,
		influx.ConnectionPoint(connStats.Total, connStats.Authenticated, connStats.ByRole, at)); err != nil {
		s.deps.Logger.Error("failed to write connection point", "error", err)
	}

	if err := s.deps.Metrics.WritePoint(ctx, influx.BucketEvents,
		influx.EventPoint(deltaProcessed, deltaDropped, at)); err != nil {
		s.deps.Logger.Error("failed to write event point", "error", err)
	}

	s.deps.Logger.Debug("status sample",
		"online", stats.OnlinePlayers,
		"vehicles", stats.Vehicles,
		"purged", purged,
		"connections", connStats.Total,
		"authenticated", connStats.Authenticated,
		"eventsProcessed", deltaProcessed,
		"eventsDropped", deltaDropped,
	)
}

// Start starts the monitor goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("starting status monitor", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.Sample(context.Background())
			}
		}
	}()

	return nil
}

// Stop stops the monitor.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}
