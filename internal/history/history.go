// Package history persists session, chat and death rows through gorm.
// Rows queue in memory and flush on an interval; a dead database loses
// history but never stalls event fan-out.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/openrp/presence/internal/model"
	"github.com/openrp/presence/internal/queue"
	"github.com/openrp/presence/pkg/core"
)

// DefaultFlushInterval is how often queued rows are written out.
const DefaultFlushInterval = 10 * time.Second

// Writer batches history rows into the database. It implements the
// broadcaster's HistorySink. Sessions are written only once completed;
// Close writes still-open sessions with a NULL end time.
type Writer struct {
	db       *gorm.DB
	logger   zerolog.Logger
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	open map[int64]*model.SessionLog

	sessions *queue.Queue[*model.SessionLog]
	chats    *queue.Queue[*model.ChatLog]
	deaths   *queue.Queue[*model.DeathLog]
}

// NewWriter creates a history writer on an already-migrated database.
func NewWriter(db *gorm.DB, log zerolog.Logger, flushInterval time.Duration) *Writer {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Writer{
		db:       db,
		logger:   log,
		interval: flushInterval,
		now:      time.Now,
		open:     make(map[int64]*model.SessionLog),
		sessions: queue.New[*model.SessionLog](),
		chats:    queue.New[*model.ChatLog](),
		deaths:   queue.New[*model.DeathLog](),
	}
}

// SessionStarted snapshots the joining session. Nothing is written
// until the session ends; a restarted session replaces the snapshot.
func (w *Writer) SessionStarted(session core.PlayerSession) {
	row := &model.SessionLog{
		SessionID:   session.ID,
		DisplayName: session.DisplayName,
		SocialClub:  session.SocialClub,
		CharacterID: session.CharacterID,
		StartedAt:   session.JoinedAt,
		LastX:       session.Position.X,
		LastY:       session.Position.Y,
		LastZ:       session.Position.Z,
	}

	w.mu.Lock()
	w.open[session.ID] = row
	w.mu.Unlock()
}

// SessionEnded finalizes and queues the session row. An end without a
// matching start is dropped; the registry already logged it.
func (w *Writer) SessionEnded(sessionID int64, reason string, at time.Time) {
	w.mu.Lock()
	row, ok := w.open[sessionID]
	if ok {
		delete(w.open, sessionID)
	}
	w.mu.Unlock()

	if !ok {
		w.logger.Debug().Int64("sessionId", sessionID).Msg("session end without start, skipping history row")
		return
	}

	ended := at
	row.EndedAt = &ended
	row.QuitReason = reason
	row.DurationSec = int64(ended.Sub(row.StartedAt).Seconds())
	w.sessions.Push(row)
}

// ChatLogged queues one chat line or command.
func (w *Writer) ChatLogged(player core.PlayerRef, text string, command bool, at time.Time) {
	w.chats.Push(&model.ChatLog{
		SessionID:   player.ID,
		DisplayName: player.DisplayName,
		Text:        text,
		Command:     command,
		SaidAt:      at,
	})
}

// DeathLogged queues one death row.
func (w *Writer) DeathLogged(victim core.PlayerRef, killer *core.PlayerRef, at time.Time) {
	row := &model.DeathLog{
		VictimSessionID: victim.ID,
		VictimName:      victim.DisplayName,
		DiedAt:          at,
	}
	if killer != nil {
		row.KillerSessionID = killer.ID
		row.KillerName = killer.DisplayName
	}
	w.deaths.Push(row)
}

// Run flushes on the interval until the context is cancelled, then
// performs a final flush including open sessions.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case <-ticker.C:
			w.Flush()
		}
	}
}

// Flush writes all queued rows. Failed rows are logged and dropped;
// history is best-effort.
func (w *Writer) Flush() {
	flushBatch(w, w.sessions.GetAndEmpty(), "session_logs")
	flushBatch(w, w.chats.GetAndEmpty(), "chat_logs")
	flushBatch(w, w.deaths.GetAndEmpty(), "death_logs")
}

// Close flushes queued rows and writes still-open sessions with no end
// time so a crash leaves a record of who was online.
func (w *Writer) Close() {
	w.mu.Lock()
	for id, row := range w.open {
		w.sessions.Push(row)
		delete(w.open, id)
	}
	w.mu.Unlock()

	w.Flush()
}

// OpenSessions reports how many sessions are tracked but not yet
// written. Used by the status monitor.
func (w *Writer) OpenSessions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.open)
}

func flushBatch[T any](w *Writer, rows []*T, table string) {
	if len(rows) == 0 {
		return
	}
	start := w.now()
	if err := w.db.Create(rows).Error; err != nil {
		w.logger.Error().Err(err).Str("table", table).Int("rows", len(rows)).
			Msg("Failed to write history batch")
		return
	}
	w.logger.Debug().Str("table", table).Int("rows", len(rows)).
		Dur("duration", w.now().Sub(start)).Msg("Wrote history batch")
}
