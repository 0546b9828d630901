package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openrp/presence/internal/dispatcher"
	"github.com/openrp/presence/pkg/streaming"
)

const hostReadLimit = 64 * 1024

// ingest accepts the game host's event feed over a websocket. One host
// process connects and streams envelopes; each becomes a dispatch.
type ingest struct {
	disp     *dispatcher.Dispatcher
	secret   string
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newIngest(disp *dispatcher.Dispatcher, secret string, logger *slog.Logger) *ingest {
	return &ingest{
		disp:   disp,
		secret: secret,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			// the shared secret gates access, not origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// serveHost upgrades the host connection after checking the shared
// secret. An unset secret refuses all hosts rather than accepting all.
func (i *ingest) serveHost(w http.ResponseWriter, r *http.Request) {
	if i.secret == "" || r.URL.Query().Get("secret") != i.secret {
		i.logger.Warn("host ingest rejected", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := i.upgrader.Upgrade(w, r, nil)
	if err != nil {
		i.logger.Error("host ingest upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	i.logger.Info("host connected", "remote", r.RemoteAddr)
	go i.readLoop(conn, r.RemoteAddr)
}

func (i *ingest) readLoop(conn *websocket.Conn, remote string) {
	defer conn.Close()
	conn.SetReadLimit(hostReadLimit)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				i.logger.Error("host connection lost", "remote", remote, "error", err)
			} else {
				i.logger.Info("host disconnected", "remote", remote)
			}
			return
		}

		var env streaming.HostEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			i.logger.Debug("ignoring malformed host envelope", "remote", remote, "error", err)
			continue
		}
		if env.Event == "" {
			i.logger.Debug("ignoring host envelope without event name", "remote", remote)
			continue
		}

		if err := i.disp.Dispatch(dispatcher.Event{
			Name:      env.Event,
			Payload:   env.Payload,
			Timestamp: time.Now(),
		}); err != nil {
			i.logger.Debug("host event not dispatched", "event", env.Event, "error", err)
		}
	}
}
