package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/openrp/presence/internal/broadcaster"
	"github.com/openrp/presence/internal/history"
	"github.com/openrp/presence/internal/registry"
)

// api serves the health, status and admin endpoints.
type api struct {
	reg         *registry.Registry
	bcast       *broadcaster.Broadcaster
	hist        *history.Writer
	adminSecret string
	startedAt   time.Time
}

func newAPI(reg *registry.Registry, bcast *broadcaster.Broadcaster, hist *history.Writer, adminSecret string, startedAt time.Time) *api {
	return &api{reg: reg, bcast: bcast, hist: hist, adminSecret: adminSecret, startedAt: startedAt}
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func (a *api) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(a.startedAt).Round(time.Second).String(),
	})
}

type statsResponse struct {
	Sessions            registry.Stats    `json:"sessions"`
	Connections         broadcaster.Stats `json:"connections"`
	OpenHistorySessions int               `json:"openHistorySessions"`
}

func (a *api) serveStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Sessions:    a.reg.Stats(),
		Connections: a.bcast.GetConnectionStats(),
	}
	if a.hist != nil {
		resp.OpenHistorySessions = a.hist.OpenSessions()
	}
	writeJSON(w, http.StatusOK, resp)
}

// serveKick announces the removal to a dashboard connection and drops
// it. Shares the host ingest secret; an empty secret disables the
// endpoint entirely.
func (a *api) serveKick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.adminSecret == "" || r.URL.Query().Get("secret") != a.adminSecret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	connID := r.URL.Query().Get("conn")
	if connID == "" {
		http.Error(w, "missing conn parameter", http.StatusBadRequest)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "removed by an administrator"
	}

	a.bcast.KickConnection(connID, reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "kicked", "conn": connID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
