// Package server exposes the HTTP API handlers.
package server

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/nexus-console/backend/config"
	"github.com/nexus-console/backend/gateway"
	"github.com/nexus-console/backend/ws"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db      *sql.DB
	hub     *ws.Hub
	session gateway.Session
	status  func() gateway.Status
	cfg     *config.Config
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// session and status may be nil when the gateway is not configured; the
// endpoints that need them degrade gracefully.
func NewHandlers(db *sql.DB, hub *ws.Hub, session gateway.Session, status func() gateway.Status, cfg *config.Config) *Handlers {
	return &Handlers{db: db, hub: hub, session: session, status: status, cfg: cfg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
