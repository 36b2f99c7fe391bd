// Package api is the thin HTTP control surface over the session manager:
// session lifecycle for the upstream platform plus an admin surface gated by
// a shared secret.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hemalabs/hedgegrid/internal/session"
)

// Server dispatches control requests to the session manager.
type Server struct {
	manager     *session.Manager
	adminSecret string
	logger      zerolog.Logger
}

// NewServer wires the control API around a manager.
func NewServer(manager *session.Manager, adminSecret string, logger zerolog.Logger) *Server {
	return &Server{
		manager:     manager,
		adminSecret: adminSecret,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/sessions", s.handleRegister)
	mux.HandleFunc("POST /api/v1/sessions/{id}/start", s.handleStart)
	mux.HandleFunc("POST /api/v1/sessions/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleStatus)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleUnregister)

	mux.HandleFunc("GET /api/v1/admin/sessions", s.admin(s.handleList))
	mux.HandleFunc("GET /api/v1/admin/usage", s.admin(s.handleUsage))
	mux.HandleFunc("POST /api/v1/admin/sessions/{id}/close-positions", s.admin(s.handleForceClose))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// admin wraps a handler with the shared-secret check.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminSecret == "" || r.Header.Get("X-Admin-Secret") != s.adminSecret {
			writeError(w, http.StatusUnauthorized, "admin secret required")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
