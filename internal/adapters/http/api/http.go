// Package api exposes the interaction session contract over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/okian/villes/internal/domain/model"
	"github.com/okian/villes/internal/domain/profile"
	"github.com/okian/villes/internal/domain/session"
)

// Sessions is the session contract the handlers adapt to HTTP.
type Sessions interface {
	// Login opens a session for username, creating the profile on first
	// login. Non-empty colors replace the declared colours.
	Login(ctx context.Context, username string, colors []string) (LoginResult, error)

	// Next presents the next candidate of the session.
	Next(ctx context.Context, id string) (session.Candidate, error)

	// Feedback labels the presented candidate with "like" or "dislike".
	Feedback(ctx context.Context, id string, label string) (session.Outcome, error)

	// Close ends the session. Unknown ids fail with session.ErrUnknownSession.
	Close(ctx context.Context, id string) error
}

// LoginResult describes a freshly opened session.
type LoginResult struct {
	SessionID  string
	Candidates int
	Excluded   int
	Trained    bool
}

// Server wires HTTP routes for the session API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	sessionsHandler *SessionsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(sessions Sessions, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		sessionsHandler: NewSessionsHandler(sessions),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /sessions", MetricsMiddleware(s.sessionsHandler.HandleLogin, "sessions"))
	mux.HandleFunc("GET /sessions/{id}/next", MetricsMiddleware(s.sessionsHandler.HandleNext, "sessions_next"))
	mux.HandleFunc("POST /sessions/{id}/feedback", MetricsMiddleware(s.sessionsHandler.HandleFeedback, "sessions_feedback"))
	mux.HandleFunc("DELETE /sessions/{id}", MetricsMiddleware(s.sessionsHandler.HandleClose, "sessions_close"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps the session error taxonomy to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		writeError(w, http.StatusNotFound, "unknown_session", err)
	case errors.Is(err, session.ErrNoCurrentCandidate):
		writeError(w, http.StatusConflict, "no_current_candidate", err)
	case errors.Is(err, profile.ErrPersistence):
		writeError(w, http.StatusServiceUnavailable, "persistence_failure", err)
	case errors.Is(err, profile.ErrEmptyUsername),
		errors.Is(err, profile.ErrInvalidLabel),
		errors.Is(err, model.ErrMalformedRecord),
		errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
