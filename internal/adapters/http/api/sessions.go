package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/okian/villes/internal/domain/model"
	"github.com/okian/villes/internal/domain/session"
)

type loginRequest struct {
	Username string   `json:"username"`
	Colors   []string `json:"colors"`
}

type loginResponse struct {
	SessionID  string `json:"session_id"`
	Candidates int    `json:"candidates"`
	Excluded   int    `json:"excluded"`
	Trained    bool   `json:"trained"`
}

type candidateResponse struct {
	Position int                `json:"position"`
	Pass     int                `json:"pass"`
	Record   model.EnrichedCity `json:"record"`
}

type feedbackRequest struct {
	Label string `json:"label"`
}

type feedbackResponse struct {
	Recorded        bool    `json:"recorded"`
	Labels          int     `json:"labels"`
	Trained         bool    `json:"trained"`
	Accuracy        float64 `json:"accuracy,omitempty"`
	TrainingSkipped string  `json:"training_skipped,omitempty"`
}

// SessionsHandler adapts the session contract to HTTP.
type SessionsHandler struct {
	sessions Sessions
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(sessions Sessions) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

// HandleLogin handles POST /sessions.
func (h *SessionsHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: missing username", ErrBadRequest))
		return
	}
	res, err := h.sessions.Login(r.Context(), strings.TrimSpace(req.Username), req.Colors)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loginResponse{
		SessionID:  res.SessionID,
		Candidates: res.Candidates,
		Excluded:   res.Excluded,
		Trained:    res.Trained,
	})
}

// HandleNext handles GET /sessions/{id}/next.
func (h *SessionsHandler) HandleNext(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.Next(r.Context(), r.PathValue("id"))
	if errors.Is(err, session.ErrNoCandidates) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidateResponse{Position: c.Position, Pass: c.Pass, Record: c.Record})
}

// HandleFeedback handles POST /sessions/{id}/feedback.
func (h *SessionsHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	out, err := h.sessions.Feedback(r.Context(), r.PathValue("id"), req.Label)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := feedbackResponse{
		Recorded: out.Recorded,
		Labels:   out.Labels,
		Trained:  out.Trained,
		Accuracy: out.Accuracy,
	}
	if out.TrainErr != nil {
		resp.TrainingSkipped = out.TrainErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleClose handles DELETE /sessions/{id}.
func (h *SessionsHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
