// Package httpapi exposes the run control plane over HTTP: JSON
// lifecycle handlers plus SSE and websocket event streams.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/agent"
	"github.com/propelship/leadforge/internal/dispatch"
	"github.com/propelship/leadforge/internal/models"
)

// Lifecycle is the run control surface the handlers drive. Implemented
// by *agent.Manager.
type Lifecycle interface {
	Start(ctx context.Context, req agent.StartRequest) (*models.Agent, error)
	Pause(ctx context.Context, id string) (bool, error)
	Resume(ctx context.Context, id string) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Status(ctx context.Context, id string) (*agent.StatusReport, error)
	List(ctx context.Context) ([]*models.Agent, error)
}

// FeedbackSink applies delivery signals from provider webhooks.
// Implemented by *dispatch.Router.
type FeedbackSink interface {
	HandleFeedback(ctx context.Context, evt dispatch.FeedbackEvent)
}

// RunHandler serves the run lifecycle and feedback endpoints.
type RunHandler struct {
	runs     Lifecycle
	feedback FeedbackSink
	logger   *zap.Logger
}

// NewRunHandler builds a RunHandler.
func NewRunHandler(runs Lifecycle, feedback FeedbackSink, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{runs: runs, feedback: feedback, logger: logger}
}

// RegisterRoutes mounts the control endpoints on the mux.
func (h *RunHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs", h.handleStart)
	mux.HandleFunc("GET /api/v1/runs", h.handleList)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.handleStatus)
	mux.HandleFunc("POST /api/v1/runs/{id}/pause", h.handlePause)
	mux.HandleFunc("POST /api/v1/runs/{id}/resume", h.handleResume)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", h.handleCancel)
	mux.HandleFunc("POST /api/v1/feedback", h.handleFeedback)
}

func (h *RunHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req agent.StartRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("Start request decode error", zap.Error(err))
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	run, err := h.runs.Start(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, run)
}

func (h *RunHandler) handleList(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *RunHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.runs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *RunHandler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.handleControl(w, r, "pause", h.runs.Pause)
}

func (h *RunHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.handleControl(w, r, "resume", h.runs.Resume)
}

func (h *RunHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleControl(w, r, "cancel", h.runs.Cancel)
}

// handleControl runs one lifecycle op. applied=false means the run was
// not in a state the op acts on, which is a 200 no-op rather than an
// error so webhook-style callers can fire-and-forget.
func (h *RunHandler) handleControl(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (bool, error)) {
	id := r.PathValue("id")
	applied, err := fn(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  id,
		"op":      op,
		"applied": applied,
	})
}

func (h *RunHandler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var evt dispatch.FeedbackEvent
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&evt); err != nil {
		h.logger.Warn("Feedback decode error", zap.Error(err))
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if evt.Email == "" || evt.Kind == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and kind are required"})
		return
	}

	h.feedback.HandleFeedback(r.Context(), evt)
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *RunHandler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode API response", zap.Error(err))
	}
}

func (h *RunHandler) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case models.IsValidation(err):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrNotFound):
		code, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrAlreadyRunning):
		code, msg = http.StatusConflict, err.Error()
	default:
		h.logger.Error("Run API internal error", zap.Error(err))
	}
	h.writeJSON(w, code, map[string]string{"error": msg})
}
