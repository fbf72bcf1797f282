package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Handler serves the probe endpoints.
type Handler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHandler builds a Handler over the manager.
func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, logger: logger}
}

// Register mounts /healthz and /readyz on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleReady)
}

// handleHealth reports the aggregate status with per-component detail.
// Degraded still answers 200; only a critical failure turns it 503.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, results := h.manager.Overall(r.Context())
	components := make(map[string]any, len(results))
	for name, res := range results {
		entry := map[string]any{
			"status":     res.Status.String(),
			"message":    res.Message,
			"latency_ms": res.Latency.Milliseconds(),
			"critical":   res.Critical,
		}
		if res.Error != "" {
			entry["error"] = res.Error
		}
		components[name] = entry
	}

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	h.write(w, code, map[string]any{
		"status":     status.String(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"components": components,
	})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.manager.Ready(r.Context()) {
		h.write(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	h.write(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
}

func (h *Handler) write(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
