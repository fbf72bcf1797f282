package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/streaming"
)

const heartbeatInterval = 15 * time.Second

// StreamHandler serves the live event streams for a run.
type StreamHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

// NewStreamHandler builds a StreamHandler over the streaming manager.
func NewStreamHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes mounts the SSE and websocket endpoints on the mux.
func (h *StreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/runs/{id}/stream", h.handleSSE)
	mux.HandleFunc("GET /api/v1/runs/{id}/ws", h.handleWS)
}

// handleSSE streams a run's events as Server-Sent Events. Clients
// resume with the standard Last-Event-ID header (or ?last_event_id=)
// and may narrow to specific event types with ?types=log,status.
func (h *StreamHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	filter := parseTypeFilter(r.URL.Query().Get("types"))
	lastID := parseLastEventID(r)

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := h.mgr.Subscribe(runID, 256)
	defer h.mgr.Unsubscribe(runID, ch)

	fmt.Fprintf(w, ": connected to run %s\n\n", runID)
	flusher.Flush()

	// Replay the ring backlog. Duplicates across the replay boundary are
	// possible; clients dedupe on the id line.
	for _, ev := range h.mgr.ReplaySince(runID, lastID) {
		if !filter.allows(ev.Type) {
			continue
		}
		writeSSE(w, ev)
	}
	flusher.Flush()

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("run_id", runID))
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if !filter.allows(ev.Type) {
				continue
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-hb.C:
			// Keeps idle connections alive through proxies.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, ev streaming.Event) {
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	if ev.Type != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
}

// parseLastEventID reads the resume cursor from the standard header,
// falling back to the query param for clients that cannot set headers.
func parseLastEventID(r *http.Request) uint64 {
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			return n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// typeFilter narrows a stream to requested event types. Empty means
// everything.
type typeFilter map[string]struct{}

func parseTypeFilter(s string) typeFilter {
	if s == "" {
		return nil
	}
	f := make(typeFilter)
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f[t] = struct{}{}
		}
	}
	return f
}

func (f typeFilter) allows(eventType string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[eventType]
	return ok
}
