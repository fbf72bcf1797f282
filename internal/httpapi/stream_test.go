package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/streaming"
)

func newStreamMux() *http.ServeMux {
	mux := http.NewServeMux()
	NewStreamHandler(streaming.Get(), zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestSSEReplayWithLastEventID(t *testing.T) {
	mgr := streaming.Get()
	runID := uuid.NewString()
	mgr.Publish(runID, streaming.Event{Type: streaming.TypeLog, Stage: "discover", Message: "discover started"})
	mgr.Publish(runID, streaming.Event{Type: streaming.TypeStatus, Status: "running"})
	mgr.Publish(runID, streaming.Event{Type: streaming.TypeLog, Stage: "score", Message: "scored 7 jobs"})

	mux := newStreamMux()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID+"/stream?types=log", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, ": connected to run "+runID) {
		t.Errorf("missing connect comment in %q", body)
	}
	if !strings.Contains(body, "id: 3\n") || !strings.Contains(body, "scored 7 jobs") {
		t.Errorf("missing replayed event 3 in %q", body)
	}
	if !strings.Contains(body, "event: log\n") {
		t.Errorf("missing event type line in %q", body)
	}
	if strings.Contains(body, "id: 1\n") {
		t.Errorf("event 1 replayed despite Last-Event-ID in %q", body)
	}
	if strings.Contains(body, "id: 2\n") {
		t.Errorf("status event escaped the types filter in %q", body)
	}
}

func TestSSEDeliversLiveEvents(t *testing.T) {
	mgr := streaming.Get()
	runID := uuid.NewString()
	go func() {
		time.Sleep(100 * time.Millisecond)
		mgr.Publish(runID, streaming.Event{Type: streaming.TypeProgress, Progress: 0.4})
	}()

	mux := newStreamMux()
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID+"/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "id: 1\n") || !strings.Contains(body, `"progress":0.4`) {
		t.Errorf("live event missing from %q", body)
	}
}

func TestWebSocketReplayAndLive(t *testing.T) {
	mgr := streaming.Get()
	runID := uuid.NewString()
	mgr.Publish(runID, streaming.Event{Type: streaming.TypeLog, Message: "hello"})

	srv := httptest.NewServer(newStreamMux())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/runs/" + runID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	var ev streaming.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read replayed event: %v", err)
	}
	if ev.Seq != 1 || ev.Message != "hello" || ev.RunID != runID {
		t.Fatalf("replayed event = %+v", ev)
	}

	// The replayed frame proves the server has subscribed, so a publish
	// now must arrive as a live frame.
	mgr.Publish(runID, streaming.Event{Type: streaming.TypeStatus, Status: "completed"})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read live event: %v", err)
	}
	if ev.Seq != 2 || ev.Status != "completed" {
		t.Fatalf("live event = %+v", ev)
	}
}
