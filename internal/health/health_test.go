package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/circuitbreaker"
)

func staticChecker(name string, critical bool, res Result) *CheckerFunc {
	return NewCheckerFunc(name, critical, func(context.Context) Result { return res })
}

func TestOverallAggregation(t *testing.T) {
	cases := []struct {
		name     string
		checkers []Checker
		want     Status
		ready    bool
	}{
		{
			name: "all healthy",
			checkers: []Checker{
				staticChecker("a", true, Result{Status: StatusHealthy}),
				staticChecker("b", false, Result{Status: StatusHealthy}),
			},
			want:  StatusHealthy,
			ready: true,
		},
		{
			name: "non-critical failure degrades",
			checkers: []Checker{
				staticChecker("a", true, Result{Status: StatusHealthy}),
				staticChecker("b", false, Result{Status: StatusUnhealthy, Error: "down"}),
			},
			want:  StatusDegraded,
			ready: true,
		},
		{
			name: "critical slowness degrades",
			checkers: []Checker{
				staticChecker("a", true, Result{Status: StatusDegraded}),
			},
			want:  StatusDegraded,
			ready: true,
		},
		{
			name: "critical failure is unhealthy",
			checkers: []Checker{
				staticChecker("a", true, Result{Status: StatusUnhealthy, Error: "down"}),
				staticChecker("b", false, Result{Status: StatusHealthy}),
			},
			want:  StatusUnhealthy,
			ready: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(zap.NewNop())
			for _, c := range tc.checkers {
				m.Register(c)
			}

			status, results := m.Overall(context.Background())
			if status != tc.want {
				t.Fatalf("Overall() = %v, want %v", status, tc.want)
			}
			if len(results) != len(tc.checkers) {
				t.Fatalf("got %d results, want %d", len(results), len(tc.checkers))
			}
			if got := m.Ready(context.Background()); got != tc.ready {
				t.Errorf("Ready() = %v, want %v", got, tc.ready)
			}
		})
	}
}

func TestResultsStampMetadata(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(staticChecker("database", true, Result{Status: StatusHealthy, Message: "ok"}))

	results := m.Results(context.Background())
	res, ok := results["database"]
	if !ok {
		t.Fatalf("missing result for database: %v", results)
	}
	if res.Component != "database" || !res.Critical {
		t.Errorf("metadata not stamped: %+v", res)
	}
	if res.Checked.IsZero() {
		t.Error("Checked not set")
	}
}

func TestResultsCacheWithinTTL(t *testing.T) {
	var runs atomic.Int32
	m := NewManager(zap.NewNop())
	m.Register(NewCheckerFunc("counted", false, func(context.Context) Result {
		runs.Add(1)
		return Result{Status: StatusHealthy}
	}))

	m.Results(context.Background())
	m.Results(context.Background())
	if got := runs.Load(); got != 1 {
		t.Fatalf("checker ran %d times inside the TTL, want 1", got)
	}

	m.ttl = 0
	m.Results(context.Background())
	if got := runs.Load(); got != 2 {
		t.Fatalf("checker ran %d times after expiry, want 2", got)
	}
}

func TestCheckTimeoutBounded(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.timeout = 50 * time.Millisecond
	m.Register(NewCheckerFunc("stuck", true, func(ctx context.Context) Result {
		<-ctx.Done()
		return Result{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	}))

	start := time.Now()
	status, _ := m.Overall(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("check took %v, want the per-check timeout to bound it", elapsed)
	}
	if status != StatusUnhealthy {
		t.Fatalf("Overall() = %v, want %v", status, StatusUnhealthy)
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestDatabaseChecker(t *testing.T) {
	if res := NewDatabaseChecker(fakePinger{}).Check(context.Background()); res.Status != StatusHealthy {
		t.Errorf("healthy ping: status = %v", res.Status)
	}

	res := NewDatabaseChecker(fakePinger{err: errors.New("connection refused")}).Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Errorf("failed ping: status = %v", res.Status)
	}
	if res.Error != "connection refused" {
		t.Errorf("error = %q, want the ping error", res.Error)
	}
}

func TestBreakerCheckerReportsOpen(t *testing.T) {
	closed := circuitbreaker.New("jsearch", circuitbreaker.DefaultConfig(), zap.NewNop())
	cfg := circuitbreaker.DefaultConfig()
	cfg.Timeout = time.Hour
	tripped := circuitbreaker.New("hunter", cfg, zap.NewNop())
	tripped.Trip()

	collector := circuitbreaker.NewCollector()
	collector.Register("providers", closed)
	collector.Register("providers", tripped)

	res := NewBreakerChecker(collector).Check(context.Background())
	if res.Status != StatusDegraded {
		t.Fatalf("status = %v, want %v", res.Status, StatusDegraded)
	}
	if !strings.Contains(res.Message, "hunter") || strings.Contains(res.Message, "jsearch") {
		t.Errorf("message %q should name only the open breaker", res.Message)
	}

	fresh := circuitbreaker.NewCollector()
	fresh.Register("providers", closed)
	if res := NewBreakerChecker(fresh).Check(context.Background()); res.Status != StatusHealthy {
		t.Errorf("all closed: status = %v, want %v", res.Status, StatusHealthy)
	}
}

func TestHandlerEndpoints(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(staticChecker("database", true, Result{Status: StatusHealthy, Message: "ok"}))

	mux := http.NewServeMux()
	NewHandler(m, zap.NewNop()).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz = %d, want 200", rec.Code)
	}
	var body struct {
		Status     string                    `json:"status"`
		Components map[string]map[string]any `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want healthy", body.Status)
	}
	if _, ok := body.Components["database"]; !ok {
		t.Errorf("components missing database: %v", body.Components)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/readyz = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/readyz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /readyz = %d, want 405", rec.Code)
	}
}

func TestHandlerCriticalFailure(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(staticChecker("database", true, Result{Status: StatusUnhealthy, Error: "connection refused"}))

	mux := http.NewServeMux()
	NewHandler(m, zap.NewNop()).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/healthz = %d, want 503", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", body.Status)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz = %d, want 503", rec.Code)
	}
}
