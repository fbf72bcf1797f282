// Package health aggregates named dependency checks into the service's
// readiness and liveness signals. Results are cached briefly so probe
// traffic does not hammer the dependencies themselves.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status grades one component or the whole service.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result is one component's verdict. Checkers fill Status, Message, and
// Error; the manager stamps the rest.
type Result struct {
	Component string
	Status    Status
	Message   string
	Error     string
	Latency   time.Duration
	Checked   time.Time
	Critical  bool
}

// Checker is one named dependency probe.
type Checker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) Result
}

const (
	defaultTTL     = 10 * time.Second
	defaultTimeout = 5 * time.Second
)

// Manager runs the registered checkers on demand and caches their
// results for the TTL window.
type Manager struct {
	logger  *zap.Logger
	ttl     time.Duration
	timeout time.Duration

	mu       sync.Mutex
	checkers []Checker
	cache    map[string]Result
}

// NewManager builds an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:  logger,
		ttl:     defaultTTL,
		timeout: defaultTimeout,
		cache:   make(map[string]Result),
	}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, c)
	m.mu.Unlock()
	m.logger.Info("Health checker registered",
		zap.String("checker", c.Name()),
		zap.Bool("critical", c.Critical()),
	)
}

// Results returns one verdict per component, re-running any checker
// whose cached result has aged past the TTL.
func (m *Manager) Results(ctx context.Context) map[string]Result {
	m.mu.Lock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.Unlock()

	now := time.Now()
	out := make(map[string]Result, len(checkers))
	for _, c := range checkers {
		name := c.Name()

		m.mu.Lock()
		cached, ok := m.cache[name]
		m.mu.Unlock()
		if ok && now.Sub(cached.Checked) < m.ttl {
			out[name] = cached
			continue
		}

		res := m.run(ctx, c)
		m.mu.Lock()
		m.cache[name] = res
		m.mu.Unlock()
		out[name] = res
	}
	return out
}

func (m *Manager) run(ctx context.Context, c Checker) Result {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	res := c.Check(checkCtx)
	res.Component = c.Name()
	res.Critical = c.Critical()
	res.Latency = time.Since(start)
	res.Checked = start

	if res.Status != StatusHealthy {
		m.logger.Warn("Health check not healthy",
			zap.String("checker", res.Component),
			zap.String("status", res.Status.String()),
			zap.String("message", res.Message),
			zap.String("error", res.Error),
		)
	}
	return res
}

// Overall folds the component results into one status: a failing
// critical component makes the service unhealthy, anything else wrong
// degrades it.
func (m *Manager) Overall(ctx context.Context) (Status, map[string]Result) {
	results := m.Results(ctx)
	status := StatusHealthy
	for _, res := range results {
		if res.Status == StatusUnhealthy && res.Critical {
			status = StatusUnhealthy
		} else if res.Status != StatusHealthy && status == StatusHealthy {
			status = StatusDegraded
		}
	}
	return status, results
}

// Ready reports whether the service should receive traffic. Degraded
// still serves; only a critical failure pulls the service out.
func (m *Manager) Ready(ctx context.Context) bool {
	status, _ := m.Overall(ctx)
	return status != StatusUnhealthy
}
