package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/propelship/leadforge/internal/circuitbreaker"
)

// Pings above this are reported as degraded rather than healthy.
const slowPing = 100 * time.Millisecond

// Pinger is anything with a breaker-guarded connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker reports postgres connectivity through the store's
// wrapped pool. The store holds every launch row, so this one is
// critical.
type DatabaseChecker struct {
	pinger Pinger
}

func NewDatabaseChecker(p Pinger) *DatabaseChecker {
	return &DatabaseChecker{pinger: p}
}

func (d *DatabaseChecker) Name() string   { return "database" }
func (d *DatabaseChecker) Critical() bool { return true }

func (d *DatabaseChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := d.pinger.Ping(ctx); err != nil {
		return Result{Status: StatusUnhealthy, Message: "postgres ping failed", Error: err.Error()}
	}
	if time.Since(start) > slowPing {
		return Result{Status: StatusDegraded, Message: "postgres responding slowly"}
	}
	return Result{Status: StatusHealthy, Message: "postgres reachable"}
}

// RedisChecker reports redis connectivity. Suppression and quota
// tracking fall back to local state when redis is away, so the service
// degrades rather than fails.
type RedisChecker struct {
	wrapper *circuitbreaker.RedisWrapper
}

func NewRedisChecker(w *circuitbreaker.RedisWrapper) *RedisChecker {
	return &RedisChecker{wrapper: w}
}

func (r *RedisChecker) Name() string   { return "redis" }
func (r *RedisChecker) Critical() bool { return false }

func (r *RedisChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := r.wrapper.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusUnhealthy, Message: "redis ping failed", Error: err.Error()}
	}
	if time.Since(start) > slowPing {
		return Result{Status: StatusDegraded, Message: "redis responding slowly"}
	}
	return Result{Status: StatusHealthy, Message: "redis reachable"}
}

// BreakerChecker surfaces provider breaker states. An open breaker
// walls off one provider while its fallbacks keep serving, so this
// checker never goes past degraded.
type BreakerChecker struct {
	collector *circuitbreaker.Collector
}

func NewBreakerChecker(c *circuitbreaker.Collector) *BreakerChecker {
	return &BreakerChecker{collector: c}
}

func (b *BreakerChecker) Name() string   { return "breakers" }
func (b *BreakerChecker) Critical() bool { return false }

func (b *BreakerChecker) Check(ctx context.Context) Result {
	states := b.collector.States()
	var open []string
	for name, state := range states {
		if state == circuitbreaker.StateOpen {
			open = append(open, name)
		}
	}
	if len(open) > 0 {
		sort.Strings(open)
		return Result{Status: StatusDegraded, Message: "open breakers: " + strings.Join(open, ", ")}
	}
	return Result{Status: StatusHealthy, Message: fmt.Sprintf("all %d breakers closed", len(states))}
}

// CheckerFunc adapts a plain function into a Checker.
type CheckerFunc struct {
	name     string
	critical bool
	fn       func(ctx context.Context) Result
}

func NewCheckerFunc(name string, critical bool, fn func(ctx context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, critical: critical, fn: fn}
}

func (c *CheckerFunc) Name() string   { return c.name }
func (c *CheckerFunc) Critical() bool { return c.critical }

func (c *CheckerFunc) Check(ctx context.Context) Result {
	return c.fn(ctx)
}
