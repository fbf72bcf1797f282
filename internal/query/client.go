// Package query funnels every outbound provider call through a shared
// gate: a process-wide token bucket per provider, a concurrency cap, a
// circuit breaker, and retry with exponential backoff for transient
// failures. Stages never call provider HTTP clients directly.
package query

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/propelship/leadforge/internal/circuitbreaker"
	"github.com/propelship/leadforge/internal/metrics"
	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/ratecontrol"
	"github.com/propelship/leadforge/internal/tracing"
)

// providerGate is the per-provider admission state. Created lazily on the
// first call for a tag and shared by every run in the process.
type providerGate struct {
	plan    ratecontrol.Plan
	limiter *rate.Limiter
	sem     chan struct{}
	breaker *circuitbreaker.Breaker
}

// Client admits calls to external providers. All runs in the process share
// one Client so that per-provider rate plans hold globally, not per run.
type Client struct {
	logger    *zap.Logger
	cbConfig  circuitbreaker.Config
	collector *circuitbreaker.Collector

	mu    sync.RWMutex
	gates map[string]*providerGate
}

// Option configures a Client.
type Option func(*Client)

// WithBreakerConfig overrides the breaker config applied to new provider
// gates.
func WithBreakerConfig(cfg circuitbreaker.Config) Option {
	return func(c *Client) { c.cbConfig = cfg }
}

// WithCollector registers each provider breaker with the given collector
// for metrics and health reporting.
func WithCollector(col *circuitbreaker.Collector) Option {
	return func(c *Client) { c.collector = col }
}

// NewClient creates the shared provider query client.
func NewClient(logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		logger:   logger,
		cbConfig: circuitbreaker.ProviderSettings().ToConfig(),
		gates:    make(map[string]*providerGate),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) gate(tag string) *providerGate {
	c.mu.RLock()
	g, ok := c.gates[tag]
	c.mu.RUnlock()
	if ok {
		return g
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok = c.gates[tag]; ok {
		return g
	}

	plan := ratecontrol.PlanFor(tag)
	g = &providerGate{
		plan:    plan,
		limiter: rate.NewLimiter(rate.Limit(plan.RPS), plan.Burst),
		sem:     make(chan struct{}, plan.MaxConcurrent),
		breaker: circuitbreaker.New(tag, c.cbConfig, c.logger),
	}
	if c.collector != nil {
		c.collector.Register(tag, g.breaker)
	}
	c.gates[tag] = g

	c.logger.Debug("Provider gate created",
		zap.String("provider", tag),
		zap.Float64("rps", plan.RPS),
		zap.Int("burst", plan.Burst),
		zap.Int("max_concurrent", plan.MaxConcurrent),
	)
	return g
}

// BreakerState reports the named provider's breaker state without creating
// a gate for unknown tags.
func (c *Client) BreakerState(tag string) (circuitbreaker.State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.gates[tag]
	if !ok {
		return circuitbreaker.StateClosed, false
	}
	return g.breaker.State(), true
}

// Do executes call against the named provider, respecting its rate plan.
//
// Order per attempt: breaker gate, then a concurrency slot, then a token
// from the bucket (bounded by the plan's token_wait), then the call itself
// inside the breaker. Transient failures are retried with exponential
// backoff and jitter up to the plan's max_attempts. Permanent failures
// return immediately and force the breaker open so sibling workers stop
// burning calls against a dead credential or quota.
func (c *Client) Do(ctx context.Context, tag, op string, call func(context.Context) error) error {
	g := c.gate(tag)

	ctx, span := tracing.StartSpan(ctx, "provider."+op,
		attribute.String("provider", tag),
	)
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= g.plan.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.attempt(ctx, g, tag, op, call)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, models.ErrProviderUnavailable) || errors.Is(err, models.ErrRateLimited) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return err
			}
		}
		if models.IsPermanent(err) {
			g.breaker.Trip()
			c.logger.Warn("Provider call failed permanently",
				zap.String("provider", tag),
				zap.String("op", op),
				zap.Error(err),
			)
			return err
		}
		if attempt == g.plan.MaxAttempts {
			break
		}

		delay := backoffDelay(g.plan, attempt)
		metrics.ProviderRetries.WithLabelValues(tag).Inc()
		c.logger.Debug("Retrying provider call",
			zap.String("provider", tag),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s %s: attempts exhausted: %w", tag, op, lastErr)
}

func (c *Client) attempt(ctx context.Context, g *providerGate, tag, op string, call func(context.Context) error) error {
	if g.breaker.State() == circuitbreaker.StateOpen {
		metrics.RecordProviderCall(tag, "unavailable", 0)
		return fmt.Errorf("%s %s: %w", tag, op, models.ErrProviderUnavailable)
	}

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	waitStart := time.Now()
	if err := c.waitToken(ctx, g); err != nil {
		return fmt.Errorf("%s %s: %w", tag, op, err)
	}
	wait := time.Since(waitStart)
	metrics.RateLimitWait.WithLabelValues(tag).Observe(wait.Seconds())

	callStart := time.Now()
	err := g.breaker.Execute(ctx, func() error { return call(ctx) })
	elapsed := time.Since(callStart)

	switch {
	case err == nil:
		metrics.RecordProviderCall(tag, "success", elapsed.Seconds())
		return nil
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		metrics.RecordProviderCall(tag, "unavailable", 0)
		return fmt.Errorf("%s %s: %w", tag, op, models.ErrProviderUnavailable)
	default:
		metrics.RecordProviderCall(tag, "error", elapsed.Seconds())
		return err
	}
}

// waitToken blocks for a bucket token, but never longer than the plan's
// token_wait bound. An elapsed bound means the provider is saturated, so
// the call fails fast instead of queueing behind every other worker.
func (c *Client) waitToken(ctx context.Context, g *providerGate) error {
	if g.plan.TokenWait <= 0 {
		if !g.limiter.Allow() {
			return models.ErrRateLimited
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.plan.TokenWait)
	defer cancel()

	if err := g.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.RateLimited.WithLabelValues(g.breaker.Name()).Inc()
		return models.ErrRateLimited
	}
	return nil
}

// backoffDelay computes the sleep before retry n (1-based): base doubled
// per attempt, capped at the plan max, with +/-20% jitter so concurrent
// workers do not retry in lockstep.
func backoffDelay(plan ratecontrol.Plan, attempt int) time.Duration {
	d := plan.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= plan.BackoffMax {
			d = plan.BackoffMax
			break
		}
	}
	if d <= 0 {
		return 0
	}

	span := int64(d / 5)
	if span > 0 {
		d += time.Duration(rand.Int63n(2*span+1) - span)
	}
	return d
}
