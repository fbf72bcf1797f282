package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/ratecontrol"
)

// Doer is the call surface stages depend on. Both the process-wide Client
// and a per-run Scoped view satisfy it.
type Doer interface {
	Do(ctx context.Context, tag, op string, call func(context.Context) error) error
}

// scopedGate throttles one provider below its process-wide plan for a
// single run.
type scopedGate struct {
	limiter   *rate.Limiter
	sem       chan struct{}
	tokenWait time.Duration
}

// Scoped applies a run's rate-limit overrides on top of the shared client.
// A scoped call must pass the run's own limiter and concurrency cap first,
// then the process-wide gate. Overrides only lower limits, so the shared
// bucket stays the ceiling for every run combined.
type Scoped struct {
	client    *Client
	overrides map[string]ratecontrol.Override

	mu    sync.Mutex
	gates map[string]*scopedGate
}

// Scoped returns a view of the client throttled by the given per-provider
// overrides. A nil or empty map yields a pass-through view.
func (c *Client) Scoped(overrides map[string]ratecontrol.Override) *Scoped {
	return &Scoped{
		client:    c,
		overrides: overrides,
		gates:     make(map[string]*scopedGate),
	}
}

func (s *Scoped) gate(tag string) *scopedGate {
	o, ok := s.overrides[tag]
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gates[tag]; ok {
		return g
	}

	plan := ratecontrol.PlanFor(tag).Apply(o)
	g := &scopedGate{
		limiter:   rate.NewLimiter(rate.Limit(plan.RPS), plan.Burst),
		sem:       make(chan struct{}, plan.MaxConcurrent),
		tokenWait: plan.TokenWait,
	}
	s.gates[tag] = g
	return g
}

// Do applies the run's own throttle for tag, then delegates to the shared
// client.
func (s *Scoped) Do(ctx context.Context, tag, op string, call func(context.Context) error) error {
	g := s.gate(tag)
	if g == nil {
		return s.client.Do(ctx, tag, op, call)
	}

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	if g.tokenWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, g.tokenWait)
		err := g.limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s %s: %w", tag, op, models.ErrRateLimited)
		}
	} else if !g.limiter.Allow() {
		return fmt.Errorf("%s %s: %w", tag, op, models.ErrRateLimited)
	}

	return s.client.Do(ctx, tag, op, call)
}
