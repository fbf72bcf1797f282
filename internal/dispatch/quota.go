package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/circuitbreaker"
	"github.com/propelship/leadforge/internal/metrics"
)

// QuotaLimits bounds a provider's local spend. Zero means unlimited for
// that window.
type QuotaLimits struct {
	Daily   int
	Monthly int
}

// QuotaLedger tracks per-provider API spend in rolling daily and monthly
// windows. Counters live in redis (INCRBY with a TTL keyed by the
// current date, so windows reset by key rotation) and are shadowed in
// memory for redis outages. Providers without a configured limit are
// never denied.
type QuotaLedger struct {
	redis  *circuitbreaker.RedisWrapper
	limits map[string]QuotaLimits
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	local map[string]int
}

// NewQuotaLedger creates the ledger. redis may be nil; the ledger then
// counts in memory only.
func NewQuotaLedger(redis *circuitbreaker.RedisWrapper, limits map[string]QuotaLimits, logger *zap.Logger) *QuotaLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits == nil {
		limits = make(map[string]QuotaLimits)
	}
	return &QuotaLedger{
		redis:  redis,
		limits: limits,
		logger: logger,
		now:    time.Now,
		local:  make(map[string]int),
	}
}

func (q *QuotaLedger) dayKey(provider string) string {
	return fmt.Sprintf("leadforge:quota:%s:day:%s", provider, q.now().UTC().Format("2006-01-02"))
}

func (q *QuotaLedger) monthKey(provider string) string {
	return fmt.Sprintf("leadforge:quota:%s:month:%s", provider, q.now().UTC().Format("2006-01"))
}

func (q *QuotaLedger) read(ctx context.Context, key string) int {
	if q.redis != nil {
		val, err := q.redis.Get(ctx, key).Result()
		switch {
		case err == nil:
			n, _ := strconv.Atoi(val)
			return n
		case err == redis.Nil:
			return 0
		}
		// Outage: the local shadow answers.
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.local[key]
}

// CanSpend reports whether n more calls fit under the provider's limits.
func (q *QuotaLedger) CanSpend(ctx context.Context, provider string, n int) bool {
	limits, ok := q.limits[provider]
	if !ok {
		return true
	}

	daily := q.read(ctx, q.dayKey(provider))
	monthly := q.read(ctx, q.monthKey(provider))

	allowed := (limits.Daily <= 0 || daily+n <= limits.Daily) &&
		(limits.Monthly <= 0 || monthly+n <= limits.Monthly)
	if !allowed {
		metrics.QuotaDenied.WithLabelValues(provider).Inc()
		q.logger.Warn("Provider quota exhausted",
			zap.String("provider", provider),
			zap.Int("requested", n),
			zap.Int("daily_used", daily),
			zap.Int("daily_limit", limits.Daily),
			zap.Int("monthly_used", monthly),
			zap.Int("monthly_limit", limits.Monthly),
		)
	}
	return allowed
}

// Record charges n calls against the provider's windows.
func (q *QuotaLedger) Record(ctx context.Context, provider string, n int) {
	if n <= 0 {
		return
	}
	dayKey := q.dayKey(provider)
	monthKey := q.monthKey(provider)

	q.mu.Lock()
	q.local[dayKey] += n
	q.local[monthKey] += n
	q.mu.Unlock()

	if q.redis == nil {
		return
	}
	if err := q.redis.IncrBy(ctx, dayKey, int64(n)).Err(); err != nil {
		q.logger.Warn("Quota write degraded to local memory", zap.Error(err))
		return
	}
	q.redis.Expire(ctx, dayKey, 48*time.Hour)
	if err := q.redis.IncrBy(ctx, monthKey, int64(n)).Err(); err == nil {
		q.redis.Expire(ctx, monthKey, 40*24*time.Hour)
	}
}

// Usage reports the provider's current daily and monthly spend.
func (q *QuotaLedger) Usage(ctx context.Context, provider string) (daily, monthly int) {
	return q.read(ctx, q.dayKey(provider)), q.read(ctx, q.monthKey(provider))
}
