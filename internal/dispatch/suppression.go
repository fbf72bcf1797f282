// Package dispatch routes campaign batches across the tiered messaging
// providers: suppression filtering, the policy gate, quota prechecks,
// ordered failover, and delivery feedback.
package dispatch

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/circuitbreaker"
)

const suppressionKey = "leadforge:suppression"

// SuppressionList is the set of addresses that must never be contacted
// again. Backed by a redis SET so every process sees the same set; a
// local map shadows every write so a redis outage degrades to
// process-local knowledge instead of sending to bounced addresses.
type SuppressionList struct {
	redis  *circuitbreaker.RedisWrapper
	logger *zap.Logger

	mu    sync.RWMutex
	local map[string]struct{}
}

// NewSuppressionList creates the list. redis may be nil for tests or
// redis-less deployments; the list then runs purely in memory.
func NewSuppressionList(redis *circuitbreaker.RedisWrapper, logger *zap.Logger) *SuppressionList {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SuppressionList{
		redis:  redis,
		logger: logger,
		local:  make(map[string]struct{}),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Add suppresses an address.
func (s *SuppressionList) Add(ctx context.Context, email string) {
	addr := normalizeEmail(email)
	if addr == "" {
		return
	}

	s.mu.Lock()
	s.local[addr] = struct{}{}
	s.mu.Unlock()

	if s.redis == nil {
		return
	}
	if err := s.redis.SAdd(ctx, suppressionKey, addr).Err(); err != nil {
		s.logger.Warn("Suppression write degraded to local memory",
			zap.String("email", addr),
			zap.Error(err),
		)
	}
}

// Contains reports whether an address is suppressed. Redis is consulted
// first; on outage the local shadow answers.
func (s *SuppressionList) Contains(ctx context.Context, email string) bool {
	addr := normalizeEmail(email)
	if addr == "" {
		return false
	}

	if s.redis != nil {
		member, err := s.redis.SIsMember(ctx, suppressionKey, addr).Result()
		if err == nil {
			return member
		}
		s.logger.Warn("Suppression check degraded to local memory", zap.Error(err))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.local[addr]
	return ok
}

// Size reports the number of suppressed addresses.
func (s *SuppressionList) Size(ctx context.Context) int {
	if s.redis != nil {
		if n, err := s.redis.SCard(ctx, suppressionKey).Result(); err == nil {
			return int(n)
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.local)
}
