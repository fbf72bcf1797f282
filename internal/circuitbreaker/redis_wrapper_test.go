package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func newTestRedisWrapper(t *testing.T) (*RedisWrapper, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisWrapper(client, "test", zaptest.NewLogger(t)), s
}

func TestRedisWrapperNormalOperations(t *testing.T) {
	wrapper, _ := newTestRedisWrapper(t)
	ctx := context.Background()

	if err := wrapper.Ping(ctx).Err(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	if err := wrapper.Set(ctx, "suppress:probe", "1", time.Minute).Err(); err != nil {
		t.Errorf("Set failed: %v", err)
	}
	val, err := wrapper.Get(ctx, "suppress:probe").Result()
	if err != nil {
		t.Errorf("Get failed: %v", err)
	}
	if val != "1" {
		t.Errorf("Get returned %q, want %q", val, "1")
	}

	if err := wrapper.SAdd(ctx, "suppress:set", "a@example.com", "b@example.com").Err(); err != nil {
		t.Errorf("SAdd failed: %v", err)
	}
	member, err := wrapper.SIsMember(ctx, "suppress:set", "a@example.com").Result()
	if err != nil || !member {
		t.Errorf("SIsMember = %v, %v; want true, nil", member, err)
	}
	card, err := wrapper.SCard(ctx, "suppress:set").Result()
	if err != nil || card != 2 {
		t.Errorf("SCard = %d, %v; want 2, nil", card, err)
	}

	n, err := wrapper.IncrBy(ctx, "quota:hunter:daily", 3).Result()
	if err != nil || n != 3 {
		t.Errorf("IncrBy = %d, %v; want 3, nil", n, err)
	}
	if err := wrapper.Expire(ctx, "quota:hunter:daily", time.Hour).Err(); err != nil {
		t.Errorf("Expire failed: %v", err)
	}
}

func TestRedisWrapperMissIsNotFailure(t *testing.T) {
	wrapper, _ := newTestRedisWrapper(t)
	ctx := context.Background()

	err := wrapper.Get(ctx, "missing:key").Err()
	if err != redis.Nil {
		t.Errorf("Expected redis.Nil for missing key, got %v", err)
	}
	if wrapper.Open() {
		t.Error("Key misses must not trip the breaker")
	}
	if got := wrapper.cb.Counts().TotalFailures; got != 0 {
		t.Errorf("Expected 0 failures recorded, got %d", got)
	}
}

func TestRedisWrapperOutageTripsBreaker(t *testing.T) {
	wrapper, s := newTestRedisWrapper(t)
	ctx := context.Background()

	s.Close()

	threshold := int(RedisSettings().FailureThreshold)
	for i := 0; i < threshold; i++ {
		wrapper.Ping(ctx)
	}
	if !wrapper.Open() {
		t.Error("Expected breaker open after repeated redis failures")
	}

	// Short-circuited call carries the breaker error
	if err := wrapper.Ping(ctx).Err(); err != ErrOpen {
		t.Errorf("Expected ErrOpen from short-circuit, got %v", err)
	}
}
