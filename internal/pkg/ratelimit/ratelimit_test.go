package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAcquireWithinBurst(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewRedisRateLimiter(rdb, testLogger(), "autominus:ratelimit:test", 10, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// 突发额度内的请求应立即放行
	for i := 0; i < 5; i++ {
		if err := limiter.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}

func TestAcquireBlocksWhenExhausted(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewRedisRateLimiter(rdb, testLogger(), "autominus:ratelimit:test", 10, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := limiter.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	// 第三个请求需要等待令牌补充
	start := time.Now()
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("acquire after burst: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected to wait for refill, returned after %v", elapsed)
	}
}

func TestAcquireContextCancel(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewRedisRateLimiter(rdb, testLogger(), "autominus:ratelimit:test", 0.1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// 补充速率极低，第二个请求应在超时后返回错误
	if err := limiter.Acquire(ctx); err != ErrRateLimitTimeout {
		t.Errorf("expected ErrRateLimitTimeout, got %v", err)
	}
}

func TestNilLimiterNoops(t *testing.T) {
	var limiter *RateLimiter
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Errorf("nil limiter should be a no-op, got %v", err)
	}
}
