package httpx

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/dannyseiner/web-tools-sub000/pkg/capture"
)

func newTestRedisLimiter(t *testing.T, logger *slog.Logger) (*miniredis.Miniredis, RateLimiter) {
	t.Helper()
	server := miniredis.RunT(t)
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	limiter, err := NewRedisRateLimiter(server.Addr(), "", 0, logger)
	if err != nil {
		t.Fatalf("redis limiter: %v", err)
	}
	t.Cleanup(limiter.Close)
	return server, limiter
}

func TestRedisRateLimiterCountsWithinWindow(t *testing.T) {
	server, limiter := newTestRedisLimiter(t, nil)
	ctx := context.Background()
	key := "project:p1"

	for i := 1; i <= 3; i++ {
		start := time.Now()
		decision := limiter.Allow(ctx, key, 2, time.Minute)
		if decision.count != i {
			t.Fatalf("call %d: expected count %d, got %d", i, i, decision.count)
		}
		if want := i <= 2; decision.allowed != want {
			t.Fatalf("call %d: expected allowed=%v", i, want)
		}
		if decision.windowEnd.Before(start) || decision.windowEnd.After(start.Add(time.Minute+time.Second)) {
			t.Fatalf("call %d: window end %v outside the minute window", i, decision.windowEnd)
		}
	}

	redisKey := redisRateLimitPrefix + key + ":60000"
	if ttl := server.TTL(redisKey); ttl != time.Minute {
		t.Fatalf("expected counter to expire after the window, got ttl %v", ttl)
	}

	if decision := limiter.Allow(ctx, key, 2, 30*time.Second); !decision.allowed || decision.count != 1 {
		t.Fatalf("expected a separate count for another window, got %+v", decision)
	}

	server.FastForward(time.Minute + time.Second)
	if decision := limiter.Allow(ctx, key, 2, time.Minute); !decision.allowed || decision.count != 1 {
		t.Fatalf("expected a fresh window after expiry, got %+v", decision)
	}
}

func TestRedisRateLimiterRestoresMissingExpiry(t *testing.T) {
	server, limiter := newTestRedisLimiter(t, nil)
	redisKey := redisRateLimitPrefix + "project:p2:60000"
	if err := server.Set(redisKey, "4"); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	start := time.Now()
	decision := limiter.Allow(context.Background(), "project:p2", 10, time.Minute)
	if !decision.allowed || decision.count != 5 {
		t.Fatalf("unexpected decision %+v", decision)
	}
	if decision.windowEnd.Before(start.Add(time.Minute - time.Second)) {
		t.Fatalf("expected window end to fall back to the full window, got %v", decision.windowEnd)
	}
	if ttl := server.TTL(redisKey); ttl != time.Minute {
		t.Fatalf("expected expiry to be restored, got %v", ttl)
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	sink := newCaptureSink(t)
	server, limiter := newTestRedisLimiter(t, sink.logger())
	server.SetError("LOADING redis is loading the dataset in memory")

	decision := limiter.Allow(capture.Suppress(context.Background()), "project:p3", 1, time.Minute)
	if !decision.allowed {
		t.Fatal("expected requests to pass while redis fails")
	}
	if n := sink.flushed(t); n != 0 {
		t.Fatalf("expected suppressed request to report nothing, got %d", n)
	}

	if decision := limiter.Allow(context.Background(), "project:p3", 1, time.Minute); !decision.allowed {
		t.Fatal("expected requests to pass while redis fails")
	}
	if n := sink.flushed(t); n != 1 {
		t.Fatalf("expected the redis failure to be reported once, got %d", n)
	}
}
