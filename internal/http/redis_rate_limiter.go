package httpx

import (
	"context"
	"strconv"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

const redisRateLimitPrefix = "lingo:ratelimit:"

type redisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisRateLimiter constructs a Redis backed rate limiter shared by every
// API replica. Redis failures fail open.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  redisRateLimitPrefix,
		timeout: 250 * time.Millisecond,
	}, nil
}

// windowKey scopes the counter to the window length so routes that share a
// key, such as the ingest and i18n limits of one project, keep separate counts.
func (rl *redisRateLimiter) windowKey(key string, window time.Duration) string {
	return rl.prefix + key + ":" + strconv.FormatInt(window.Milliseconds(), 10)
}

func (rl *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rl.timeout)
	defer cancel()

	redisKey := rl.windowKey(key, window)
	counter, err := rl.client.Incr(opCtx, redisKey).Result()
	if err != nil {
		rl.logRedisError(ctx, "incr", key, err)
		return rateDecision{allowed: true}
	}
	ttl := window
	if counter == 1 {
		if err := rl.client.Expire(opCtx, redisKey, window).Err(); err != nil {
			rl.logRedisError(ctx, "expire", key, err)
		}
	} else {
		remaining, err := rl.client.TTL(opCtx, redisKey).Result()
		switch {
		case err != nil:
			rl.logRedisError(ctx, "ttl", key, err)
		case remaining > 0:
			ttl = remaining
		default:
			// a counter without expiry would never reset.
			if err := rl.client.Expire(opCtx, redisKey, window).Err(); err != nil {
				rl.logRedisError(ctx, "expire", key, err)
			}
		}
	}
	return rateDecision{
		allowed:   int(counter) <= limit,
		count:     int(counter),
		windowEnd: time.Now().Add(ttl),
	}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

// logRedisError logs with the request context so records from routes that
// suppress error capture stay suppressed.
func (rl *redisRateLimiter) logRedisError(ctx context.Context, op, key string, err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.ErrorContext(ctx, "redis rate limiter error", "op", op, "key", rateMetricKey(key), "error", err)
}
