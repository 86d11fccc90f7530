package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

// Limiter gates a single outbound call. ModelProvider implementations take
// one by dependency injection rather than reaching for a process-wide
// singleton, so a provider under test can be handed a no-op or a fake.
type Limiter interface {
	Allow(ctx context.Context) (bool, error)
}

type Decision struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter int
	Allowed    bool
}

// RedisLimiter implements a fixed-window counter shared across process
// instances via Redis (the window starts at the first hit and the counter
// expires with it), for limits that must hold globally (the OpenRouter
// provider's 18 req/min ceiling applies to the API key, not to one process).
type RedisLimiter struct {
	client *redis.Client
	key    string
	rate   int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, key string, rate int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, key: key, rate: rate, window: window}
}

var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

func (l *RedisLimiter) Allow(ctx context.Context) (bool, error) {
	count, err := incrScript.Run(ctx, l.client, []string{l.key}, l.window.Milliseconds()).Int()
	if err != nil {
		return false, ErrRedisUnavailable
	}
	return count <= l.rate, nil
}

// Check is the richer form used by callers that want remaining/reset
// information to log or surface to an operator.
func (l *RedisLimiter) Check(ctx context.Context) (*Decision, error) {
	count, err := incrScript.Run(ctx, l.client, []string{l.key}, l.window.Milliseconds()).Int()
	if err != nil {
		return nil, ErrRedisUnavailable
	}

	remaining := l.rate - count
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Limit:      l.rate,
		Remaining:  remaining,
		Reset:      time.Now().Add(l.window), // approximation: we don't round-trip TTL
		RetryAfter: int(l.window.Seconds()),
		Allowed:    count <= l.rate,
	}, nil
}

// LocalLimiter is an in-process token bucket used when REDIS_ADDR is unset.
// It enforces the limit for this process only, which is correct for a
// single-node deployment and a safe degrade when Redis is unreachable.
type LocalLimiter struct {
	mu         sync.Mutex
	tokens     float64
	ratePerSec float64
	burst      float64
	last       time.Time
}

func NewLocalLimiter(ratePerMinute int) *LocalLimiter {
	rps := float64(ratePerMinute) / 60.0
	return &LocalLimiter{
		tokens:     float64(ratePerMinute),
		ratePerSec: rps,
		burst:      float64(ratePerMinute),
		last:       time.Now(),
	}
}

func (l *LocalLimiter) Allow(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.last).Seconds()
	l.last = now

	l.tokens += elapsed * l.ratePerSec
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.tokens < 1 {
		return false, nil
	}
	l.tokens--
	return true, nil
}
