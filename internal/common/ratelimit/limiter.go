// Package ratelimit spaces requests to one judge at least a minimum interval apart.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"ojkit/internal/common/cache"
	pkgerrors "ojkit/pkg/errors"

	"golang.org/x/time/rate"
)

// Limiter blocks until a request for key may be sent.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// LocalLimiter enforces the interval inside one process.
type LocalLimiter struct {
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocal creates a limiter allowing one request per interval and key.
func NewLocal(interval time.Duration) *LocalLimiter {
	return &LocalLimiter{interval: interval, limiters: make(map[string]*rate.Limiter)}
}

func (l *LocalLimiter) Wait(ctx context.Context, key string) error {
	if l == nil || l.interval <= 0 {
		return ctx.Err()
	}
	return l.limiter(key).Wait(ctx)
}

func (l *LocalLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[key] = lim
	}
	return lim
}

// RedisLimiter enforces the interval across processes sharing one Redis. A key holding a
// short-lived marker means a request went out less than interval ago.
type RedisLimiter struct {
	cache        cache.BasicOps
	interval     time.Duration
	prefix       string
	redisTimeout time.Duration
	minPoll      time.Duration
}

// NewRedis creates a limiter storing its markers under prefix.
func NewRedis(cacheClient cache.BasicOps, prefix string, interval, redisTimeout time.Duration) *RedisLimiter {
	if redisTimeout <= 0 {
		redisTimeout = time.Second
	}
	return &RedisLimiter{
		cache:        cacheClient,
		interval:     interval,
		prefix:       prefix,
		redisTimeout: redisTimeout,
		minPoll:      10 * time.Millisecond,
	}
}

func (l *RedisLimiter) Wait(ctx context.Context, key string) error {
	if l.interval <= 0 {
		return ctx.Err()
	}
	if l.cache == nil {
		return pkgerrors.New(pkgerrors.CacheError).WithMessage("rate limit cache is unavailable")
	}
	full := l.prefix + key
	for {
		acquired, wait, err := l.tryAcquire(ctx, full)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if wait < l.minPoll {
			wait = l.minPoll
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLimiter) tryAcquire(ctx context.Context, key string) (bool, time.Duration, error) {
	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctxCache, key, 1, l.interval)
	if err != nil {
		if ctx.Err() != nil {
			return false, 0, ctx.Err()
		}
		return false, 0, pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	if acquired {
		return true, 0, nil
	}
	ttl, err := l.cache.PTTL(ctxCache, key)
	if err != nil {
		if ctx.Err() != nil {
			return false, 0, ctx.Err()
		}
		return false, 0, pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	if ttl <= 0 {
		ttl = l.interval
	}
	return false, ttl, nil
}

var (
	_ Limiter = (*LocalLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)
