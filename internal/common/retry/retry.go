// Package retry runs judge requests again after transient failures, spacing attempts with
// exponential backoff and jitter.
package retry

import (
	"context"
	stderrors "errors"
	"time"

	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy describes how often and how far apart attempts are made.
type Policy struct {
	BaseDelay   time.Duration `yaml:"baseDelay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	MaxAttempts int           `yaml:"maxAttempts"`
	// Jitter is the randomization factor applied to each delay, 0 disables it.
	Jitter float64 `yaml:"jitter"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    8 * time.Second,
		MaxAttempts: 4,
		Jitter:      0.2,
	}
}

// Normalize fills zero fields from DefaultPolicy.
func (p Policy) Normalize() Policy {
	def := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = def.Jitter
	}
	return p
}

// Delay returns the nominal wait before attempt n+1 (n starts at 1), without jitter.
func (p Policy) Delay(n int) time.Duration {
	p = p.Normalize()
	delay := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(delay)
}

func (p Policy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// Permanent marks err so that Do returns it without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Retryable reports whether err is worth another attempt. Coded errors decide by their code,
// context errors never retry, and anything else is treated as a transport failure.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *backoff.PermanentError
	if stderrors.As(err, &perm) {
		return false
	}
	var e *pkgerrors.Error
	if stderrors.As(err, &e) {
		return e.Code.Retryable()
	}
	return true
}

// Do runs op until it succeeds, fails permanently, the attempts run out or ctx ends.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations returning a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.Normalize()
	attempts := 0
	var last error

	operation := func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		last = err
		if !Retryable(err) {
			var perm *backoff.PermanentError
			if stderrors.As(err, &perm) {
				return v, err
			}
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn(ctx, "judge request failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	v, err := backoff.RetryNotifyWithData(operation, p.newBackOff(ctx), notify)
	if err == nil {
		return v, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		code := pkgerrors.Canceled
		if stderrors.Is(ctxErr, context.DeadlineExceeded) {
			code = pkgerrors.Timeout
		}
		wrapped := pkgerrors.Wrapf(ctxErr, code, "%s after %d attempt(s)", code.Message(), attempts)
		if last != nil {
			wrapped.WithDetail("last_error", last.Error())
		}
		return v, wrapped
	}

	if !Retryable(last) {
		return v, err
	}
	return v, exhausted(last, attempts)
}

func exhausted(last error, attempts int) error {
	out := pkgerrors.Wrapf(last, pkgerrors.RetryExhausted, "gave up after %d attempt(s): %v", attempts, last)
	out.WithDetail(pkgerrors.DetailAttempt, attempts)
	var e *pkgerrors.Error
	if stderrors.As(last, &e) {
		for k, v := range e.Details {
			out.WithDefaultDetail(k, v)
		}
	}
	return out
}
