// Package retry provides an explicit retry policy with exponential backoff
// and context-cancellable sleeps.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy configures retry behavior. The zero value is not usable; call
// DefaultPolicy or fill every field.
type Policy struct {
	MaxAttempts  int           // total attempts including the first (min 1)
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // backoff cap
	Multiplier   float64       // exponential growth factor
	Jitter       bool          // ±25% random jitter to avoid retry storms
	OnRetry      func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy matches the agent start retry contract: up to 3 attempts
// with delays of min(30s, 2^attempt).
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

// Retryer executes functions under a retry policy.
type Retryer interface {
	// Do executes fn, retrying per policy. The backoff sleep is cancelled
	// when ctx is done.
	Do(ctx context.Context, fn func() error) error
}

type backoffRetryer struct {
	policy *Policy
	logger *zap.Logger
}

// NewRetryer creates an exponential-backoff retryer. A nil policy uses
// DefaultPolicy; invalid fields are clamped to usable values.
func NewRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: policy, logger: logger}
}

func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.delay(attempt)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}

		if !isRetryable(lastErr) {
			r.logger.Debug("error not retryable", zap.Error(lastErr))
			return lastErr
		}
	}

	r.logger.Warn("retry attempts exhausted",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return fmt.Errorf("failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

// delay computes the backoff before the given attempt (attempt >= 2):
// initial * multiplier^(attempt-2), capped at MaxDelay.
func (r *backoffRetryer) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-2))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := d * 0.25
		d = d + (rand.Float64()*2-1)*jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Permanent wraps an error so the retryer gives up immediately.
type Permanent struct {
	Err error
}

func (e *Permanent) Error() string { return e.Err.Error() }

func (e *Permanent) Unwrap() error { return e.Err }

// MarkPermanent wraps err as non-retryable.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

func isRetryable(err error) bool {
	var perm *Permanent
	return !errors.As(err, &perm)
}
