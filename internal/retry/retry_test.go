package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxAttempts int) *Policy {
	return &Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryerSucceedsFirstAttempt(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryerRecoversAfterFailures(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryerExhaustsAttempts(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errors.New("always fails")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestRetryerPermanentErrorStopsImmediately(t *testing.T) {
	r := NewRetryer(fastPolicy(5), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return MarkPermanent(errors.New("bad config"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryerContextCancellation(t *testing.T) {
	p := &Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	r := NewRetryer(p, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func() error {
		calls++
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryerOnRetryCallback(t *testing.T) {
	p := fastPolicy(3)
	var attempts []int
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	r := NewRetryer(p, zap.NewNop())

	_ = r.Do(context.Background(), func() error {
		return errors.New("transient")
	})

	assert.Equal(t, []int{2, 3}, attempts)
}

func TestDelayCappedAtMax(t *testing.T) {
	p := &Policy{
		MaxAttempts:  10,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	r := NewRetryer(p, zap.NewNop()).(*backoffRetryer)

	assert.Equal(t, 2*time.Second, r.delay(2))
	assert.Equal(t, 4*time.Second, r.delay(3))
	assert.Equal(t, 8*time.Second, r.delay(4))
	assert.Equal(t, 30*time.Second, r.delay(7))
	assert.Equal(t, 30*time.Second, r.delay(9))
}
