package telemetry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy describes how indeterminate or transient poll results are
// retried. Sleep is injectable so tests run with zero delay.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries up to 3 times with a fixed delay.
func DefaultRetryPolicy(delay time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: delay}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryingAdapter wraps an Adapter with the retry policy. Authorization
// failures pass through immediately; transient failures and indeterminate
// samples are retried, and an exhausted budget surfaces ErrStateUnknown so the
// caller never closes a session on uncertainty.
type RetryingAdapter struct {
	inner  Adapter
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryingAdapter wraps inner with policy.
func NewRetryingAdapter(inner Adapter, policy RetryPolicy, logger *zap.Logger) *RetryingAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingAdapter{inner: inner, policy: policy, logger: logger}
}

// Poll implements Adapter.
func (a *RetryingAdapter) Poll(ctx context.Context, ref VehicleRef) (ChargeSample, error) {
	var lastSample ChargeSample
	attempts := a.policy.attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		sample, err := a.inner.Poll(ctx, ref)
		switch {
		case err == nil:
			if !sample.Indeterminate() {
				return sample, nil
			}
			lastSample = sample
			a.logger.Debug("indeterminate charge state, retrying",
				zap.String("vehicle_id", ref.VehicleID),
				zap.Int("attempt", attempt),
			)
		case errors.Is(err, ErrAuthorizationRevoked):
			return ChargeSample{}, err
		case IsTransient(err):
			a.logger.Debug("transient telemetry failure, retrying",
				zap.String("vehicle_id", ref.VehicleID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		default:
			return ChargeSample{}, err
		}

		if attempt < attempts {
			if err := a.policy.sleep(ctx, a.policy.Delay); err != nil {
				return ChargeSample{}, err
			}
		}
	}

	return lastSample, ErrStateUnknown
}
