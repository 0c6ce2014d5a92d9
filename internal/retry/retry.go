package retry

import (
	"context"
	"time"
)

// Policy configures a bounded retry loop. Attempts counts the first call.
type Policy struct {
	Attempts   int
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// OnRetry, if set, is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error)
}

// Fixed returns a fixed-delay policy.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay, Multiplier: 1}
}

// GiveUp reports whether an error must not be retried.
type GiveUp func(err error) bool

// Never retries every error until attempts run out.
func Never(error) bool { return false }

// Do runs fn until it succeeds, giveUp accepts its error, attempts are
// exhausted, or ctx is done. The last error is returned.
func Do(ctx context.Context, policy Policy, giveUp GiveUp, fn func(ctx context.Context, attempt int) error) error {
	_, err := Value(ctx, policy, giveUp, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

func Value[T any](ctx context.Context, policy Policy, giveUp GiveUp, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if giveUp == nil {
		giveUp = Never
	}
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := policy.Delay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if giveUp(err) || attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * multiplier)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return zero, lastErr
}
