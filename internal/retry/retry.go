// Package retry implements the gateway's bounded exponential-backoff retry
// driver (C2). It is opaque to the nature of a failure: the caller decides,
// via the Classifier it supplies, whether a given outcome is worth another
// attempt.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy configures a Driver's backoff schedule.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// DefaultPolicy matches the orchestrator's default per spec.md §4.7.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Factor:       2,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Factor <= 1 {
		p.Factor = 2
	}
	return p
}

// Driver executes a function with bounded exponential backoff between
// attempts.
type Driver struct {
	policy Policy
	logger *zap.Logger
}

// New creates a retry Driver. Zero delays and a Factor <= 1 are replaced by
// DefaultPolicy's values; a MaxAttempts below 1 becomes 1 (a single
// attempt, no retries).
func New(policy Policy, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{policy: policy.normalized(), logger: logger}
}

// Classifier inspects an attempt's outcome and decides whether the driver
// should retry. It returns (retry, describeErr): describeErr is the text
// folded into the final wrapped error if no attempt succeeds.
type Classifier[T any] func(result T, err error) (retry bool, describeErr string)

// Do runs fn up to policy.MaxAttempts times (1-indexed attempts). Between
// attempt i and i+1 it sleeps min(initialDelay*factor^(i-1), maxDelay). A
// non-retryable outcome (per classify) stops immediately without consuming
// the remaining budget. The final attempt's failure is wrapped with a
// message naming the attempt count and the last error text.
func Do[T any](ctx context.Context, d *Driver, fn func(ctx context.Context) (T, error), classify Classifier[T]) (T, error) {
	var zero T
	var lastResult T
	var lastErr error
	var lastDesc string

	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := d.delayFor(attempt - 1)
			d.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("retry canceled after %d attempt(s): %w", attempt-1, ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := fn(ctx)
		lastResult, lastErr = result, err

		retry, desc := classify(result, err)
		lastDesc = desc

		if !retry {
			if err != nil {
				return zero, err
			}
			return result, nil
		}

		if attempt >= d.policy.MaxAttempts {
			break
		}
	}

	if lastDesc == "" {
		lastDesc = fmt.Sprintf("%v", lastErr)
	}
	_ = lastResult
	return zero, fmt.Errorf("failed after %d attempt(s): %s", d.policy.MaxAttempts, lastDesc)
}

func (d *Driver) delayFor(attempt int) time.Duration {
	delay := float64(d.policy.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= d.policy.Factor
		if delay > float64(d.policy.MaxDelay) {
			delay = float64(d.policy.MaxDelay)
			break
		}
	}
	if delay > float64(d.policy.MaxDelay) {
		delay = float64(d.policy.MaxDelay)
	}
	return time.Duration(delay)
}
