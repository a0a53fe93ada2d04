// Package task holds queue-side domain policy: how retries are spaced and
// when a task's attempt budget is spent.
package task

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidBase indicates the configured base delay is not positive.
var ErrInvalidBase = errors.New("base delay must be positive")

// RetryPolicy computes backoff delays for failed task attempts.
// Delay(n) = Base * Factor^(n-1), capped at Max. Attempt 1 is the first
// retry after the initial failure.
type RetryPolicy struct {
	base        time.Duration
	factor      float64
	maxDelay    time.Duration
	maxAttempts int
}

// RetryPolicyOptions configures a RetryPolicy.
type RetryPolicyOptions struct {
	Base        time.Duration // required, > 0
	Factor      float64       // defaults to 2
	MaxDelay    time.Duration // optional cap; 0 means uncapped
	MaxAttempts int           // defaults to 5
}

// NewRetryPolicy constructs a RetryPolicy with the provided options.
func NewRetryPolicy(opts RetryPolicyOptions) (*RetryPolicy, error) {
	if opts.Base <= 0 {
		return nil, ErrInvalidBase
	}
	factor := opts.Factor
	if factor <= 1 {
		factor = 2
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RetryPolicy{
		base:        opts.Base,
		factor:      factor,
		maxDelay:    opts.MaxDelay,
		maxAttempts: maxAttempts,
	}, nil
}

// Default returns the policy used when configuration does not override it:
// base 1s, factor 2, max 5 attempts, delay capped at 60s.
func Default() *RetryPolicy {
	p, err := NewRetryPolicy(RetryPolicyOptions{
		Base:        time.Second,
		Factor:      2,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 5,
	})
	if err != nil {
		panic(err) // unreachable with constant options
	}
	return p
}

// MaxAttempts returns the attempt budget.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Delay returns how long to wait before retry attempt n (1-indexed).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.base) * math.Pow(p.factor, float64(attempt-1)))
	if d < p.base {
		// overflow for absurd attempt counts
		d = p.maxDelay
	}
	if p.maxDelay > 0 && d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}

// Exhausted reports whether a task that has now failed attempt number
// attempts has spent its budget and must be dead-lettered.
func (p *RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.maxAttempts
}
