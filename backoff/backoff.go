// Package backoff provides pluggable retry delay strategies for failed
// job attempts. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed: attempt 1
// is the first retry after the initial failure).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Fixed always returns the same delay.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed backoff strategy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// Exponential starts at Initial and doubles on every further attempt.
// A Max of zero leaves the growth uncapped.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay doubles Initial attempt-1 times, stopping at Max once set.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := e.Initial
	for i := 1; i < attempt; i++ {
		next := d * 2
		if e.Max > 0 && next >= e.Max {
			return e.Max
		}
		if next < d { // wrapped past the int64 range
			return d
		}
		d = next
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ExponentialJitter spreads retries of jobs that failed together: the
// exponential curve only sets a ceiling, and each attempt draws a
// uniformly random delay underneath it.
type ExponentialJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialJitter creates an exponential backoff with full jitter.
func NewExponentialJitter(initial, maxDelay time.Duration) *ExponentialJitter {
	return &ExponentialJitter{Initial: initial, Max: maxDelay}
}

// Delay draws uniformly from [0, ceiling), where the ceiling follows
// the same doubling-and-cap rule as Exponential.
func (e *ExponentialJitter) Delay(attempt int) time.Duration {
	ceiling := (&Exponential{Initial: e.Initial, Max: e.Max}).Delay(attempt)
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling))) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// Default returns the strategy workers use when none is configured:
// exponential with full jitter, 1s initial, 1m max.
func Default() Strategy {
	return NewExponentialJitter(1*time.Second, 1*time.Minute)
}
