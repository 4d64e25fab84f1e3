package job

import "time"

// Options configures per-job behavior at Add time.
type Options struct {
	// Delay defers eligibility for processing. Must not be negative.
	Delay time.Duration

	// Timestamp is the instant the delay is measured from. The zero value
	// means "now" at Add time.
	Timestamp time.Time

	// MaxAttempts is the number of handler invocations before the job is
	// marked failed. Must be at least 1.
	MaxAttempts int

	// Timeout bounds a single handler invocation. Zero means no limit.
	Timeout time.Duration

	// RepeatSpec is a cron expression making the job repeatable.
	RepeatSpec string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 1,
	}
}

// Option is a functional option for Queue.Add.
type Option func(*Options)

// WithDelay defers the job by d from its reference timestamp.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithTimestamp sets the reference instant the delay is measured from.
// Jobs added with the same timestamp and delay share a due instant and
// promote in creation order.
func WithTimestamp(t time.Time) Option {
	return func(o *Options) { o.Timestamp = t }
}

// WithMaxAttempts sets how many handler invocations the job gets before
// it is marked failed.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithTimeout bounds a single handler invocation.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRepeat makes the job repeatable on the given cron expression.
// Standard 5-field expressions and descriptors like "@every 30s" are
// accepted.
func WithRepeat(expr string) Option {
	return func(o *Options) { o.RepeatSpec = expr }
}
