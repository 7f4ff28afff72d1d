// Package retry runs an operation with bounded exponential backoff, letting the
// error classifier decide which failures are worth another attempt.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/davidbz/lessonlab/internal/apierror"
	"github.com/davidbz/lessonlab/internal/observability"
)

// Policy bounds the retry loop. MaxRetries counts retries after the first
// attempt, so an operation runs at most MaxRetries+1 times.
type Policy struct {
	MaxRetries        int           `env:"RETRY_MAX_RETRIES"        envDefault:"3"`
	InitialDelay      time.Duration `env:"RETRY_INITIAL_DELAY"      envDefault:"1s"`
	BackoffMultiplier float64       `env:"RETRY_BACKOFF_MULTIPLIER" envDefault:"2"`
}

// DefaultPolicy returns 3 retries starting at one second and doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
	}
}

// Delay returns the wait before retry n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(multiplier, float64(n-1)))
}

// Attempt describes a scheduled retry.
type Attempt struct {
	Number int // retry number, 1-based
	Delay  time.Duration
	Err    *apierror.APIError
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customises a single Do call.
type Option func(*options)

type options struct {
	sleep  SleepFunc
	notify func(Attempt)
}

// WithSleep replaces the backoff wait. Tests use it to avoid real delays.
func WithSleep(sleep SleepFunc) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// WithNotify registers a callback invoked before every backoff wait.
func WithNotify(notify func(Attempt)) Option {
	return func(o *options) {
		o.notify = notify
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the retry
// budget is spent. Every returned error is an *apierror.APIError.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}

	logger := observability.FromContext(ctx)

	var zero T
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, apierror.Classify(causeOf(ctx))
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		classified := apierror.Classify(err)
		if !classified.Retryable || apierror.IsPermanent(err) || attempt >= policy.MaxRetries {
			return zero, classified
		}

		next := Attempt{
			Number: attempt + 1,
			Delay:  policy.Delay(attempt + 1),
			Err:    classified,
		}

		logger.Warn("retrying after failure",
			observability.Int("retry", next.Number),
			observability.Int("max_retries", policy.MaxRetries),
			observability.Duration("delay", next.Delay),
			observability.String("kind", string(classified.Kind)),
			observability.Error(err),
		)

		if o.notify != nil {
			o.notify(next)
		}

		if sleepErr := o.sleep(ctx, next.Delay); sleepErr != nil {
			return zero, apierror.Classify(sleepErr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return causeOf(ctx)
	case <-timer.C:
		return nil
	}
}

// causeOf prefers the cancellation cause so timeouts and aborts stay distinguishable.
func causeOf(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
