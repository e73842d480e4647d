// Package retry runs fallible operations with bounded exponential backoff.
//
// The executor knows nothing about the work it retries. Callers that must stop
// retrying once an outside condition holds (for example, the HTTP response has
// already been written) pass a Signal; it is consulted before every attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mihaimyh/toxbook/pkg/logging"
)

var (
	// ErrCanceled is returned when the Signal reports done or the context ends
	// before the operation succeeded.
	ErrCanceled = errors.New("retry canceled")

	// ErrInvalidPolicy is returned for a MaxRetries outside [0, MaxRetriesLimit]
	// or a non-positive BaseDelay.
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

// MaxRetriesLimit is the largest MaxRetries a Policy accepts.
const MaxRetriesLimit = 30

// Policy bounds the executor. Total invocations never exceed MaxRetries+1.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt (0..MaxRetriesLimit).
	MaxRetries int

	// BaseDelay is the unit of the backoff schedule (> 0).
	BaseDelay time.Duration
}

// DefaultPolicy returns the policy used for identity-provider mutations.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 || p.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("%w: max retries %d", ErrInvalidPolicy, p.MaxRetries)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("%w: base delay %s", ErrInvalidPolicy, p.BaseDelay)
	}
	return nil
}

// Delay returns the wait after the given number of failed attempts.
// After failure f the executor waits BaseDelay * 2^f, so the wait before
// overall attempt n (n >= 2) is BaseDelay * 2^(n-1). The result saturates at
// the largest time.Duration instead of overflowing.
func (p Policy) Delay(failures int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < failures; i++ {
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	return d
}

// Signal reports whether the caller has already concluded and further
// attempts would be wasted.
type Signal interface {
	Done() bool
}

// SignalFunc adapts a function to Signal.
type SignalFunc func() bool

// Done implements Signal.
func (f SignalFunc) Done() bool { return f() }

// Operation is a retryable unit of work.
type Operation[T any] func(ctx context.Context) (T, error)

type options struct {
	signal  Signal
	sleep   func(ctx context.Context, d time.Duration) error
	logger  logging.Logger
	onRetry func(attempt int, delay time.Duration, err error)
}

// Option configures a single Do call.
type Option func(*options)

// WithSignal sets the cancellation signal checked before every attempt.
func WithSignal(s Signal) Option {
	return func(o *options) {
		o.signal = s
	}
}

// WithSleep overrides how the executor waits between attempts.
// Intended for tests that must not sleep for real.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.sleep = fn
	}
}

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// OnRetry registers a hook invoked after a failed attempt that will be retried.
// attempt is the 1-based number of the attempt that just failed.
func OnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do invokes op until it succeeds, the retry budget is spent, or the caller
// cancels. On exhaustion the last error from op is returned unchanged.
func Do[T any](ctx context.Context, name string, policy Policy, op Operation[T], opts ...Option) (T, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, err
	}

	o := options{sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNoop(o.logger)

	var lastErr error
	failures := 0
	for {
		if canceled(ctx, o.signal) {
			logger.Debug("retry canceled before attempt",
				logging.F("operation", name),
				logging.F("attempt", failures+1),
			)
			return zero, canceledErr(ctx, lastErr)
		}

		result, err := op(ctx)
		if err == nil {
			if failures > 0 {
				logger.Info("operation succeeded after retry",
					logging.F("operation", name),
					logging.F("attempts", failures+1),
				)
			}
			return result, nil
		}

		lastErr = err
		failures++
		if failures > policy.MaxRetries {
			logger.Warn("retry budget exhausted",
				logging.F("operation", name),
				logging.F("attempts", failures),
				logging.F("error", err),
			)
			return zero, err
		}

		delay := policy.Delay(failures)
		logger.Debug("operation failed, backing off",
			logging.F("operation", name),
			logging.F("attempt", failures),
			logging.F("delay", delay.String()),
			logging.F("error", err),
		)
		if o.onRetry != nil {
			o.onRetry(failures, delay, err)
		}

		if err := o.sleep(ctx, delay); err != nil {
			return zero, canceledErr(ctx, lastErr)
		}
	}
}

func canceled(ctx context.Context, s Signal) bool {
	if ctx.Err() != nil {
		return true
	}
	return s != nil && s.Done()
}

// canceledErr keeps the context's error, so a deadline stays visible to
// errors.Is alongside the last failure.
func canceledErr(ctx context.Context, last error) error {
	cause := ctx.Err()
	switch {
	case cause != nil && last != nil:
		return fmt.Errorf("%w: %w: %w", ErrCanceled, cause, last)
	case cause != nil:
		return fmt.Errorf("%w: %w", ErrCanceled, cause)
	case last != nil:
		return fmt.Errorf("%w: %w", ErrCanceled, last)
	default:
		return ErrCanceled
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
