package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep captures requested delays without sleeping.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), "op", Policy{MaxRetries: 3, BaseDelay: time.Millisecond},
		func(context.Context) (string, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryBound(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 2, 5} {
		sleeper := &recordingSleep{}
		failure := errors.New("identity provider unavailable")
		calls := 0

		_, err := Do(context.Background(), "add-members", Policy{MaxRetries: maxRetries, BaseDelay: 100 * time.Millisecond},
			func(context.Context) (struct{}, error) {
				calls++
				return struct{}{}, failure
			}, WithSleep(sleeper.sleep))

		assert.Equal(t, maxRetries+1, calls, "max retries %d", maxRetries)
		// The final failure is propagated unmodified.
		assert.Same(t, failure, err)
		assert.Len(t, sleeper.delays, maxRetries)
	}
}

func TestDo_BackoffSchedule(t *testing.T) {
	sleeper := &recordingSleep{}
	calls := 0

	_, err := Do(context.Background(), "op", Policy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			if calls < 4 {
				return 0, errors.New("transient")
			}
			return calls, nil
		}, WithSleep(sleeper.sleep))

	require.NoError(t, err)
	require.Len(t, sleeper.delays, 3)
	assert.Equal(t, 200*time.Millisecond, sleeper.delays[0])
	// Delay before the 3rd attempt is base * 2^2.
	assert.Equal(t, 400*time.Millisecond, sleeper.delays[1])
	assert.Equal(t, 800*time.Millisecond, sleeper.delays[2])
}

func TestDo_RealSleepHonoursSchedule(t *testing.T) {
	calls := 0
	var stamps []time.Time

	_, err := Do(context.Background(), "op", Policy{MaxRetries: 2, BaseDelay: 10 * time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			stamps = append(stamps, time.Now())
			return 0, errors.New("fail")
		})

	require.Error(t, err)
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 40*time.Millisecond)
}

func TestDo_SignalBeforeFirstAttempt(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "op", DefaultPolicy(),
		func(context.Context) (int, error) {
			calls++
			return 0, nil
		}, WithSignal(SignalFunc(func() bool { return true })))

	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, 0, calls)
}

func TestDo_SignalStopsFurtherAttempts(t *testing.T) {
	sleeper := &recordingSleep{}
	responded := false
	calls := 0
	failure := errors.New("fail")

	_, err := Do(context.Background(), "op", Policy{MaxRetries: 5, BaseDelay: time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			responded = true
			return 0, failure
		},
		WithSignal(SignalFunc(func() bool { return responded })),
		WithSleep(sleeper.sleep),
	)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, failure)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, "op", Policy{MaxRetries: 3, BaseDelay: time.Hour},
		func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, errors.New("fail")
		})

	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryHook(t *testing.T) {
	var attempts []int
	_, _ = Do(context.Background(), "op", Policy{MaxRetries: 2, BaseDelay: time.Millisecond},
		func(context.Context) (int, error) {
			return 0, errors.New("fail")
		},
		WithSleep((&recordingSleep{}).sleep),
		OnRetry(func(attempt int, _ time.Duration, _ error) {
			attempts = append(attempts, attempt)
		}),
	)

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "default", policy: DefaultPolicy()},
		{name: "zero retries", policy: Policy{MaxRetries: 0, BaseDelay: time.Millisecond}},
		{name: "negative retries", policy: Policy{MaxRetries: -1, BaseDelay: time.Millisecond}, wantErr: true},
		{name: "at limit", policy: Policy{MaxRetries: MaxRetriesLimit, BaseDelay: time.Millisecond}},
		{name: "above limit", policy: Policy{MaxRetries: MaxRetriesLimit + 1, BaseDelay: time.Millisecond}, wantErr: true},
		{name: "zero delay", policy: Policy{MaxRetries: 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPolicy)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDo_InvalidPolicyNeverInvokes(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "op", Policy{MaxRetries: -1, BaseDelay: time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			return 0, nil
		})

	assert.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Equal(t, 0, calls)
}

func TestPolicy_DelaySaturates(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 100*time.Millisecond, p.Delay(-1))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))

	prev := p.Delay(0)
	for f := 1; f <= 70; f++ {
		d := p.Delay(f)
		if d < prev {
			t.Fatalf("Delay(%d) = %s, below Delay(%d) = %s", f, d, f-1, prev)
		}
		prev = d
	}
	assert.Equal(t, time.Duration(math.MaxInt64), p.Delay(64))
}

func TestDo_DeadlineDuringBackoffKeepsCause(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	failure := errors.New("identity 503")

	_, err := Do(ctx, "op", Policy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond},
		func(context.Context) (int, error) {
			return 0, failure
		})

	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, failure)
}
