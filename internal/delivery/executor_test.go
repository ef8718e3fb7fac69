package delivery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingSleep(delays *[]time.Duration) Option {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func TestExecutor_SucceedsFirstAttempt(t *testing.T) {
	var delays []time.Duration
	exec := NewExecutor(Config{MaxAttempts: 3, Delay: 5 * time.Second}, recordingSleep(&delays))

	calls := 0
	attempts, err := exec.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("expected 1 attempt, got attempts=%d calls=%d", attempts, calls)
	}
	if len(delays) != 0 {
		t.Fatalf("expected no delay, got %v", delays)
	}
}

func TestExecutor_RetriesWithFixedDelay(t *testing.T) {
	var delays []time.Duration
	exec := NewExecutor(Config{MaxAttempts: 3, Delay: 5 * time.Second}, recordingSleep(&delays))

	calls := 0
	attempts, err := exec.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
	if len(delays) != 2 || delays[0] != 5*time.Second || delays[1] != 5*time.Second {
		t.Fatalf("expected two constant 5s delays, got %v", delays)
	}
}

func TestExecutor_ExhaustedAfterMaxAttempts(t *testing.T) {
	var delays []time.Duration
	exec := NewExecutor(Config{MaxAttempts: 3, Delay: time.Second}, recordingSleep(&delays))

	last := errors.New("gateway timeout")
	calls := 0
	attempts, err := exec.Do(context.Background(), "refund.credit_card", func(context.Context) error {
		calls++
		return last
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if errors.Is(err, last) {
		t.Fatalf("exhausted error must not match the original error")
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T", err)
	}
	if exhausted.Last != last || exhausted.Attempts != 3 || exhausted.Op != "refund.credit_card" {
		t.Fatalf("unexpected exhausted error: %+v", exhausted)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 calls, got attempts=%d calls=%d", attempts, calls)
	}
	if len(delays) != 2 {
		t.Fatalf("expected no delay after the final attempt, got %v", delays)
	}
}

func TestExecutor_CallsNeverExceedBound(t *testing.T) {
	for max := 1; max <= 5; max++ {
		exec := NewExecutor(Config{MaxAttempts: max}, WithSleep(func(context.Context, time.Duration) error { return nil }))
		calls := 0
		_, _ = exec.Do(context.Background(), "op", func(context.Context) error {
			calls++
			return errors.New("fail")
		})
		if calls != max {
			t.Fatalf("max=%d: expected %d calls, got %d", max, max, calls)
		}
	}
}

func TestExecutor_ClampsZeroAttemptsToOne(t *testing.T) {
	exec := NewExecutor(Config{})
	calls := 0
	_, err := exec.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestExecutor_PermanentStopsImmediately(t *testing.T) {
	var delays []time.Duration
	exec := NewExecutor(Config{MaxAttempts: 3, Delay: time.Second}, recordingSleep(&delays))

	expected := errors.New("nope")
	calls := 0
	attempts, err := exec.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return Permanent(expected)
	})
	if err != expected {
		t.Fatalf("expected %v, got %v", expected, err)
	}
	if attempts != 1 || calls != 1 || len(delays) != 0 {
		t.Fatalf("expected a single attempt and no delay, got attempts=%d delays=%v", attempts, delays)
	}
}

func TestExecutor_HooksSeeEveryAttempt(t *testing.T) {
	exec := NewExecutor(Config{MaxAttempts: 3}, WithSleep(func(context.Context, time.Duration) error { return nil }))

	var seen []int
	var failures int
	calls := 0
	_, err := exec.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("fail")
		}
		return nil
	}, func(attempt int, err error) {
		seen = append(seen, attempt)
		if err != nil {
			failures++
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 || failures != 1 {
		t.Fatalf("unexpected hook calls: %v failures=%d", seen, failures)
	}
}

func TestExecutor_TrackerBracketsAttempts(t *testing.T) {
	started := 0
	var ended []error
	exec := NewExecutor(Config{MaxAttempts: 2},
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithTracker(func(op string) func(error) {
			started++
			return func(err error) { ended = append(ended, err) }
		}),
	)

	_, _ = exec.Do(context.Background(), "op", func(context.Context) error { return errors.New("fail") })
	if started != 2 || len(ended) != 2 {
		t.Fatalf("expected 2 tracked attempts, got started=%d ended=%d", started, len(ended))
	}
}

func TestExecutor_AttemptTimeoutAppliesPerAttempt(t *testing.T) {
	exec := NewExecutor(Config{MaxAttempts: 2, AttemptTimeout: 10 * time.Millisecond},
		WithSleep(func(context.Context, time.Duration) error { return nil }))

	calls := 0
	_, err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("expected attempt deadline")
		}
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected hung attempts to exhaust, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestExecutor_StopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := NewExecutor(Config{MaxAttempts: 3, Delay: time.Second}, WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	calls := 0
	_, err := exec.Do(ctx, "op", func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancel, got %d", calls)
	}
}

func TestSleepWithContext(t *testing.T) {
	if err := sleepWithContext(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepWithContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
