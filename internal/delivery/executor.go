// Package delivery runs outbound side effects (gateway calls, emails, pushes) with a
// bounded number of attempts and a constant pause between them.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted matches every *ExhaustedError.
var ErrExhausted = errors.New("delivery attempts exhausted")

// ExhaustedError is returned when every attempt failed. Last holds the final failure.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Action performs one delivery attempt.
type Action func(ctx context.Context) error

// AttemptHook observes the outcome of a single attempt. attempt starts at 1.
type AttemptHook func(attempt int, err error)

// Option customizes an Executor.
type Option func(*Executor)

// WithSleep replaces the inter-attempt wait (tests).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithTracker registers a callback that brackets every attempt, e.g. a metrics span.
func WithTracker(track func(op string) func(error)) Option {
	return func(e *Executor) {
		e.track = track
	}
}

// Executor retries an Action up to MaxAttempts times with a constant delay.
type Executor struct {
	maxAttempts    int
	delay          time.Duration
	attemptTimeout time.Duration
	sleep          func(context.Context, time.Duration) error
	track          func(op string) func(error)
}

// NewExecutor constructs an Executor from cfg, clamping MaxAttempts to at least one.
func NewExecutor(cfg Config, opts ...Option) *Executor {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	e := &Executor{
		maxAttempts:    attempts,
		delay:          cfg.Delay,
		attemptTimeout: cfg.AttemptTimeout,
		sleep:          sleepWithContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxAttempts reports the configured attempt bound.
func (e *Executor) MaxAttempts() int { return e.maxAttempts }

// Do invokes fn until it succeeds or the attempt bound is reached, returning the number
// of invocations. Exhaustion yields *ExhaustedError; an error wrapped with Permanent
// stops immediately; a done ctx stops before the next attempt.
func (e *Executor) Do(ctx context.Context, op string, fn Action, hooks ...AttemptHook) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var last error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := e.invoke(ctx, op, fn)
		for _, hook := range hooks {
			if hook != nil {
				hook(attempt, err)
			}
		}
		if err == nil {
			return attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return attempt, perm.err
		}
		last = err

		if attempt == e.maxAttempts {
			break
		}
		if e.delay > 0 {
			if err := e.sleep(ctx, e.delay); err != nil {
				return attempt, err
			}
		}
	}

	return e.maxAttempts, &ExhaustedError{Op: op, Attempts: e.maxAttempts, Last: last}
}

func (e *Executor) invoke(ctx context.Context, op string, fn Action) error {
	attemptCtx := ctx
	if e.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.attemptTimeout)
		defer cancel()
	}

	done := func(error) {}
	if e.track != nil {
		done = e.track(op)
	}
	err := fn(attemptCtx)
	done(err)
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
