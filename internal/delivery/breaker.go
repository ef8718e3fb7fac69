package delivery

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the payment gateway while the breaker
// is open. The executor counts it as a failed attempt.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the position of a CircuitBreaker. The values double as metric labels.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const defaultBreakerCooldown = 30 * time.Second

type CircuitBreakerConfig struct {
	// MaxFailures is the run of consecutive failures that opens the breaker.
	MaxFailures int
	// ResetTimeout is the cooldown before one trial call is let through.
	ResetTimeout time.Duration
	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(from, to BreakerState)
	Now           func() time.Time
}

// CircuitBreaker stops refund dispatch from hammering a payment gateway that keeps
// failing. While open, calls fail fast with ErrCircuitOpen; after the cooldown a
// single trial call decides whether it closes again.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	state    BreakerState
	failures int
	openedAt time.Time
	trial    bool
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultBreakerCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed}
}

type transition struct {
	from, to BreakerState
}

// Execute runs fn unless the breaker is open. A nil breaker always runs fn.
func (c *CircuitBreaker) Execute(fn func() error) error {
	if c == nil {
		return fn()
	}
	now := c.cfg.Now()

	admitted, moved := c.admit(now)
	c.report(moved)
	if !admitted {
		return ErrCircuitOpen
	}

	err := fn()
	c.report(c.settle(now, err))
	return err
}

// admit decides whether a call may proceed. An expired cooldown moves the breaker
// to half-open and admits exactly one trial.
func (c *CircuitBreaker) admit(now time.Time) (bool, *transition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var moved *transition
	if c.state == BreakerOpen {
		if now.Sub(c.openedAt) < c.cfg.ResetTimeout {
			return false, nil
		}
		moved = c.moveTo(BreakerHalfOpen)
	}
	if c.state == BreakerHalfOpen {
		if c.trial {
			return false, moved
		}
		c.trial = true
	}
	return true, moved
}

func (c *CircuitBreaker) settle(now time.Time, err error) *transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	halfOpen := c.state == BreakerHalfOpen
	if halfOpen {
		c.trial = false
	}
	if err == nil {
		c.failures = 0
		return c.moveTo(BreakerClosed)
	}

	c.failures++
	if halfOpen || c.failures >= c.cfg.MaxFailures {
		c.failures = 0
		c.openedAt = now
		return c.moveTo(BreakerOpen)
	}
	return nil
}

// moveTo must be called with mu held. It returns nil when the state is unchanged.
func (c *CircuitBreaker) moveTo(to BreakerState) *transition {
	if c.state == to {
		return nil
	}
	t := &transition{from: c.state, to: to}
	c.state = to
	return t
}

func (c *CircuitBreaker) report(t *transition) {
	if t == nil || c.cfg.OnStateChange == nil {
		return
	}
	c.cfg.OnStateChange(t.from, t.to)
}

// State reports the recorded position. An open breaker whose cooldown has passed
// still reads open until the next call is admitted as a trial.
func (c *CircuitBreaker) State() BreakerState {
	if c == nil {
		return BreakerClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open reports whether the breaker currently rejects calls.
func (c *CircuitBreaker) Open() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == BreakerOpen && c.cfg.Now().Sub(c.openedAt) < c.cfg.ResetTimeout
}
