package delivery

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 5 * time.Second
)

// Config is the retry bound and the fixed wait between attempts.
// AttemptTimeout, when positive, caps each individual attempt.
type Config struct {
	MaxAttempts    int
	Delay          time.Duration
	AttemptTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultDelay,
	}
}

// LoadConfigFromEnv starts from DefaultConfig and applies DELIVERY_* overrides.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	attempts, err := parseOptionalInt("DELIVERY_MAX_ATTEMPTS")
	if err != nil {
		return cfg, err
	}
	if attempts != nil {
		if *attempts < 1 {
			return cfg, errors.New("DELIVERY_MAX_ATTEMPTS must be >= 1")
		}
		cfg.MaxAttempts = *attempts
	}

	delay, err := parseOptionalDuration("DELIVERY_DELAY")
	if err != nil {
		return cfg, err
	}
	if delay != nil {
		cfg.Delay = *delay
	}

	timeout, err := parseOptionalDuration("DELIVERY_ATTEMPT_TIMEOUT")
	if err != nil {
		return cfg, err
	}
	if timeout != nil {
		cfg.AttemptTimeout = *timeout
	}

	return cfg, nil
}

func parseOptionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, errors.New(name + " must be >= 0")
	}
	return &val, nil
}

func parseOptionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &val, nil
}
