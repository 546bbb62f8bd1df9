package reconcile

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Config struct {
	MaxAttempts    int           `env:"SYNC_MAX_ATTEMPTS" default:"3"`
	InitialBackoff time.Duration `env:"SYNC_INITIAL_BACKOFF" default:"500ms"`
	Multiplier     float64       `env:"SYNC_BACKOFF_MULTIPLIER" default:"4"`
	MaxBackoff     time.Duration `env:"SYNC_MAX_BACKOFF" default:"8s"`
	AttemptTimeout time.Duration `env:"SYNC_ATTEMPT_TIMEOUT" default:"5s"`
}

// DefaultConfig waits 500ms then 2s between three attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		Multiplier:     4,
		MaxBackoff:     8 * time.Second,
		AttemptTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}

	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}

	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}

	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}

	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}

	return c
}

// policy builds a deterministic (jitter-free) schedule bounded to
// MaxAttempts total attempts.
func (c Config) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.Multiplier = c.Multiplier
	b.MaxInterval = c.MaxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	return backoff.WithMaxRetries(b, uint64(c.MaxAttempts-1))
}
