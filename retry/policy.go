package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes an exponential backoff with optional jitter.
// It is immutable after construction.
type Policy struct {
	Initial    time.Duration // delay before the first retry
	Multiplier float64       // growth factor between retries
	Max        time.Duration // cap for growth
	MaxRetries int           // retries after the first failure
	Jitter     bool          // randomize each delay by up to 50%
}

// DefaultPolicy starts at 10ms, multiplies by ten up to 13s, and gives up
// after ten retries.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    10 * time.Millisecond,
		Multiplier: 10,
		Max:        13 * time.Second,
		MaxRetries: 10,
		Jitter:     true,
	}
}

// NewPolicy builds a policy from raw config fields; zero values fall back to
// the defaults.
func NewPolicy(initial time.Duration, multiplier float64, maxDelay time.Duration, maxRetries int, jitter bool) Policy {
	p := DefaultPolicy()
	if initial > 0 {
		p.Initial = initial
	}
	if multiplier >= 1 {
		p.Multiplier = multiplier
	}
	if maxDelay > 0 {
		p.Max = maxDelay
	}
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	p.Jitter = jitter
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// BackOff returns a fresh backoff for one Do call. It stops after
// MaxRetries retries or once ctx is done.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.Max
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	if p.Jitter {
		b.RandomizationFactor = backoff.DefaultRandomizationFactor
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.MaxRetries, 0))), ctx)
}

// Validate ensures the policy can be applied.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial delay must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max delay must be >0")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >=1, got %v", p.Multiplier)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}
