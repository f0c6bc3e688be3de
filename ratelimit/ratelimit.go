package ratelimit

import (
	"errors"
	"time"

	aerr "github.com/vinayprograms/admitkit/errors"
)

// Common errors.
var (
	ErrClosed          = errors.New("limiter closed")
	ErrInvalidCapacity = errors.New("invalid capacity")
	ErrInvalidRate     = errors.New("invalid refill rate")
	ErrInvalidCost     = errors.New("invalid cost")
)

// Config configures a Limiter.
type Config struct {
	// Capacity is the maximum budget the bucket can hold. The bucket starts full.
	Capacity float64 `json:"capacity" yaml:"capacity" toml:"capacity"`

	// RefillRate is the budget added per second, continuously.
	RefillRate float64 `json:"refill_rate" yaml:"refill_rate" toml:"refill_rate"`
}

// DefaultConfig returns the limits used for LLM calls when nothing else is
// configured: 4000 units, refilled at 4000 per minute.
func DefaultConfig() Config {
	return Config{
		Capacity:   4000,
		RefillRate: 4000.0 / 60,
	}
}

// Validate checks that the configuration can drive a limiter.
func (c Config) Validate() error {
	if !(c.Capacity > 0) {
		return aerr.New(aerr.CodeConfiguration,
			"limiter capacity must be positive",
			aerr.WithCause(ErrInvalidCapacity),
			aerr.WithMetadata("capacity", formatFloat(c.Capacity)))
	}
	if !(c.RefillRate > 0) {
		return aerr.New(aerr.CodeConfiguration,
			"limiter refill rate must be positive",
			aerr.WithCause(ErrInvalidRate),
			aerr.WithMetadata("refill_rate", formatFloat(c.RefillRate)))
	}
	return nil
}

// Capacity describes the budget state of a limiter at a point in time.
type Capacity struct {
	// Resource is the name of the rate-limited resource.
	Resource string

	// Available is the budget that could be taken right now.
	Available float64

	// Total is the bucket size.
	Total float64

	// RefillRate is the budget added per second.
	RefillRate float64

	// Waiting is the number of callers queued in Acquire.
	Waiting int
}

// TimeToFull returns how long the bucket needs to refill completely.
func (c Capacity) TimeToFull() time.Duration {
	if c.RefillRate <= 0 || c.Available >= c.Total {
		return 0
	}
	return durationFor(c.Total-c.Available, c.RefillRate)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source. Used by tests to control refill.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.nowFunc = now
		}
	}
}
