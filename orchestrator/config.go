package orchestrator

import (
	"time"

	aerr "github.com/vinayprograms/admitkit/errors"
	"github.com/vinayprograms/admitkit/gate"
	"github.com/vinayprograms/admitkit/service"
)

// DefaultShutdownGracePeriod is used when ShutdownGracePeriod is zero.
const DefaultShutdownGracePeriod = 30 * time.Second

// Config configures an Orchestrator.
type Config struct {
	// ShutdownGracePeriod bounds how long Run waits for queues to drain
	// and executions to finish before force-cancelling.
	ShutdownGracePeriod time.Duration `json:"shutdown_grace_period" yaml:"shutdown_grace_period" toml:"shutdown_grace_period"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{ShutdownGracePeriod: DefaultShutdownGracePeriod}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ShutdownGracePeriod < 0 {
		return aerr.Configuration("shutdown grace period must not be negative: %s", c.ShutdownGracePeriod)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ShutdownGracePeriod == 0 {
		c.ShutdownGracePeriod = DefaultShutdownGracePeriod
	}
	return c
}

// ServiceSpec describes one service owned by the orchestrator.
type ServiceSpec struct {
	Name     string
	Config   service.Config
	Executor service.Executor
}

// GateSpec describes one gate owned by the orchestrator.
type GateSpec struct {
	Name   string
	Config gate.Config
}
