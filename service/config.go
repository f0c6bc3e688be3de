package service

import (
	"context"
	"strconv"

	aerr "github.com/vinayprograms/admitkit/errors"
	"github.com/vinayprograms/admitkit/ratelimit"
)

// Executor performs the work for one request. It must honor ctx: a
// cancelled ctx means the run is being force-stopped.
type Executor func(ctx context.Context, payload any) (any, error)

// QueueFullPolicy decides what Submit does when the queue is at max depth.
type QueueFullPolicy string

const (
	// PolicyFailFast rejects the submission with a QUEUE_FULL error.
	PolicyFailFast QueueFullPolicy = "fail-fast"

	// PolicyBlock suspends the submitter until space frees up.
	PolicyBlock QueueFullPolicy = "block"
)

// DefaultMaxQueueDepth is used when MaxQueueDepth is left at zero.
const DefaultMaxQueueDepth = 1000

// Config configures a Service.
type Config struct {
	Limiter         ratelimit.Config `json:"limiter" yaml:"limiter" toml:"limiter"`
	MaxQueueDepth   int              `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	WorkerCount     int              `json:"worker_count" yaml:"worker_count" toml:"worker_count"`
	QueueFullPolicy QueueFullPolicy  `json:"queue_full_policy" yaml:"queue_full_policy" toml:"queue_full_policy"`
}

// DefaultConfig returns a single-worker, fail-fast service using the
// default LLM limiter.
func DefaultConfig() Config {
	return Config{
		Limiter:         ratelimit.DefaultConfig(),
		MaxQueueDepth:   DefaultMaxQueueDepth,
		WorkerCount:     1,
		QueueFullPolicy: PolicyFailFast,
	}
}

// withDefaults fills zero-valued optional fields.
func (c Config) withDefaults() Config {
	if c.MaxQueueDepth == 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = 1
	}
	if c.QueueFullPolicy == "" {
		c.QueueFullPolicy = PolicyFailFast
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if err := c.Limiter.Validate(); err != nil {
		return err
	}
	if c.MaxQueueDepth < 1 {
		return aerr.New(aerr.CodeConfiguration, "max queue depth must be positive",
			aerr.WithMetadata("max_queue_depth", strconv.Itoa(c.MaxQueueDepth)))
	}
	if c.WorkerCount < 1 {
		return aerr.New(aerr.CodeConfiguration, "worker count must be positive",
			aerr.WithMetadata("worker_count", strconv.Itoa(c.WorkerCount)))
	}
	switch c.QueueFullPolicy {
	case PolicyFailFast, PolicyBlock:
	default:
		return aerr.New(aerr.CodeConfiguration, "unknown queue full policy",
			aerr.WithMetadata("queue_full_policy", string(c.QueueFullPolicy)))
	}
	return nil
}
