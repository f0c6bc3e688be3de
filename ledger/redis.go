package ledger

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisExporter mirrors ledger state into Redis hashes so dashboards outside
// the process can follow a run:
//
//	<prefix>:resources       resource -> total
//	<prefix>:usage:<label>   <model>:<event>:<field> -> count, cost -> price
//	<prefix>:meta            total_cost, total_time_seconds, updated_at
type RedisExporter struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisExporter.
type RedisOption func(*RedisExporter)

// WithRedisPrefix sets the key prefix. Default "admitkit:ledger".
func WithRedisPrefix(prefix string) RedisOption {
	return func(e *RedisExporter) {
		e.prefix = strings.Trim(prefix, ":")
	}
}

// WithRedisTTL expires exported keys after d. Zero keeps them forever.
func WithRedisTTL(d time.Duration) RedisOption {
	return func(e *RedisExporter) { e.ttl = d }
}

// NewRedisExporter creates an exporter writing through rdb.
func NewRedisExporter(rdb *redis.Client, opts ...RedisOption) *RedisExporter {
	e := &RedisExporter{
		rdb:    rdb,
		prefix: "admitkit:ledger",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes the current state of l in a single pipeline.
// A nil exporter or client is a no-op.
func (e *RedisExporter) Export(ctx context.Context, l *Ledger) error {
	if e == nil || e.rdb == nil || l == nil {
		return nil
	}

	doc := l.Document()
	pipe := e.rdb.Pipeline()

	resourcesKey := e.prefix + ":resources"
	if len(doc.Resources) > 0 {
		values := make(map[string]interface{}, len(doc.Resources))
		for resource, total := range doc.Resources {
			values[resource] = strconv.FormatFloat(total, 'f', -1, 64)
		}
		pipe.HSet(ctx, resourcesKey, values)
		e.expire(ctx, pipe, resourcesKey)
	}

	for label, tracker := range doc.Usage.Labels {
		usageKey := e.prefix + ":usage:" + label
		values := map[string]interface{}{
			"cost": strconv.FormatFloat(doc.Cost[label], 'f', -1, 64),
		}
		for model, events := range tracker.Models {
			for event, u := range events {
				field := model + ":" + event + ":"
				values[field+"requests"] = u.Requests
				values[field+"prompt_tokens"] = u.PromptTokens
				values[field+"response_tokens"] = u.ResponseTokens
			}
		}
		pipe.HSet(ctx, usageKey, values)
		e.expire(ctx, pipe, usageKey)
	}

	metaKey := e.prefix + ":meta"
	pipe.HSet(ctx, metaKey, map[string]interface{}{
		"total_cost":         strconv.FormatFloat(doc.TotalCost, 'f', -1, 64),
		"total_time_seconds": strconv.FormatFloat(doc.TotalTimeSeconds, 'f', 3, 64),
		"updated_at":         time.Now().UTC().Format(time.RFC3339),
	})
	e.expire(ctx, pipe, metaKey)

	_, err := pipe.Exec(ctx)
	return err
}

func (e *RedisExporter) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if e.ttl > 0 {
		pipe.Expire(ctx, key, e.ttl)
	}
}
