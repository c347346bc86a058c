package engine

import "time"

// Config controls engine-wide behavior: observability, stats sharding and
// audit buffering. It also carries mutation-retry settings, which the
// engine itself does not read.
//
// Config follows the config package convention: built once (Default + Merge from JSON
// or flags), then handed to New, which turns it into a running Engine.
type Config struct {
	// Observer names a registered observability.Observer ("noop", "slog").
	Observer string `json:"observer"`

	// StatsShardCount is the default number of shards a task's stats
	// counters are hash-partitioned across when a task definition does not
	// specify its own. Higher values reduce write contention on hot tasks
	// at the cost of more expensive aggregate reads.
	StatsShardCount int `json:"stats_shard_count"`

	// AuditBufferSize bounds how many spans the audit bridge buffers in
	// memory before a mutation boundary flush forces a write.
	AuditBufferSize int `json:"audit_buffer_size"`

	// MaxMutationRetries is a retry count for host mutations that hit an
	// optimistic-concurrency conflict. The engine has no retry loop and does
	// not read it; it is carried for the host's own use.
	MaxMutationRetries int `json:"max_mutation_retries"`

	// MutationRetryBackoff is a base delay between such retries; like
	// MaxMutationRetries it is not read by the engine.
	MutationRetryBackoff time.Duration `json:"mutation_retry_backoff"`
}

// DefaultConfig returns sensible defaults: "slog" observer, 8-way stats
// sharding, a small audit buffer, and a handful of OCC retries.
func DefaultConfig() Config {
	return Config{
		Observer:             "slog",
		StatsShardCount:      8,
		AuditBufferSize:      64,
		MaxMutationRetries:   5,
		MutationRetryBackoff: 10 * time.Millisecond,
	}
}

func (c *Config) Merge(source *Config) {
	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.StatsShardCount > 0 {
		c.StatsShardCount = source.StatsShardCount
	}
	if source.AuditBufferSize > 0 {
		c.AuditBufferSize = source.AuditBufferSize
	}
	if source.MaxMutationRetries > 0 {
		c.MaxMutationRetries = source.MaxMutationRetries
	}
	if source.MutationRetryBackoff > 0 {
		c.MutationRetryBackoff = source.MutationRetryBackoff
	}
}
