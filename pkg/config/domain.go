// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// RedisConfig configures the shared Redis instance backing the cache,
// checkpoint store, circuit-breaker state, and dead-letter queue.
type RedisConfig struct {
	// Addr is the host:port of the Redis instance.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`

	// Password for Redis AUTH; empty if unauthenticated.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// DB selects the logical Redis database.
	DB int `yaml:"db,omitempty" json:"db,omitempty"`

	// PoolSize bounds the number of connections the client keeps open.
	PoolSize int `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`
}

// SetDefaults applies default values.
func (c *RedisConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 20
	}
}

// Validate checks the Redis configuration.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("pool_size must be non-negative")
	}
	return nil
}

// ResearchConfig configures the Research Layer's internal retrieval,
// external retrieval caching, relevance filter, and deduplication.
type ResearchConfig struct {
	// InternalTopK is the number of internal matches retrieved per
	// vector query.
	InternalTopK int `yaml:"internal_top_k,omitempty" json:"internal_top_k,omitempty"`

	// SimilarityThreshold is the minimum vector similarity score kept
	// from internal retrieval.
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty" json:"similarity_threshold,omitempty"`

	// ExternalCacheTTLDays is how long an external query's payload is
	// cached before being considered stale.
	ExternalCacheTTLDays int `yaml:"external_cache_ttl_days,omitempty" json:"external_cache_ttl_days,omitempty"`

	// ExternalConcurrency bounds simultaneous external provider calls
	// via a semaphore.
	ExternalConcurrency int `yaml:"external_concurrency,omitempty" json:"external_concurrency,omitempty"`

	// RelevanceThreshold is the minimum AI relevance score a candidate
	// must reach to survive the relevance filter.
	RelevanceThreshold float64 `yaml:"relevance_threshold,omitempty" json:"relevance_threshold,omitempty"`

	// FuzzyDedupThreshold is the cosine similarity above which two
	// candidates are treated as duplicates during the fuzzy dedup pass.
	FuzzyDedupThreshold float64 `yaml:"fuzzy_dedup_threshold,omitempty" json:"fuzzy_dedup_threshold,omitempty"`
}

// SetDefaults applies default values.
func (c *ResearchConfig) SetDefaults() {
	if c.InternalTopK == 0 {
		c.InternalTopK = 20
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.75
	}
	if c.ExternalCacheTTLDays == 0 {
		c.ExternalCacheTTLDays = 7
	}
	if c.ExternalConcurrency == 0 {
		c.ExternalConcurrency = 8
	}
	if c.RelevanceThreshold == 0 {
		c.RelevanceThreshold = 0.75
	}
	if c.FuzzyDedupThreshold == 0 {
		c.FuzzyDedupThreshold = 0.85
	}
}

// Validate checks the research configuration.
func (c *ResearchConfig) Validate() error {
	if c.InternalTopK <= 0 {
		return fmt.Errorf("internal_top_k must be positive")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1]")
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("relevance_threshold must be in [0,1]")
	}
	if c.FuzzyDedupThreshold < 0 || c.FuzzyDedupThreshold > 1 {
		return fmt.Errorf("fuzzy_dedup_threshold must be in [0,1]")
	}
	if c.ExternalConcurrency <= 0 {
		return fmt.Errorf("external_concurrency must be positive")
	}
	return nil
}

// CircuitBreakerConfig configures the per-provider gobreaker wrapper.
type CircuitBreakerConfig struct {
	// FailureThreshold is the rolling failure count, within
	// FailureWindowSeconds, that trips a provider's breaker to Open.
	FailureThreshold int `yaml:"failure_threshold,omitempty" json:"failure_threshold,omitempty"`

	// FailureWindowSeconds bounds how far back failures are counted.
	FailureWindowSeconds int `yaml:"failure_window_seconds,omitempty" json:"failure_window_seconds,omitempty"`

	// RecoveryTimeoutSeconds is how long a breaker stays Open before
	// allowing a Half-Open probe.
	RecoveryTimeoutSeconds int `yaml:"recovery_timeout_seconds,omitempty" json:"recovery_timeout_seconds,omitempty"`

	// HalfOpenSuccessThreshold is the number of consecutive Half-Open
	// successes required to close the breaker again.
	HalfOpenSuccessThreshold int `yaml:"half_open_success_threshold,omitempty" json:"half_open_success_threshold,omitempty"`
}

// SetDefaults applies default values.
func (c *CircuitBreakerConfig) SetDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureWindowSeconds == 0 {
		c.FailureWindowSeconds = 60
	}
	if c.RecoveryTimeoutSeconds == 0 {
		c.RecoveryTimeoutSeconds = 60
	}
	if c.HalfOpenSuccessThreshold == 0 {
		c.HalfOpenSuccessThreshold = 2
	}
}

// Validate checks the circuit breaker configuration.
func (c *CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive")
	}
	if c.FailureWindowSeconds <= 0 {
		return fmt.Errorf("failure_window_seconds must be positive")
	}
	if c.RecoveryTimeoutSeconds <= 0 {
		return fmt.Errorf("recovery_timeout_seconds must be positive")
	}
	if c.HalfOpenSuccessThreshold <= 0 {
		return fmt.Errorf("half_open_success_threshold must be positive")
	}
	return nil
}

// DLQConfig configures the dead-letter queue's retention policy.
type DLQConfig struct {
	// RetentionDays is how long dead-lettered entries are kept before
	// the periodic cleanup removes them.
	RetentionDays int `yaml:"retention_days,omitempty" json:"retention_days,omitempty"`

	// CleanupIntervalMinutes is how often the cleanup sweep runs.
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes,omitempty" json:"cleanup_interval_minutes,omitempty"`
}

// SetDefaults applies default values.
func (c *DLQConfig) SetDefaults() {
	if c.RetentionDays == 0 {
		c.RetentionDays = 30
	}
	if c.CleanupIntervalMinutes == 0 {
		c.CleanupIntervalMinutes = 60
	}
}

// Validate checks the DLQ configuration.
func (c *DLQConfig) Validate() error {
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive")
	}
	if c.CleanupIntervalMinutes <= 0 {
		return fmt.Errorf("cleanup_interval_minutes must be positive")
	}
	return nil
}

// ProgressConfig configures the websocket Progress Channel.
type ProgressConfig struct {
	// HeartbeatSeconds is the interval between server heartbeats sent
	// to an idle subscriber.
	HeartbeatSeconds int `yaml:"heartbeat_seconds,omitempty" json:"heartbeat_seconds,omitempty"`

	// MissedHeartbeatLimit is how many consecutive missed heartbeats a
	// subscriber tolerates before the client should reconnect.
	MissedHeartbeatLimit int `yaml:"missed_heartbeat_limit,omitempty" json:"missed_heartbeat_limit,omitempty"`

	// SendBufferSize bounds the per-chapter outbound event channel
	// drained by that chapter's single writer goroutine.
	SendBufferSize int `yaml:"send_buffer_size,omitempty" json:"send_buffer_size,omitempty"`
}

// SetDefaults applies default values.
func (c *ProgressConfig) SetDefaults() {
	if c.HeartbeatSeconds == 0 {
		c.HeartbeatSeconds = 30
	}
	if c.MissedHeartbeatLimit == 0 {
		c.MissedHeartbeatLimit = 2
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = 64
	}
}

// Validate checks the progress channel configuration.
func (c *ProgressConfig) Validate() error {
	if c.HeartbeatSeconds <= 0 {
		return fmt.Errorf("heartbeat_seconds must be positive")
	}
	if c.MissedHeartbeatLimit <= 0 {
		return fmt.Errorf("missed_heartbeat_limit must be positive")
	}
	if c.SendBufferSize <= 0 {
		return fmt.Errorf("send_buffer_size must be positive")
	}
	return nil
}

// WorkQueueClass identifies a segregated NATS JetStream workload class.
type WorkQueueClass string

const (
	QueueClassDefault    WorkQueueClass = "default"
	QueueClassEmbeddings WorkQueueClass = "embeddings"
	QueueClassImages     WorkQueueClass = "images"
)

// WorkerConfig configures the Background Worker Runtime's NATS
// JetStream connection and per-class consumer concurrency.
type WorkerConfig struct {
	// NATSUrl is the JetStream server URL.
	NATSUrl string `yaml:"nats_url,omitempty" json:"nats_url,omitempty"`

	// Concurrency bounds in-flight task goroutines per queue class.
	Concurrency map[WorkQueueClass]int `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`

	// MaxAttempts is the hard retry cap before a task is sent to the
	// dead-letter queue.
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`

	// BaseBackoffSeconds is the starting delay for exponential backoff
	// between retry attempts.
	BaseBackoffSeconds int `yaml:"base_backoff_seconds,omitempty" json:"base_backoff_seconds,omitempty"`

	// HighWatermark is the per-class queue depth above which new
	// generation submissions are rejected with a retry-able status.
	HighWatermark int `yaml:"high_watermark,omitempty" json:"high_watermark,omitempty"`
}

// SetDefaults applies default values.
func (c *WorkerConfig) SetDefaults() {
	if c.NATSUrl == "" {
		c.NATSUrl = "nats://localhost:4222"
	}
	if c.Concurrency == nil {
		c.Concurrency = map[WorkQueueClass]int{
			QueueClassDefault:    10,
			QueueClassEmbeddings: 5,
			QueueClassImages:     3,
		}
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoffSeconds == 0 {
		c.BaseBackoffSeconds = 2
	}
	if c.HighWatermark == 0 {
		c.HighWatermark = 1000
	}
}

// Validate checks the worker configuration.
func (c *WorkerConfig) Validate() error {
	if c.NATSUrl == "" {
		return fmt.Errorf("nats_url is required")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if c.BaseBackoffSeconds <= 0 {
		return fmt.Errorf("base_backoff_seconds must be positive")
	}
	if c.HighWatermark <= 0 {
		return fmt.Errorf("high_watermark must be positive")
	}
	for class, n := range c.Concurrency {
		if n <= 0 {
			return fmt.Errorf("concurrency[%s] must be positive", class)
		}
	}
	return nil
}
