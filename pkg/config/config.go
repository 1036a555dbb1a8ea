// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides configuration loading and management for the
// chapter generation platform.
//
// Example config:
//
//	providers:
//	  - name: claude
//	    kind: anthropic
//	    role: primary
//	    model: claude-sonnet-4-20250514
//	    api_key: ${ANTHROPIC_API_KEY}
//	  - name: titan
//	    kind: bedrock
//	    role: secondary
//	    model: amazon.titan-text-premier-v1:0
//
//	vector_store:
//	  host: localhost
//	  port: 6334
//	  collection: chapterforge_chunks
//
//	databases:
//	  primary:
//	    host: localhost
//	    database: chapterforge
//
//	redis:
//	  addr: localhost:6379
//
//	server:
//	  port: 8080
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure.
type Config struct {
	// Version of the config schema (e.g., "1").
	Version string `yaml:"version,omitempty"`

	// Name of this deployment (for logging/display).
	Name string `yaml:"name,omitempty"`

	// Providers defines the Provider Router's fallback chain. Order
	// within a shared Role is FallbackOrder ascending, then list order.
	Providers []*ProviderConfig `yaml:"providers,omitempty"`

	// VectorStore configures the Qdrant-backed research index.
	VectorStore *VectorStoreConfig `yaml:"vector_store,omitempty"`

	// Databases defines the PostgreSQL connections for chapters,
	// sections, and version snapshots. Keyed by name so multiple
	// logical databases (e.g. read replica) can be referenced.
	Databases map[string]*DatabaseConfig `yaml:"databases,omitempty"`

	// Redis configures the shared cache/checkpoint/breaker/DLQ store.
	Redis *RedisConfig `yaml:"redis,omitempty"`

	// Research configures the Research Layer.
	Research *ResearchConfig `yaml:"research,omitempty"`

	// CircuitBreaker configures the per-provider breaker.
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`

	// DLQ configures the dead-letter queue retention policy.
	DLQ *DLQConfig `yaml:"dlq,omitempty"`

	// Progress configures the websocket progress channel.
	Progress *ProgressConfig `yaml:"progress,omitempty"`

	// Worker configures the background worker runtime.
	Worker *WorkerConfig `yaml:"worker,omitempty"`

	// Server configures the HTTP surface (subscribe/cancel, admin DLQ).
	Server ServerConfig `yaml:"server,omitempty"`

	// Logger configures logging behavior.
	Logger *LoggerConfig `yaml:"logger,omitempty"`

	// RateLimiting configures inbound rate limiting.
	RateLimiting *RateLimitConfig `yaml:"rate_limiting,omitempty"`
}

// SetDefaults applies default values to the config.
func (c *Config) SetDefaults() {
	if c.VectorStore == nil {
		c.VectorStore = &VectorStoreConfig{}
	}
	c.VectorStore.SetDefaults()

	if c.Databases == nil {
		c.Databases = make(map[string]*DatabaseConfig)
	}
	for name, db := range c.Databases {
		if db == nil {
			db = &DatabaseConfig{}
			c.Databases[name] = db
		}
		db.SetDefaults()
	}
	if _, ok := c.Databases["primary"]; !ok {
		c.Databases["primary"] = &DatabaseConfig{Database: "chapterforge"}
		c.Databases["primary"].SetDefaults()
	}

	if c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
	c.Redis.SetDefaults()

	if c.Logger == nil {
		c.Logger = &LoggerConfig{}
	}
	c.Logger.SetDefaults()

	if c.Research == nil {
		c.Research = &ResearchConfig{}
	}
	c.Research.SetDefaults()

	if c.CircuitBreaker == nil {
		c.CircuitBreaker = &CircuitBreakerConfig{}
	}
	c.CircuitBreaker.SetDefaults()

	if c.DLQ == nil {
		c.DLQ = &DLQConfig{}
	}
	c.DLQ.SetDefaults()

	if c.Progress == nil {
		c.Progress = &ProgressConfig{}
	}
	c.Progress.SetDefaults()

	if c.Worker == nil {
		c.Worker = &WorkerConfig{}
	}
	c.Worker.SetDefaults()

	for _, p := range c.Providers {
		if p != nil {
			p.SetDefaults()
		}
	}

	c.Server.SetDefaults()

	if c.RateLimiting != nil {
		c.RateLimiting.SetDefaults()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider must be configured")
	}
	for i, p := range c.Providers {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("providers[%d] %q: %v", i, p.Name, err))
		}
	}

	if c.VectorStore != nil {
		if err := c.VectorStore.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("vector_store: %v", err))
		}
	}

	for name, db := range c.Databases {
		if db == nil {
			continue
		}
		if err := db.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("database %q: %v", name, err))
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("redis: %v", err))
		}
	}

	if c.Research != nil {
		if err := c.Research.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("research: %v", err))
		}
	}

	if c.CircuitBreaker != nil {
		if err := c.CircuitBreaker.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("circuit_breaker: %v", err))
		}
	}

	if c.DLQ != nil {
		if err := c.DLQ.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("dlq: %v", err))
		}
	}

	if c.Progress != nil {
		if err := c.Progress.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("progress: %v", err))
		}
	}

	if c.Worker != nil {
		if err := c.Worker.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("worker: %v", err))
		}
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server: %v", err))
	}

	if c.Logger != nil {
		if err := c.Logger.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("logger: %v", err))
		}
	}

	if c.RateLimiting != nil {
		if err := c.RateLimiting.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("rate_limiting: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// GetDatabase returns the database config by name.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, ok := c.Databases[name]
	return db, ok
}

// ProvidersForRole returns the configured providers for a role, in
// FallbackOrder ascending, then config order.
func (c *Config) ProvidersForRole(role ProviderRole) []*ProviderConfig {
	var out []*ProviderConfig
	for _, p := range c.Providers {
		if p != nil && p.Role == role {
			out = append(out, p)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].FallbackOrder < out[j-1].FallbackOrder; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
