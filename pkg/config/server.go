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

package config

import (
	"fmt"

	"github.com/neurocore/chapterforge/pkg/observability"
)

// ServerConfig configures the HTTP surface: chapter subscribe/cancel
// endpoints, the progress websocket, and the admin DLQ routes.
type ServerConfig struct {
	// Host to bind to.
	Host string `yaml:"host,omitempty"`

	// Port to listen on.
	Port int `yaml:"port,omitempty"`

	// TLS configuration.
	TLS *TLSConfig `yaml:"tls,omitempty"`

	// CORS configuration.
	CORS *CORSConfig `yaml:"cors,omitempty"`

	// Auth configures JWT-based authentication for the progress channel
	// and the admin DLQ surface.
	Auth *AuthConfig `yaml:"auth,omitempty"`

	// Observability configures tracing and metrics.
	Observability *observability.Config `yaml:"observability,omitempty"`

	// Checkpoint configures orchestrator stage checkpointing and recovery.
	Checkpoint *CheckpointConfig `yaml:"checkpoint,omitempty"`
}

// CheckpointConfig configures orchestrator checkpointing and recovery.
//
// The orchestrator checkpoints after every stage completes, so a crash
// never re-runs a stage that already produced and persisted output. It
// does so whatever this block says: Strategy, Interval and Recovery are
// defaulted and validated here, but nothing outside this package reads
// them, so "interval" and "hybrid" add no section-level checkpoints and
// no chapter is resumed or dead-lettered on the strength of them.
//
// Example:
//
//	server:
//	  checkpoint:
//	    enabled: true
//	    strategy: hybrid
//	    interval: 5
//	    recovery:
//	      auto_resume: true
//	      timeout: 3600
type CheckpointConfig struct {
	// Enabled enables checkpointing.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// Strategy determines when checkpoints are created.
	// Values: "event" (default, one per stage), "interval" (one per N
	// sections), "hybrid" (both).
	Strategy string `yaml:"strategy,omitempty"`

	// Interval specifies checkpoint frequency (every N sections).
	// Only used when Strategy is "interval" or "hybrid".
	Interval int `yaml:"interval,omitempty"`

	// Recovery configures checkpoint recovery behavior.
	Recovery *CheckpointRecoveryConfig `yaml:"recovery,omitempty"`
}

// CheckpointRecoveryConfig configures checkpoint recovery behavior.
type CheckpointRecoveryConfig struct {
	// AutoResume is reported by ShouldAutoResume; no startup code calls
	// it, so in-flight chapters are not resumed automatically.
	// Default: true
	AutoResume *bool `yaml:"auto_resume,omitempty"`

	// Timeout is the maximum age (in seconds) for a checkpoint to be
	// recoverable. It is not read outside this package: no checkpoint is
	// expired or dead-lettered by age.
	// Default: 3600 (1 hour)
	Timeout int `yaml:"timeout,omitempty"`
}

// SetDefaults applies default values for CheckpointConfig.
func (c *CheckpointConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Strategy == "" {
		c.Strategy = "event"
	}
	if c.Recovery == nil {
		c.Recovery = &CheckpointRecoveryConfig{}
	}
	c.Recovery.SetDefaults()
}

// SetDefaults applies default values for CheckpointRecoveryConfig.
func (c *CheckpointRecoveryConfig) SetDefaults() {
	if c.AutoResume == nil {
		c.AutoResume = BoolPtr(true)
	}
	if c.Timeout == 0 {
		c.Timeout = 3600
	}
}

// Validate checks the CheckpointConfig.
func (c *CheckpointConfig) Validate() error {
	if c.Strategy != "" && c.Strategy != "event" && c.Strategy != "interval" && c.Strategy != "hybrid" {
		return fmt.Errorf("invalid strategy %q (valid: event, interval, hybrid)", c.Strategy)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must be non-negative")
	}
	if c.Recovery != nil {
		if err := c.Recovery.Validate(); err != nil {
			return fmt.Errorf("recovery: %w", err)
		}
	}
	return nil
}

// Validate checks the CheckpointRecoveryConfig.
func (c *CheckpointRecoveryConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}

// IsEnabled returns whether checkpointing is enabled.
func (c *CheckpointConfig) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}

// ShouldAutoResume returns whether to auto-resume on startup.
func (c *CheckpointConfig) ShouldAutoResume() bool {
	return c.IsEnabled() && c.Recovery != nil && c.Recovery.AutoResume != nil && *c.Recovery.AutoResume
}

// TLSConfig configures TLS.
type TLSConfig struct {
	// Enabled turns on TLS.
	Enabled *bool `yaml:"enabled,omitempty"`

	// CertFile is the path to the certificate.
	CertFile string `yaml:"cert_file,omitempty"`

	// KeyFile is the path to the private key.
	KeyFile string `yaml:"key_file,omitempty"`
}

// CORSConfig configures CORS.
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// AllowedMethods is a list of allowed HTTP methods.
	AllowedMethods []string `yaml:"allowed_methods,omitempty"`

	// AllowedHeaders is a list of allowed headers.
	AllowedHeaders []string `yaml:"allowed_headers,omitempty"`

	// AllowCredentials allows credentials.
	AllowCredentials *bool `yaml:"allow_credentials,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}

	if c.Port == 0 {
		c.Port = 8080
	}

	if c.CORS == nil {
		c.CORS = &CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}
	}

	if c.Auth != nil {
		c.Auth.SetDefaults()
	}

	if c.Observability != nil {
		c.Observability.SetDefaults()
	}

	if c.Checkpoint == nil {
		c.Checkpoint = &CheckpointConfig{}
	}
	c.Checkpoint.SetDefaults()
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.TLS != nil && BoolValue(c.TLS.Enabled, false) {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls requires cert_file and key_file")
		}
	}

	if c.Auth != nil {
		if err := c.Auth.Validate(); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if c.Observability != nil {
		if err := c.Observability.Validate(); err != nil {
			return fmt.Errorf("observability: %w", err)
		}
	}

	if c.Checkpoint != nil {
		if err := c.Checkpoint.Validate(); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}

	return nil
}

// Address returns the HTTP server address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
