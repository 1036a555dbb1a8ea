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

// ProviderKind identifies which concrete LLM provider backs a
// ProviderConfig entry.
type ProviderKind string

const (
	ProviderKindAnthropic    ProviderKind = "anthropic"
	ProviderKindBedrock      ProviderKind = "bedrock"
	ProviderKindLangchain    ProviderKind = "langchain"
	ProviderKindGeminiVision ProviderKind = "gemini_vision"
)

// ProviderRole identifies a provider's position in the per-task
// fallback chain the Router walks when a provider call fails or lacks
// a capability the task needs.
type ProviderRole string

const (
	RolePrimary   ProviderRole = "primary"
	RoleSecondary ProviderRole = "secondary"
	RoleTertiary  ProviderRole = "tertiary"
	RoleVision    ProviderRole = "vision"
)

// ProviderConfig configures one entry in the Provider Router's chain.
// The router tries providers for a task in ascending FallbackOrder,
// skipping any whose Capabilities() don't cover the task and any whose
// circuit breaker is open.
type ProviderConfig struct {
	// Name identifies this provider entry (referenced by task fallback
	// chains if explicitly overridden; otherwise role+order decides).
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Kind selects the concrete implementation (anthropic, bedrock,
	// langchain, gemini_vision).
	Kind ProviderKind `yaml:"kind,omitempty" json:"kind,omitempty" jsonschema:"enum=anthropic,enum=bedrock,enum=langchain,enum=gemini_vision"`

	// Role places this provider in the fallback chain.
	Role ProviderRole `yaml:"role,omitempty" json:"role,omitempty" jsonschema:"enum=primary,enum=secondary,enum=tertiary,enum=vision"`

	// FallbackOrder is the position within providers sharing a role
	// when more than one entry is configured for it; lower tries first.
	FallbackOrder int `yaml:"fallback_order,omitempty" json:"fallback_order,omitempty"`

	// Model is the model identifier the provider SDK expects.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion. Not used by
	// bedrock, which authenticates via the AWS SDK's default credential
	// chain.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint (langchain openai-
	// compatible endpoints, self-hosted gateways).
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Region is the AWS region (bedrock only).
	Region string `yaml:"region,omitempty" json:"region,omitempty"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// Thinking enables extended thinking (Claude, via anthropic kind).
	Thinking *ThinkingConfig `yaml:"thinking,omitempty" json:"thinking,omitempty"`

	// RateLimitPerSecond is defaulted and validated here, but nothing
	// outside this package reads it: the router applies no per-provider
	// call-rate limit.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second,omitempty" json:"rate_limit_per_second,omitempty"`

	// CostPerInputTokenK is the USD price per 1,000 input tokens, used
	// by the router's per-chapter cost ledger (spec.md §4.2).
	CostPerInputTokenK float64 `yaml:"cost_per_input_token_k,omitempty" json:"cost_per_input_token_k,omitempty"`

	// CostPerOutputTokenK is the USD price per 1,000 output tokens.
	CostPerOutputTokenK float64 `yaml:"cost_per_output_token_k,omitempty" json:"cost_per_output_token_k,omitempty"`
}

// ThinkingConfig configures extended thinking (Claude).
type ThinkingConfig struct {
	// Enabled turns on extended thinking.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// BudgetTokens is the token budget for thinking.
	BudgetTokens int `yaml:"budget_tokens,omitempty" json:"budget_tokens,omitempty"`
}

// SetDefaults applies default values.
func (c *ProviderConfig) SetDefaults() {
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(string(c.Kind))
	}

	if c.Temperature == nil {
		temp := 0.7
		c.Temperature = &temp
	}

	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}

	if c.RateLimitPerSecond == 0 {
		c.RateLimitPerSecond = 5
	}

	if c.Kind == ProviderKindBedrock && c.Region == "" {
		c.Region = "us-east-1"
	}

	if c.Thinking != nil {
		if c.Thinking.Enabled == nil {
			c.Thinking.Enabled = BoolPtr(true)
		}
		if c.Thinking.BudgetTokens == 0 {
			c.Thinking.BudgetTokens = 1024
		}
	}
}

// Validate checks the provider configuration.
func (c *ProviderConfig) Validate() error {
	validKinds := map[ProviderKind]bool{
		ProviderKindAnthropic:    true,
		ProviderKindBedrock:      true,
		ProviderKindLangchain:    true,
		ProviderKindGeminiVision: true,
	}
	if !validKinds[c.Kind] {
		return fmt.Errorf("invalid kind %q (valid: anthropic, bedrock, langchain, gemini_vision)", c.Kind)
	}

	validRoles := map[ProviderRole]bool{
		RolePrimary: true, RoleSecondary: true, RoleTertiary: true, RoleVision: true,
	}
	if c.Role != "" && !validRoles[c.Role] {
		return fmt.Errorf("invalid role %q (valid: primary, secondary, tertiary, vision)", c.Role)
	}

	if c.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.Kind != ProviderKindBedrock && c.APIKey == "" {
		return fmt.Errorf("api_key is required for kind %q", c.Kind)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	if c.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate_limit_per_second must be non-negative")
	}

	return nil
}
