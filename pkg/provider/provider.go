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

// Package provider abstracts the LLM backends the pipeline calls
// through: a router selects among a fallback chain of text-capable
// providers (Anthropic, Bedrock, langchaingo) and a dedicated vision
// provider (Gemini), consulting a circuit breaker per hop and
// accounting cost from configured per-1K-token rates.
package provider

import "context"

// Capability is one operation a Provider may support.
type Capability string

const (
	CapText          Capability = "text"
	CapTextWithSchema Capability = "text_with_schema"
	CapEmbedding     Capability = "embedding"
	CapVision        Capability = "vision"
)

// Task identifies why the router is being called, used to pick a
// fallback chain and for cost-reporting labels.
type Task string

const (
	TaskMetadataExtraction Task = "metadata_extraction"
	TaskResearchPlanning   Task = "research_planning"
	TaskContentGeneration  Task = "content_generation"
	TaskQualityAssessment  Task = "quality_assessment"
	TaskFactChecking       Task = "fact_checking"
	TaskReview             Task = "review"
	TaskSummarization      Task = "summarization"
	TaskEmbedding          Task = "embedding"
	TaskVision             Task = "vision"
)

// Message is one turn in a chat-style prompt.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Usage reports token counts for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// TextResult is the output of GenerateText/GenerateTextWithSchema.
type TextResult struct {
	Text     string
	Usage    Usage
	Provider string
}

// ImageInput is an image to analyze, given inline.
type ImageInput struct {
	MediaType string // e.g. "image/png"
	Data      []byte
}

// Provider is a single LLM backend.
type Provider interface {
	// Name identifies the provider for logging, cost accounting, and
	// circuit-breaker keys (e.g. "anthropic", "bedrock").
	Name() string

	// Model identifies the concrete model this provider calls, for
	// metrics and cost-attribution labels (e.g. "claude-sonnet-4-5").
	Model() string

	// Capabilities lists what this provider can do.
	Capabilities() []Capability

	// GenerateText produces free-form text from messages.
	GenerateText(ctx context.Context, messages []Message) (*TextResult, error)

	// GenerateTextWithSchema produces JSON conforming to schema
	// (a JSON Schema document) and returns it as TextResult.Text.
	// Returns a *chaptererr.Error with Kind ProviderSchemaViolation if
	// the provider's response does not validate.
	GenerateTextWithSchema(ctx context.Context, messages []Message, schema []byte) (*TextResult, error)

	// GenerateEmbedding embeds text into a fixed-size vector.
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// AnalyzeImage describes an image, guided by prompt.
	AnalyzeImage(ctx context.Context, image ImageInput, prompt string) (*TextResult, error)
}

// CostRates gives the per-1,000-token price for a provider, so cost is
// never hardcoded into the provider clients themselves.
type CostRates struct {
	InputPer1K  float64
	OutputPer1K float64
}

// CostUSD computes the dollar cost of a Usage at these rates.
func (r CostRates) CostUSD(u Usage) float64 {
	return float64(u.InputTokens)/1000*r.InputPer1K + float64(u.OutputTokens)/1000*r.OutputPer1K
}
