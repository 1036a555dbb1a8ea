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

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/neurocore/chapterforge/pkg/chaptererr"
)

// LangchainProvider is the tertiary text provider (spec.md §4.2,
// provider "C"): an OpenAI-compatible endpoint reached through
// langchaingo, used as a last-resort fallback when both Anthropic and
// Bedrock are unavailable.
type LangchainProvider struct {
	model     llms.Model
	modelName string
	name      string
}

// NewLangchainProvider creates a LangchainProvider pointed at an
// OpenAI-compatible API (baseURL may be a self-hosted gateway).
func NewLangchainProvider(apiKey, baseURL, model string) (*LangchainProvider, error) {
	opts := []openai.Option{openai.WithToken(apiKey)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	} else {
		model = "gpt-4o"
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain: create openai client: %w", err)
	}
	return &LangchainProvider{model: llm, modelName: model, name: "langchain"}, nil
}

func (p *LangchainProvider) Name() string { return p.name }

func (p *LangchainProvider) Model() string { return p.modelName }

func (p *LangchainProvider) Capabilities() []Capability {
	return []Capability{CapText, CapTextWithSchema}
}

func toLangchainContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role llms.ChatMessageType
		switch m.Role {
		case "system":
			role = llms.ChatMessageTypeSystem
		case "assistant":
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func (p *LangchainProvider) GenerateText(ctx context.Context, messages []Message) (*TextResult, error) {
	resp, err := p.model.GenerateContent(ctx, toLangchainContent(messages))
	if err != nil {
		return nil, classifyLangchainError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, chaptererr.New(chaptererr.ProviderTransient, "langchain provider returned no choices")
	}
	choice := resp.Choices[0]
	return &TextResult{
		Text:  choice.Content,
		Usage: usageFromGenerationInfo(choice.GenerationInfo),
	}, nil
}

func (p *LangchainProvider) GenerateTextWithSchema(ctx context.Context, messages []Message, schema []byte) (*TextResult, error) {
	augmented := append([]Message{}, messages...)
	augmented = append(augmented, Message{
		Role:    "user",
		Content: fmt.Sprintf("Respond with JSON matching exactly this schema, no prose:\n%s", schema),
	})
	result, err := p.GenerateText(ctx, augmented)
	if err != nil {
		return nil, err
	}
	var js json.RawMessage
	if err := json.Unmarshal([]byte(result.Text), &js); err != nil {
		return nil, chaptererr.Wrap(chaptererr.ProviderSchemaViolation, "response is not valid JSON", err)
	}
	return result, nil
}

func (p *LangchainProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, chaptererr.New(chaptererr.ProviderUnavailable, "langchain provider does not handle embeddings in this deployment")
}

func (p *LangchainProvider) AnalyzeImage(ctx context.Context, image ImageInput, prompt string) (*TextResult, error) {
	return nil, chaptererr.New(chaptererr.ProviderUnavailable, "langchain provider does not handle vision")
}

func usageFromGenerationInfo(info map[string]any) Usage {
	var u Usage
	if v, ok := info["PromptTokens"].(int); ok {
		u.InputTokens = v
	}
	if v, ok := info["CompletionTokens"].(int); ok {
		u.OutputTokens = v
	}
	return u
}

func classifyLangchainError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "invalid_api_key"):
		return chaptererr.Wrap(chaptererr.ProviderAuth, "langchain provider authentication failed", err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate_limit"):
		return &rateLimitedError{cause: chaptererr.Wrap(chaptererr.ProviderTransient, "langchain provider rate limited", err)}
	default:
		return chaptererr.Wrap(chaptererr.ProviderTransient, "langchain provider request failed", err)
	}
}
