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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/neurocore/chapterforge/pkg/chaptererr"
)

// AnthropicProvider is the primary text provider (spec.md §4.2,
// provider "A"), backed by the official anthropic-sdk-go client.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicProvider creates an AnthropicProvider. model defaults to
// Claude Sonnet if empty.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaudeSonnet4_5
	}
	return &AnthropicProvider{client: client, model: m}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Model() string { return string(p.model) }

func (p *AnthropicProvider) Capabilities() []Capability {
	return []Capability{CapText, CapTextWithSchema, CapVision}
}

func toAnthropicMessages(messages []Message) (system string, turns []anthropic.MessageParam) {
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, turns
}

func (p *AnthropicProvider) generate(ctx context.Context, messages []Message) (*anthropic.Message, error) {
	system, turns := toAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 4096,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}
	return resp, nil
}

func (p *AnthropicProvider) GenerateText(ctx context.Context, messages []Message) (*TextResult, error) {
	resp, err := p.generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	return &TextResult{
		Text:  extractAnthropicText(resp),
		Usage: Usage{InputTokens: int(resp.Usage.InputTokens), OutputTokens: int(resp.Usage.OutputTokens)},
	}, nil
}

func (p *AnthropicProvider) GenerateTextWithSchema(ctx context.Context, messages []Message, schema []byte) (*TextResult, error) {
	// Anthropic has no native structured-output mode; the schema is
	// appended as an instruction and the response is validated against
	// it after the fact.
	augmented := append([]Message{}, messages...)
	augmented = append(augmented, Message{
		Role:    "user",
		Content: fmt.Sprintf("Respond with JSON matching exactly this schema, no prose:\n%s", schema),
	})

	resp, err := p.generate(ctx, augmented)
	if err != nil {
		return nil, err
	}
	text := extractAnthropicText(resp)

	var js json.RawMessage
	if err := json.Unmarshal([]byte(text), &js); err != nil {
		return nil, chaptererr.Wrap(chaptererr.ProviderSchemaViolation, "response is not valid JSON", err)
	}

	return &TextResult{
		Text:  text,
		Usage: Usage{InputTokens: int(resp.Usage.InputTokens), OutputTokens: int(resp.Usage.OutputTokens)},
	}, nil
}

func (p *AnthropicProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, chaptererr.New(chaptererr.ProviderUnavailable, "anthropic does not support embeddings; route embedding tasks to bedrock")
}

func (p *AnthropicProvider) AnalyzeImage(ctx context.Context, image ImageInput, prompt string) (*TextResult, error) {
	block := anthropic.NewImageBlockBase64(image.MediaType, base64.StdEncoding.EncodeToString(image.Data))
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(block, anthropic.NewTextBlock(prompt)),
	}
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 2048,
		Messages:  messages,
	})
	if err != nil {
		return nil, classifyAnthropicError(err)
	}
	return &TextResult{
		Text:  extractAnthropicText(resp),
		Usage: Usage{InputTokens: int(resp.Usage.InputTokens), OutputTokens: int(resp.Usage.OutputTokens)},
	}, nil
}

func extractAnthropicText(resp *anthropic.Message) string {
	var out string
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out += text.Text
		}
	}
	return out
}

type rateLimitedError struct{ cause error }

func (e *rateLimitedError) Error() string     { return e.cause.Error() }
func (e *rateLimitedError) Unwrap() error     { return e.cause }
func (e *rateLimitedError) RateLimited() bool { return true }

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return chaptererr.Wrap(chaptererr.ProviderAuth, "anthropic authentication failed", err)
		case 429:
			return &rateLimitedError{cause: chaptererr.Wrap(chaptererr.ProviderTransient, "anthropic rate limited", err)}
		case 500, 502, 503, 504:
			return chaptererr.Wrap(chaptererr.ProviderTransient, "anthropic server error", err)
		}
	}
	return chaptererr.Wrap(chaptererr.ProviderTransient, "anthropic request failed", err)
}
