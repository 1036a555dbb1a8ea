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
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/neurocore/chapterforge/pkg/chaptererr"
)

// GeminiVisionProvider is the dedicated image-analysis provider
// (spec.md §4.11 vision analysis phase), backed by google.golang.org/genai.
type GeminiVisionProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiVisionProvider creates a GeminiVisionProvider. model
// defaults to "gemini-2.0-flash" if empty.
func NewGeminiVisionProvider(ctx context.Context, apiKey, model string) (*GeminiVisionProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini vision: create client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiVisionProvider{client: client, model: model}, nil
}

func (p *GeminiVisionProvider) Name() string { return "gemini-vision" }

func (p *GeminiVisionProvider) Model() string { return p.model }

func (p *GeminiVisionProvider) Capabilities() []Capability {
	return []Capability{CapVision}
}

func (p *GeminiVisionProvider) GenerateText(ctx context.Context, messages []Message) (*TextResult, error) {
	return nil, chaptererr.New(chaptererr.ProviderUnavailable, "gemini vision provider only analyzes images")
}

func (p *GeminiVisionProvider) GenerateTextWithSchema(ctx context.Context, messages []Message, schema []byte) (*TextResult, error) {
	return nil, chaptererr.New(chaptererr.ProviderUnavailable, "gemini vision provider only analyzes images")
}

func (p *GeminiVisionProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, chaptererr.New(chaptererr.ProviderUnavailable, "gemini vision provider does not embed text")
}

func (p *GeminiVisionProvider) AnalyzeImage(ctx context.Context, image ImageInput, prompt string) (*TextResult, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image.Data, image.MediaType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if len(resp.Candidates) == 0 {
		return nil, chaptererr.New(chaptererr.ProviderTransient, "gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	usage := Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return &TextResult{Text: text.String(), Usage: usage}, nil
}

func classifyGeminiError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "PERMISSION_DENIED") || strings.Contains(msg, "API_KEY_INVALID"):
		return chaptererr.Wrap(chaptererr.ProviderAuth, "gemini authentication failed", err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return &rateLimitedError{cause: chaptererr.Wrap(chaptererr.ProviderTransient, "gemini rate limited", err)}
	default:
		return chaptererr.Wrap(chaptererr.ProviderTransient, "gemini request failed", err)
	}
}
