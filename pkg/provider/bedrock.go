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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/neurocore/chapterforge/pkg/chaptererr"
)

// BedrockProvider is the secondary text provider (spec.md §4.2,
// provider "B") and the embedding provider (Amazon Titan), backed by
// aws-sdk-go-v2's Bedrock Runtime client.
type BedrockProvider struct {
	client         *bedrockruntime.Client
	textModelID    string
	embedModelID   string
}

// NewBedrockProvider creates a BedrockProvider from an AWS config
// loaded the standard SDK way (environment/shared config/IAM role).
func NewBedrockProvider(ctx context.Context, region, textModelID, embedModelID string) (*BedrockProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	if textModelID == "" {
		textModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if embedModelID == "" {
		embedModelID = "amazon.titan-embed-text-v2:0"
	}
	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(cfg),
		textModelID:  textModelID,
		embedModelID: embedModelID,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Model() string { return p.textModelID }

func (p *BedrockProvider) Capabilities() []Capability {
	return []Capability{CapText, CapTextWithSchema, CapEmbedding}
}

type anthropicOnBedrockRequest struct {
	AnthropicVersion string                `json:"anthropic_version"`
	MaxTokens        int                   `json:"max_tokens"`
	System           string                `json:"system,omitempty"`
	Messages         []bedrockMessage      `json:"messages"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicOnBedrockResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *BedrockProvider) invoke(ctx context.Context, messages []Message) (*anthropicOnBedrockResponse, error) {
	req := anthropicOnBedrockRequest{AnthropicVersion: "bedrock-2023-05-31", MaxTokens: 4096}
	for _, m := range messages {
		if m.Role == "system" {
			req.System = m.Content
			continue
		}
		req.Messages = append(req.Messages, bedrockMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &p.textModelID,
		ContentType: strPtr("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}

	var resp anthropicOnBedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("bedrock: unmarshal response: %w", err)
	}
	return &resp, nil
}

func (p *BedrockProvider) GenerateText(ctx context.Context, messages []Message) (*TextResult, error) {
	resp, err := p.invoke(ctx, messages)
	if err != nil {
		return nil, err
	}
	var text strings.Builder
	for _, c := range resp.Content {
		text.WriteString(c.Text)
	}
	return &TextResult{
		Text:  text.String(),
		Usage: Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}, nil
}

func (p *BedrockProvider) GenerateTextWithSchema(ctx context.Context, messages []Message, schema []byte) (*TextResult, error) {
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

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *BedrockProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal embed request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &p.embedModelID,
		ContentType: strPtr("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("bedrock: unmarshal embed response: %w", err)
	}
	return resp.Embedding, nil
}

func (p *BedrockProvider) AnalyzeImage(ctx context.Context, image ImageInput, prompt string) (*TextResult, error) {
	return nil, chaptererr.New(chaptererr.ProviderUnavailable, "bedrock provider does not handle vision; route to the dedicated vision provider")
}

func classifyBedrockError(err error) error {
	var apiErr smithy.APIError
	if asSmithyErr(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException":
			return chaptererr.Wrap(chaptererr.ProviderAuth, "bedrock authentication failed", err)
		case "ThrottlingException", "ServiceQuotaExceededException":
			return &rateLimitedError{cause: chaptererr.Wrap(chaptererr.ProviderTransient, "bedrock throttled", err)}
		case "ModelTimeoutException", "InternalServerException", "ServiceUnavailableException":
			return chaptererr.Wrap(chaptererr.ProviderTransient, "bedrock server error", err)
		}
	}
	return chaptererr.Wrap(chaptererr.ProviderTransient, "bedrock request failed", err)
}

func asSmithyErr(err error, target *smithy.APIError) bool {
	for {
		if ae, ok := err.(smithy.APIError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
		if err == nil {
			return false
		}
	}
}

func strPtr(s string) *string { return &s }
