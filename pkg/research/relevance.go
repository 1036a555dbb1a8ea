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

package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neurocore/chapterforge/pkg/chapter"
	"github.com/neurocore/chapterforge/pkg/provider"
)

// RelevanceThreshold discards sources the AI filter scores below it.
const RelevanceThreshold = 0.75

// sourceRelevanceSchema is the JSON Schema passed to
// GenerateTextWithSchema; it asks the model for one relevance score
// per input source, in the same order.
const sourceRelevanceSchema = `{
  "type": "object",
  "properties": {
    "scores": {
      "type": "array",
      "items": {"type": "number", "minimum": 0, "maximum": 1}
    }
  },
  "required": ["scores"]
}`

type sourceRelevanceResponse struct {
	Scores []float64 `json:"scores"`
}

// RelevanceFilter scores each candidate SourceRef's relevance to a
// chapter topic via an LLM call (task metadata_extraction), keeping
// only those scoring at or above RelevanceThreshold.
type RelevanceFilter struct {
	router    *provider.Router
	chapterID string
}

// NewRelevanceFilter creates a RelevanceFilter.
func NewRelevanceFilter(router *provider.Router, chapterID string) *RelevanceFilter {
	return &RelevanceFilter{router: router, chapterID: chapterID}
}

// Filter scores sources against topic and returns only those at or
// above RelevanceThreshold, with AIRelevanceScore populated. An empty
// input returns an empty slice immediately without calling the LLM —
// a prior version of this filter divided by len(sources) when
// computing a normalization factor and panicked on empty input.
func (f *RelevanceFilter) Filter(ctx context.Context, topic string, sources []chapter.SourceRef) ([]chapter.SourceRef, error) {
	if len(sources) == 0 {
		return []chapter.SourceRef{}, nil
	}

	prompt := buildRelevancePrompt(topic, sources)
	result, err := f.router.GenerateTextWithSchema(ctx, provider.TaskMetadataExtraction, f.chapterID,
		[]provider.Message{
			{Role: "system", Content: "You score how relevant each source is to a research topic, from 0 (irrelevant) to 1 (directly on-topic)."},
			{Role: "user", Content: prompt},
		},
		[]byte(sourceRelevanceSchema),
	)
	if err != nil {
		return nil, fmt.Errorf("research: relevance filter call failed: %w", err)
	}

	var resp sourceRelevanceResponse
	if err := json.Unmarshal([]byte(result.Text), &resp); err != nil {
		return nil, fmt.Errorf("research: unmarshal relevance scores: %w", err)
	}
	if len(resp.Scores) != len(sources) {
		return nil, fmt.Errorf("research: relevance filter returned %d scores for %d sources", len(resp.Scores), len(sources))
	}

	out := make([]chapter.SourceRef, 0, len(sources))
	for i, src := range sources {
		score := resp.Scores[i]
		if score < RelevanceThreshold {
			continue
		}
		src.AIRelevanceScore = &score
		out = append(out, src)
	}
	return out, nil
}

func buildRelevancePrompt(topic string, sources []chapter.SourceRef) string {
	prompt := fmt.Sprintf("Topic: %s\n\nScore each of the following %d sources:\n", topic, len(sources))
	for i, s := range sources {
		prompt += fmt.Sprintf("%d. %s — %s\n", i+1, s.Title, s.Abstract)
	}
	return prompt
}
