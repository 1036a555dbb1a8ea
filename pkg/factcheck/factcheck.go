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

// Package factcheck verifies each section's claims against its cited
// sources and rolls the results up into a chapter-level verdict.
package factcheck

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neurocore/chapterforge/pkg/chapter"
	"github.com/neurocore/chapterforge/pkg/provider"
)

// Severity classifies how bad it is if a claim turns out to be wrong.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Claim is one factual assertion extracted from a section and checked
// against its sources.
type Claim struct {
	Claim           string   `json:"claim"`
	Verified        bool     `json:"verified"`
	Confidence      float64  `json:"confidence"`
	SourceID        string   `json:"source_id,omitempty"`
	Category        string   `json:"category,omitempty"`
	SeverityIfWrong Severity `json:"severity_if_wrong"`
	Notes           string   `json:"notes,omitempty"`
}

const factCheckSchema = `{
  "type": "object",
  "properties": {
    "claims": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "claim": {"type": "string"},
          "verified": {"type": "boolean"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "source_id": {"type": "string"},
          "category": {"type": "string"},
          "severity_if_wrong": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
          "notes": {"type": "string"}
        },
        "required": ["claim", "verified", "confidence", "severity_if_wrong"]
      }
    }
  },
  "required": ["claims"]
}`

type sectionFactCheckResponse struct {
	Claims []Claim `json:"claims"`
}

// SectionReport is the fact-check result for one section.
type SectionReport struct {
	SectionIndex int
	Claims       []Claim
}

// ChapterReport aggregates every section's claims into a chapter-level
// verdict, per spec.md §4.6: pass if accuracy >= 0.90, or (accuracy >=
// 0.80 and zero unverified critical claims), and critical unverified
// issues <= 2.
type ChapterReport struct {
	Sections        []SectionReport
	OverallAccuracy float64
	CriticalIssues  int
	Passed          bool
}

// Checker runs fact-check LLM calls per section.
type Checker struct {
	router                 *provider.Router
	blockOnFailure          bool
}

// NewChecker creates a Checker. blockOnFailure is the
// block_on_fact_check_failure switch, passed by the caller rather than
// read from the config file: when false, a failing verdict is recorded
// but does not halt the pipeline.
func NewChecker(router *provider.Router, blockOnFailure bool) *Checker {
	return &Checker{router: router, blockOnFailure: blockOnFailure}
}

// BlocksOnFailure reports whether the orchestrator should halt the
// chapter when CheckChapter's verdict fails, instead of just recording
// it and proceeding.
func (c *Checker) BlocksOnFailure() bool {
	return c.blockOnFailure
}

// CheckSection extracts and verifies claims in one section against
// its cited sources.
func (c *Checker) CheckSection(ctx context.Context, chapterID string, section chapter.Section) (*SectionReport, error) {
	prompt := buildFactCheckPrompt(section)
	result, err := c.router.GenerateTextWithSchema(ctx, provider.TaskFactChecking, chapterID,
		[]provider.Message{
			{Role: "system", Content: "You extract factual claims from the section text and verify each against its cited sources."},
			{Role: "user", Content: prompt},
		},
		[]byte(factCheckSchema),
	)
	if err != nil {
		return nil, fmt.Errorf("factcheck: section %d: %w", section.Index, err)
	}

	var resp sectionFactCheckResponse
	if err := json.Unmarshal([]byte(result.Text), &resp); err != nil {
		return nil, fmt.Errorf("factcheck: unmarshal section %d response: %w", section.Index, err)
	}

	return &SectionReport{SectionIndex: section.Index, Claims: resp.Claims}, nil
}

// CheckChapter checks every section and rolls the results into a
// ChapterReport.
func (c *Checker) CheckChapter(ctx context.Context, chapterID string, sections []chapter.Section) (*ChapterReport, error) {
	reports := make([]SectionReport, 0, len(sections))
	for _, s := range sections {
		r, err := c.CheckSection(ctx, chapterID, s)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return Aggregate(reports), nil
}

// Aggregate rolls per-section reports into a chapter verdict.
func Aggregate(reports []SectionReport) *ChapterReport {
	var total, verified, critical int
	for _, r := range reports {
		for _, c := range r.Claims {
			total++
			if c.Verified {
				verified++
			} else if c.SeverityIfWrong == SeverityCritical {
				critical++
			}
		}
	}

	accuracy := 1.0
	if total > 0 {
		accuracy = float64(verified) / float64(total)
	}

	passed := (accuracy >= 0.90 || (accuracy >= 0.80 && critical == 0)) && critical <= 2

	return &ChapterReport{
		Sections:        reports,
		OverallAccuracy: accuracy,
		CriticalIssues:  critical,
		Passed:          passed,
	}
}

// ToVerdict converts a ChapterReport into the chapter package's stored
// verdict type.
func (r *ChapterReport) ToVerdict() chapter.FactCheckVerdict {
	return chapter.FactCheckVerdict{
		OverallAccuracy: r.OverallAccuracy,
		CriticalIssues:  r.CriticalIssues,
		Passed:          r.Passed,
	}
}

func buildFactCheckPrompt(section chapter.Section) string {
	prompt := fmt.Sprintf("Section %d: %s\n\n%s\n\nCited sources:\n", section.Index, section.Title, section.Content)
	for _, ref := range section.SourceRefs {
		prompt += fmt.Sprintf("- [%s] %s: %s\n", ref.StableID, ref.Title, ref.Abstract)
	}
	return prompt
}
