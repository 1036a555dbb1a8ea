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

// Package chapter holds the data model shared by every stage of the
// generation pipeline: the Chapter aggregate, its Sections, the
// SourceRefs cited by a section, and the per-stage opaque payloads the
// orchestrator persists between stages.
package chapter

import (
	"encoding/json"
	"time"
)

// Stage identifies one of the orchestrator's fourteen pipeline stages.
type Stage string

const (
	StageInputValid        Stage = "input_valid"
	StageContext            Stage = "context"
	StageResearchInternal    Stage = "research_internal"
	StageResearchExternal    Stage = "research_external"
	StageSynthesisPlan       Stage = "synthesis_plan"
	StageSectionGeneration   Stage = "section_generation"
	StageImageIntegration    Stage = "image_integration"
	StageCitationBuild       Stage = "citation_build"
	StageQAScoring           Stage = "qa_scoring"
	StageFactCheck           Stage = "fact_check"
	StageFormatting          Stage = "formatting"
	StageReview              Stage = "review"
	StageGapAnalysis         Stage = "gap_analysis"
	StageFinalize            Stage = "finalize"
)

// Stages is every pipeline stage in execution order.
var Stages = []Stage{
	StageInputValid, StageContext, StageResearchInternal, StageResearchExternal,
	StageSynthesisPlan, StageSectionGeneration, StageImageIntegration,
	StageCitationBuild, StageQAScoring, StageFactCheck, StageFormatting,
	StageReview, StageGapAnalysis, StageFinalize,
}

// SourceOrigin distinguishes a source drawn from the owner's uploaded
// documents from one fetched from an external publication API.
type SourceOrigin string

const (
	OriginInternalDoc    SourceOrigin = "internal_doc"
	OriginExternalPub    SourceOrigin = "external_pub"
)

// SourceRef is a citation: either a chunk of an internally ingested
// document or a result from an external research API.
type SourceRef struct {
	Origin          SourceOrigin `json:"origin"`
	StableID        string       `json:"stable_id"`
	Title           string       `json:"title"`
	Authors         []string     `json:"authors,omitempty"`
	Year            int          `json:"year,omitempty"`
	Abstract        string       `json:"abstract,omitempty"`
	RelevanceScore  float64      `json:"relevance_score"`
	AIRelevanceScore *float64    `json:"ai_relevance_score,omitempty"`
	Embedding       []float32    `json:"embedding,omitempty"`
}

// Equal reports whether two SourceRefs identify the same underlying
// source by an exact stable-id match or a normalized-title match. It
// does not compare embeddings; cosine similarity is checked only by the
// separate fuzzy pass of research.Dedup.
func (s SourceRef) Equal(other SourceRef) bool {
	if s.StableID != "" && s.StableID == other.StableID {
		return true
	}
	return normalizedTitle(s.Title) != "" && normalizedTitle(s.Title) == normalizedTitle(other.Title)
}

// ImageRef is an image attached to a section, discovered during
// document ingestion and analyzed by the vision provider.
type ImageRef struct {
	ID          string `json:"id"`
	Caption     string `json:"caption,omitempty"`
	Description string `json:"description,omitempty"`
	SourceDocID string `json:"source_doc_id,omitempty"`
}

// Section is one chapter section.
type Section struct {
	Index         int         `json:"index"`
	Title         string      `json:"title"`
	Content       string      `json:"content"`
	SourceRefs    []SourceRef `json:"source_refs,omitempty"`
	Images        []ImageRef  `json:"images,omitempty"`
	WordCount     int         `json:"word_count"`
	CostUSD       float64     `json:"cost_usd"`
	GeneratedAt   time.Time   `json:"generated_at"`
}

// QualityScores are the five [0,1] scalars produced by qa_scoring.
type QualityScores struct {
	Depth        float64 `json:"depth"`
	Coverage     float64 `json:"coverage"`
	Evidence     float64 `json:"evidence"`
	Currency     float64 `json:"currency"`
	Completeness float64 `json:"completeness"`
}

// FactCheckVerdict is the chapter-level fact-check outcome produced by
// pkg/factcheck.
type FactCheckVerdict struct {
	OverallAccuracy float64 `json:"overall_accuracy"`
	CriticalIssues  int     `json:"critical_issues"`
	Passed          bool    `json:"passed"`
}

// Chapter is the aggregate the orchestrator drives through its
// fourteen stages.
type Chapter struct {
	ID               string                     `json:"id"`
	OwnerID          string                     `json:"owner_id"`
	CurrentStage     Stage                      `json:"current_stage"`
	Terminal         bool                       `json:"terminal"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
	Version          int                        `json:"version"`
	Title            string                     `json:"title"`
	Sections         []Section                  `json:"sections,omitempty"`
	ExecutiveSummary string                     `json:"executive_summary,omitempty"`
	KeyPoints        []string                   `json:"key_points,omitempty"`
	Tags             []string                   `json:"tags,omitempty"`
	StagePayloads    map[Stage]json.RawMessage  `json:"stage_payloads,omitempty"`
	Quality          QualityScores              `json:"quality"`
	FactCheck        *FactCheckVerdict          `json:"fact_check,omitempty"`
}

// Clone performs a deep copy, used to snapshot a version before
// regenerate_section mutates the chapter in place.
func (c *Chapter) Clone() *Chapter {
	if c == nil {
		return nil
	}
	clone := *c

	clone.Sections = make([]Section, len(c.Sections))
	for i, s := range c.Sections {
		clone.Sections[i] = s
		clone.Sections[i].SourceRefs = append([]SourceRef(nil), s.SourceRefs...)
		clone.Sections[i].Images = append([]ImageRef(nil), s.Images...)
	}

	clone.KeyPoints = append([]string(nil), c.KeyPoints...)
	clone.Tags = append([]string(nil), c.Tags...)

	if c.StagePayloads != nil {
		clone.StagePayloads = make(map[Stage]json.RawMessage, len(c.StagePayloads))
		for k, v := range c.StagePayloads {
			cp := make(json.RawMessage, len(v))
			copy(cp, v)
			clone.StagePayloads[k] = cp
		}
	}

	if c.FactCheck != nil {
		fc := *c.FactCheck
		clone.FactCheck = &fc
	}

	return &clone
}

// VersionSnapshot is an immutable copy of a Chapter taken before a
// destructive mutation (regenerate_section), for history/rollback.
type VersionSnapshot struct {
	ChapterID string    `json:"chapter_id"`
	Version   int        `json:"version"`
	Chapter   *Chapter   `json:"chapter"`
	CreatedAt time.Time  `json:"created_at"`
}
