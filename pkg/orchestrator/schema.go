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

package orchestrator

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var reflector = &jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

var schemaCache sync.Map // reflect type name -> []byte

// reflectSchema renders a Go struct's JSON Schema via struct tags
// (`jsonschema:"..."`), matching the contract §6 calls out for every
// schema-constrained provider call. Results are cached since the
// reflector walks the type graph on every call.
func reflectSchema(v any) []byte {
	s := reflector.Reflect(v)
	data, err := json.Marshal(s)
	if err != nil {
		panic("orchestrator: reflect schema: " + err.Error())
	}
	return data
}

// ChapterAnalysis is the schema-constrained output of stage input_valid
// (spec.md §6, schema 1).
type ChapterAnalysis struct {
	PrimaryConcepts       []string `json:"primary_concepts" jsonschema:"required"`
	ChapterType           string   `json:"chapter_type" jsonschema:"required,enum=surgical_disease,enum=pure_anatomy,enum=surgical_technique"`
	Keywords              []string `json:"keywords" jsonschema:"required,minItems=3,maxItems=20"`
	Complexity            string   `json:"complexity" jsonschema:"required,enum=beginner,enum=intermediate,enum=advanced,enum=expert"`
	EstimatedSectionCount  int     `json:"estimated_section_count" jsonschema:"required,minimum=10,maximum=150"`
}

// ResearchContext is the schema-constrained output of stage context
// (spec.md §6, schema 2).
type ResearchContext struct {
	ResearchGaps         []string            `json:"research_gaps" jsonschema:"required"`
	KeyReferences        []string            `json:"key_references" jsonschema:"required"`
	ContentCategories    map[string]string   `json:"content_categories" jsonschema:"required"`
	ConfidenceAssessment ConfidenceAssessment `json:"confidence_assessment" jsonschema:"required"`
	TemporalCoverage     string              `json:"temporal_coverage,omitempty"`
	VectorQueries        []string            `json:"vector_queries" jsonschema:"required"`
	ExternalQueries      []string            `json:"external_queries" jsonschema:"required"`
	KeywordQueries       []string            `json:"keyword_queries" jsonschema:"required"`
}

// ConfidenceAssessment is ResearchContext's nested confidence object.
type ConfidenceAssessment struct {
	OverallConfidence float64 `json:"overall_confidence" jsonschema:"required,minimum=0,maximum=1"`
}

// SynthesisOutline is the schema-constrained output of stage
// synthesis_plan: an ordered outline of sections bounded by chapter
// type (spec.md §4.1).
type SynthesisOutline struct {
	Sections []OutlineEntry `json:"sections" jsonschema:"required"`
}

// OutlineEntry is one planned section.
type OutlineEntry struct {
	Index          int      `json:"index" jsonschema:"required"`
	Title          string   `json:"title" jsonschema:"required"`
	EstimatedWords int      `json:"estimated_words" jsonschema:"required"`
	SourceIDs      []string `json:"source_ids"`
}

var (
	chapterAnalysisSchema  []byte
	researchContextSchema  []byte
	synthesisOutlineSchema []byte
	schemaOnce             sync.Once
)

func initSchemas() {
	schemaOnce.Do(func() {
		chapterAnalysisSchema = reflectSchema(&ChapterAnalysis{})
		researchContextSchema = reflectSchema(&ResearchContext{})
		synthesisOutlineSchema = reflectSchema(&SynthesisOutline{})
	})
}
