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

package chapter

import (
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// StartGenerationRequest is the DTO for the start_generation API
// operation (spec.md §6). Validated with go-playground/validator
// before the orchestrator is invoked.
type StartGenerationRequest struct {
	OwnerID     string   `json:"owner_id" validate:"required"`
	Title       string   `json:"title" validate:"required,min=3,max=300"`
	Topic       string   `json:"topic" validate:"required,min=3"`
	DocumentIDs []string `json:"document_ids,omitempty" validate:"omitempty,dive,required"`
	Tags        []string `json:"tags,omitempty"`
	TargetWords int      `json:"target_word_count,omitempty" validate:"omitempty,min=200,max=20000"`
}

// Validate runs struct-tag validation over the request.
func (r *StartGenerationRequest) Validate() error {
	return validatorInstance().Struct(r)
}

// RegenerateSectionRequest is the DTO for regenerate_section (§4.12):
// reruns synthesis/generation/citation/qa for a single section index
// without recomputing research.
type RegenerateSectionRequest struct {
	ChapterID    string `json:"chapter_id" validate:"required"`
	SectionIndex int    `json:"section_index" validate:"gte=0"`
	Instructions string `json:"instructions,omitempty" validate:"omitempty,max=2000"`
}

// Validate runs struct-tag validation over the request.
func (r *RegenerateSectionRequest) Validate() error {
	return validatorInstance().Struct(r)
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normalizedTitle lowercases and collapses a title to its alphanumeric
// skeleton, used for the title-hash branch of SourceRef.Equal.
func normalizedTitle(title string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(title), "-"), "-")
}
