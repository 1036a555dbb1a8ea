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

// Package checkpoint tracks which stages (and, within a stage, which
// sections) of a chapter's generation have already completed, so the
// orchestrator and the document ingestion pipeline can resume after a
// crash or a worker restart without redoing finished work.
//
// A checkpoint is scoped to a single task id — a chapter id for the
// orchestrator, a document id for ingestion — and holds a set of
// completed step names plus small opaque metadata per step.
package checkpoint

import (
	"context"
	"time"
)

// DefaultTTL is how long a checkpoint survives with no activity before
// Redis reclaims it. A chapter that has been stalled this long is
// considered abandoned rather than resumable.
const DefaultTTL = 7 * 24 * time.Hour

// Progress summarizes how far a task has advanced.
type Progress struct {
	TaskID         string
	CompletedSteps []string
	Metadata       map[string]map[string]any
	UpdatedAt      time.Time
}

// Service records step completion for a task and answers whether a
// given step has already run, so callers can skip it on resume.
type Service interface {
	// MarkStepComplete records that step has finished for taskID,
	// storing metadata alongside it (e.g. a payload digest, a row
	// count, a cost). metadata may be nil.
	MarkStepComplete(ctx context.Context, taskID, step string, metadata map[string]any) error

	// IsStepComplete reports whether step has already been recorded
	// complete for taskID.
	IsStepComplete(ctx context.Context, taskID, step string) (bool, error)

	// GetStepMetadata returns the metadata stored alongside a
	// completed step. The second return is false if the step was
	// never marked complete.
	GetStepMetadata(ctx context.Context, taskID, step string) (map[string]any, bool, error)

	// GetCompletedSteps lists every step recorded complete for taskID.
	GetCompletedSteps(ctx context.Context, taskID string) ([]string, error)

	// GetProgress returns the full checkpoint state for taskID.
	GetProgress(ctx context.Context, taskID string) (*Progress, error)

	// Clear removes all checkpoint state for taskID, used once a
	// chapter (or document) reaches a terminal state.
	Clear(ctx context.Context, taskID string) error
}
