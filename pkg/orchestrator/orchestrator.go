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

// Package orchestrator drives a Chapter through the fourteen-stage
// state machine named in spec.md §4.1, persisting each stage's result
// before advancing, checkpointing so a crash resumes at the next
// incomplete stage, and emitting progress events at every boundary.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/neurocore/chapterforge/pkg/chapter"
	"github.com/neurocore/chapterforge/pkg/chaptererr"
	"github.com/neurocore/chapterforge/pkg/checkpoint"
	"github.com/neurocore/chapterforge/pkg/dlq"
	"github.com/neurocore/chapterforge/pkg/factcheck"
	"github.com/neurocore/chapterforge/pkg/gapanalysis"
	"github.com/neurocore/chapterforge/pkg/progress"
	"github.com/neurocore/chapterforge/pkg/provider"
	"github.com/neurocore/chapterforge/pkg/research"
)

// MetricsRecorder is the subset of observability.Recorder the
// orchestrator needs. Defined here rather than imported so pkg/orchestrator
// doesn't depend on pkg/observability's full surface; *observability.Metrics
// and observability.NoopMetrics both satisfy it structurally.
type MetricsRecorder interface {
	RecordStage(stage string, duration time.Duration, outcome string)
	RecordLLMCost(providerName, model string, costUSD float64)
	RecordFactCheckScore(score float64, passed bool)
	RecordGapAnalysisScore(score float64)
	RecordDLQEntry(stage string)
	RecordRegenerate(outcome string)
}

// noopRecorder is used when no MetricsRecorder is configured.
type noopRecorder struct{}

func (noopRecorder) RecordStage(string, time.Duration, string) {}
func (noopRecorder) RecordLLMCost(string, string, float64)     {}
func (noopRecorder) RecordFactCheckScore(float64, bool)        {}
func (noopRecorder) RecordGapAnalysisScore(float64)            {}
func (noopRecorder) RecordDLQEntry(string)                     {}
func (noopRecorder) RecordRegenerate(string)                   {}

// Retry policy for a failing stage (spec.md §4.1 step 5): exponential
// backoff, capped, bounded attempts before the stage is considered
// exhausted.
const (
	RetryBase    = 1 * time.Second
	RetryFactor  = 2
	RetryCap     = 30 * time.Second
	MaxAttempts  = 3
)

func retryDelay(attempt int) time.Duration {
	d := RetryBase
	for i := 1; i < attempt; i++ {
		d *= RetryFactor
		if d > RetryCap {
			return RetryCap
		}
	}
	return d
}

// Store persists a Chapter's lifecycle fields and version history. A
// single SaveChapter call is expected to write current_stage and the
// stage's payload atomically (spec.md §4.1 step 4).
type Store interface {
	GetChapter(ctx context.Context, id string) (*chapter.Chapter, error)
	SaveChapter(ctx context.Context, ch *chapter.Chapter) error
	SaveVersionSnapshot(ctx context.Context, snapshot chapter.VersionSnapshot) error
}

// ImageLookup resolves the images discovered during document ingestion
// for a given internal source document, consumed by stage
// image_integration. May be nil, in which case no images are attached.
type ImageLookup func(ctx context.Context, sourceDocID string) ([]chapter.ImageRef, error)

// Config tunes stage behavior that spec.md §4.1/§4.1.1 leaves
// configurable.
type Config struct {
	// BatchSize bounds how many sections generate concurrently
	// (spec.md §4.1.1, default 5).
	BatchSize int
	// ParallelSectionGeneration toggles the batched concurrent path;
	// false forces the sequential fallback with identical output.
	ParallelSectionGeneration bool
	// BlockOnFactCheckFailure records the caller's fact-check blocking
	// choice; default false. The fact_check stage does not read it: it
	// halts the chapter only when the Checker's BlocksOnFailure is true.
	BlockOnFactCheckFailure bool
}

// SetDefaults fills zero-valued fields.
func (c *Config) SetDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
}

// Orchestrator wires together every collaborator named in spec.md §2's
// "core": the Provider Router, the Research Layer, the Fact Checker,
// the Gap Analyzer, the Checkpoint Service, the DLQ, and the Progress
// Channel.
type Orchestrator struct {
	store       Store
	checkpoints checkpoint.Service
	deadLetter  dlq.Queue
	publisher   progress.Publisher
	router      *provider.Router
	internal    *research.InternalSearcher
	external    *research.ExternalSearcher
	factChecker *factcheck.Checker
	gapAnalyzer *gapanalysis.Analyzer
	images      ImageLookup
	cfg         Config
	cancels     *CancelRegistry
	metrics     MetricsRecorder
}

// SetMetrics attaches a MetricsRecorder. Safe to call before the first
// Run; nil falls back to a no-op recorder.
func (o *Orchestrator) SetMetrics(m MetricsRecorder) {
	if m == nil {
		m = noopRecorder{}
	}
	o.metrics = m
	if pm, ok := interface{}(m).(provider.MetricsRecorder); ok && o.router != nil {
		o.router.SetMetrics(pm)
	}
}

// New creates an Orchestrator.
func New(
	store Store,
	checkpoints checkpoint.Service,
	deadLetter dlq.Queue,
	publisher progress.Publisher,
	router *provider.Router,
	internal *research.InternalSearcher,
	external *research.ExternalSearcher,
	factChecker *factcheck.Checker,
	gapAnalyzer *gapanalysis.Analyzer,
	images ImageLookup,
	cfg Config,
) *Orchestrator {
	cfg.SetDefaults()
	initSchemas()
	return &Orchestrator{
		store:       store,
		checkpoints: checkpoints,
		deadLetter:  deadLetter,
		publisher:   publisher,
		router:      router,
		internal:    internal,
		external:    external,
		factChecker: factChecker,
		gapAnalyzer: gapAnalyzer,
		images:      images,
		cfg:         cfg,
		cancels:     NewCancelRegistry(),
		metrics:     noopRecorder{},
	}
}

// StartGeneration creates a new chapter owned by userID and launches
// Run in the background, returning its id immediately (spec.md §4.1
// "Orchestrator API to the REST layer": async start, returns before
// completion). The background run is tracked in the Orchestrator's
// CancelRegistry so Cancel can reach it.
func (o *Orchestrator) StartGeneration(ctx context.Context, userID, topic string) (string, error) {
	now := time.Now().UTC()
	ch := &chapter.Chapter{
		ID:        uuid.NewString(),
		OwnerID:   userID,
		Title:     topic,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.SaveChapter(ctx, ch); err != nil {
		return "", fmt.Errorf("orchestrator: create chapter: %w", err)
	}

	runCtx, done := o.cancels.Track(context.WithoutCancel(ctx), ch.ID)
	go func() {
		defer done()
		if err := o.Run(runCtx, ch.ID); err != nil && chaptererr.KindOf(err) != chaptererr.Cancelled {
			slog.Error("chapter generation failed", "chapter_id", ch.ID, "error", err)
		}
	}()

	return ch.ID, nil
}

// Cancel requests cancellation of an in-flight generation for
// chapterID. Returns false if no generation is currently running for
// that chapter (spec.md §4.9: cancellation is a separate authenticated
// call, distinct from closing the progress-channel connection).
func (o *Orchestrator) Cancel(chapterID string) bool {
	return o.cancels.Cancel(chapterID)
}

// GetChapter returns the current persisted state of a chapter.
func (o *Orchestrator) GetChapter(ctx context.Context, chapterID string) (*chapter.Chapter, error) {
	return o.store.GetChapter(ctx, chapterID)
}

// stageFunc is one stage body. rc carries everything a stage needs:
// the chapter handle being mutated in place, and the Orchestrator's
// collaborators.
type stageFunc func(ctx context.Context, rc *runContext) error

// runContext is passed to every stage body.
type runContext struct {
	ch *chapter.Chapter
	o  *Orchestrator
}

func (o *Orchestrator) stageBody(stage chapter.Stage) stageFunc {
	switch stage {
	case chapter.StageInputValid:
		return stageInputValid
	case chapter.StageContext:
		return stageContext
	case chapter.StageResearchInternal:
		return stageResearchInternal
	case chapter.StageResearchExternal:
		return stageResearchExternal
	case chapter.StageSynthesisPlan:
		return stageSynthesisPlan
	case chapter.StageSectionGeneration:
		return stageSectionGeneration
	case chapter.StageImageIntegration:
		return stageImageIntegration
	case chapter.StageCitationBuild:
		return stageCitationBuild
	case chapter.StageQAScoring:
		return stageQAScoring
	case chapter.StageFactCheck:
		return stageFactCheck
	case chapter.StageFormatting:
		return stageFormatting
	case chapter.StageReview:
		return stageReview
	case chapter.StageGapAnalysis:
		return stageGapAnalysis
	case chapter.StageFinalize:
		return stageFinalize
	default:
		return nil
	}
}

// Run drives chapterID through every remaining stage, starting after
// whatever the checkpoint service already recorded complete.
func (o *Orchestrator) Run(ctx context.Context, chapterID string) error {
	ch, err := o.store.GetChapter(ctx, chapterID)
	if err != nil {
		return fmt.Errorf("orchestrator: load chapter %s: %w", chapterID, err)
	}
	rc := &runContext{ch: ch, o: o}

	startIdx := 0
	if ch.CurrentStage != "" {
		for i, s := range chapter.Stages {
			if s == ch.CurrentStage {
				startIdx = i + 1
				break
			}
		}
	}

	for i := startIdx; i < len(chapter.Stages); i++ {
		stage := chapter.Stages[i]

		done, err := o.checkpoints.IsStepComplete(ctx, chapterID, string(stage))
		if err != nil {
			return fmt.Errorf("orchestrator: checkpoint lookup for %s: %w", stage, err)
		}
		if done {
			continue
		}

		o.publish(chapterID, progress.EventStageStart, stage, i, nil)

		stageStart := time.Now()
		if err := o.runStage(ctx, stage, rc); err != nil {
			outcome := "failed"
			if chaptererr.KindOf(err) == chaptererr.Cancelled {
				outcome = "cancelled"
			}
			o.metrics.RecordStage(string(stage), time.Since(stageStart), outcome)
			return o.onStageFailure(ctx, chapterID, stage, ch, err)
		}
		o.metrics.RecordStage(string(stage), time.Since(stageStart), "success")

		ch.CurrentStage = stage
		ch.UpdatedAt = time.Now().UTC()
		if err := o.store.SaveChapter(ctx, ch); err != nil {
			return fmt.Errorf("orchestrator: persist after %s: %w", stage, err)
		}
		if err := o.checkpoints.MarkStepComplete(ctx, chapterID, string(stage), map[string]any{
			"completed_at": time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("orchestrator: checkpoint %s: %w", stage, err)
		}
		o.publish(chapterID, progress.EventStageComplete, stage, i, nil)
	}

	return nil
}

// runStage retries a stage body per the backoff policy, distinguishing
// cancellation (no retry, no DLQ) from every other failure kind.
func (o *Orchestrator) runStage(ctx context.Context, stage chapter.Stage, rc *runContext) error {
	body := o.stageBody(stage)
	if body == nil {
		return fmt.Errorf("orchestrator: no stage body registered for %s", stage)
	}

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err := body(ctx, rc)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || chaptererr.KindOf(err) == chaptererr.Cancelled {
			return chaptererr.Wrap(chaptererr.Cancelled, "stage cancelled", err)
		}
		if !chaptererr.Retryable(err) {
			return err
		}
		if attempt < MaxAttempts {
			select {
			case <-ctx.Done():
				return chaptererr.Wrap(chaptererr.Cancelled, "stage cancelled during backoff", ctx.Err())
			case <-time.After(retryDelay(attempt)):
			}
		}
	}
	return lastErr
}

func (o *Orchestrator) onStageFailure(ctx context.Context, chapterID string, stage chapter.Stage, ch *chapter.Chapter, stageErr error) error {
	ch.Terminal = true
	ch.CurrentStage = stage
	ch.UpdatedAt = time.Now().UTC()
	_ = o.store.SaveChapter(ctx, ch)

	if chaptererr.KindOf(stageErr) == chaptererr.Cancelled {
		o.publish(chapterID, progress.EventChapterFailed, stage, -1, map[string]any{"reason": "cancelled"})
		return stageErr
	}

	if o.deadLetter != nil {
		_ = o.deadLetter.Add(ctx, dlq.Entry{
			TaskID: chapterID,
			Stage:  string(stage),
			Error:  stageErr.Error(),
		})
		o.metrics.RecordDLQEntry(string(stage))
	}
	o.publish(chapterID, progress.EventChapterFailed, stage, -1, map[string]any{"error": stageErr.Error()})
	return stageErr
}

func (o *Orchestrator) publish(chapterID string, kind progress.EventKind, stage chapter.Stage, stageNumber int, payload map[string]any) {
	if o.publisher == nil {
		return
	}
	event := progress.Event{
		ChapterID: chapterID,
		Kind:      kind,
		Stage:     string(stage),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if stageNumber >= 0 {
		n := stageNumber
		event.StageNumber = &n
	}
	o.publisher.Publish(event)
}
