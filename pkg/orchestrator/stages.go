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
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/neurocore/chapterforge/pkg/chapter"
	"github.com/neurocore/chapterforge/pkg/chaptererr"
	"github.com/neurocore/chapterforge/pkg/progress"
	"github.com/neurocore/chapterforge/pkg/provider"
	"github.com/neurocore/chapterforge/pkg/research"
)

// sectionCountBounds gives the [min,max] planned section count per
// chapter type (spec.md §4.1, synthesis_plan).
var sectionCountBounds = map[string][2]int{
	"surgical_disease":   {80, 120},
	"pure_anatomy":       {48, 80},
	"surgical_technique": {60, 100},
}

func setPayload(ch *chapter.Chapter, stage chapter.Stage, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return chaptererr.Wrap(chaptererr.IntegrityViolation, "marshal stage payload", err)
	}
	if ch.StagePayloads == nil {
		ch.StagePayloads = make(map[chapter.Stage]json.RawMessage)
	}
	ch.StagePayloads[stage] = data
	return nil
}

func getPayload(ch *chapter.Chapter, stage chapter.Stage, v any) (bool, error) {
	raw, ok := ch.StagePayloads[stage]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, chaptererr.Wrap(chaptererr.IntegrityViolation, "unmarshal stage payload", err)
	}
	return true, nil
}

func stageInputValid(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	topic := strings.TrimSpace(ch.Title)
	if len(topic) < 3 {
		return chaptererr.New(chaptererr.InvalidInput, "topic must be at least 3 characters")
	}

	prompt := fmt.Sprintf("Analyze this medical chapter topic and extract structured metadata: %q", topic)
	result, err := rc.o.router.GenerateTextWithSchema(ctx, provider.TaskMetadataExtraction, ch.ID,
		[]provider.Message{
			{Role: "system", Content: "You classify medical chapter topics. Use a low temperature and stay strictly within the schema."},
			{Role: "user", Content: prompt},
		},
		chapterAnalysisSchema,
	)
	if err != nil {
		return err
	}

	var analysis ChapterAnalysis
	if err := json.Unmarshal([]byte(result.Text), &analysis); err != nil {
		return chaptererr.Wrap(chaptererr.ProviderSchemaViolation, "input_valid response did not match schema", err)
	}

	ch.Tags = append(ch.Tags, analysis.Keywords...)
	return setPayload(ch, chapter.StageInputValid, analysis)
}

func stageContext(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	var analysis ChapterAnalysis
	if _, err := getPayload(ch, chapter.StageInputValid, &analysis); err != nil {
		return err
	}

	prompt := fmt.Sprintf("Build a research plan for chapter %q (type=%s, concepts=%v).",
		ch.Title, analysis.ChapterType, analysis.PrimaryConcepts)
	result, err := rc.o.router.GenerateTextWithSchema(ctx, provider.TaskResearchPlanning, ch.ID,
		[]provider.Message{
			{Role: "system", Content: "You plan research coverage for a medical reference chapter."},
			{Role: "user", Content: prompt},
		},
		researchContextSchema,
	)
	if err != nil {
		return err
	}

	var rctx ResearchContext
	if err := json.Unmarshal([]byte(result.Text), &rctx); err != nil {
		return chaptererr.Wrap(chaptererr.ProviderSchemaViolation, "context response did not match schema", err)
	}

	return setPayload(ch, chapter.StageContext, rctx)
}

func stageResearchInternal(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	if rc.o.internal == nil {
		return setPayload(ch, chapter.StageResearchInternal, []chapter.SourceRef{})
	}

	var rctx ResearchContext
	if _, err := getPayload(ch, chapter.StageContext, &rctx); err != nil {
		return err
	}

	sources, err := rc.o.internal.Search(ctx, rctx.VectorQueries)
	if err != nil {
		return chaptererr.Wrap(chaptererr.ProviderTransient, "internal research failed", err)
	}
	return setPayload(ch, chapter.StageResearchInternal, sources)
}

func stageResearchExternal(ctx context.Context, rc *runContext) error {
	ch := rc.ch

	var rctx ResearchContext
	if _, err := getPayload(ch, chapter.StageContext, &rctx); err != nil {
		return err
	}
	var internalSources []chapter.SourceRef
	if _, err := getPayload(ch, chapter.StageResearchInternal, &internalSources); err != nil {
		return err
	}

	var externalSources []chapter.SourceRef
	if rc.o.external != nil {
		for _, query := range rctx.ExternalQueries {
			hits, err := rc.o.external.Search(ctx, query, nil)
			if err != nil {
				return chaptererr.Wrap(chaptererr.ProviderTransient, "external research failed", err)
			}
			externalSources = append(externalSources, hits...)
		}

		filter := research.NewRelevanceFilter(rc.o.router, ch.ID)
		filtered, err := filter.Filter(ctx, ch.Title, externalSources)
		if err != nil {
			return err
		}
		externalSources = filtered
	}

	combined := append(append([]chapter.SourceRef{}, internalSources...), externalSources...)
	deduped := research.Dedup(combined)
	return setPayload(ch, chapter.StageResearchExternal, deduped)
}

func stageSynthesisPlan(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	var analysis ChapterAnalysis
	if _, err := getPayload(ch, chapter.StageInputValid, &analysis); err != nil {
		return err
	}
	var sources []chapter.SourceRef
	if _, err := getPayload(ch, chapter.StageResearchExternal, &sources); err != nil {
		return err
	}

	bounds, ok := sectionCountBounds[analysis.ChapterType]
	if !ok {
		bounds = [2]int{10, 150}
	}

	prompt := fmt.Sprintf("Produce an ordered section outline for %q. Plan between %d and %d sections, drawing from %d candidate sources.",
		ch.Title, bounds[0], bounds[1], len(sources))
	result, err := rc.o.router.GenerateTextWithSchema(ctx, provider.TaskResearchPlanning, ch.ID,
		[]provider.Message{
			{Role: "system", Content: "You design chapter outlines for long-form medical reference content."},
			{Role: "user", Content: prompt},
		},
		synthesisOutlineSchema,
	)
	if err != nil {
		return err
	}

	var outline SynthesisOutline
	if err := json.Unmarshal([]byte(result.Text), &outline); err != nil {
		return chaptererr.Wrap(chaptererr.ProviderSchemaViolation, "synthesis_plan response did not match schema", err)
	}
	if len(outline.Sections) > bounds[1] {
		outline.Sections = outline.Sections[:bounds[1]]
	}

	ch.Sections = make([]chapter.Section, len(outline.Sections))
	for i, entry := range outline.Sections {
		ch.Sections[i] = chapter.Section{Index: i, Title: entry.Title}
	}

	return setPayload(ch, chapter.StageSynthesisPlan, outline)
}

func stageSectionGeneration(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	var outline SynthesisOutline
	if _, err := getPayload(ch, chapter.StageSynthesisPlan, &outline); err != nil {
		return err
	}
	var sources []chapter.SourceRef
	if _, err := getPayload(ch, chapter.StageResearchExternal, &sources); err != nil {
		return err
	}
	byID := make(map[string]chapter.SourceRef, len(sources))
	for _, s := range sources {
		byID[s.StableID] = s
	}

	generate := func(ctx context.Context, entry OutlineEntry) error {
		if ch.Sections[entry.Index].Content != "" {
			return nil
		}

		var refs []chapter.SourceRef
		var promptSources strings.Builder
		for _, id := range entry.SourceIDs {
			if s, ok := byID[id]; ok {
				refs = append(refs, s)
				fmt.Fprintf(&promptSources, "- %s: %s\n", s.Title, s.Abstract)
			}
		}

		prompt := fmt.Sprintf("Write section %d (%q) of the chapter %q, targeting roughly %d words. Cited sources:\n%s",
			entry.Index, entry.Title, ch.Title, entry.EstimatedWords, promptSources.String())
		result, err := rc.o.router.GenerateText(ctx, provider.TaskContentGeneration, ch.ID,
			[]provider.Message{
				{Role: "system", Content: "You write thorough, well-cited medical reference prose."},
				{Role: "user", Content: prompt},
			},
		)
		if err != nil {
			return err
		}

		ch.Sections[entry.Index] = chapter.Section{
			Index:       entry.Index,
			Title:       entry.Title,
			Content:     result.Text,
			SourceRefs:  refs,
			WordCount:   len(strings.Fields(result.Text)),
			CostUSD:     rc.o.router.CostForChapter(ch.ID),
			GeneratedAt: time.Now().UTC(),
		}
		rc.o.publish(ch.ID, progress.EventSectionReady, chapter.StageSectionGeneration, -1, map[string]any{
			"section_number": entry.Index,
			"section_title":  entry.Title,
			"total_sections": len(outline.Sections),
		})
		return nil
	}

	if !rc.o.cfg.ParallelSectionGeneration {
		for _, entry := range outline.Sections {
			if err := generate(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	}

	batch := rc.o.cfg.BatchSize
	for start := 0; start < len(outline.Sections); start += batch {
		end := start + batch
		if end > len(outline.Sections) {
			end = len(outline.Sections)
		}

		g, gctx := errgroup.WithContext(ctx)
		sem := semaphore.NewWeighted(int64(batch))
		for _, entry := range outline.Sections[start:end] {
			entry := entry
			if err := sem.Acquire(gctx, 1); err != nil {
				return chaptererr.Wrap(chaptererr.Cancelled, "section batch cancelled", err)
			}
			g.Go(func() error {
				defer sem.Release(1)
				return generate(gctx, entry)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func stageImageIntegration(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	if rc.o.images == nil {
		return setPayload(ch, chapter.StageImageIntegration, map[string]int{"images_attached": 0})
	}

	attached := 0
	for i := range ch.Sections {
		section := &ch.Sections[i]
		for _, ref := range section.SourceRefs {
			if ref.Origin != chapter.OriginInternalDoc {
				continue
			}
			images, err := rc.o.images(ctx, ref.StableID)
			if err != nil {
				return chaptererr.Wrap(chaptererr.StoreError, "image lookup failed", err)
			}
			section.Images = append(section.Images, images...)
			attached += len(images)
		}
	}
	return setPayload(ch, chapter.StageImageIntegration, map[string]int{"images_attached": attached})
}

func stageCitationBuild(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	var bibliography []chapter.SourceRef
	backRefs := make(map[string][]int)

	for _, section := range ch.Sections {
		for _, ref := range section.SourceRefs {
			found := false
			for _, existing := range bibliography {
				if existing.Equal(ref) {
					found = true
					break
				}
			}
			if !found {
				bibliography = append(bibliography, ref)
			}
			backRefs[ref.StableID] = append(backRefs[ref.StableID], section.Index)
		}
	}

	return setPayload(ch, chapter.StageCitationBuild, map[string]any{
		"bibliography":  bibliography,
		"back_refs":     backRefs,
		"unique_sources": len(bibliography),
	})
}

func stageQAScoring(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	var outline SynthesisOutline
	if _, err := getPayload(ch, chapter.StageSynthesisPlan, &outline); err != nil {
		return err
	}

	targetWords := 0
	for _, entry := range outline.Sections {
		targetWords += entry.EstimatedWords
	}
	if len(outline.Sections) > 0 {
		targetWords /= len(outline.Sections)
	}
	if targetWords == 0 {
		targetWords = 1
	}

	var totalWords, addressed, totalCitations int
	var citationAgeYears float64
	var citationCount int
	now := time.Now().UTC().Year()

	for _, section := range ch.Sections {
		totalWords += section.WordCount
		if section.Content != "" {
			addressed++
		}
		totalCitations += len(section.SourceRefs)
		for _, ref := range section.SourceRefs {
			if ref.Year > 0 {
				citationAgeYears += float64(now - ref.Year)
				citationCount++
			}
		}
	}

	meanWords := 0.0
	if len(ch.Sections) > 0 {
		meanWords = float64(totalWords) / float64(len(ch.Sections))
	}
	coverage := 0.0
	if len(outline.Sections) > 0 {
		coverage = float64(addressed) / float64(len(outline.Sections))
	}
	citationsPer1000 := 0.0
	if totalWords > 0 {
		citationsPer1000 = float64(totalCitations) / (float64(totalWords) / 1000)
	}
	meanAge := 0.0
	if citationCount > 0 {
		meanAge = citationAgeYears / float64(citationCount)
	}

	ch.Quality = chapter.QualityScores{
		Depth:        math.Min(1, meanWords/float64(targetWords)),
		Coverage:     coverage,
		Evidence:     math.Min(1, citationsPer1000/10),
		Currency:     math.Max(0, 1-0.05*meanAge),
		Completeness: coverage,
	}

	return setPayload(ch, chapter.StageQAScoring, ch.Quality)
}

func stageFactCheck(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	if rc.o.factChecker == nil {
		return nil
	}

	report, err := rc.o.factChecker.CheckChapter(ctx, ch.ID, ch.Sections)
	if err != nil {
		return err
	}

	verdict := report.ToVerdict()
	ch.FactCheck = &verdict
	rc.o.metrics.RecordFactCheckScore(verdict.OverallAccuracy, verdict.Passed)
	if !verdict.Passed && rc.o.factChecker.BlocksOnFailure() {
		return chaptererr.New(chaptererr.IntegrityViolation, "chapter failed fact-check and block_on_fact_check_failure is set")
	}

	return setPayload(ch, chapter.StageFactCheck, report)
}

func stageFormatting(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	anchors := make(map[int]string, len(ch.Sections))
	for _, section := range ch.Sections {
		anchors[section.Index] = slugify(section.Title)
	}
	return setPayload(ch, chapter.StageFormatting, map[string]any{"anchors": anchors})
}

func slugify(title string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteRune('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func stageReview(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	var sb strings.Builder
	for _, section := range ch.Sections {
		fmt.Fprintf(&sb, "Section %d: %s\n", section.Index, section.Title)
	}

	result, err := rc.o.router.GenerateText(ctx, provider.TaskReview, ch.ID,
		[]provider.Message{
			{Role: "system", Content: "You suggest improvements to a drafted medical reference chapter. Your suggestions are recorded for human review and are not applied automatically."},
			{Role: "user", Content: sb.String()},
		},
	)
	if err != nil {
		return err
	}

	return setPayload(ch, chapter.StageReview, map[string]string{"suggestions": result.Text})
}

func stageGapAnalysis(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	if rc.o.gapAnalyzer == nil {
		return nil
	}

	report, err := rc.o.gapAnalyzer.Analyze(ctx, ch)
	if err != nil {
		return err
	}
	rc.o.metrics.RecordGapAnalysisScore(report.CompletenessScore)

	return setPayload(ch, chapter.StageGapAnalysis, report)
}

func stageFinalize(ctx context.Context, rc *runContext) error {
	ch := rc.ch
	if ch.Version == 0 {
		ch.Version = 1
	}
	ch.Terminal = true
	ch.CurrentStage = chapter.StageFinalize

	if err := rc.o.store.SaveVersionSnapshot(ctx, chapter.VersionSnapshot{
		ChapterID: ch.ID,
		Version:   ch.Version,
		Chapter:   ch.Clone(),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return chaptererr.Wrap(chaptererr.StoreError, "save version snapshot", err)
	}

	rc.o.publish(ch.ID, progress.EventChapterComplete, chapter.StageFinalize, -1, nil)
	return nil
}
