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
	"fmt"
	"strings"
	"time"

	"github.com/neurocore/chapterforge/pkg/chapter"
	"github.com/neurocore/chapterforge/pkg/chaptererr"
	"github.com/neurocore/chapterforge/pkg/progress"
	"github.com/neurocore/chapterforge/pkg/provider"
)

// RegenerateSection re-runs stage section_generation for a single
// already-generated section, reusing the research_internal,
// research_external and synthesis_plan payloads already persisted on
// the chapter rather than re-running stages 1-5 (spec.md §4.1
// "Orchestrator API to the REST layer"). On success it increments the
// chapter's version and records a new version snapshot.
func (o *Orchestrator) RegenerateSection(ctx context.Context, chapterID string, sectionNumber int, addedSources []chapter.SourceRef, instructions string) error {
	ch, err := o.store.GetChapter(ctx, chapterID)
	if err != nil {
		return fmt.Errorf("orchestrator: load chapter %s: %w", chapterID, err)
	}
	if ch == nil {
		return chaptererr.New(chaptererr.InvalidInput, "chapter not found: "+chapterID)
	}
	if sectionNumber < 0 || sectionNumber >= len(ch.Sections) {
		return chaptererr.New(chaptererr.InvalidInput, fmt.Sprintf("section %d out of range (chapter has %d sections)", sectionNumber, len(ch.Sections)))
	}

	var outline SynthesisOutline
	if _, err := getPayload(ch, chapter.StageSynthesisPlan, &outline); err != nil {
		return err
	}
	var entry OutlineEntry
	found := false
	for _, e := range outline.Sections {
		if e.Index == sectionNumber {
			entry = e
			found = true
			break
		}
	}
	if !found {
		return chaptererr.New(chaptererr.InvalidInput, fmt.Sprintf("no outline entry for section %d", sectionNumber))
	}

	var sources []chapter.SourceRef
	if _, err := getPayload(ch, chapter.StageResearchExternal, &sources); err != nil {
		return err
	}
	byID := make(map[string]chapter.SourceRef, len(sources)+len(addedSources))
	for _, s := range sources {
		byID[s.StableID] = s
	}
	sourceIDs := append([]string(nil), entry.SourceIDs...)
	for _, s := range addedSources {
		byID[s.StableID] = s
		sourceIDs = append(sourceIDs, s.StableID)
	}

	var refs []chapter.SourceRef
	var promptSources strings.Builder
	for _, id := range sourceIDs {
		if s, ok := byID[id]; ok {
			refs = append(refs, s)
			fmt.Fprintf(&promptSources, "- %s: %s\n", s.Title, s.Abstract)
		}
	}

	prompt := fmt.Sprintf("Rewrite section %d (%q) of the chapter %q, targeting roughly %d words. Cited sources:\n%s",
		entry.Index, entry.Title, ch.Title, entry.EstimatedWords, promptSources.String())
	if instructions != "" {
		prompt += "\nRevision instructions: " + instructions
	}

	result, err := o.router.GenerateText(ctx, provider.TaskContentGeneration, ch.ID,
		[]provider.Message{
			{Role: "system", Content: "You write thorough, well-cited medical reference prose."},
			{Role: "user", Content: prompt},
		},
	)
	if err != nil {
		o.metrics.RecordRegenerate("failed")
		return err
	}

	ch.Sections[sectionNumber] = chapter.Section{
		Index:       sectionNumber,
		Title:       entry.Title,
		Content:     result.Text,
		SourceRefs:  refs,
		WordCount:   len(strings.Fields(result.Text)),
		CostUSD:     o.router.CostForChapter(ch.ID),
		GeneratedAt: time.Now().UTC(),
	}
	ch.Version++
	ch.UpdatedAt = time.Now().UTC()

	if err := o.store.SaveChapter(ctx, ch); err != nil {
		return fmt.Errorf("orchestrator: persist regenerated section %d: %w", sectionNumber, err)
	}
	if err := o.store.SaveVersionSnapshot(ctx, chapter.VersionSnapshot{
		ChapterID: ch.ID,
		Version:   ch.Version,
		Chapter:   ch.Clone(),
		CreatedAt: ch.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("orchestrator: snapshot regenerated section %d: %w", sectionNumber, err)
	}

	o.publish(ch.ID, progress.EventSectionReady, chapter.StageSectionGeneration, -1, map[string]any{
		"section_number": sectionNumber,
		"section_title":  entry.Title,
		"total_sections": len(ch.Sections),
	})
	o.metrics.RecordRegenerate("success")
	return nil
}
