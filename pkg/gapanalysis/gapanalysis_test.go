package gapanalysis

import (
	"context"
	"testing"

	"github.com/neurocore/chapterforge/pkg/chapter"
)

func TestAggregate_NeedsRevisionOnCriticalGap(t *testing.T) {
	scores := []DimensionScore{
		{Dimension: DimensionContentCompleteness, Gaps: []Gap{{Severity: SeverityCritical}}},
	}
	report := Aggregate(scores)
	if !report.NeedsRevision {
		t.Errorf("expected critical gap to force revision")
	}
}

func TestAggregate_PassesWithNoGaps(t *testing.T) {
	scores := []DimensionScore{
		{Dimension: DimensionContentCompleteness},
		{Dimension: DimensionSourceCoverage},
		{Dimension: DimensionSectionBalance},
		{Dimension: DimensionTemporalCoverage},
		{Dimension: DimensionCriticalInformation},
	}
	report := Aggregate(scores)
	if report.NeedsRevision {
		t.Errorf("expected perfect scores to not need revision, got completeness=%v", report.CompletenessScore)
	}
	if report.CompletenessScore != 1.0 {
		t.Errorf("expected completeness score 1.0, got %v", report.CompletenessScore)
	}
}

func TestAnalyzer_RunsAllScorersConcurrently(t *testing.T) {
	ch := &chapter.Chapter{
		Sections: []chapter.Section{
			{Title: "Intro", WordCount: 50},
		},
	}
	analyzer := NewAnalyzer(DefaultScorers()...)
	report, err := analyzer.Analyze(context.Background(), ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Dimensions) != 5 {
		t.Fatalf("expected 5 dimension scores, got %d", len(report.Dimensions))
	}
	if !report.NeedsRevision {
		t.Errorf("expected a thin, uncited, summary-less chapter to need revision")
	}
}
