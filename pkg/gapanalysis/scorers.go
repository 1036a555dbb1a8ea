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

package gapanalysis

import (
	"context"
	"time"

	"github.com/neurocore/chapterforge/pkg/chapter"
)

// ContentCompletenessScorer flags sections well under their target
// word count as incomplete.
type ContentCompletenessScorer struct {
	TargetWordsPerSection int
}

func (s ContentCompletenessScorer) Dimension() Dimension { return DimensionContentCompleteness }

func (s ContentCompletenessScorer) Score(_ context.Context, ch *chapter.Chapter) (DimensionScore, error) {
	target := s.TargetWordsPerSection
	if target <= 0 {
		target = 500
	}
	var gaps []Gap
	for _, sec := range ch.Sections {
		ratio := float64(sec.WordCount) / float64(target)
		switch {
		case ratio < 0.3:
			gaps = append(gaps, Gap{Dimension: DimensionContentCompleteness, Severity: SeverityCritical, Description: "section " + sec.Title + " is far below target length"})
		case ratio < 0.6:
			gaps = append(gaps, Gap{Dimension: DimensionContentCompleteness, Severity: SeverityHigh, Description: "section " + sec.Title + " is under target length"})
		case ratio < 0.85:
			gaps = append(gaps, Gap{Dimension: DimensionContentCompleteness, Severity: SeverityMedium, Description: "section " + sec.Title + " is slightly short"})
		}
	}
	return DimensionScore{Dimension: DimensionContentCompleteness, Gaps: gaps}, nil
}

// SourceCoverageScorer flags sections with too few citations.
type SourceCoverageScorer struct {
	MinRefsPerSection int
}

func (s SourceCoverageScorer) Dimension() Dimension { return DimensionSourceCoverage }

func (s SourceCoverageScorer) Score(_ context.Context, ch *chapter.Chapter) (DimensionScore, error) {
	min := s.MinRefsPerSection
	if min <= 0 {
		min = 3
	}
	var gaps []Gap
	for _, sec := range ch.Sections {
		if len(sec.SourceRefs) == 0 {
			gaps = append(gaps, Gap{Dimension: DimensionSourceCoverage, Severity: SeverityCritical, Description: "section " + sec.Title + " has no citations"})
		} else if len(sec.SourceRefs) < min {
			gaps = append(gaps, Gap{Dimension: DimensionSourceCoverage, Severity: SeverityMedium, Description: "section " + sec.Title + " is under-cited"})
		}
	}
	return DimensionScore{Dimension: DimensionSourceCoverage, Gaps: gaps}, nil
}

// SectionBalanceScorer flags sections whose length deviates sharply
// from the chapter's average.
type SectionBalanceScorer struct{}

func (s SectionBalanceScorer) Dimension() Dimension { return DimensionSectionBalance }

func (s SectionBalanceScorer) Score(_ context.Context, ch *chapter.Chapter) (DimensionScore, error) {
	if len(ch.Sections) < 2 {
		return DimensionScore{Dimension: DimensionSectionBalance}, nil
	}
	total := 0
	for _, sec := range ch.Sections {
		total += sec.WordCount
	}
	avg := float64(total) / float64(len(ch.Sections))

	var gaps []Gap
	for _, sec := range ch.Sections {
		if avg == 0 {
			continue
		}
		deviation := (float64(sec.WordCount) - avg) / avg
		if deviation < -0.6 || deviation > 1.5 {
			gaps = append(gaps, Gap{Dimension: DimensionSectionBalance, Severity: SeverityMedium, Description: "section " + sec.Title + " is unbalanced relative to the rest of the chapter"})
		}
	}
	return DimensionScore{Dimension: DimensionSectionBalance, Gaps: gaps}, nil
}

// TemporalCoverageScorer flags chapters whose cited sources skew old,
// missing recent developments.
type TemporalCoverageScorer struct {
	RecentYears int
}

func (s TemporalCoverageScorer) Dimension() Dimension { return DimensionTemporalCoverage }

func (s TemporalCoverageScorer) Score(_ context.Context, ch *chapter.Chapter) (DimensionScore, error) {
	recent := s.RecentYears
	if recent <= 0 {
		recent = 3
	}
	currentYear := time.Now().Year()

	var total, recentCount int
	for _, sec := range ch.Sections {
		for _, ref := range sec.SourceRefs {
			if ref.Year == 0 {
				continue
			}
			total++
			if currentYear-ref.Year <= recent {
				recentCount++
			}
		}
	}

	var gaps []Gap
	if total > 0 && float64(recentCount)/float64(total) < 0.2 {
		gaps = append(gaps, Gap{Dimension: DimensionTemporalCoverage, Severity: SeverityMedium, Description: "fewer than 20% of cited sources are recent"})
	}
	return DimensionScore{Dimension: DimensionTemporalCoverage, Gaps: gaps}, nil
}

// CriticalInformationScorer flags the absence of an executive summary
// or key points, which readers rely on to judge chapter completeness
// at a glance.
type CriticalInformationScorer struct{}

func (s CriticalInformationScorer) Dimension() Dimension { return DimensionCriticalInformation }

func (s CriticalInformationScorer) Score(_ context.Context, ch *chapter.Chapter) (DimensionScore, error) {
	var gaps []Gap
	if ch.ExecutiveSummary == "" {
		gaps = append(gaps, Gap{Dimension: DimensionCriticalInformation, Severity: SeverityHigh, Description: "missing executive summary"})
	}
	if len(ch.KeyPoints) == 0 {
		gaps = append(gaps, Gap{Dimension: DimensionCriticalInformation, Severity: SeverityMedium, Description: "missing key points"})
	}
	return DimensionScore{Dimension: DimensionCriticalInformation, Gaps: gaps}, nil
}

// DefaultScorers returns the five dimension scorers configured with
// spec.md's default targets.
func DefaultScorers() []Scorer {
	return []Scorer{
		ContentCompletenessScorer{},
		SourceCoverageScorer{},
		SectionBalanceScorer{},
		TemporalCoverageScorer{},
		CriticalInformationScorer{},
	}
}
