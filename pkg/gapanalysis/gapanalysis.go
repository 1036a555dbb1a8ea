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

// Package gapanalysis scores a finished chapter across five weighted
// dimensions and decides whether it needs a revision pass before it
// can be finalized.
package gapanalysis

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/neurocore/chapterforge/pkg/chapter"
)

// Dimension is one of the five scored aspects of chapter quality.
type Dimension string

const (
	DimensionContentCompleteness Dimension = "content_completeness"
	DimensionSourceCoverage      Dimension = "source_coverage"
	DimensionSectionBalance      Dimension = "section_balance"
	DimensionTemporalCoverage    Dimension = "temporal_coverage"
	DimensionCriticalInformation Dimension = "critical_information"
)

// weights sum to 1.0, per spec.md §4.7.
var weights = map[Dimension]float64{
	DimensionContentCompleteness: 0.50,
	DimensionSourceCoverage:      0.20,
	DimensionSectionBalance:      0.15,
	DimensionTemporalCoverage:    0.10,
	DimensionCriticalInformation: 0.05,
}

// Severity classifies one detected gap within a dimension.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var deductions = map[Severity]float64{
	SeverityCritical: 0.15,
	SeverityHigh:     0.08,
	SeverityMedium:   0.04,
	SeverityLow:      0.02,
}

// Gap is one detected shortfall within a dimension.
type Gap struct {
	Dimension   Dimension
	Severity    Severity
	Description string
}

// DimensionScore is the scored outcome for one dimension.
type DimensionScore struct {
	Dimension Dimension
	Score     float64
	Gaps      []Gap
}

// Scorer computes one dimension's score for a chapter. Each dimension
// has its own concrete Scorer (content completeness checks section
// word counts against target, source coverage checks ref density per
// section, etc.) so they can run concurrently and independently.
type Scorer interface {
	Dimension() Dimension
	Score(ctx context.Context, ch *chapter.Chapter) (DimensionScore, error)
}

// Report is the full gap analysis result.
type Report struct {
	Dimensions          []DimensionScore
	CompletenessScore   float64
	CriticalGaps        int
	HighGaps            int
	NeedsRevision       bool
}

// Analyzer runs every registered Scorer concurrently and combines
// their weighted scores into a Report.
type Analyzer struct {
	scorers []Scorer
}

// NewAnalyzer creates an Analyzer from a set of dimension Scorers.
func NewAnalyzer(scorers ...Scorer) *Analyzer {
	return &Analyzer{scorers: scorers}
}

// Analyze runs all scorers concurrently via errgroup and aggregates
// the result. Per spec.md §4.7, a chapter needs revision if
// completeness < 0.75, or there is any critical gap, or more than 2
// high-severity gaps.
func (a *Analyzer) Analyze(ctx context.Context, ch *chapter.Chapter) (*Report, error) {
	scores := make([]DimensionScore, len(a.scorers))

	g, gctx := errgroup.WithContext(ctx)
	for i, scorer := range a.scorers {
		i, scorer := i, scorer
		g.Go(func() error {
			score, err := scorer.Score(gctx, ch)
			if err != nil {
				return err
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Aggregate(scores), nil
}

// Aggregate combines per-dimension scores into a Report.
func Aggregate(scores []DimensionScore) *Report {
	var weighted float64
	var critical, high int

	for _, s := range scores {
		dimScore := deduct(s)
		weighted += dimScore * weights[s.Dimension]
		for _, gap := range s.Gaps {
			switch gap.Severity {
			case SeverityCritical:
				critical++
			case SeverityHigh:
				high++
			}
		}
	}

	return &Report{
		Dimensions:        scores,
		CompletenessScore: weighted,
		CriticalGaps:      critical,
		HighGaps:          high,
		NeedsRevision:     weighted < 0.75 || critical > 0 || high > 2,
	}
}

func deduct(s DimensionScore) float64 {
	score := 1.0
	for _, gap := range s.Gaps {
		score -= deductions[gap.Severity]
	}
	if score < 0 {
		score = 0
	}
	return score
}
