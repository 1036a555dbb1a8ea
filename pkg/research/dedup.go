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

package research

import (
	"math"

	"github.com/neurocore/chapterforge/pkg/chapter"
)

// FuzzyDuplicateThreshold is the cosine-similarity floor above which
// two sources with different stable ids/titles are still treated as
// the same underlying source.
const FuzzyDuplicateThreshold = 0.85

// Dedup removes duplicate SourceRefs: an exact pass first (matching
// stable id or normalized title, via chapter.SourceRef.Equal), then a
// fuzzy pass over embeddings for whatever the exact pass didn't catch.
// When two refs are judged duplicates, the one with the higher
// combined relevance+recency score is kept.
func Dedup(sources []chapter.SourceRef) []chapter.SourceRef {
	exact := dedupExact(sources)
	return dedupFuzzy(exact)
}

func dedupExact(sources []chapter.SourceRef) []chapter.SourceRef {
	var kept []chapter.SourceRef
	for _, s := range sources {
		replaced := false
		for i, k := range kept {
			if k.Equal(s) {
				if combinedScore(s) > combinedScore(k) {
					kept[i] = s
				}
				replaced = true
				break
			}
		}
		if !replaced {
			kept = append(kept, s)
		}
	}
	return kept
}

func dedupFuzzy(sources []chapter.SourceRef) []chapter.SourceRef {
	keep := make([]bool, len(sources))
	for i := range sources {
		keep[i] = true
	}

	for i := 0; i < len(sources); i++ {
		if !keep[i] || len(sources[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(sources); j++ {
			if !keep[j] || len(sources[j].Embedding) == 0 {
				continue
			}
			if cosineSimilarity(sources[i].Embedding, sources[j].Embedding) >= FuzzyDuplicateThreshold {
				if combinedScore(sources[j]) > combinedScore(sources[i]) {
					keep[i] = false
				} else {
					keep[j] = false
				}
			}
		}
	}

	out := make([]chapter.SourceRef, 0, len(sources))
	for i, s := range sources {
		if keep[i] {
			out = append(out, s)
		}
	}
	return out
}

// combinedScore blends relevance and recency: a newer source with
// equal relevance slightly outranks an older one when choosing which
// duplicate to keep.
func combinedScore(s chapter.SourceRef) float64 {
	relevance := s.RelevanceScore
	if s.AIRelevanceScore != nil {
		relevance = (relevance + *s.AIRelevanceScore) / 2
	}
	recency := 0.0
	if s.Year > 0 {
		recency = float64(s.Year) / 3000 // small tiebreaker, never dominates relevance
	}
	return relevance + recency
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
