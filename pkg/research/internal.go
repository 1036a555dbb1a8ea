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

// Package research implements the two research stages of the
// pipeline: querying the owner's ingested documents (internal) and
// external publication APIs (external), filtering both by AI-judged
// relevance, and deduplicating the combined result set.
package research

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/neurocore/chapterforge/pkg/chapter"
	"github.com/neurocore/chapterforge/pkg/vectorindex"
)

const (
	// TopK is how many results each internal query returns before
	// re-ranking, per spec.md §4.4.
	TopK = 20
	// SimilarityThreshold discards internal hits scoring below it.
	SimilarityThreshold = 0.75
)

// InternalSearcher runs the internal (owned-document) research stage:
// parallel vector queries per sub-topic, re-ranked and blended into a
// single stable-ordered result.
type InternalSearcher struct {
	index      vectorindex.Provider
	collection string
	embed      func(ctx context.Context, text string) ([]float32, error)
}

// NewInternalSearcher creates an InternalSearcher. embed generates the
// query embedding (normally Router.GenerateEmbedding).
func NewInternalSearcher(index vectorindex.Provider, collection string, embed func(ctx context.Context, text string) ([]float32, error)) *InternalSearcher {
	return &InternalSearcher{index: index, collection: collection, embed: embed}
}

// Search runs one vector query per sub-topic in parallel and blends
// the results: scores at or above SimilarityThreshold only, ordered by score
// descending, stable-sorted by document id ascending for equal scores.
func (s *InternalSearcher) Search(ctx context.Context, subTopics []string) ([]chapter.SourceRef, error) {
	if len(subTopics) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	hits := make([][]vectorindex.Result, len(subTopics))

	for i, topic := range subTopics {
		i, topic := i, topic
		g.Go(func() error {
			vec, err := s.embed(gctx, topic)
			if err != nil {
				return fmt.Errorf("research: embed sub-topic %q: %w", topic, err)
			}
			results, err := s.index.Search(gctx, s.collection, vec, TopK)
			if err != nil {
				return fmt.Errorf("research: search sub-topic %q: %w", topic, err)
			}
			hits[i] = results
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return blendAndRerank(hits), nil
}

func blendAndRerank(hits [][]vectorindex.Result) []chapter.SourceRef {
	seen := make(map[string]chapter.SourceRef)

	for _, results := range hits {
		for _, r := range results {
			if r.Score < SimilarityThreshold {
				continue
			}
			ref := toSourceRef(r)
			if existing, ok := seen[r.ID]; !ok || ref.RelevanceScore > existing.RelevanceScore {
				seen[r.ID] = ref
			}
		}
	}

	out := make([]chapter.SourceRef, 0, len(seen))
	for _, ref := range seen {
		out = append(out, ref)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].StableID < out[j].StableID
	})

	return out
}

func toSourceRef(r vectorindex.Result) chapter.SourceRef {
	title, _ := r.Metadata["title"].(string)
	if title == "" {
		title = r.Content
	}
	return chapter.SourceRef{
		Origin:         chapter.OriginInternalDoc,
		StableID:       r.ID,
		Title:          title,
		Abstract:       r.Content,
		RelevanceScore: r.Score,
	}
}
