package research

import (
	"testing"

	"github.com/neurocore/chapterforge/pkg/chapter"
)

func TestDedup_ExactStableIDMatch(t *testing.T) {
	sources := []chapter.SourceRef{
		{StableID: "doi:1", Title: "A", RelevanceScore: 0.5},
		{StableID: "doi:1", Title: "A (reprint)", RelevanceScore: 0.9},
	}
	out := Dedup(sources)
	if len(out) != 1 {
		t.Fatalf("expected 1 result after exact dedup, got %d", len(out))
	}
	if out[0].RelevanceScore != 0.9 {
		t.Errorf("expected the higher-scoring duplicate to be kept, got %v", out[0].RelevanceScore)
	}
}

func TestDedup_FuzzyEmbeddingMatch(t *testing.T) {
	sources := []chapter.SourceRef{
		{StableID: "a", Title: "First", RelevanceScore: 0.6, Embedding: []float32{1, 0, 0}},
		{StableID: "b", Title: "Second", RelevanceScore: 0.7, Embedding: []float32{0.99, 0.01, 0}},
	}
	out := Dedup(sources)
	if len(out) != 1 {
		t.Fatalf("expected fuzzy duplicates to collapse to 1, got %d", len(out))
	}
}

func TestDedup_DistinctSourcesKept(t *testing.T) {
	sources := []chapter.SourceRef{
		{StableID: "a", Title: "First", Embedding: []float32{1, 0, 0}},
		{StableID: "b", Title: "Unrelated", Embedding: []float32{0, 1, 0}},
	}
	out := Dedup(sources)
	if len(out) != 2 {
		t.Fatalf("expected distinct sources to both survive, got %d", len(out))
	}
}

func TestRelevanceFilter_EmptyInputReturnsImmediately(t *testing.T) {
	f := NewRelevanceFilter(nil, "ch-1")
	out, err := f.Filter(nil, "topic", nil)
	if err != nil {
		t.Fatalf("expected no error on empty input, got %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty result, got %d", len(out))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got != 1.0 {
		t.Errorf("expected identical vectors to have similarity 1.0, got %v", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("expected orthogonal vectors to have similarity 0, got %v", got)
	}
}
