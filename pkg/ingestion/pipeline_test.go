package ingestion

import (
	"context"
	"sync"
	"testing"

	"github.com/neurocore/chapterforge/pkg/checkpoint"
	"github.com/neurocore/chapterforge/pkg/circuitbreaker"
	"github.com/neurocore/chapterforge/pkg/provider"
	"github.com/neurocore/chapterforge/pkg/vectorindex"
)

// memVectorIndex is a minimal in-memory vectorindex.Provider for tests.
type memVectorIndex struct {
	mu      sync.Mutex
	upserts map[string][]float32
}

func newMemVectorIndex() *memVectorIndex {
	return &memVectorIndex{upserts: make(map[string][]float32)}
}

func (m *memVectorIndex) Name() string { return "mem" }

func (m *memVectorIndex) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts[id] = vector
	return nil
}

func (m *memVectorIndex) Search(ctx context.Context, collection string, vector []float32, topK int) ([]vectorindex.Result, error) {
	return nil, nil
}

func (m *memVectorIndex) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]vectorindex.Result, error) {
	return nil, nil
}

func (m *memVectorIndex) Delete(ctx context.Context, collection, id string) error { return nil }

func (m *memVectorIndex) Close() error { return nil }

// memCheckpoint is a minimal in-memory checkpoint.Service for tests;
// no Redis mock exists anywhere in this module's dependencies.
type memCheckpoint struct {
	mu    sync.Mutex
	steps map[string]map[string]bool
}

func newMemCheckpoint() *memCheckpoint {
	return &memCheckpoint{steps: make(map[string]map[string]bool)}
}

func (m *memCheckpoint) MarkStepComplete(ctx context.Context, taskID, step string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps[taskID] == nil {
		m.steps[taskID] = make(map[string]bool)
	}
	m.steps[taskID][step] = true
	return nil
}

func (m *memCheckpoint) IsStepComplete(ctx context.Context, taskID, step string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[taskID][step], nil
}

func (m *memCheckpoint) GetStepMetadata(ctx context.Context, taskID, step string) (map[string]any, bool, error) {
	return nil, false, nil
}

func (m *memCheckpoint) GetCompletedSteps(ctx context.Context, taskID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for s := range m.steps[taskID] {
		out = append(out, s)
	}
	return out, nil
}

func (m *memCheckpoint) GetProgress(ctx context.Context, taskID string) (*checkpoint.Progress, error) {
	return nil, nil
}

func (m *memCheckpoint) Clear(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.steps, taskID)
	return nil
}

type stubProvider struct {
	name  string
	caps  []provider.Capability
	calls int
}

func (s *stubProvider) Name() string                            { return s.name }
func (s *stubProvider) Model() string                           { return "stub-model" }
func (s *stubProvider) Capabilities() []provider.Capability      { return s.caps }
func (s *stubProvider) GenerateText(ctx context.Context, messages []provider.Message) (*provider.TextResult, error) {
	return &provider.TextResult{Text: "ok", Provider: s.name}, nil
}
func (s *stubProvider) GenerateTextWithSchema(ctx context.Context, messages []provider.Message, schema []byte) (*provider.TextResult, error) {
	return &provider.TextResult{Text: "{}", Provider: s.name}, nil
}
func (s *stubProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	return []float32{0.1, 0.2, 0.3}, nil
}
func (s *stubProvider) AnalyzeImage(ctx context.Context, image provider.ImageInput, prompt string) (*provider.TextResult, error) {
	return &provider.TextResult{Text: "a description", Provider: s.name}, nil
}

type memStore struct {
	saved []*Document
}

func (m *memStore) Save(ctx context.Context, doc *Document) error {
	m.saved = append(m.saved, doc)
	return nil
}

func newTestRouter(embedder, vision *stubProvider) *provider.Router {
	cfg := circuitbreaker.Config{}
	cfg.SetDefaults()
	breakers := circuitbreaker.NewRegistry(cfg, nil)
	chains := map[provider.Task][]provider.ChainEntry{
		provider.TaskEmbedding: {{Provider: embedder, Rates: provider.CostRates{}}},
	}
	return provider.NewRouter(breakers, chains, vision)
}

func TestPipeline_RunsAllPhasesInOrder(t *testing.T) {
	embedder := &stubProvider{name: "embedder", caps: []provider.Capability{provider.CapEmbedding}}
	vision := &stubProvider{name: "vision", caps: []provider.Capability{provider.CapVision}}
	router := newTestRouter(embedder, vision)

	processor := &FakeProcessor{
		Text:      "full document text",
		Chunks:    []Chunk{{ID: "c1", Content: "chunk one"}},
		Images:    []Image{{ID: "img1", Data: []byte("bytes"), MediaType: "image/png"}},
		Citations: []Citation{{Text: "Smith 2020", Page: 1}},
	}
	store := &memStore{}
	cp := newMemCheckpoint()
	pipeline := NewPipeline(processor, router, cp, store, nil, "")

	doc := &Document{ID: "doc-1"}
	if err := pipeline.Run(context.Background(), doc, []byte("raw")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if doc.Status != StatusComplete {
		t.Errorf("expected StatusComplete, got %v", doc.Status)
	}
	if doc.ExtractedText != "full document text" {
		t.Errorf("expected extracted text to be set")
	}
	if doc.Images[0].Analysis != "a description" {
		t.Errorf("expected image analysis to be set, got %q", doc.Images[0].Analysis)
	}
	if len(doc.Embedding) == 0 {
		t.Errorf("expected document embedding to be set")
	}
	if len(doc.Chunks[0].Embedding) == 0 {
		t.Errorf("expected chunk embedding to be set")
	}
	if len(doc.Images[0].Embedding) == 0 {
		t.Errorf("expected image embedding to be set")
	}
	if len(doc.Citations) != 1 {
		t.Errorf("expected citations preserved")
	}

	for _, phase := range Phases {
		done, err := cp.IsStepComplete(context.Background(), "doc-1", string(phase))
		if err != nil || !done {
			t.Errorf("expected phase %s to be checkpointed complete", phase)
		}
	}
	if len(store.saved) == 0 {
		t.Errorf("expected document to be persisted")
	}
}

func TestPipeline_IndexesChunkAndImageEmbeddings(t *testing.T) {
	embedder := &stubProvider{name: "embedder", caps: []provider.Capability{provider.CapEmbedding}}
	vision := &stubProvider{name: "vision", caps: []provider.Capability{provider.CapVision}}
	router := newTestRouter(embedder, vision)

	processor := &FakeProcessor{
		Text:   "full document text",
		Chunks: []Chunk{{ID: "c1", Content: "chunk one"}},
		Images: []Image{{ID: "img1", Data: []byte("bytes"), MediaType: "image/png"}},
	}
	index := newMemVectorIndex()
	cp := newMemCheckpoint()
	pipeline := NewPipeline(processor, router, cp, nil, index, "chapterforge_chunks")

	doc := &Document{ID: "doc-3"}
	if err := pipeline.Run(context.Background(), doc, []byte("raw")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, ok := index.upserts["c1"]; !ok {
		t.Errorf("expected chunk c1 to be upserted into the vector index")
	}
	if _, ok := index.upserts["img1"]; !ok {
		t.Errorf("expected image img1 to be upserted into the vector index")
	}
}

func TestPipeline_SkipsAlreadyCompletedPhases(t *testing.T) {
	embedder := &stubProvider{name: "embedder", caps: []provider.Capability{provider.CapEmbedding}}
	vision := &stubProvider{name: "vision", caps: []provider.Capability{provider.CapVision}}
	router := newTestRouter(embedder, vision)

	processor := &FakeProcessor{Text: "text"}
	cp := newMemCheckpoint()
	for _, phase := range Phases {
		_ = cp.MarkStepComplete(context.Background(), "doc-2", string(phase), nil)
	}

	pipeline := NewPipeline(processor, router, cp, nil, nil, "")
	doc := &Document{ID: "doc-2"}
	if err := pipeline.Run(context.Background(), doc, []byte("raw")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if doc.ExtractedText != "" {
		t.Errorf("expected text extraction to be skipped since already checkpointed, got %q", doc.ExtractedText)
	}
	if doc.Status != StatusComplete {
		t.Errorf("expected StatusComplete even with all phases skipped")
	}
}
