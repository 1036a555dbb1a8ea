package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/neurocore/chapterforge/pkg/chapter"
	"github.com/neurocore/chapterforge/pkg/checkpoint"
	"github.com/neurocore/chapterforge/pkg/circuitbreaker"
	"github.com/neurocore/chapterforge/pkg/dlq"
	"github.com/neurocore/chapterforge/pkg/progress"
	"github.com/neurocore/chapterforge/pkg/provider"
)

type memStore struct {
	mu       sync.Mutex
	chapters map[string]*chapter.Chapter
	versions []chapter.VersionSnapshot
}

func newMemStore(ch *chapter.Chapter) *memStore {
	return &memStore{chapters: map[string]*chapter.Chapter{ch.ID: ch}}
}

func (m *memStore) GetChapter(ctx context.Context, id string) (*chapter.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chapters[id], nil
}

func (m *memStore) SaveChapter(ctx context.Context, ch *chapter.Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chapters[ch.ID] = ch
	return nil
}

func (m *memStore) SaveVersionSnapshot(ctx context.Context, snapshot chapter.VersionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = append(m.versions, snapshot)
	return nil
}

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
	return nil, nil
}

func (m *memCheckpoint) GetProgress(ctx context.Context, taskID string) (*checkpoint.Progress, error) {
	return nil, nil
}

func (m *memCheckpoint) Clear(ctx context.Context, taskID string) error { return nil }

type noopPublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (p *noopPublisher) Publish(event progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

// scriptedProvider returns a fixed JSON body for schema-constrained
// calls, or one of two bodies chosen by inspecting the requested
// schema when both context and synthesis_plan share a Task (both
// route through TaskResearchPlanning in this test's chain).
type scriptedProvider struct {
	name           string
	schemaText     string
	altSchemaText  string // returned when schema looks like a SynthesisOutline
	textReply      string
}

func (s *scriptedProvider) Name() string  { return s.name }
func (s *scriptedProvider) Model() string { return "scripted-model" }
func (s *scriptedProvider) Capabilities() []provider.Capability {
	return []provider.Capability{provider.CapText, provider.CapTextWithSchema}
}
func (s *scriptedProvider) GenerateText(ctx context.Context, messages []provider.Message) (*provider.TextResult, error) {
	return &provider.TextResult{Text: s.textReply, Provider: s.name}, nil
}
func (s *scriptedProvider) GenerateTextWithSchema(ctx context.Context, messages []provider.Message, schema []byte) (*provider.TextResult, error) {
	if s.altSchemaText != "" && bytes.Contains(schema, []byte("estimated_words")) {
		return &provider.TextResult{Text: s.altSchemaText, Provider: s.name}, nil
	}
	return &provider.TextResult{Text: s.schemaText, Provider: s.name}, nil
}
func (s *scriptedProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}
func (s *scriptedProvider) AnalyzeImage(ctx context.Context, image provider.ImageInput, prompt string) (*provider.TextResult, error) {
	return &provider.TextResult{Text: "image", Provider: s.name}, nil
}

func buildTestRouter(t *testing.T) *provider.Router {
	t.Helper()

	analysis := ChapterAnalysis{
		PrimaryConcepts:       []string{"concept-a"},
		ChapterType:           "pure_anatomy",
		Keywords:              []string{"k1", "k2", "k3"},
		Complexity:            "intermediate",
		EstimatedSectionCount: 2,
	}
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		t.Fatal(err)
	}

	rctx := ResearchContext{
		ResearchGaps:      []string{"gap"},
		KeyReferences:     []string{"ref"},
		ContentCategories: map[string]string{"anatomy": "core"},
		ConfidenceAssessment: ConfidenceAssessment{
			OverallConfidence: 0.8,
		},
		VectorQueries:   []string{"topic overview"},
		ExternalQueries: nil,
		KeywordQueries:  []string{"topic"},
	}
	rctxJSON, err := json.Marshal(rctx)
	if err != nil {
		t.Fatal(err)
	}

	outline := SynthesisOutline{
		Sections: []OutlineEntry{
			{Index: 0, Title: "Overview", EstimatedWords: 200},
			{Index: 1, Title: "Details", EstimatedWords: 200},
		},
	}
	outlineJSON, err := json.Marshal(outline)
	if err != nil {
		t.Fatal(err)
	}

	metadataProvider := &scriptedProvider{name: "metadata", schemaText: string(analysisJSON)}
	planningProvider := &scriptedProvider{name: "planning", schemaText: string(rctxJSON), altSchemaText: string(outlineJSON)}
	contentProvider := &scriptedProvider{name: "content", textReply: "This is generated section content with enough words to count."}
	reviewProvider := &scriptedProvider{name: "review", textReply: "Consider adding more citations."}

	cfg := circuitbreaker.Config{}
	cfg.SetDefaults()
	breakers := circuitbreaker.NewRegistry(cfg, nil)

	chains := map[provider.Task][]provider.ChainEntry{
		provider.TaskMetadataExtraction: {{Provider: metadataProvider}},
		provider.TaskResearchPlanning:   {{Provider: planningProvider}},
		provider.TaskContentGeneration:  {{Provider: contentProvider}},
		provider.TaskReview:             {{Provider: reviewProvider}},
	}
	return provider.NewRouter(breakers, chains, nil)
}

// context and synthesis_plan both route through TaskResearchPlanning's
// single planning provider, which answers each by checking whether the
// requested schema mentions estimated_words (see scriptedProvider and
// buildTestRouter).
func TestOrchestrator_RunDrivesChapterToCompletion(t *testing.T) {
	router := buildTestRouter(t)

	ch := &chapter.Chapter{ID: "ch-1", OwnerID: "owner-1", Title: "Femoral Anatomy"}
	store := newMemStore(ch)
	cp := newMemCheckpoint()
	queue := &fakeDLQ{}
	pub := &noopPublisher{}

	o := New(store, cp, queue, pub, router, nil, nil, nil, nil, nil, Config{ParallelSectionGeneration: true, BatchSize: 2})

	if err := o.Run(context.Background(), "ch-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := store.chapters["ch-1"]
	if !got.Terminal {
		t.Errorf("expected chapter to be terminal")
	}
	if got.CurrentStage != chapter.StageFinalize {
		t.Errorf("expected final stage, got %s", got.CurrentStage)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
	if len(got.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(got.Sections))
	}
	for _, s := range got.Sections {
		if s.Content == "" {
			t.Errorf("expected section %d to have content", s.Index)
		}
	}
	if len(store.versions) != 1 {
		t.Errorf("expected one version snapshot, got %d", len(store.versions))
	}

	for _, stage := range chapter.Stages {
		done, _ := cp.IsStepComplete(context.Background(), "ch-1", string(stage))
		if !done {
			t.Errorf("expected stage %s checkpointed complete", stage)
		}
	}
}

type fakeDLQ struct {
	entries []dlq.Entry
}

func (f *fakeDLQ) Add(ctx context.Context, entry dlq.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}
func (f *fakeDLQ) Get(ctx context.Context, id string) (*dlq.Entry, bool, error) { return nil, false, nil }
func (f *fakeDLQ) List(ctx context.Context, filters dlq.Filters) ([]dlq.Entry, error) {
	return f.entries, nil
}
func (f *fakeDLQ) Retry(ctx context.Context, id string, retryFn func(ctx context.Context, entry dlq.Entry) error) error {
	return nil
}
func (f *fakeDLQ) Remove(ctx context.Context, id string) error { return nil }
func (f *fakeDLQ) Statistics(ctx context.Context) (dlq.Statistics, error) {
	return dlq.Statistics{}, nil
}
func (f *fakeDLQ) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}
