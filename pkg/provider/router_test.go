package provider

import (
	"context"
	"testing"

	"github.com/neurocore/chapterforge/pkg/chaptererr"
	"github.com/neurocore/chapterforge/pkg/circuitbreaker"
)

type fakeProvider struct {
	name    string
	err     error
	result  *TextResult
	calls   int
}

func (f *fakeProvider) Name() string                 { return f.name }
func (f *fakeProvider) Model() string                { return "fake-model" }
func (f *fakeProvider) Capabilities() []Capability    { return []Capability{CapText} }
func (f *fakeProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}
func (f *fakeProvider) AnalyzeImage(ctx context.Context, image ImageInput, prompt string) (*TextResult, error) {
	return nil, nil
}
func (f *fakeProvider) GenerateTextWithSchema(ctx context.Context, messages []Message, schema []byte) (*TextResult, error) {
	return f.GenerateText(ctx, messages)
}
func (f *fakeProvider) GenerateText(ctx context.Context, messages []Message) (*TextResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestRouter_FallsBackOnTransientFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: chaptererr.New(chaptererr.ProviderTransient, "timeout")}
	secondary := &fakeProvider{name: "secondary", result: &TextResult{Text: "ok", Usage: Usage{InputTokens: 10, OutputTokens: 5}}}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 100}, nil)
	router := NewRouter(breakers, map[Task][]ChainEntry{
		TaskContentGeneration: {
			{Provider: primary, Rates: CostRates{InputPer1K: 1, OutputPer1K: 2}},
			{Provider: secondary, Rates: CostRates{InputPer1K: 1, OutputPer1K: 2}},
		},
	}, nil)

	result, err := router.GenerateText(context.Background(), TaskContentGeneration, "ch-1", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "ok" || result.Provider != "secondary" {
		t.Errorf("expected fallback to secondary, got %+v", result)
	}
	if primary.calls != 1 {
		t.Errorf("expected exactly 1 call to primary (no retry on plain transient failure), got %d", primary.calls)
	}
}

func TestRouter_StopsChainOnAuthFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: chaptererr.New(chaptererr.ProviderAuth, "bad key")}
	secondary := &fakeProvider{name: "secondary", result: &TextResult{Text: "ok"}}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 100}, nil)
	router := NewRouter(breakers, map[Task][]ChainEntry{
		TaskContentGeneration: {
			{Provider: primary},
			{Provider: secondary},
		},
	}, nil)

	_, err := router.GenerateText(context.Background(), TaskContentGeneration, "ch-1", nil)
	if !chaptererr.Is(err, chaptererr.ProviderAuth) {
		t.Fatalf("expected ProviderAuth to propagate, got %v", err)
	}
	if secondary.calls != 0 {
		t.Errorf("expected secondary to never be called after an auth failure, got %d calls", secondary.calls)
	}
}

func TestRouter_RetriesSameProviderOnRateLimit(t *testing.T) {
	attempts := 0
	primary := &fakeProvider{name: "primary"}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 100}, nil)
	router := NewRouter(breakers, map[Task][]ChainEntry{
		TaskContentGeneration: {{Provider: rateLimitThenSucceed(&attempts)}},
	}, nil)

	result, err := router.GenerateText(context.Background(), TaskContentGeneration, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "recovered" {
		t.Errorf("expected eventual success, got %+v", result)
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts against the same provider, got %d", attempts)
	}
	_ = primary
}

type rateLimitProvider struct {
	fakeProvider
	attempts *int
}

func (r *rateLimitProvider) GenerateText(ctx context.Context, messages []Message) (*TextResult, error) {
	*r.attempts++
	if *r.attempts == 1 {
		return nil, &rateLimitedError{cause: chaptererr.New(chaptererr.ProviderTransient, "429")}
	}
	return &TextResult{Text: "recovered"}, nil
}

func rateLimitThenSucceed(attempts *int) Provider {
	return &rateLimitProvider{fakeProvider: fakeProvider{name: "flaky"}, attempts: attempts}
}
