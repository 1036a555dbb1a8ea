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

package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/neurocore/chapterforge/pkg/chaptererr"
	"github.com/neurocore/chapterforge/pkg/circuitbreaker"
)

// MetricsRecorder is the subset of observability.Recorder the router
// needs to report provider-level LLM activity. Defined here rather
// than imported so pkg/provider doesn't depend on pkg/observability;
// *observability.Metrics and observability.NoopMetrics both satisfy it
// structurally.
type MetricsRecorder interface {
	RecordLLMCall(providerName, model string, duration time.Duration)
	RecordLLMTokens(providerName, model string, inputTokens, outputTokens int)
	RecordLLMCost(providerName, model string, costUSD float64)
	RecordLLMError(providerName, model, errorType string)
	RecordProviderFallback(fromProvider, toProvider string)
}

type noopRecorder struct{}

func (noopRecorder) RecordLLMCall(string, string, time.Duration) {}
func (noopRecorder) RecordLLMTokens(string, string, int, int)    {}
func (noopRecorder) RecordLLMCost(string, string, float64)       {}
func (noopRecorder) RecordLLMError(string, string, string)       {}
func (noopRecorder) RecordProviderFallback(string, string)       {}

// ChainEntry is one provider in a fallback chain, with its cost rates.
type ChainEntry struct {
	Provider Provider
	Rates    CostRates
}

// Router selects a provider for a Task from a configured fallback
// chain, consulting the circuit breaker before each hop and falling
// back on the failure classes spec.md §4.2 names: auth errors stop the
// whole chain, rate limits retry the same provider up to twice before
// falling back, timeouts/5xx/schema violations fall back immediately.
type Router struct {
	breakers *circuitbreaker.Registry
	vision   Provider
	chains   map[Task][]ChainEntry
	metrics  MetricsRecorder

	mu     sync.Mutex
	ledger map[string]float64 // chapter id -> cumulative cost USD
}

// NewRouter creates a Router. chains maps each Task to its ordered
// fallback list (primary, secondary, tertiary); vision is used
// exclusively for AnalyzeImage.
func NewRouter(breakers *circuitbreaker.Registry, chains map[Task][]ChainEntry, vision Provider) *Router {
	return &Router{
		breakers: breakers,
		vision:   vision,
		chains:   chains,
		metrics:  noopRecorder{},
		ledger:   make(map[string]float64),
	}
}

// SetMetrics attaches a MetricsRecorder the router reports provider
// call outcomes to. A nil argument restores the no-op default.
func (r *Router) SetMetrics(m MetricsRecorder) {
	if m == nil {
		m = noopRecorder{}
	}
	r.metrics = m
}

const maxRateLimitRetries = 2

// GenerateText routes a text generation call for task through the
// configured fallback chain, recording cost against chapterID.
func (r *Router) GenerateText(ctx context.Context, task Task, chapterID string, messages []Message) (*TextResult, error) {
	return r.route(ctx, task, chapterID, func(p Provider) (*TextResult, error) {
		return p.GenerateText(ctx, messages)
	})
}

// GenerateTextWithSchema routes a schema-constrained generation call.
func (r *Router) GenerateTextWithSchema(ctx context.Context, task Task, chapterID string, messages []Message, schema []byte) (*TextResult, error) {
	return r.route(ctx, task, chapterID, func(p Provider) (*TextResult, error) {
		return p.GenerateTextWithSchema(ctx, messages, schema)
	})
}

// GenerateEmbedding routes an embedding call through the embedding
// task's fallback chain.
func (r *Router) GenerateEmbedding(ctx context.Context, chapterID, text string) ([]float32, error) {
	var vec []float32
	_, err := r.route(ctx, TaskEmbedding, chapterID, func(p Provider) (*TextResult, error) {
		v, err := p.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		vec = v
		return &TextResult{Provider: p.Name()}, nil
	})
	return vec, err
}

// AnalyzeImage calls the dedicated vision provider directly; vision
// has no fallback chain in spec.md §4.2.
func (r *Router) AnalyzeImage(ctx context.Context, chapterID string, image ImageInput, prompt string) (*TextResult, error) {
	if r.vision == nil {
		return nil, chaptererr.New(chaptererr.ProviderUnavailable, "no vision provider configured")
	}
	allowed, done, _ := r.breakers.IsCallAllowed(ctx, r.vision.Name())
	if !allowed {
		return nil, chaptererr.New(chaptererr.ProviderUnavailable, "vision provider breaker open")
	}
	result, err := r.vision.AnalyzeImage(ctx, image, prompt)
	if err != nil {
		circuitbreaker.RecordFailure(done)
		return nil, chaptererr.Wrap(chaptererr.ProviderTransient, "vision analysis failed", err)
	}
	circuitbreaker.RecordSuccess(done)
	r.addCost(chapterID, 0)
	return result, nil
}

func (r *Router) route(ctx context.Context, task Task, chapterID string, call func(Provider) (*TextResult, error)) (*TextResult, error) {
	chain := r.chains[task]
	if len(chain) == 0 {
		return nil, chaptererr.New(chaptererr.ProviderUnavailable, "no providers configured for task "+string(task))
	}

	var lastErr error
	var previousName string
	for _, entry := range chain {
		name := entry.Provider.Name()
		model := entry.Provider.Model()
		if previousName != "" && previousName != name {
			r.metrics.RecordProviderFallback(previousName, name)
		}
		previousName = name

		for attempt := 0; attempt <= maxRateLimitRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, chaptererr.Wrap(chaptererr.Cancelled, "context cancelled during routing", err)
			}

			allowed, done, _ := r.breakers.IsCallAllowed(ctx, name)
			if !allowed {
				slog.Debug("provider breaker open, skipping", "provider", name, "task", task)
				lastErr = chaptererr.New(chaptererr.ProviderUnavailable, name+" breaker open")
				r.metrics.RecordLLMError(name, model, "breaker_open")
				break
			}

			start := time.Now()
			result, err := call(entry.Provider)
			r.metrics.RecordLLMCall(name, model, time.Since(start))
			if err == nil {
				circuitbreaker.RecordSuccess(done)
				cost := entry.Rates.CostUSD(result.Usage)
				r.addCost(chapterID, cost)
				r.metrics.RecordLLMTokens(name, model, result.Usage.InputTokens, result.Usage.OutputTokens)
				r.metrics.RecordLLMCost(name, model, cost)
				result.Provider = name
				return result, nil
			}

			circuitbreaker.RecordFailure(done)
			lastErr = err
			r.metrics.RecordLLMError(name, model, string(chaptererr.KindOf(err)))

			switch chaptererr.KindOf(err) {
			case chaptererr.ProviderAuth:
				slog.Warn("provider auth failure, stopping chain", "provider", name, "task", task)
				return nil, err
			case chaptererr.ProviderTransient:
				if isRateLimit(err) && attempt < maxRateLimitRetries {
					slog.Debug("rate limited, retrying same provider", "provider", name, "attempt", attempt+1)
					continue
				}
			}
			break // fall through to next provider in chain
		}
	}

	if lastErr == nil {
		lastErr = chaptererr.New(chaptererr.ProviderUnavailable, "fallback chain exhausted")
	}
	return nil, chaptererr.Wrap(chaptererr.ProviderUnavailable, "all providers failed for task "+string(task), lastErr)
}

// rateLimited is implemented by errors that specifically indicate a
// 429/rate-limit response, distinguishing them from other transient
// failures for the same-provider-retry rule.
type rateLimited interface {
	RateLimited() bool
}

func isRateLimit(err error) bool {
	rl, ok := err.(rateLimited)
	return ok && rl.RateLimited()
}

func (r *Router) addCost(chapterID string, usd float64) {
	if chapterID == "" || usd == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger[chapterID] += usd
}

// CostForChapter returns cumulative provider spend recorded for a
// chapter so far.
func (r *Router) CostForChapter(chapterID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger[chapterID]
}
