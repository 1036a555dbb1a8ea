// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// =============================================================================
// No-op Manager
// =============================================================================

// NoopManager returns a no-operation Manager that does nothing. Use this
// when observability is completely disabled.
func NoopManager() *Manager {
	return &Manager{}
}

func noopSpan() trace.Span {
	_, span := noop.NewTracerProvider().Tracer("").Start(context.Background(), "")
	return span
}

// =============================================================================
// No-op Metrics
// =============================================================================

// NoopMetrics is a Recorder that does nothing. Manager.Metrics() does not
// return it; with metrics disabled it returns a nil *Metrics, whose
// recording methods are no-ops as well.
type NoopMetrics struct{}

func (NoopMetrics) RecordStage(_ string, _ time.Duration, _ string)    {}
func (NoopMetrics) RecordLLMCall(_, _, _ string, _ time.Duration)      {}
func (NoopMetrics) RecordLLMTokens(_, _ string, _, _ int)              {}
func (NoopMetrics) RecordLLMCost(_, _ string, _ float64)               {}
func (NoopMetrics) RecordLLMError(_, _, _ string)                      {}
func (NoopMetrics) RecordProviderFallback(_, _ string)                 {}
func (NoopMetrics) RecordFactCheckScore(_ float64, _ bool)             {}
func (NoopMetrics) RecordGapAnalysisScore(_ float64)                   {}
func (NoopMetrics) RecordDLQEntry(_ string)                            {}
func (NoopMetrics) SetProgressSubscribers(_ int)                       {}
func (NoopMetrics) RecordRegenerate(_ string)                          {}
func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration, _, _ int64) {}

// Handler returns a handler that reports 503 Service Unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// =============================================================================
// Recorder Interface
// =============================================================================

// Recorder is the metrics surface the orchestrator, provider router, and
// HTTP layer record against. *Metrics and NoopMetrics both satisfy it, so
// callers can hold a Recorder and work identically whether or not metrics
// collection is enabled.
type Recorder interface {
	// RecordStage records one stage's outcome (spec.md §4.1 step 5):
	// outcome is "success", "retry", or "failed".
	RecordStage(stage string, duration time.Duration, outcome string)

	// LLM metrics (spec.md §4.2 provider router).
	RecordLLMCall(providerName, model string, duration time.Duration)
	RecordLLMTokens(providerName, model string, inputTokens, outputTokens int)
	RecordLLMCost(providerName, model string, costUSD float64)
	RecordLLMError(providerName, model, errorType string)
	RecordProviderFallback(fromProvider, toProvider string)

	// Fact-check and gap-analysis scores (spec.md §4.10, §4.12).
	RecordFactCheckScore(score float64, passed bool)
	RecordGapAnalysisScore(score float64)

	// RecordDLQEntry records a chapter stage being dead-lettered.
	RecordDLQEntry(stage string)

	// SetProgressSubscribers reports live progress-channel connections.
	SetProgressSubscribers(count int)

	// RecordRegenerate records a regenerate_section call outcome.
	RecordRegenerate(outcome string)

	// HTTP metrics, shared by every route in pkg/server.
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64)
}

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
