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
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Metrics provides chapter-generation metrics (spec.md §4.12), built on
// an OpenTelemetry MeterProvider whose reader is the OTel Prometheus
// bridge exporter, registered into a plain prometheus.Registry so the
// metrics endpoint is served the same way as any other Prometheus
// exporter (promhttp.HandlerFor).
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	stageDuration metric.Float64Histogram
	stageTotal    metric.Int64Counter

	llmCalls        metric.Int64Counter
	llmDuration     metric.Float64Histogram
	llmTokensInput  metric.Int64Counter
	llmTokensOutput metric.Int64Counter
	llmCostUSD      metric.Float64Counter
	llmErrors       metric.Int64Counter

	providerFallbacks metric.Int64Counter

	factCheckScore    metric.Float64Histogram
	factCheckFailures metric.Int64Counter
	gapAnalysisScore  metric.Float64Histogram

	dlqEntries           metric.Int64Counter
	progressSubscribers  metric.Int64UpDownCounter
	progressSubscribersLast atomic.Int64 // last absolute count reported
	regenerateTotal      metric.Int64Counter

	httpRequests     metric.Int64Counter
	httpDuration     metric.Float64Histogram
	httpRequestSize  metric.Int64Histogram
	httpResponseSize metric.Int64Histogram
}

// NewMetrics creates a new Metrics instance from configuration.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(
		otelprom.WithNamespace(cfg.Namespace),
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(cfg.Namespace)

	m := &Metrics{config: cfg, registry: registry, provider: provider}
	if err := m.initInstruments(meter); err != nil {
		return nil, fmt.Errorf("observability: init instruments: %w", err)
	}
	return m, nil
}

func (m *Metrics) initInstruments(meter metric.Meter) error {
	var err error

	if m.stageDuration, err = meter.Float64Histogram("chapter_stage_duration_seconds",
		metric.WithDescription("Duration of one orchestrator stage"),
		metric.WithUnit("s")); err != nil {
		return err
	}
	if m.stageTotal, err = meter.Int64Counter("chapter_stage_total",
		metric.WithDescription("Stage executions by outcome")); err != nil {
		return err
	}

	if m.llmCalls, err = meter.Int64Counter("chapter_llm_calls_total",
		metric.WithDescription("Provider router calls")); err != nil {
		return err
	}
	if m.llmDuration, err = meter.Float64Histogram("chapter_llm_call_duration_seconds",
		metric.WithDescription("Provider call latency"), metric.WithUnit("s")); err != nil {
		return err
	}
	if m.llmTokensInput, err = meter.Int64Counter("chapter_llm_tokens_input_total",
		metric.WithDescription("Input tokens consumed")); err != nil {
		return err
	}
	if m.llmTokensOutput, err = meter.Int64Counter("chapter_llm_tokens_output_total",
		metric.WithDescription("Output tokens generated")); err != nil {
		return err
	}
	if m.llmCostUSD, err = meter.Float64Counter("chapter_llm_cost_usd_total",
		metric.WithDescription("Cumulative provider spend in USD"), metric.WithUnit("USD")); err != nil {
		return err
	}
	if m.llmErrors, err = meter.Int64Counter("chapter_llm_errors_total",
		metric.WithDescription("Provider call errors")); err != nil {
		return err
	}
	if m.providerFallbacks, err = meter.Int64Counter("chapter_provider_fallback_total",
		metric.WithDescription("Fallback-chain transitions between providers")); err != nil {
		return err
	}

	if m.factCheckScore, err = meter.Float64Histogram("chapter_factcheck_score",
		metric.WithDescription("Fact-check overall accuracy score")); err != nil {
		return err
	}
	if m.factCheckFailures, err = meter.Int64Counter("chapter_factcheck_failures_total",
		metric.WithDescription("Chapters failing fact-check")); err != nil {
		return err
	}
	if m.gapAnalysisScore, err = meter.Float64Histogram("chapter_gap_analysis_score",
		metric.WithDescription("Gap analysis completeness score")); err != nil {
		return err
	}

	if m.dlqEntries, err = meter.Int64Counter("chapter_dlq_entries_total",
		metric.WithDescription("Chapters dead-lettered by stage")); err != nil {
		return err
	}
	if m.progressSubscribers, err = meter.Int64UpDownCounter("chapter_progress_subscribers",
		metric.WithDescription("Live progress-channel websocket connections")); err != nil {
		return err
	}
	if m.regenerateTotal, err = meter.Int64Counter("chapter_regenerate_total",
		metric.WithDescription("regenerate_section calls by outcome")); err != nil {
		return err
	}

	if m.httpRequests, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("HTTP requests")); err != nil {
		return err
	}
	if m.httpDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"), metric.WithUnit("s")); err != nil {
		return err
	}
	if m.httpRequestSize, err = meter.Int64Histogram("http_request_size_bytes",
		metric.WithDescription("HTTP request size")); err != nil {
		return err
	}
	if m.httpResponseSize, err = meter.Int64Histogram("http_response_size_bytes",
		metric.WithDescription("HTTP response size")); err != nil {
		return err
	}
	return nil
}

// RecordStage records one stage's execution outcome (spec.md §4.1 step
// 5): outcome is "success", "retry", or "failed".
func (m *Metrics) RecordStage(stage string, duration time.Duration, outcome string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attrString("stage", stage), attrString("outcome", outcome))
	m.stageDuration.Record(context.Background(), duration.Seconds(), attrs)
	m.stageTotal.Add(context.Background(), 1, attrs)
}

// RecordLLMCall records a provider.Router call's latency.
func (m *Metrics) RecordLLMCall(providerName, model string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attrString("provider", providerName), attrString("model", model))
	m.llmCalls.Add(context.Background(), 1, attrs)
	m.llmDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordLLMTokens records per-call token usage.
func (m *Metrics) RecordLLMTokens(providerName, model string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attrString("provider", providerName), attrString("model", model))
	m.llmTokensInput.Add(context.Background(), int64(inputTokens), attrs)
	m.llmTokensOutput.Add(context.Background(), int64(outputTokens), attrs)
}

// RecordLLMCost adds to the cumulative chapter_llm_cost_usd_total
// counter used to track provider spend (spec.md §4.12).
func (m *Metrics) RecordLLMCost(providerName, model string, costUSD float64) {
	if m == nil || costUSD <= 0 {
		return
	}
	attrs := metric.WithAttributes(attrString("provider", providerName), attrString("model", model))
	m.llmCostUSD.Add(context.Background(), costUSD, attrs)
}

// RecordLLMError records a provider call failure.
func (m *Metrics) RecordLLMError(providerName, model, errorType string) {
	if m == nil {
		return
	}
	m.llmErrors.Add(context.Background(), 1, metric.WithAttributes(
		attrString("provider", providerName), attrString("model", model), attrString("error_type", errorType)))
}

// RecordProviderFallback records the Router falling back from one
// provider to the next in a Task's chain (spec.md §4.2).
func (m *Metrics) RecordProviderFallback(fromProvider, toProvider string) {
	if m == nil {
		return
	}
	m.providerFallbacks.Add(context.Background(), 1, metric.WithAttributes(
		attrString("from", fromProvider), attrString("to", toProvider)))
}

// RecordFactCheckScore records stage fact_check's verdict.
func (m *Metrics) RecordFactCheckScore(score float64, passed bool) {
	if m == nil {
		return
	}
	m.factCheckScore.Record(context.Background(), score)
	if !passed {
		m.factCheckFailures.Add(context.Background(), 1)
	}
}

// RecordGapAnalysisScore records stage gap_analysis's completeness score.
func (m *Metrics) RecordGapAnalysisScore(score float64) {
	if m == nil {
		return
	}
	m.gapAnalysisScore.Record(context.Background(), score)
}

// RecordDLQEntry records a chapter stage being dead-lettered.
func (m *Metrics) RecordDLQEntry(stage string) {
	if m == nil {
		return
	}
	m.dlqEntries.Add(context.Background(), 1, metric.WithAttributes(attrString("stage", stage)))
}

// SetProgressSubscribers reports the current number of live
// progress-channel websocket connections.
func (m *Metrics) SetProgressSubscribers(count int) {
	if m == nil {
		return
	}
	prev := m.progressSubscribersLast.Swap(int64(count))
	m.progressSubscribers.Add(context.Background(), int64(count)-prev)
}

// RecordRegenerate records a regenerate_section call's outcome.
func (m *Metrics) RecordRegenerate(outcome string) {
	if m == nil {
		return
	}
	m.regenerateTotal.Add(context.Background(), 1, metric.WithAttributes(attrString("outcome", outcome)))
}

// RecordHTTPRequest records an HTTP request served by pkg/server.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attrString("method", method),
		attrString("path", path),
		attrString("status", statusCodeLabel(statusCode)),
	)
	m.httpRequests.Add(context.Background(), 1, attrs)
	m.httpDuration.Record(context.Background(), duration.Seconds(), attrs)
	if reqSize > 0 {
		m.httpRequestSize.Record(context.Background(), reqSize, attrs)
	}
	if respSize > 0 {
		m.httpResponseSize.Record(context.Background(), respSize, attrs)
	}
}

func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Shutdown releases the underlying MeterProvider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
