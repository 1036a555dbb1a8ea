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

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerOption configures a Tracer at construction time.
type TracerOption func(*Tracer)

// WithDebugExporter attaches an in-memory span exporter a web UI or test
// can query directly, in addition to whatever exporter cfg.Exporter names.
func WithDebugExporter(d *DebugExporter) TracerOption {
	return func(t *Tracer) { t.debug = d }
}

// WithCapturePayloads enables recording full LLM request/response text as
// span attributes. Expensive; intended for debugging only.
func WithCapturePayloads(enabled bool) TracerOption {
	return func(t *Tracer) { t.capturePayloads = enabled }
}

// Tracer wraps an OpenTelemetry TracerProvider with the span helpers the
// orchestrator's stage loop and provider router use to annotate a
// chapter's generation (spec.md §4.1 stage boundaries, §4.2 provider
// calls, §4.3 research calls).
type Tracer struct {
	provider        *sdktrace.TracerProvider
	tracer          trace.Tracer
	debug           *DebugExporter
	capturePayloads bool
}

// NewTracer builds a Tracer from TracingConfig. Supported exporters are
// "otlp" (OTLP/gRPC collector) and "stdout" (human-readable trace dump,
// useful in development); any other value configured but unsupported by
// this build is rejected by TracingConfig.Validate before NewTracer runs.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default: // "otlp"
		dialOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.IsInsecure() {
			dialOpts = append(dialOpts, otlptracegrpc.WithInsecure())
		}
		var client otlptrace.Client = otlptracegrpc.NewClient(dialOpts...)
		exporter, err = otlptrace.New(ctx, client)
	}
	if err != nil {
		return nil, fmt.Errorf("observability: create %s trace exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	t := &Tracer{}
	for _, opt := range opts {
		opt(t)
	}

	spanProcessors := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	}
	if t.debug != nil {
		spanProcessors = append(spanProcessors, sdktrace.WithBatcher(t.debug))
	}

	provider := sdktrace.NewTracerProvider(spanProcessors...)
	t.provider = provider
	t.tracer = provider.Tracer(cfg.ServiceName)
	return t, nil
}

// Start opens a generic span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, name, opts...)
}

// StartStage opens a span covering one orchestrator stage's execution.
func (t *Tracer) StartStage(ctx context.Context, chapterID, stage string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanStageRun, trace.WithAttributes(
		attribute.String(AttrChapterID, chapterID),
		attribute.String(AttrStageName, stage),
	))
}

// StartLLMCall opens a span covering one provider.Router call.
func (t *Tracer) StartLLMCall(ctx context.Context, providerName, model string, inputTokens int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanLLMCall, trace.WithAttributes(
		attribute.String(AttrProviderName, providerName),
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMTokensInput, inputTokens),
	))
}

// StartResearchSearch opens a span covering an internal or external
// research query (spec.md §4.3/§4.4).
func (t *Tracer) StartResearchSearch(ctx context.Context, searcherKind, query string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanResearchSearch, trace.WithAttributes(
		attribute.String("research.kind", searcherKind),
		attribute.String("research.query", truncateString(query, 200)),
	))
}

// AddLLMUsage annotates span with input/output token counts once known.
func (t *Tracer) AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int(AttrLLMTokensInput, inputTokens),
		attribute.Int(AttrLLMTokensOutput, outputTokens),
	)
}

// AddLLMFinishReason annotates span with the provider's stop reason.
func (t *Tracer) AddLLMFinishReason(span trace.Span, reason string) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrLLMFinishReason, reason))
}

// AddPayload attaches a (possibly truncated) text payload to span, gated
// by capturePayloads since payloads can be large and may contain
// sensitive chapter content.
func (t *Tracer) AddPayload(span trace.Span, key, value string) {
	if span == nil || t == nil || !t.capturePayloads {
		return
	}
	span.SetAttributes(attribute.String(key, truncateString(value, 4096)))
}

// RecordError marks span as failed and attaches the error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(AttrErrorType, err.Error()))
}

// DebugExporter returns the in-memory exporter configured via
// WithDebugExporter, or nil if none was attached.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debug
}

// Shutdown flushes and releases the underlying TracerProvider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func truncateString(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
