// Copyright 2025 The Pipewright Authors
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

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/pipewright/pipewright"

func tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// Span wraps an OpenTelemetry span with nil-safe helpers. All methods are
// safe on a nil receiver.
type Span struct {
	span trace.Span
}

// StartRun opens the root span for one pipeline run.
func StartRun(ctx context.Context, runID, pipelineName string) (context.Context, *Span) {
	ctx, span := tracer().Start(ctx, fmt.Sprintf("run: %s", pipelineName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.name", pipelineName),
			attribute.String("run.id", runID),
		),
	)
	return ctx, &Span{span: span}
}

// StartJob opens a span for one job's execution within a run.
func StartJob(ctx context.Context, runID, job string) (context.Context, *Span) {
	ctx, span := tracer().Start(ctx, fmt.Sprintf("job: %s", job),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("job.name", job),
		),
	)
	return ctx, &Span{span: span}
}

// StartStep opens a span for one step within a job.
func StartStep(ctx context.Context, job, step string, index int) (context.Context, *Span) {
	ctx, span := tracer().Start(ctx, fmt.Sprintf("step: %s", step),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job.name", job),
			attribute.String("step.name", step),
			attribute.Int("step.index", index),
		),
	)
	return ctx, &Span{span: span}
}

// SetAttributes attaches attributes to the span.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// RecordError records err and marks the span failed. No-op for nil err.
func (s *Span) RecordError(err error) {
	if s == nil || s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// OK marks the span successful.
func (s *Span) OK() {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetStatus(codes.Ok, "")
}

// Fail marks the span failed with a message.
func (s *Span) Fail(msg string) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetStatus(codes.Error, msg)
}

// End completes the span.
func (s *Span) End() {
	if s == nil || s.span == nil {
		return
	}
	s.span.End()
}

// TraceID returns the span's trace ID, empty when not recording.
func (s *Span) TraceID() string {
	if s == nil || s.span == nil {
		return ""
	}
	if !s.span.SpanContext().HasTraceID() {
		return ""
	}
	return s.span.SpanContext().TraceID().String()
}
