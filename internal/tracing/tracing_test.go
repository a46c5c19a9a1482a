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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupDisabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))

	p, err = Setup(context.Background(), Config{Exporter: ExporterNone})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupRejectsUnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), Config{Exporter: "jaeger"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trace exporter")
}

func TestSetupOTLPRequiresEndpoint(t *testing.T) {
	_, err := Setup(context.Background(), Config{Exporter: ExporterOTLP})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestSpanHelpersNilSafe(t *testing.T) {
	var s *Span
	s.SetAttributes()
	s.RecordError(assert.AnError)
	s.OK()
	s.Fail("boom")
	s.End()
	assert.Empty(t, s.TraceID())
}

func TestRunJobStepHierarchy(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := context.Background()
	ctx, runSpan := StartRun(ctx, "run-1", "ci")
	jobCtx, jobSpan := StartJob(ctx, "run-1", "build")
	_, stepSpan := StartStep(jobCtx, "build", "compile", 0)

	assert.NotEmpty(t, runSpan.TraceID())
	assert.Equal(t, runSpan.TraceID(), stepSpan.TraceID())

	stepSpan.OK()
	stepSpan.End()
	jobSpan.Fail("step failed")
	jobSpan.End()
	runSpan.End()

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "step: compile", spans[0].Name())
	assert.Equal(t, "job: build", spans[1].Name())
	assert.Equal(t, "run: ci", spans[2].Name())

	// The step span is parented to the job span.
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}
