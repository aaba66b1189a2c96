package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/id"
	mw "github.com/chaoschain/gateway/middleware"
	"github.com/chaoschain/gateway/workflow"
)

func newTestRecord() *workflow.Record {
	return &workflow.Record{
		ID:           id.NewWorkflowID(),
		Type:         workflow.TypeScoreSubmission,
		State:        workflow.StateRunning,
		Step:         workflow.StepSubmitCommit,
		StepAttempts: 2,
		Signer:       "0xa100000000000000000000000000000000000000",
	}
}

// runTraced runs one step returning stepErr and returns its ended span.
func runTraced(t *testing.T, stepErr error) (sdktrace.ReadOnlySpan, trace.SpanContext) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)).Tracer("test")

	var inner trace.SpanContext
	err := mw.TracingWithTracer(tracer)(context.Background(), newTestRecord(), func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return stepErr
	})
	if !errors.Is(err, stepErr) {
		t.Fatalf("err = %v, want %v", err, stepErr)
	}
	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	return spans[0], inner
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[string]any {
	out := map[string]any{}
	for _, a := range s.Attributes() {
		switch a.Value.Type() {
		case attribute.STRING:
			out[string(a.Key)] = a.Value.AsString()
		case attribute.INT64:
			out[string(a.Key)] = a.Value.AsInt64()
		}
	}
	return out
}

func TestTracing_Success(t *testing.T) {
	span, inner := runTraced(t, nil)

	if span.Name() != "gateway.workflow.step" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}
	attrs := spanAttrs(span)
	for key, want := range map[string]any{
		"gateway.workflow.type": "ScoreSubmission",
		"gateway.step":          workflow.StepSubmitCommit,
		"gateway.step.attempts": int64(2),
		"gateway.signer":        "0xa100000000000000000000000000000000000000",
	} {
		if attrs[key] != want {
			t.Errorf("attribute %q = %v, want %v", key, attrs[key], want)
		}
	}
	if _, ok := attrs["gateway.error.kind"]; ok {
		t.Error("successful span should not carry gateway.error.kind")
	}
	if !inner.IsValid() || inner.TraceID() != span.SpanContext().TraceID() {
		t.Error("step context does not carry the step span")
	}
}

func TestTracing_ClassifiedError(t *testing.T) {
	span, _ := runTraced(t, gateway.BusinessRule(gateway.CodeWindowClosed, "commit rejected", nil))

	if span.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", span.Status().Code)
	}
	attrs := spanAttrs(span)
	if attrs["gateway.error.kind"] != "business_rule" || attrs["gateway.error.code"] != "WINDOW_CLOSED" {
		t.Errorf("error attributes = %v", attrs)
	}
	recorded := false
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			recorded = true
		}
	}
	if !recorded {
		t.Error("expected an exception event")
	}
}

func TestTracing_UnclassifiedError(t *testing.T) {
	span, _ := runTraced(t, errors.New("connection reset"))

	attrs := spanAttrs(span)
	if attrs["gateway.error.kind"] != "unclassified" {
		t.Errorf("gateway.error.kind = %v", attrs["gateway.error.kind"])
	}
	if _, ok := attrs["gateway.error.code"]; ok {
		t.Error("unclassified error should not carry a code")
	}
	if span.Status().Description != "connection reset" {
		t.Errorf("status description = %q", span.Status().Description)
	}
}

func TestTracing_GlobalProviderSafe(t *testing.T) {
	called := false
	err := mw.Tracing()(context.Background(), newTestRecord(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}
