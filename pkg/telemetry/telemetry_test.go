package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTelemetry(t *testing.T) (*Manager, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	mgr, err := NewManager(Config{
		ServiceName:    "aisdk-test",
		ServiceVersion: "0.1.0",
		TracerProvider: tp,
		Filter: FilterConfig{
			Mask:     "***REDACTED***",
			Patterns: []string{`customer-id\s*[=:]\s*\d+`},
		},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr, exporter
}

func TestMaskText(t *testing.T) {
	mgr, _ := setupTelemetry(t)

	got := mgr.MaskText("key sk-demo-secret-001 and customer-id 4242, Bearer abc.def")
	for _, leaked := range []string{"sk-demo-secret-001", "4242", "abc.def"} {
		if strings.Contains(got, leaked) {
			t.Fatalf("expected %q masked, got %q", leaked, got)
		}
	}
	if !strings.Contains(got, "***REDACTED***") {
		t.Fatalf("mask missing: %q", got)
	}
}

func TestSanitizeAttributes(t *testing.T) {
	mgr, _ := setupTelemetry(t)

	attrs := mgr.SanitizeAttributes(
		attribute.String("prompt", "use sk-abcdefghijk"),
		attribute.StringSlice("args", []string{"customer-id=7"}),
		attribute.Int("steps", 3),
	)
	if len(attrs) != 3 {
		t.Fatalf("expected 3 attrs, got %d", len(attrs))
	}
	if strings.Contains(attrs[0].Value.AsString(), "sk-abcdefghijk") {
		t.Fatalf("string attr not masked: %v", attrs[0])
	}
	if strings.Contains(attrs[1].Value.AsStringSlice()[0], "7") {
		t.Fatalf("slice attr not masked: %v", attrs[1])
	}
	if attrs[2].Value.AsInt64() != 3 {
		t.Fatalf("int attr changed: %v", attrs[2])
	}
}

func TestDefaultManagerSpans(t *testing.T) {
	mgr, exporter := setupTelemetry(t)
	SetDefault(mgr)
	t.Cleanup(func() { SetDefault(nil) })

	_, span := StartSpan(context.Background(), "generate.step")
	EndSpan(span, errors.New("upstream failed"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "generate.step" {
		t.Fatalf("unexpected span name %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[0].Status)
	}
}

func TestNilManagerIsNoop(t *testing.T) {
	var mgr *Manager
	_, span := mgr.StartSpan(context.Background(), "noop")
	EndSpan(span, nil)
	if got := mgr.MaskText("sk-abcdefghijk"); got != "sk-abcdefghijk" {
		t.Fatalf("nil manager should not mask, got %q", got)
	}
	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewManagerRejectsBadPattern(t *testing.T) {
	_, err := NewManager(Config{Filter: FilterConfig{Patterns: []string{"("}}})
	if err == nil {
		t.Fatal("expected compile error")
	}
}
