// Package telemetry wires OpenTelemetry tracing for model calls, generation
// steps and tool executions, masking secrets before they reach a span.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	instrumentationName = "github.com/cexll/aisdk-go"
	defaultMask         = "***"
)

var defaultPatterns = []string{
	`sk-[A-Za-z0-9_\-]{8,}`,
	`(?i)bearer\s+[A-Za-z0-9._\-]+`,
	`AIza[0-9A-Za-z_\-]{20,}`,
}

// FilterConfig controls secret masking.
type FilterConfig struct {
	Mask     string
	Patterns []string
}

// Config configures a Manager. When TracerProvider is nil and Endpoint is
// set, spans are exported over OTLP/HTTP; otherwise the global provider is
// used.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TracerProvider trace.TracerProvider
	Endpoint       string
	Filter         FilterConfig
}

// Manager owns a tracer and a masking filter.
type Manager struct {
	tracer   trace.Tracer
	mask     string
	patterns []*regexp.Regexp
	shutdown func(context.Context) error
}

// NewManager builds a Manager from cfg.
func NewManager(cfg Config) (*Manager, error) {
	mgr := &Manager{mask: cfg.Filter.Mask}
	if mgr.mask == "" {
		mgr.mask = defaultMask
	}
	patterns := append(append([]string(nil), defaultPatterns...), cfg.Filter.Patterns...)
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("telemetry: compile filter %q: %w", p, err)
		}
		mgr.patterns = append(mgr.patterns, re)
	}

	tp := cfg.TracerProvider
	switch {
	case tp != nil:
	case cfg.Endpoint != "":
		exp, err := otlptracehttp.New(context.Background(), otlptracehttp.WithEndpointURL(cfg.Endpoint))
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		sdkTP := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", cfg.ServiceName),
				attribute.String("service.version", cfg.ServiceVersion),
				attribute.String("deployment.environment", cfg.Environment),
			)),
		)
		mgr.shutdown = sdkTP.Shutdown
		tp = sdkTP
	default:
		tp = otel.GetTracerProvider()
	}
	mgr.tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	return mgr, nil
}

// StartSpan starts a span on the manager's tracer.
func (m *Manager) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName).Start(ctx, name, opts...)
	}
	return m.tracer.Start(ctx, name, opts...)
}

// MaskText replaces every secret matched by the filter.
func (m *Manager) MaskText(s string) string {
	if m == nil {
		return s
	}
	for _, re := range m.patterns {
		s = re.ReplaceAllString(s, m.mask)
	}
	return s
}

// SanitizeAttributes masks string and string slice attribute values.
func (m *Manager) SanitizeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		switch kv.Value.Type() {
		case attribute.STRING:
			out = append(out, attribute.String(string(kv.Key), m.MaskText(kv.Value.AsString())))
		case attribute.STRINGSLICE:
			vals := kv.Value.AsStringSlice()
			masked := make([]string, len(vals))
			for i, v := range vals {
				masked[i] = m.MaskText(v)
			}
			out = append(out, attribute.StringSlice(string(kv.Key), masked))
		default:
			out = append(out, kv)
		}
	}
	return out
}

// Shutdown flushes an exporter created by NewManager.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}

var defaultManager atomic.Pointer[Manager]

// SetDefault installs mgr for the package level helpers. nil resets it.
func SetDefault(mgr *Manager) {
	defaultManager.Store(mgr)
}

// Default returns the installed manager or nil.
func Default() *Manager {
	return defaultManager.Load()
}

// StartSpan starts a span on the default manager. Without one the span is
// a no-op.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Default().StartSpan(ctx, name, opts...)
}

// EndSpan records err on span and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// MaskText masks s with the default manager.
func MaskText(s string) string {
	return Default().MaskText(s)
}

// SanitizeAttributes masks attrs with the default manager.
func SanitizeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	return Default().SanitizeAttributes(attrs...)
}
