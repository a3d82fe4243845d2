package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultServiceName = "tamiasd"

// TracingConfig configures OTLP span export. An empty endpoint disables
// export and yields a noop tracer.
type TracingConfig struct {
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
	Insecure       bool
}

// TracerProvider wraps the OpenTelemetry SDK provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider builds the provider and installs it globally when
// export is enabled.
func NewTracerProvider(ctx context.Context, config TracingConfig) (*TracerProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	if strings.TrimSpace(config.Endpoint) == "" {
		return &TracerProvider{tracer: noop.NewTracerProvider().Tracer(config.ServiceName)}, nil
	}
	if config.SampleRatio <= 0 || config.SampleRatio > 1.0 {
		config.SampleRatio = 1.0
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRatio))),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
	}, nil
}

// Tracer returns the tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Enabled reports whether spans are exported.
func (tp *TracerProvider) Enabled() bool {
	return tp.provider != nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}
