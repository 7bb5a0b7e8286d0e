// Package telemetry provides OpenTelemetry distributed tracing for the
// stream consumer. It provides span helpers for the pipeline stages
// (step, ingest, distances, DBSCAN, merge, sink, checkpoint), supports
// W3C Trace Context propagation, and exports to OTLP or stdout.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/newswire-labs/clusterstream"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "clusterstream",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes consumer-specific helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			tracer: noop.NewTracerProvider().Tracer(tracerName),
		}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return &Provider{
			tracer: noop.NewTracerProvider().Tracer(tracerName),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultConfig().ServiceName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the consumer tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// --- Span helpers for pipeline stages ---

// StartStep creates the root span for one clustering step.
func (p *Provider) StartStep(ctx context.Context, batchSize, poolSize int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "clusterstream.step",
		trace.WithAttributes(
			attribute.Int("clusterstream.step.batch_size", batchSize),
			attribute.Int("clusterstream.step.pool_size", poolSize),
		),
	)
}

// StartIngest creates a span for one queue fan-out round.
func (p *Provider) StartIngest(ctx context.Context, receivers int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "clusterstream.ingest",
		trace.WithAttributes(attribute.Int("clusterstream.ingest.receivers", receivers)),
	)
}

// StartDistances creates a span for the distance-kernel stage.
func (p *Provider) StartDistances(ctx context.Context, newCount, poolSize int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "clusterstream.distances",
		trace.WithAttributes(
			attribute.Int("clusterstream.distances.new_count", newCount),
			attribute.Int("clusterstream.distances.pool_size", poolSize),
		),
	)
}

// StartDBSCAN creates a span for the density-clustering stage.
func (p *Provider) StartDBSCAN(ctx context.Context, points int, eps float64) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "clusterstream.dbscan",
		trace.WithAttributes(
			attribute.Int("clusterstream.dbscan.points", points),
			attribute.Float64("clusterstream.dbscan.eps", eps),
		),
	)
}

// StartMerge creates a span for the merge-resolution and compaction stage.
func (p *Provider) StartMerge(ctx context.Context, labelGroups int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "clusterstream.merge",
		trace.WithAttributes(attribute.Int("clusterstream.merge.label_groups", labelGroups)),
	)
}

// StartSink creates a span for the key-value publish stage.
func (p *Provider) StartSink(ctx context.Context, newEntries, updates int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "clusterstream.sink",
		trace.WithAttributes(
			attribute.Int("clusterstream.sink.new_entries", newEntries),
			attribute.Int("clusterstream.sink.updates", updates),
		),
	)
}

// StartCheckpoint creates a span for a pool snapshot.
func (p *Provider) StartCheckpoint(ctx context.Context, poolSize int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "clusterstream.checkpoint",
		trace.WithAttributes(attribute.Int("clusterstream.checkpoint.pool_size", poolSize)),
	)
}

// RecordStepResult adds result attributes to a step span.
func RecordStepResult(span trace.Span, poolSize, newEntries, updates int) {
	span.SetAttributes(
		attribute.Int("clusterstream.result.pool_size", poolSize),
		attribute.Int("clusterstream.result.new_entries", newEntries),
		attribute.Int("clusterstream.result.updated_clusters", updates),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
