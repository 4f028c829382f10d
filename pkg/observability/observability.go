// Package observability provides OpenTelemetry tracing and metrics for
// the governance engine: OTLP export over gRPC, counters for campaign
// activity, and spans on engine operations.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "tally-engine",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages the trace and metric providers plus the engine's
// instruments. A disabled provider is a safe no-op.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	campaignsCreated   metric.Int64Counter
	votesRecorded      metric.Int64Counter
	commitsRecorded    metric.Int64Counter
	revealsRecorded    metric.Int64Counter
	resultsComputed    metric.Int64Counter
	rejectionsRecorded metric.Int64Counter
}

// New creates a provider. When config.Enabled is false no exporters
// are constructed and every record call is a no-op.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("tally.component", "engine"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("tally.engine",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("tally.engine",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.campaignsCreated, err = p.meter.Int64Counter("tally.campaigns.created",
		metric.WithDescription("Campaigns opened"),
		metric.WithUnit("{campaign}"),
	)
	if err != nil {
		return err
	}
	p.votesRecorded, err = p.meter.Int64Counter("tally.votes.recorded",
		metric.WithDescription("Linear votes recorded"),
		metric.WithUnit("{vote}"),
	)
	if err != nil {
		return err
	}
	p.commitsRecorded, err = p.meter.Int64Counter("tally.commitments.recorded",
		metric.WithDescription("Commitments recorded"),
		metric.WithUnit("{commitment}"),
	)
	if err != nil {
		return err
	}
	p.revealsRecorded, err = p.meter.Int64Counter("tally.reveals.recorded",
		metric.WithDescription("Reveals recorded"),
		metric.WithUnit("{reveal}"),
	)
	if err != nil {
		return err
	}
	p.resultsComputed, err = p.meter.Int64Counter("tally.results.computed",
		metric.WithDescription("Campaign results computed and cached"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return err
	}
	p.rejectionsRecorded, err = p.meter.Int64Counter("tally.rejections.total",
		metric.WithDescription("Operations rejected by precondition checks"),
		metric.WithUnit("{rejection}"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("tally.engine")
	}
	return p.tracer
}

// StartSpan starts a span on the engine tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordCampaignCreated increments the campaign counter.
func (p *Provider) RecordCampaignCreated(ctx context.Context, kind string) {
	if p.campaignsCreated != nil {
		p.campaignsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordVote increments the vote counter.
func (p *Provider) RecordVote(ctx context.Context) {
	if p.votesRecorded != nil {
		p.votesRecorded.Add(ctx, 1)
	}
}

// RecordCommitment increments the commitment counter.
func (p *Provider) RecordCommitment(ctx context.Context) {
	if p.commitsRecorded != nil {
		p.commitsRecorded.Add(ctx, 1)
	}
}

// RecordReveal increments the reveal counter.
func (p *Provider) RecordReveal(ctx context.Context) {
	if p.revealsRecorded != nil {
		p.revealsRecorded.Add(ctx, 1)
	}
}

// RecordResult increments the result counter.
func (p *Provider) RecordResult(ctx context.Context) {
	if p.resultsComputed != nil {
		p.resultsComputed.Add(ctx, 1)
	}
}

// RecordRejection counts a precondition failure by error type.
func (p *Provider) RecordRejection(ctx context.Context, err error) {
	if p.rejectionsRecorded != nil && err != nil {
		p.rejectionsRecorded.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error.type", fmt.Sprintf("%T", err)),
		))
	}
}
