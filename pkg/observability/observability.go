// Package observability exports gateway traces and metrics over OTLP gRPC.
//
// Executions are tracked as spans with rate, error and duration metrics;
// policy decisions and policy reloads are counted separately. A disabled
// Provider is a working no-op.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	scopeName          = "github.com/madaxer/devopsAgent"
	metricExportPeriod = 15 * time.Second
)

// Config configures telemetry export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // host:port of the collector's gRPC receiver
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC
}

// DefaultConfig returns defaults. Telemetry is off unless enabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "devops-agent",
		ServiceVersion: "0.1.0",
		Environment:    "dev",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

type instruments struct {
	started  metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
	decided  metric.Int64Counter
	reloaded metric.Int64Counter
}

// Provider owns the trace and metric pipelines.
type Provider struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	inst   instruments

	shutdowns []func(context.Context) error
}

// New builds a provider. With Enabled false it only wires no-op instruments.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{
		cfg:    *cfg,
		logger: slog.Default().With("component", "observability"),
	}

	if !cfg.Enabled {
		p.tracer = tracenoop.NewTracerProvider().Tracer(scopeName)
		if err := p.inst.register(noop.NewMeterProvider().Meter(scopeName)); err != nil {
			return nil, err
		}
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, p.cfg, res)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(ctx, p.cfg, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	p.shutdowns = append(p.shutdowns, tp.Shutdown, mp.Shutdown)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p.tracer = tp.Tracer(scopeName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	if err := p.inst.register(mp.Meter(scopeName, metric.WithInstrumentationVersion(cfg.ServiceVersion))); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "telemetry export enabled",
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
		"insecure", cfg.Insecure,
	)
	return p, nil
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	), nil
}

func newMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricExportPeriod))
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil
}

// samplerFor maps a ratio to a parent-based sampler. Ratios outside (0,1)
// sample everything or nothing.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func (in *instruments) register(m metric.Meter) error {
	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}

	in.started = counter("gateway.operations.total", "Executions started", "{operation}")
	in.failed = counter("gateway.errors.total", "Executions that ended in error", "{error}")
	in.decided = counter("gateway.decisions.total", "Policy decisions by outcome", "{decision}")
	in.reloaded = counter("gateway.policy.reloads.total", "Policy loads by outcome", "{reload}")

	var err error
	in.duration, err = m.Float64Histogram("gateway.operation.duration",
		metric.WithDescription("Execution wall time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	errs = append(errs, err)
	in.inflight, err = m.Int64UpDownCounter("gateway.operations.active",
		metric.WithDescription("Executions currently running"),
		metric.WithUnit("{operation}"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("observability: instruments: %w", err)
	}
	return nil
}

// Shutdown flushes pending telemetry. Errors are logged, not returned.
func (p *Provider) Shutdown(ctx context.Context) error {
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			p.logger.WarnContext(ctx, "telemetry shutdown", "error", err)
		}
	}
	return nil
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// RecordError counts one failed execution.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	attrs = append(attrs[:len(attrs):len(attrs)], attribute.String("error.type", fmt.Sprintf("%T", err)))
	p.inst.failed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDecision counts one policy decision.
func (p *Provider) RecordDecision(ctx context.Context, attrs ...attribute.KeyValue) {
	p.inst.decided.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPolicyReload counts one policy load attempt.
func (p *Provider) RecordPolicyReload(ctx context.Context, loaded bool) {
	p.inst.reloaded.Add(ctx, 1, metric.WithAttributes(AttrPolicyLoaded.Bool(loaded)))
}

// TrackOperation opens a span and counts an execution. The returned
// function must be called exactly once with the execution's outcome.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	set := metric.WithAttributes(attrs...)

	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	p.inst.started.Add(ctx, 1, set)
	p.inst.inflight.Add(ctx, 1, set)

	return ctx, func(err error) {
		p.inst.inflight.Add(ctx, -1, set)
		p.inst.duration.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.RecordError(ctx, err, attrs...)
		}
		span.End()
	}
}
