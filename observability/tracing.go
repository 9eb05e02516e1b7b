package observability

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type TracingConfig struct {
	Enabled     bool
	ServiceName string
	// Protocol is "grpc" or "http/protobuf".
	Protocol string
	Endpoint string
	Sampler  string
	// SamplerArg is the ratio for the traceidratio samplers.
	SamplerArg string
}

// InitTracing installs a global tracer provider exporting over OTLP. When
// tracing is disabled or the exporter cannot be built, only the propagator is
// installed and the returned shutdown is a no-op.
func InitTracing(ctx context.Context, cfg TracingConfig, logger Logger) (func(context.Context) error, error) {
	logger = OrNop(logger)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		logger.Info("tracing_configured", Bool("tracing_enabled", false))
		return noop, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "pdfstudio"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", name)),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter *otlptrace.Exporter
	switch cfg.Protocol {
	case "", "grpc":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "http/protobuf":
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		err = fmt.Errorf("unsupported OTLP protocol: %s", cfg.Protocol)
	}
	if err != nil {
		logger.Error("tracing_init_failed", Error("error", err))
		return noop, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.Sampler, cfg.SamplerArg)),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing_configured",
		Bool("tracing_enabled", true),
		String("otlp_protocol", cfg.Protocol),
		String("otlp_endpoint", cfg.Endpoint),
		String("sampler", cfg.Sampler),
	)
	return tp.Shutdown, nil
}

func sampler(kind, arg string) sdktrace.Sampler {
	ratio := 1.0
	if v, err := strconv.ParseFloat(arg, 64); err == nil {
		ratio = v
	}
	switch kind {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(ratio)
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

type otelTracer struct{ t trace.Tracer }

// NewOtelTracer adapts the global otel tracer provider to Tracer.
func NewOtelTracer(name string) Tracer {
	return otelTracer{t: otel.Tracer(name)}
}

func (o otelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := o.t.Start(ctx, name)
	return ctx, otelSpan{span}
}

type otelSpan struct{ s trace.Span }

func (o otelSpan) SetTag(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		o.s.SetAttributes(attribute.String(key, v))
	case int:
		o.s.SetAttributes(attribute.Int(key, v))
	case int64:
		o.s.SetAttributes(attribute.Int64(key, v))
	case float64:
		o.s.SetAttributes(attribute.Float64(key, v))
	case bool:
		o.s.SetAttributes(attribute.Bool(key, v))
	default:
		o.s.SetAttributes(attribute.String(key, fmt.Sprint(v)))
	}
}

func (o otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	o.s.RecordError(err)
	o.s.SetStatus(codes.Error, err.Error())
}

func (o otelSpan) Finish() { o.s.End() }
