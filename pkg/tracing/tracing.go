package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "castmix"

// TracerProvider wraps the SDK provider so a disabled setup can still be
// shut down unconditionally.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

type Config struct {
	Enabled     bool
	ServiceName string
	Version     string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "castmix",
		Version:     "dev",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Init installs a Jaeger-backed global tracer provider. With tracing
// disabled the global no-op provider stays in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(version),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// AddSpanAttributes annotates the span in ctx, if it is recording.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

var (
	SessionIDKey  = attribute.Key("session.id")
	LayoutKey     = attribute.Key("studio.layout")
	SourceKindKey = attribute.Key("studio.source_kind")
	ChannelKey    = attribute.Key("audio.channel")
	StateKey      = attribute.Key("engine.state")
)

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("http.%s", method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceWebSocketMessage spans one inbound pointer channel message.
func TraceWebSocketMessage(ctx context.Context, messageType string, sessionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("websocket.%s", messageType),
		trace.WithAttributes(
			attribute.String("websocket.message_type", messageType),
			SessionIDKey.String(sessionID),
		),
	)
}

// TraceEngineOperation spans a lifecycle or layout change. state is the
// engine state before the operation.
func TraceEngineOperation(ctx context.Context, operation string, state string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("engine.%s", operation),
		trace.WithAttributes(StateKey.String(state)),
	)
}
