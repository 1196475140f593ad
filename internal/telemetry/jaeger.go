package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

/*
TRACING

  Connection → WebSocket.Connect span → Gate.Authorize span
  Flush      → Persistence.Flush span (one per flush, retries recorded as events)

Spans are exported to a Jaeger collector when JAEGER_ENDPOINT is set. Without
an endpoint the global no-op provider stays installed and StartSpan is free.
*/

// InitJaeger installs a batching tracer provider exporting to jaegerEndpoint.
// Returns a cleanup function that should be called on shutdown.
func InitJaeger(serviceName, jaegerEndpoint string, logger *zap.Logger) (func(context.Context) error, error) {
	if jaegerEndpoint == "" {
		logger.Info("tracing disabled, JAEGER_ENDPOINT not set")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)

	logger.Info("✓ Jaeger tracing initialized", zap.String("endpoint", jaegerEndpoint))

	return tp.Shutdown, nil
}
