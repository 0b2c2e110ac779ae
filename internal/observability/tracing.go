// Package observability wires OpenTelemetry trace export.
//
// Spans are exported over OTLP HTTP to a local collector agent, which
// handles authentication and forwarding to whatever backend operations
// points it at. Export is off unless an endpoint is configured; the
// otel API calls elsewhere in the codebase then hit the no-op provider
// and cost nothing.
package observability

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/acmetech/docchat/internal/log"
)

// Config for trace export.
type Config struct {
	// Endpoint is the collector OTLP HTTP endpoint, e.g. localhost:4318.
	Endpoint string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// ServiceName is the service name shown in the tracing backend.
	ServiceName string
}

// Setup creates an OTLP HTTP exporter and installs a batching tracer
// provider as the global one. Returns a shutdown function that flushes
// pending spans.
//
// A failed exporter degrades to no tracing rather than failing startup:
// the service must come up even when the collector is absent.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (shutdown func(context.Context) error, err error) {
	if logger == nil {
		logger = log.NewNop()
	}

	// The default resource detector reads these; setting them here keeps
	// resource attribution out of the exporter wiring.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	// The collector runs on localhost; no TLS between the service and it.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("trace export enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return provider.Shutdown, nil
}
