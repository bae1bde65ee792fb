// Package telemetry configures OpenTelemetry tracing for the console.
package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Options describes the console instance the traces come from. Endpoint and
// Insecure fall back to the standard OTLP environment variables.
type Options struct {
	ServiceName string
	Version     string
	Environment string
	SessionID   string
	CounterID   string
	Endpoint    string
	Insecure    bool
}

func (o Options) withEnv() Options {
	if o.Endpoint == "" {
		o.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		o.Insecure = o.Insecure || os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	}
	return o
}

func noop(context.Context) error { return nil }

// Setup installs a global tracer provider exporting over OTLP/gRPC and
// returns its shutdown. Without an endpoint the no-op provider stays.
func Setup(opts Options) func(context.Context) error {
	opts = opts.withEnv()
	if opts.Endpoint == "" {
		return noop
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(context.Background(), exporterOpts...)
	if err != nil {
		log.Error().Err(err).Str("endpoint", opts.Endpoint).Msg("otel exporter error")
		return noop
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(resourceAttributes(opts)...),
		resource.WithHost(),
		resource.WithProcessRuntimeVersion(),
	)
	if err != nil {
		// Partial resources are still usable.
		log.Warn().Err(err).Msg("otel resource error")
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	log.Info().Str("endpoint", opts.Endpoint).Str("counter_id", opts.CounterID).Msg("tracing enabled")

	return provider.Shutdown
}

func resourceAttributes(opts Options) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(opts.ServiceName)}
	if opts.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(opts.Version))
	}
	if opts.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(opts.Environment))
	}
	if opts.CounterID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(opts.CounterID), attribute.String("qms.counter.id", opts.CounterID))
	}
	if opts.SessionID != "" {
		attrs = append(attrs, attribute.String("qms.session.id", opts.SessionID))
	}
	return attrs
}
