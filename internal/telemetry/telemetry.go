// Package telemetry configures OpenTelemetry tracing and metrics exporters.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"gitlab.com/yelinaung/subscription-engine/internal/config"
	"gitlab.com/yelinaung/subscription-engine/internal/logger"
)

// Shutdown flushes and stops the installed providers.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs global tracer and meter providers for the configured
// exporter. With config.ExporterNone the otel no-op providers stay in place.
// OTLP endpoints and headers come from the standard OTEL_EXPORTER_OTLP_*
// environment variables.
func Setup(ctx context.Context, exporter, serviceName string) (Shutdown, error) {
	return setup(ctx, exporter, serviceName, os.Stdout)
}

func setup(ctx context.Context, exporter, serviceName string, w io.Writer) (Shutdown, error) {
	if exporter == "" || exporter == config.ExporterNone {
		return noopShutdown, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	spanExporter, metricExporter, err := newExporters(ctx, exporter, w)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Log.Info().
		Str("exporter", exporter).
		Str("service", serviceName).
		Msg("Telemetry initialized")

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newExporters(ctx context.Context, exporter string, w io.Writer) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	var (
		spans   sdktrace.SpanExporter
		metrics sdkmetric.Exporter
		err     error
	)

	switch exporter {
	case config.ExporterStdout:
		spans, err = stdouttrace.New(stdouttrace.WithWriter(w))
		if err == nil {
			metrics, err = stdoutmetric.New(stdoutmetric.WithWriter(w))
		}
	case config.ExporterOTLPGRPC:
		spans, err = otlptracegrpc.New(ctx)
		if err == nil {
			metrics, err = otlpmetricgrpc.New(ctx)
		}
	case config.ExporterOTLPHTTP:
		spans, err = otlptracehttp.New(ctx)
		if err == nil {
			metrics, err = otlpmetrichttp.New(ctx)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported telemetry exporter %q", exporter)
	}
	if err != nil {
		if spans != nil {
			_ = spans.Shutdown(ctx)
		}
		return nil, nil, fmt.Errorf("failed to create %s exporter: %w", exporter, err)
	}
	return spans, metrics, nil
}
