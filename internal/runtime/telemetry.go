package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/loqalabs/devmaster/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// audioDurationBuckets covers a short reply up to the longest script the
// speech backends accept.
var audioDurationBuckets = []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300}

// setupTelemetry installs the global tracer and meter providers. The returned
// handler serves Prometheus metrics and is nil when metrics are disabled.
func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	res, err := studioResource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	traceProvider, err := initTracer(ctx, cfg, res, logger)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(traceProvider)

	meterProvider, metricHandler := initMetrics(cfg, res, logger)
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), traceProvider.Shutdown(ctx))
	}, metricHandler, nil
}

// studioResource tags every span and series with the node and the backends
// it runs, so mixed deployments can be told apart.
func studioResource(ctx context.Context, cfg config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			semconv.ServiceInstanceID(cfg.Node.ID),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("studio.node.role", cfg.Node.Role),
			attribute.String("studio.llm.mode", cfg.LLM.Mode),
			attribute.String("studio.tts.mode", cfg.TTS.Mode),
			attribute.String("studio.playback.output", cfg.Playback.Output),
		),
	)
}

func initTracer(ctx context.Context, cfg config.Config, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	exporter, attrs, err := traceExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	logger.Info("telemetry initialized", attrs...)
	return tp, nil
}

// traceExporter ships spans over OTLP when an endpoint is set and prints
// them otherwise.
func traceExporter(ctx context.Context, cfg config.Config) (sdktrace.SpanExporter, []any, error) {
	if endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		return exporter, []any{slog.String("exporter", "otlp"), slog.String("endpoint", endpoint)}, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(traceOutput(cfg)), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	return exporter, []any{slog.String("exporter", "stdout")}, nil
}

// initMetrics never fails the runtime: without a Prometheus exporter the
// instruments still work, they are just not served.
func initMetrics(cfg config.Config, res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithView(audioDurationView())}
	if !cfg.Telemetry.Metrics {
		return sdkmetric.NewMeterProvider(opts...), nil
	}
	promExporter, err := prometheus.New()
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(opts...), nil
	}
	meter := sdkmetric.NewMeterProvider(append(opts, sdkmetric.WithReader(promExporter))...)
	logger.Info("metrics initialized", slog.String("exporter", "prometheus"), slog.String("path", "/metrics"))
	return meter, promhttp.Handler()
}

// audioDurationView replaces the default millisecond-oriented buckets on the
// synthesized audio histogram, which is recorded in seconds.
func audioDurationView() sdkmetric.View {
	return sdkmetric.NewView(
		sdkmetric.Instrument{Name: "studio.voice.audio_duration"},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: audioDurationBuckets}},
	)
}

// Development runs print spans to stdout; elsewhere they are dropped unless an
// OTLP endpoint is configured.
func traceOutput(cfg config.Config) io.Writer {
	if cfg.Environment == "development" {
		return os.Stdout
	}
	return io.Discard
}
