package obs

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Metrics holds the scheduling-loop instruments every TaskManager pass
// records into.
type Metrics struct {
	ProxiesSpawned    metric.Int64Counter
	ProxiesRetired    metric.Int64Counter
	JobsSubmitted     metric.Int64Counter
	JobsFailed        metric.Int64Counter
	SatisfactionPasses metric.Int64Counter
	ActiveProxies     metric.Int64UpDownCounter
}

// InitMetrics sets up the global OTLP metrics exporter and returns a
// shutdown func plus the common instrument bundle.
func InitMetrics(ctx context.Context, suiteName string) (shutdown func(context.Context) error, m Metrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("metasched"),
		attribute.String("suite", suiteName),
	))
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, createInstruments()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, createInstruments()
}

func createInstruments() Metrics {
	meter := otel.Meter("metasched")
	spawned, _ := meter.Int64Counter("metasched_proxies_spawned_total")
	retired, _ := meter.Int64Counter("metasched_proxies_retired_total")
	submitted, _ := meter.Int64Counter("metasched_jobs_submitted_total")
	failed, _ := meter.Int64Counter("metasched_jobs_failed_total")
	passes, _ := meter.Int64Counter("metasched_satisfaction_passes_total")
	active, _ := meter.Int64UpDownCounter("metasched_active_proxies")
	return Metrics{
		ProxiesSpawned:     spawned,
		ProxiesRetired:     retired,
		JobsSubmitted:      submitted,
		JobsFailed:         failed,
		SatisfactionPasses: passes,
		ActiveProxies:      active,
	}
}
