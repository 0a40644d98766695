package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	tracer             trace.Tracer
	meter              otelmetric.Meter
	shutdownFuncs      []func(context.Context) error
	prometheusExporter *otelprometheus.Exporter
	prometheusRegistry *prometheus.Registry
	otlpConn           *grpc.ClientConn
)

const (
	serviceName = "deployer"
	version     = "0.1.0"
)

// Init initializes OpenTelemetry with support for multiple exporters
func Init(ctx context.Context) error {
	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", getEnv("OTEL_SERVICE_NAME", serviceName)),
			attribute.String("service.version", version),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	// Initialize tracer
	if err := initTracer(ctx, res); err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	// Initialize meter
	if err := initMeter(ctx, res); err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}

	// Start runtime instrumentation
	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		return fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	return nil
}

func initTracer(ctx context.Context, res *resource.Resource) error {
	// A one-shot deploy has nobody listening on 4317 by default, so traces
	// stay off unless asked for.
	exporterType := getEnv("OTEL_TRACES_EXPORTER", "none")
	if exporterType != "otlp" {
		tracer = otel.Tracer(serviceName)
		return nil
	}

	conn, err := otlpConnection()
	if err != nil {
		return err
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = tp.Tracer(serviceName)

	shutdownFuncs = append(shutdownFuncs, func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	})

	return nil
}

func initMeter(ctx context.Context, res *resource.Resource) error {
	exporterType := getEnv("OTEL_METRICS_EXPORTER", "prometheus")

	var reader sdkmetric.Reader
	var err error

	switch exporterType {
	case "none":
		meter = otel.Meter(serviceName)
		return nil
	case "otlp":
		conn, err := otlpConnection()
		if err != nil {
			return err
		}
		exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
		if err != nil {
			return fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	default:
		prometheusRegistry = prometheus.NewRegistry()
		prometheusExporter, err = otelprometheus.New(
			otelprometheus.WithRegisterer(prometheusRegistry),
		)
		if err != nil {
			return fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		reader = prometheusExporter
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	otel.SetMeterProvider(mp)
	meter = mp.Meter(serviceName)

	shutdownFuncs = append(shutdownFuncs, func(ctx context.Context) error {
		return mp.Shutdown(ctx)
	})

	return nil
}

// otlpConnection lazily opens the gRPC connection shared by the trace and
// metric exporters.
func otlpConnection() (*grpc.ClientConn, error) {
	if otlpConn != nil {
		return otlpConn, nil
	}
	endpoint := stripProtocol(getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4317"))
	conn, err := insecureGRPCConn(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP connection: %w", err)
	}
	otlpConn = conn
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		return conn.Close()
	})
	return conn, nil
}

// Shutdown gracefully shuts down all telemetry exporters
func Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	shutdownFuncs = nil
	otlpConn = nil
	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

// Tracer returns the global tracer
func Tracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer(serviceName)
	}
	return tracer
}

// Meter returns the global meter
func Meter() otelmetric.Meter {
	if meter == nil {
		return otel.Meter(serviceName)
	}
	return meter
}

// GetPrometheusRegistry returns the Prometheus registry if it was initialized
func GetPrometheusRegistry() *prometheus.Registry {
	return prometheusRegistry
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// stripProtocol removes http:// or https:// prefix from endpoint
// gRPC clients expect just host:port format
func stripProtocol(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return endpoint
}

func insecureGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	return grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
}
