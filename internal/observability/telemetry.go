package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InstrumentationName names the tracer and meter used across the server.
const InstrumentationName = "github.com/markb/firelite"

// shutdownTimeout is the maximum time to wait for shutdown.
const shutdownTimeout = 5 * time.Second

// Telemetry holds OTel providers and the instruments built on them. When
// telemetry is disabled the providers are no-ops, so callers never need nil
// checks.
type Telemetry struct {
	config         *Config
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metrics        *Metrics

	shutdowns    []func(context.Context) error
	shutdownOnce sync.Once
	shutdownErr  error
}

// Init initializes OpenTelemetry with the given configuration.
// Returns Telemetry manager, cleanup function, and error.
func Init(ctx context.Context, cfg *Config) (*Telemetry, func(), error) {
	tel := &Telemetry{
		config:         cfg,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}

	if cfg.ShouldEnable() {
		if err := tel.start(ctx); err != nil {
			tel.Cleanup()
			return nil, nil, err
		}
	}

	metrics, err := InitMetrics(tel.meterProvider)
	if err != nil {
		tel.Cleanup()
		return nil, nil, err
	}
	tel.metrics = metrics

	return tel, tel.Cleanup, nil
}

func (t *Telemetry) start(ctx context.Context) error {
	cfg := t.config

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var conn *grpc.ClientConn
	switch cfg.Exporter {
	case "stdout":
	case "otlp":
		conn, err = grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to create OTLP client: %w", err)
		}
	default:
		return fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}

	if cfg.TracesEnabled {
		tp, err := newTracerProvider(ctx, cfg, res, conn)
		if err != nil {
			return err
		}
		t.tracerProvider = tp
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}

	if cfg.MetricsEnabled {
		mp, err := newMeterProvider(ctx, cfg, res, conn)
		if err != nil {
			return err
		}
		t.meterProvider = mp
		t.shutdowns = append(t.shutdowns, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}

	// Providers flush through the connection, so it closes last.
	if conn != nil {
		t.shutdowns = append(t.shutdowns, func(context.Context) error { return conn.Close() })
	}
	return nil
}

// TracerProvider returns the tracer provider (noop if disabled).
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// Tracer returns the server-wide tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracerProvider.Tracer(InstrumentationName)
}

// MeterProvider returns the meter provider (noop if disabled).
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// Metrics returns the metric instruments.
func (t *Telemetry) Metrics() *Metrics {
	return t.metrics
}

// Shutdown flushes and closes all providers. Only the first call has effect.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.shutdownOnce.Do(func() {
		var errs []error
		for _, fn := range t.shutdowns {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		t.shutdownErr = errors.Join(errs...)
	})
	return t.shutdownErr
}

// Cleanup is a convenience function for defer cleanup.
func (t *Telemetry) Cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = t.Shutdown(ctx)
}

// Config returns the telemetry configuration.
func (t *Telemetry) Config() *Config {
	return t.config
}
