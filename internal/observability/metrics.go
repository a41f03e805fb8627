package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc"
)

// Metrics holds the server's metric instruments. The recording helpers are
// safe on a nil receiver.
type Metrics struct {
	// HTTP server metrics
	HTTPRequestCount    metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPResponseSize    metric.Int64Histogram

	// Realtime engine metrics
	Connections   metric.Int64UpDownCounter
	Subscriptions metric.Int64UpDownCounter
	PollDuration  metric.Float64Histogram
	PollErrors    metric.Int64Counter
	Events        metric.Int64Counter
}

// InitMetrics initializes and returns metric instruments.
func InitMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(InstrumentationName)
	m := &Metrics{}

	var err error
	if m.HTTPRequestCount, err = meter.Int64Counter(
		"http.server.request_count",
		metric.WithDescription("Number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request count counter: %w", err)
	}

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.server.request_duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	if m.HTTPResponseSize, err = meter.Int64Histogram(
		"http.server.response_size",
		metric.WithDescription("HTTP response size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("failed to create response size histogram: %w", err)
	}

	if m.Connections, err = meter.Int64UpDownCounter(
		"realtime.connections",
		metric.WithDescription("Open realtime connections"),
		metric.WithUnit("{connection}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}

	if m.Subscriptions, err = meter.Int64UpDownCounter(
		"realtime.subscriptions",
		metric.WithDescription("Live realtime subscriptions"),
		metric.WithUnit("{subscription}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create subscriptions counter: %w", err)
	}

	if m.PollDuration, err = meter.Float64Histogram(
		"realtime.poll.duration",
		metric.WithDescription("Change detector tick latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create poll duration histogram: %w", err)
	}

	if m.PollErrors, err = meter.Int64Counter(
		"realtime.poll.errors",
		metric.WithDescription("Change detector ticks skipped because the store failed"),
		metric.WithUnit("{tick}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create poll errors counter: %w", err)
	}

	if m.Events, err = meter.Int64Counter(
		"realtime.events",
		metric.WithDescription("Change events delivered to clients"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m != nil {
		m.Connections.Add(ctx, 1)
	}
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m != nil {
		m.Connections.Add(ctx, -1)
	}
}

func (m *Metrics) SubscriptionAdded(ctx context.Context, kind string) {
	if m != nil {
		m.Subscriptions.Add(ctx, 1, metric.WithAttributes(AttrSubscriptionKind.String(kind)))
	}
}

func (m *Metrics) SubscriptionRemoved(ctx context.Context, kind string) {
	if m != nil {
		m.Subscriptions.Add(ctx, -1, metric.WithAttributes(AttrSubscriptionKind.String(kind)))
	}
}

// RecordPoll records one change detector tick.
func (m *Metrics) RecordPoll(ctx context.Context, kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrSubscriptionKind.String(kind))
	m.PollDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
	if err != nil {
		m.PollErrors.Add(ctx, 1, attrs)
	}
}

// RecordEvent counts a delivered change event.
func (m *Metrics) RecordEvent(ctx context.Context, kind, changeType string) {
	if m != nil {
		m.Events.Add(ctx, 1, metric.WithAttributes(
			AttrSubscriptionKind.String(kind),
			AttrChangeType.String(changeType),
		))
	}
}

// newMeterProvider builds a periodic-reader provider for the configured
// exporter. conn is only used by the otlp exporter.
func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource, conn *grpc.ClientConn) (*sdkmetric.MeterProvider, error) {
	var exporter sdkmetric.Exporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	case "otlp":
		exporter, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	default:
		return nil, fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	), nil
}
