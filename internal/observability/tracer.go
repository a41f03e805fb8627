package observability

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

// newTracerProvider builds a batching provider for the configured exporter.
// conn is only used by the otlp exporter.
func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource, conn *grpc.ClientConn) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
	case "otlp":
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	default:
		return nil, fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	), nil
}

// Common span and metric attributes
var (
	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPRoute      = attribute.Key("http.route")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
	AttrHTTPTarget     = attribute.Key("http.target")
	AttrHTTPRemoteAddr = attribute.Key("http.remote_addr")
	AttrUserID         = attribute.Key("user.id")

	AttrConnID           = attribute.Key("realtime.conn_id")
	AttrSubscriptionID   = attribute.Key("realtime.subscription_id")
	AttrSubscriptionKind = attribute.Key("realtime.subscription_kind")
	AttrChangeType       = attribute.Key("realtime.change_type")
	AttrCollection       = attribute.Key("db.collection")
	AttrDBSystem         = attribute.Key("db.system")
)
