package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware returns middleware that instruments HTTP requests with
// OpenTelemetry. With telemetry disabled the providers are no-ops and this
// only costs a few allocations per request.
func HTTPMiddleware(tel *Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, span := tel.Tracer().Start(r.Context(), r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					AttrHTTPMethod.String(r.Method),
					AttrHTTPTarget.String(r.URL.Path),
					AttrHTTPRemoteAddr.String(r.RemoteAddr),
				),
			)
			defer span.End()

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			// The route pattern is only known once chi has matched the request.
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
					span.SetName(r.Method + " " + pattern)
				}
			}

			attrs := metric.WithAttributes(
				AttrHTTPMethod.String(r.Method),
				AttrHTTPRoute.String(route),
				AttrHTTPStatusCode.Int(rw.status),
			)
			if m := tel.Metrics(); m != nil {
				m.HTTPRequestCount.Add(ctx, 1, attrs)
				m.HTTPRequestDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
				if rw.size > 0 {
					m.HTTPResponseSize.Record(ctx, int64(rw.size), attrs)
				}
			}

			span.SetAttributes(
				AttrHTTPRoute.String(route),
				AttrHTTPStatusCode.Int(rw.status),
			)
			if rw.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rw.status))
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, brw, err := hj.Hijack()
	if err == nil {
		rw.status = http.StatusSwitchingProtocols
	}
	return conn, brw, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
