package observe

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the trace id back to API clients.
const CorrelationHeader = "X-Correlation-ID"

// ─── Response capture ────────────────────────────────────────────────────────

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the /v1/events WebSocket upgrade pass through.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// ─── Middleware ──────────────────────────────────────────────────────────────

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithQuietPaths logs requests for the given paths at debug level. The
// default quiet set is the probe and scrape endpoints.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(mw *middleware) {
		for _, p := range paths {
			mw.quiet[p] = true
		}
	}
}

type middleware struct {
	metrics *Metrics
	quiet   map[string]bool
	next    http.Handler
}

// Middleware wraps an [http.Handler] so that every request runs in a server
// span joined to the caller's W3C trace, answers with a [CorrelationHeader],
// is timed into [Metrics.HTTPRequestDuration] and is logged on completion.
//
// Metrics and span names use the [http.ServeMux] route pattern rather than
// the raw path, so /v1/queue/{id} stays one series however many ids exist.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		mw := &middleware{
			metrics: m,
			quiet:   map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true},
			next:    next,
		}
		for _, o := range opts {
			o(mw)
		}
		return mw
	}
}

func (mw *middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx, span := StartSpan(ExtractHeaders(r.Context(), r.Header), r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	cid := CorrelationID(ctx)
	if cid != "" {
		w.Header().Set(CorrelationHeader, cid)
	}

	r = r.WithContext(ctx)
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	mw.next.ServeHTTP(rec, r)

	// ServeMux fills Pattern on r while routing.
	route := routeOf(r)
	span.SetName(route)
	span.SetAttributes(
		semconv.HTTPRoute(route),
		semconv.HTTPResponseStatusCode(rec.status),
	)

	elapsed := time.Since(start)
	mw.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("method", r.Method),
		attribute.String("route", route),
		attribute.Int("status", rec.status),
	))

	level := slog.LevelInfo
	if mw.quiet[r.URL.Path] {
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, "request completed",
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Duration("duration", elapsed),
	)
}

// routeOf returns "METHOD pattern" for routed requests and "METHOD path"
// for anything the mux did not match.
func routeOf(r *http.Request) string {
	p := r.Pattern
	if p == "" {
		return r.Method + " " + r.URL.Path
	}
	if strings.Contains(p, " ") {
		return p
	}
	return r.Method + " " + p
}
