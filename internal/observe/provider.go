package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the process-wide telemetry pipeline.
type ProviderConfig struct {
	// ServiceName reported on every span and metric. Default: "voicecmd".
	ServiceName string

	ServiceVersion string

	// TraceExporter receives finished spans. Nil keeps spans in-process only,
	// which still gives log lines and the X-Correlation-ID header a trace id.
	TraceExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of new root traces that are recorded.
	// Child spans follow their parent. Zero or out of range means 1.
	SampleRatio float64

	// Registerer receives the Prometheus collectors backing /metrics.
	// Nil uses [prometheus.DefaultRegisterer].
	Registerer prometheus.Registerer
}

func (c *ProviderConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "voicecmd"
	}
	if c.SampleRatio <= 0 || c.SampleRatio > 1 {
		c.SampleRatio = 1
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.DefaultRegisterer
	}
}

// InitProvider installs the global meter provider (bridged to Prometheus),
// the global tracer provider and the W3C trace-context propagator.
//
// The returned shutdown flushes the trace pipeline before the meter
// pipeline. If setup fails part-way, whatever was installed is shut down
// again before the error is returned.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	cfg.applyDefaults()

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var stack []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for i := len(stack) - 1; i >= 0; i-- {
			errs = append(errs, stack[i](ctx))
		}
		return errors.Join(errs...)
	}

	exp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))
	stack = append(stack, mp.Shutdown)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	stack = append(stack, tp.Shutdown)

	if err := ctx.Err(); err != nil {
		return nil, errors.Join(err, shutdown(context.WithoutCancel(ctx)))
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return shutdown, nil
}
