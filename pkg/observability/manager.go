// Package observability wires the engine's OTel SDK: a trace.TracerProvider
// and a metric.MeterProvider, each falling back to otel's own no-op
// implementation when tracing is disabled (§4.10's "zero cost when
// disabled"). This package only constructs the SDK plumbing; the System-
// Prompt State Tracker (pkg/tracker) is the component that actually emits
// spans and counters from pipeline stage boundaries.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/promptengine/pkg/config"
)

// Manager owns the process-wide tracer and meter providers and their
// combined shutdown.
type Manager struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metricsHandler http.Handler
	shutdownTracer func(context.Context) error
}

// NewManager builds a Manager from cfg. A disabled config still returns a
// fully usable Manager backed by no-op providers, so callers never need a
// nil check.
func NewManager(ctx context.Context, cfg config.TracingConfig) (*Manager, error) {
	tp, shutdownTracer, err := InitTracerProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	mp, handler, err := InitMeterProvider(cfg)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("observability: %w", err)
	}

	if cfg.Enabled {
		slog.Info("observability: tracing and metrics initialized",
			"otlp_endpoint", cfg.OTLPEndpoint,
			"service_name", cfg.ServiceName,
		)
	}

	return &Manager{
		tracerProvider: tp,
		meterProvider:  mp,
		metricsHandler: handler,
		shutdownTracer: shutdownTracer,
	}, nil
}

// Tracer returns a named tracer off the managed provider.
func (m *Manager) Tracer(name string) trace.Tracer { return m.tracerProvider.Tracer(name) }

// Meter returns a named meter off the managed provider.
func (m *Manager) Meter(name string) metric.Meter { return m.meterProvider.Meter(name) }

// MetricsHandler serves the Prometheus scrape endpoint (or a 503 stub
// when metrics are disabled).
func (m *Manager) MetricsHandler() http.Handler { return m.metricsHandler }

// Shutdown flushes and closes the tracer provider. The meter provider's
// Prometheus reader has nothing to flush on shutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.shutdownTracer(ctx)
}
