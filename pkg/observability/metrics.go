package observability

import (
	"fmt"
	"net/http"

	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/promptengine/pkg/config"
)

// InitMeterProvider builds the process-wide metric.MeterProvider and its
// Prometheus scrape handler. Disabled tracing configuration yields a
// no-op provider and a 503 handler, matching InitTracerProvider's
// zero-cost-when-disabled contract.
func InitMeterProvider(cfg config.TracingConfig) (metric.MeterProvider, http.Handler, error) {
	if !cfg.Enabled {
		return noopmetric.NewMeterProvider(), disabledHandler(), nil
	}

	exporter, err := otelprom.New()
	if err != nil {
		return nil, nil, fmt.Errorf("observability: create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return mp, promhttp.Handler(), nil
}

func disabledHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// Meter returns a named meter off the given provider, so each
// instrumenting package can take its own name and its instruments group
// cleanly in whatever backend scrapes them.
func Meter(mp metric.MeterProvider, name string) metric.Meter {
	return mp.Meter(name)
}
