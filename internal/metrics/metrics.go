// ABOUTME: OpenTelemetry meter provider exported through a private Prometheus registry
// ABOUTME: Falls back to a noop meter and no scrape handler when metrics are disabled

package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/2389/authgate/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider owns the meter used by the service's instruments.
type Provider struct {
	meter    metric.Meter
	handler  http.Handler
	provider *sdkmetric.MeterProvider
}

// New builds a Provider. When cfg.Enabled is false the meter is a noop and
// Handler returns nil.
func New(cfg config.MetricsConfig, name string) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{meter: noop.NewMeterProvider().Meter(name)}, nil
	}

	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return &Provider{
		meter:    mp.Meter(name),
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		provider: mp,
	}, nil
}

// Meter returns the meter instruments should be created on.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Enabled reports whether metrics are exported.
func (p *Provider) Enabled() bool {
	return p.provider != nil
}

// Handler returns the Prometheus scrape handler, or nil when disabled.
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
