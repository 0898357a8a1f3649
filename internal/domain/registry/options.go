package registry

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultSendBuffer = 64
	meterName         = "github.com/webitel/change-relay/registry"
)

type hubConfig struct {
	logger *slog.Logger
	meter  metric.Meter
}

func defaultHubConfig() hubConfig {
	return hubConfig{
		meter: otel.GetMeterProvider().Meter(meterName),
	}
}

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithLogger sets the logger used for fan-out diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.config.logger = l
	}
}

// WithMeterProvider routes the hub instruments to mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(h *Hub) {
		h.config.meter = mp.Meter(meterName)
	}
}
