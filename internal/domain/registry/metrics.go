package registry

import (
	"context"
	"log/slog"

	"github.com/webitel/change-relay/internal/domain/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type instruments struct {
	connections  metric.Int64UpDownCounter
	broadcasts   metric.Int64Counter
	deliveries   metric.Int64Counter
	sendFailures metric.Int64Counter
}

func newInstruments(meter metric.Meter, logger *slog.Logger) *instruments {
	var (
		ins  instruments
		errs []error
		err  error
	)

	ins.connections, err = meter.Int64UpDownCounter("relay.connections",
		metric.WithDescription("Registered realtime connections"))
	errs = append(errs, err)
	ins.broadcasts, err = meter.Int64Counter("relay.broadcasts",
		metric.WithDescription("Change events fanned out"))
	errs = append(errs, err)
	ins.deliveries, err = meter.Int64Counter("relay.deliveries",
		metric.WithDescription("Frames enqueued to open connections"))
	errs = append(errs, err)
	ins.sendFailures, err = meter.Int64Counter("relay.send_failures",
		metric.WithDescription("Frames an open connection did not accept"))
	errs = append(errs, err)

	for _, err := range errs {
		if err != nil {
			logger.Warn("METRICS_DISABLED", "err", err)
			return newInstruments(noop.NewMeterProvider().Meter(meterName), logger)
		}
	}
	return &ins
}

func (i *instruments) recordBroadcast(kind model.Kind, r Report) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("kind", kind.String()))

	i.broadcasts.Add(ctx, 1, attrs)
	i.deliveries.Add(ctx, int64(r.Delivered), attrs)
	if n := len(r.Failures); n > 0 {
		i.sendFailures.Add(ctx, int64(n), attrs)
	}
}
