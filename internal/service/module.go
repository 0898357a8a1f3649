package service

import (
	"log/slog"

	"github.com/webitel/change-relay/internal/adapter/pubsub"
	"github.com/webitel/change-relay/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		fx.Annotate(
			NewDeliveryService,
			fx.As(new(Deliverer)),
		),
		ProvideBroadcaster,
		ProvideIngester,
	),
)

type broadcasterParams struct {
	fx.In

	Hub        registry.Hubber
	Logger     *slog.Logger
	Dispatcher pubsub.EventDispatcher `optional:"true"`
}

// ProvideBroadcaster routes accepted events through the bus when one is wired,
// otherwise straight into the local hub.
func ProvideBroadcaster(p broadcasterParams) Broadcaster {
	if p.Dispatcher != nil {
		p.Logger.Info("BROADCAST_ROUTE", "via", "bus")
		return NewBusBroadcaster(p.Dispatcher)
	}
	p.Logger.Info("BROADCAST_ROUTE", "via", "hub")
	return NewHubBroadcaster(p.Hub)
}

// ProvideIngester hands out the validating ingress wrapped in its logging layer.
// Consumers in sibling modules receive the wrapped value.
func ProvideIngester(b Broadcaster, logger *slog.Logger) Ingester {
	return &IngressMiddleware{
		Next:   NewIngressService(b),
		Logger: logger.With("component", "ingress"),
	}
}
