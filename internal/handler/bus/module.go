package bus

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/change-relay/internal/adapter/pubsub"
	"go.uber.org/fx"
)

// Module is only included when a bus driver is configured.
var Module = fx.Module("bus-handler",
	fx.Provide(
		pubsub.NewPubSub,
		func(ps *pubsub.PubSub, cfg pubsub.Config) pubsub.EventDispatcher {
			return pubsub.NewEventDispatcher(ps.Publisher, cfg.Topic)
		},
		NewChangeHandler,
		NewWatermillRouter,
	),

	fx.Invoke(Run),
)

// Run registers the consumer and ties the router and bus to the app lifecycle.
func Run(lc fx.Lifecycle, router *message.Router, h *ChangeHandler, ps *pubsub.PubSub, cfg pubsub.Config, logger *slog.Logger) error {
	if err := validateTopic(cfg.Topic); err != nil {
		return err
	}
	h.Register(router, ps.Subscriber, cfg.Topic)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("BUS_ROUTER_STOPPED", "err", err)
				}
			}()

			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(ctx context.Context) error {
			if err := router.Close(); err != nil {
				logger.Warn("BUS_ROUTER_CLOSE_FAILED", "err", err)
			}
			return ps.Close()
		},
	})
	return nil
}
