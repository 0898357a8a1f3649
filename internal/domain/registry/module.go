package registry

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(logger *slog.Logger) *Hub {
			return NewHub(
				WithLogger(logger.With("component", "hub")),
			)
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown() // [GRACEFUL_SHUTDOWN] close every connection; transports unregister themselves
				return nil
			},
		})
	}),
)
