package cmd

import (
	"log/slog"

	"github.com/webitel/change-relay/config"
	"github.com/webitel/change-relay/infra/server/httpsrv"
	"github.com/webitel/change-relay/internal/adapter/pubsub"
	"github.com/webitel/change-relay/internal/domain/registry"
	"github.com/webitel/change-relay/internal/handler/bus"
	"github.com/webitel/change-relay/internal/handler/rest"
	"github.com/webitel/change-relay/internal/service"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(appOptions(cfg)...)
}

func appOptions(cfg *config.Config) []fx.Option {
	options := []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideHTTPConfig,
			ProvideRouteConfig,
			ProvideWSConfig,
			ProvideLPConfig,
			ProvideDeliveryConfig,
			ProvidePubSubConfig,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Invoke(WatchConfig),

		// [SHUTDOWN_ORDER] hooks stop in reverse: the hub closes every connection
		// (releasing held long-polls) before the listener drains.
		httpsrv.Module,
		registry.Module,
		service.Module,
		rest.Module,
	}

	if cfg.Bus.Driver != pubsub.DriverNone {
		options = append(options, bus.Module)
	}

	return options
}
