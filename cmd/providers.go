package cmd

import (
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/change-relay/config"
	"github.com/webitel/change-relay/infra/server/httpsrv"
	"github.com/webitel/change-relay/internal/adapter/pubsub"
	"github.com/webitel/change-relay/internal/handler/lp"
	"github.com/webitel/change-relay/internal/handler/rest"
	"github.com/webitel/change-relay/internal/handler/ws"
	"github.com/webitel/change-relay/internal/service"
)

// ProvideLogger builds the process logger. The level lives in a LevelVar so a config
// reload can change it without rebuilding handlers.
func ProvideLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	if l, err := config.ParseLevel(cfg.Log.Level); err == nil {
		level.Set(l)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", ServiceName, "version", version)
	slog.SetDefault(logger)
	return logger, level
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

func ProvideHTTPConfig(cfg *config.Config) httpsrv.Config {
	return httpsrv.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
	}
}

func ProvideRouteConfig(cfg *config.Config) rest.Config {
	return rest.Config{
		JWTSecret:    cfg.Ingress.JWTSecret,
		MaxBodyBytes: cfg.Ingress.MaxBodyBytes,
	}
}

func ProvideWSConfig(cfg *config.Config) ws.Config {
	return ws.Config{
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		PingInterval:   cfg.Realtime.PingInterval,
		PongTimeout:    cfg.Realtime.PongTimeout,
		ReadLimit:      cfg.Realtime.ReadLimit,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
	}
}

func ProvideLPConfig(cfg *config.Config) lp.Config {
	return lp.Config{Timeout: cfg.Realtime.LongPollTimeout}
}

func ProvideDeliveryConfig(cfg *config.Config) service.DeliveryConfig {
	return service.DeliveryConfig{SendBuffer: cfg.Realtime.SendBuffer}
}

func ProvidePubSubConfig(cfg *config.Config) pubsub.Config {
	nodeID := cfg.Bus.NodeID
	if nodeID == "" {
		if host, err := os.Hostname(); err == nil {
			nodeID = host
		} else {
			nodeID = watermill.NewShortUUID()
		}
	}
	return pubsub.Config{
		Driver: cfg.Bus.Driver,
		URL:    cfg.Bus.URL,
		Topic:  cfg.Bus.Topic,
		NodeID: nodeID,
	}
}

// WatchConfig applies log level changes from the config file while running.
func WatchConfig(cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) {
	cfg.OnChange(logger, func(next *config.Config) {
		l, err := config.ParseLevel(next.Log.Level)
		if err != nil {
			return
		}
		if l != level.Level() {
			level.Set(l)
			logger.Info("LOG_LEVEL_CHANGED", "level", l.String())
		}
	})
}

