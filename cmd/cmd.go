package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/webitel/change-relay/config"
	"github.com/webitel/change-relay/infra/client/fetch"
	"github.com/webitel/change-relay/infra/client/relay"
	"github.com/webitel/change-relay/infra/client/swr"
	"github.com/webitel/change-relay/internal/console"
	"github.com/webitel/change-relay/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

const (
	ServiceName = "change-relay"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Real-time change relay: fans server-side change events out to connected clients",
		Version: fmt.Sprintf("%s (commit %s, branch %s, %s)", version, commit, branch, commitDate),
		Commands: []*cli.Command{
			serverCmd(),
			broadcastCmd(),
			topCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the relay (websocket at /, POST /broadcast, GET /poll)",
		// flags are parsed by config.LoadConfig so they can be bound into viper
		SkipFlagParsing: true,
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.Args().Slice())
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...", "build", buildTimestamp)
			return app.Stop(context.Background())
		},
	}
}

func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "url",
			Usage: "Base URL of the relay",
			Value: "http://localhost:8080",
		},
		&cli.IntFlag{
			Name:  "retries",
			Usage: "Retries after a failed request",
			Value: fetch.DefaultRetries,
		},
		&cli.DurationFlag{
			Name:  "retry-delay",
			Usage: "Fixed delay between attempts",
			Value: fetch.DefaultDelay,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Deadline of a single attempt",
			Value: fetch.DefaultAttemptTimeout,
		},
	}
}

func fetchClient(c *cli.Context, logger *slog.Logger) *fetch.Client {
	return fetch.New(&http.Client{}, fetch.Options{
		Retries:        c.Int("retries"),
		Delay:          c.Duration("retry-delay"),
		AttemptTimeout: c.Duration("timeout"),
	}, logger)
}

func broadcastCmd() *cli.Command {
	return &cli.Command{
		Name:      "broadcast",
		Aliases:   []string{"b"},
		Usage:     "Submit one change event to a running relay",
		ArgsUsage: " ",
		Flags: append(clientFlags(),
			&cli.StringFlag{
				Name:     "kind",
				Usage:    "UPDATE, CREATE or DELETE",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "data",
				Usage: `JSON array of records or ids, e.g. '["id1","id2"]'`,
				Value: "[]",
			},
			&cli.StringFlag{
				Name:    "secret",
				Usage:   "HS256 secret shared with the relay ingress",
				EnvVars: []string{config.EnvPrefix + "_INGRESS_JWT_SECRET"},
			},
		),
		Action: func(c *cli.Context) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			data := json.RawMessage(c.String("data"))
			if !json.Valid(data) {
				return errors.New("--data is not valid JSON")
			}

			ingress := relay.NewIngressClient(fetchClient(c, logger), c.String("url"))
			ingress.Secret = c.String("secret")

			if err := ingress.Broadcast(c.Context, strings.ToUpper(c.String("kind")), data); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "accepted")
			return nil
		},
	}
}

func topCmd() *cli.Command {
	return &cli.Command{
		Name:  "top",
		Usage: "Live relay statistics, refreshed by interval polling and push hints",
		Flags: append(clientFlags(),
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Polling interval; 0 relies on push hints only",
				Value: 2 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "dedupe",
				Usage: "Window in which focus/reconnect triggers reuse the last fetch",
				Value: 2 * time.Second,
			},
		),
		Action: func(c *cli.Context) error {
			// the terminal belongs to the dashboard
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			base := strings.TrimRight(c.String("url"), "/")

			cache := swr.New(swr.HTTPFetcher[model.HubStats](fetchClient(c, logger), base), swr.Options{
				DedupeInterval:  c.Duration("dedupe"),
				RefreshInterval: c.Duration("interval"),
				Logger:          logger,
			})
			dash := console.NewDashboard()

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sub := relay.NewSubscriber(toWebsocketURL(base), relay.SubscriberOptions{
				OnEvent: func(ev relay.Event) {
					dash.RecordPush(ev.Kind)
					go func() { _ = cache.Notify(ctx) }()
				},
				OnReconnect: func() {
					go func() { _ = cache.Reconnect(ctx) }()
				},
				OnState: dash.SetConnected,
				Logger:  logger,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return sub.Run(gctx) })
			g.Go(func() error { return cache.Run(gctx) })
			g.Go(func() error {
				defer cancel()
				return console.Run(gctx, dash, cache)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/"
	default:
		return base + "/"
	}
}
