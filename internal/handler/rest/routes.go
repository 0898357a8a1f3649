package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/webitel/change-relay/infra/server/httpsrv"
	"github.com/webitel/change-relay/internal/domain/registry"
	"github.com/webitel/change-relay/internal/handler/lp"
	"github.com/webitel/change-relay/internal/handler/ws"
	"github.com/webitel/change-relay/internal/service"
	"go.uber.org/fx"
)

type Config struct {
	JWTSecret    string
	MaxBodyBytes int64
}

type RouterParams struct {
	fx.In

	Config   Config
	Logger   *slog.Logger
	Hub      registry.Hubber
	Ingester service.Ingester
	WS       *ws.WSHandler
	LP       *lp.LPHandler
}

// NewRouter mounts every public endpoint of the relay on a single chi mux.
func NewRouter(p RouterParams) http.Handler {
	logger := p.Logger.With("component", "http")
	if p.Config.JWTSecret == "" {
		logger.Warn("INGRESS_UNAUTHENTICATED", "detail", "POST /broadcast accepts any caller that can reach the listener")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpsrv.AccessLog(logger))
	r.Use(middleware.Recoverer)

	ingress := NewIngressHandler(p.Ingester, logger, p.Config.MaxBodyBytes)

	r.Get("/", p.WS.ServeHTTP)
	r.Get("/poll", p.LP.Poll)
	r.With(httpsrv.RequireToken(p.Config.JWTSecret, RejectJSON)).Post("/broadcast", ingress.Broadcast)
	r.Get("/stats", statsHandler(p.Hub))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

func statsHandler(hub registry.Hubber) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, hub.Stats())
	}
}

var Module = fx.Module("rest",
	fx.Provide(
		ws.NewWSHandler,
		lp.NewLPHandler,
		NewRouter,
	),
)
