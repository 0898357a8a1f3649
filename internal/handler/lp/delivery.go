package lp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/webitel/change-relay/internal/domain/registry"
	lpmarshaller "github.com/webitel/change-relay/internal/handler/marshaller/lp"
	"github.com/webitel/change-relay/internal/service"
)

const (
	DefaultPollTimeout = 30 * time.Second
	// DefaultMaxBatch bounds a single response: the first frame plus up to 16 drained ones.
	DefaultMaxBatch = 17
)

type Config struct {
	Timeout  time.Duration
	MaxBatch int
}

type LPHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	cfg       Config
}

func NewLPHandler(logger *slog.Logger, deliverer service.Deliverer, cfg Config) *LPHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPollTimeout
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	return &LPHandler{
		logger:    logger.With("component", "lp"),
		deliverer: deliverer,
		cfg:       cfg,
	}
}

// Poll holds the request open until at least one change event arrives or the
// poll timeout elapses. The subscription lives only for this request.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	// 1. Temporary subscription.
	conn := h.deliverer.Subscribe(registry.ConnectMetadata{
		Transport: "lp",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	defer h.deliverer.Unsubscribe(conn)

	timer := time.NewTimer(h.cfg.Timeout)
	defer timer.Stop()

	var frames [][]byte

	// 2. Wait for data, timeout, client disconnect, or shutdown.
	select {
	case <-r.Context().Done():
		return

	case <-conn.Done():
		w.WriteHeader(http.StatusNoContent)
		return

	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
		return

	case frame := <-conn.Recv():
		frames = append(frames, frame)

		// Drain what is already buffered so the client needs fewer round trips.
	drainLoop:
		for len(frames) < h.cfg.MaxBatch {
			select {
			case next := <-conn.Recv():
				frames = append(frames, next)
			default:
				break drainLoop
			}
		}
	}

	// 3. Final transmission.
	data, err := lpmarshaller.MarshallFrames(frames)
	if err != nil {
		h.logger.Error("LP_MARSHAL_FAILED", "err", err, "conn_id", conn.GetID())
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
