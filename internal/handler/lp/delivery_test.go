package lp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/webitel/change-relay/internal/domain/model"
	"github.com/webitel/change-relay/internal/domain/registry"
	"github.com/webitel/change-relay/internal/service"
)

func newHandler(cfg Config) (*LPHandler, *registry.Hub) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := registry.NewHub(registry.WithLogger(logger))
	d := service.NewDeliveryService(hub, service.DeliveryConfig{SendBuffer: 32})
	return NewLPHandler(logger, d, cfg), hub
}

func waitLen(t *testing.T, hub *registry.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for hub.Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("hub.Len() = %d, want %d", hub.Len(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func poll(h *LPHandler, ctx context.Context) <-chan *httptest.ResponseRecorder {
	out := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequestWithContext(ctx, http.MethodGet, "/poll", nil)
		h.Poll(rec, req)
		out <- rec
	}()
	return out
}

func TestPoll_Timeout(t *testing.T) {
	h, hub := newHandler(Config{Timeout: 30 * time.Millisecond})

	rec := <-poll(h, context.Background())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if hub.Len() != 0 {
		t.Errorf("subscription leaked: %d", hub.Len())
	}
}

func TestPoll_DeliversBatch(t *testing.T) {
	h, hub := newHandler(Config{Timeout: 3 * time.Second, MaxBatch: 2})

	done := poll(h, context.Background())
	waitLen(t, hub, 1)

	hub.Broadcast(model.NewIDsEvent(model.KindDelete, []string{"a"}))

	rec := <-done
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := rec.Body.String(); got != `{"events":[{"kind":"DELETE","data":["a"]}]}` {
		t.Errorf("body = %s", got)
	}
	if hub.Len() != 0 {
		t.Errorf("subscription leaked: %d", hub.Len())
	}
}

func TestPoll_DrainIsBounded(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := registry.NewHub(registry.WithLogger(logger))
	d := &prefilled{Deliverer: service.NewDeliveryService(hub, service.DeliveryConfig{SendBuffer: 32}), hub: hub, n: 5}
	h := NewLPHandler(logger, d, Config{Timeout: time.Second, MaxBatch: 3})

	rec := <-poll(h, context.Background())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := `{"events":[{"kind":"CREATE","data":["x"]},{"kind":"CREATE","data":["x"]},{"kind":"CREATE","data":["x"]}]}`
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %s", got)
	}
}

func TestPoll_ClientGone(t *testing.T) {
	h, hub := newHandler(Config{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := poll(h, ctx)
	waitLen(t, hub, 1)
	cancel()

	<-done
	if hub.Len() != 0 {
		t.Errorf("subscription leaked: %d", hub.Len())
	}
}

func TestPoll_Shutdown(t *testing.T) {
	h, hub := newHandler(Config{Timeout: 5 * time.Second})

	done := poll(h, context.Background())
	waitLen(t, hub, 1)
	hub.Shutdown()

	select {
	case rec := <-done:
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("poll not released by shutdown")
	}
}

func TestPoll_AfterShutdownReturnsAtOnce(t *testing.T) {
	h, hub := newHandler(Config{Timeout: 5 * time.Second})
	hub.Shutdown()

	select {
	case rec := <-poll(h, context.Background()):
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("poll held open on a stopped hub")
	}
	if hub.Len() != 0 {
		t.Errorf("hub.Len() = %d after shutdown", hub.Len())
	}
}

// prefilled queues n frames into every new subscription before handing it out.
type prefilled struct {
	service.Deliverer
	hub *registry.Hub
	n   int
}

func (p *prefilled) Subscribe(meta registry.ConnectMetadata) registry.Connector {
	conn := p.Deliverer.Subscribe(meta)
	for range p.n {
		p.hub.Broadcast(model.NewIDsEvent(model.KindCreate, []string{"x"}))
	}
	return conn
}
