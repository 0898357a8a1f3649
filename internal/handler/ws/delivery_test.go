package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/change-relay/internal/domain/model"
	"github.com/webitel/change-relay/internal/domain/registry"
	"github.com/webitel/change-relay/internal/service"
)

type testEnv struct {
	t      *testing.T
	hub    *registry.Hub
	server *httptest.Server
	wsURL  string
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := registry.NewHub(registry.WithLogger(logger))
	deliverer := service.NewDeliveryService(hub, service.DeliveryConfig{SendBuffer: 8})
	server := httptest.NewServer(NewWSHandler(logger, deliverer, cfg))
	t.Cleanup(server.Close)

	return &testEnv{
		t:      t,
		hub:    hub,
		server: server,
		wsURL:  "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func (e *testEnv) dial() *websocket.Conn {
	e.t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL, nil)
	if err != nil {
		e.t.Fatalf("dial: %v", err)
	}
	e.t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) waitLen(want int) {
	e.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e.hub.Len() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	e.t.Fatalf("hub.Len() = %d, want %d", e.hub.Len(), want)
}

func TestWSHandler_RegistersAndReceives(t *testing.T) {
	env := newTestEnv(t, Config{})

	a := env.dial()
	b := env.dial()
	env.waitLen(2)

	report := env.hub.Broadcast(model.NewIDsEvent(model.KindDelete, []string{"id1", "id2"}))
	if report.Delivered != 2 {
		t.Fatalf("Delivered = %d, want 2", report.Delivered)
	}

	for i, c := range []*websocket.Conn{a, b} {
		_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
		typ, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if typ != websocket.TextMessage {
			t.Errorf("client %d message type = %d", i, typ)
		}
		if got := string(data); got != `{"kind":"DELETE","data":["id1","id2"]}` {
			t.Errorf("client %d got %s", i, got)
		}
	}
}

func TestWSHandler_UnregistersOnClientClose(t *testing.T) {
	env := newTestEnv(t, Config{})

	c := env.dial()
	env.waitLen(1)

	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.Close()

	env.waitLen(0)
}

func TestWSHandler_SendsPings(t *testing.T) {
	env := newTestEnv(t, Config{PingInterval: 20 * time.Millisecond, PongTimeout: time.Second})

	c := env.dial()
	pinged := make(chan struct{}, 1)
	c.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return c.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second))
	})

	// the ping handler runs inside ReadMessage
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(3 * time.Second):
		t.Fatal("no ping received")
	}
}

func TestWSHandler_DropsSilentPeer(t *testing.T) {
	env := newTestEnv(t, Config{PingInterval: 20 * time.Millisecond, PongTimeout: 60 * time.Millisecond})

	// The client never reads, so it never answers pings and the read deadline expires.
	_ = env.dial()
	env.waitLen(1)
	env.waitLen(0)
}

func TestWSHandler_ShutdownClosesClients(t *testing.T) {
	env := newTestEnv(t, Config{})

	c := env.dial()
	env.waitLen(1)

	env.hub.Shutdown()

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.ReadMessage()

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseGoingAway {
		t.Fatalf("expected going-away close, got %v", err)
	}
	env.waitLen(0)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://ops.example.com"})

	req := httptest.NewRequestWithContext(context.Background(), "GET", "/", nil)
	if !check(req) {
		t.Error("request without Origin should pass")
	}
	req.Header.Set("Origin", "https://ops.example.com")
	if !check(req) {
		t.Error("allowed origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example.com")
	if check(req) {
		t.Error("foreign origin accepted")
	}
}
