package cmd

import (
	"testing"

	"github.com/webitel/change-relay/config"
	"github.com/webitel/change-relay/internal/handler/rest"
	"github.com/webitel/change-relay/internal/service"
	"go.uber.org/fx"
)

func TestAppGraph(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "hub only", args: nil},
		{name: "in-process bus", args: []string{"--bus-driver", "gochannel"}},
		{name: "amqp bus", args: []string{"--bus-driver", "amqp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.LoadConfig(tt.args)
			if err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			if err := fx.ValidateApp(appOptions(cfg)...); err != nil {
				t.Errorf("dependency graph: %v", err)
			}
		})
	}
}

func TestAppGraph_RouterGetsLoggedIngester(t *testing.T) {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	var got service.Ingester
	app := fx.New(append(appOptions(cfg), fx.Invoke(func(p rest.RouterParams) {
		got = p.Ingester
	}))...)
	if err := app.Err(); err != nil {
		t.Fatalf("build app: %v", err)
	}

	if _, ok := got.(*service.IngressMiddleware); !ok {
		t.Errorf("router ingester = %T, want *service.IngressMiddleware", got)
	}
}

func TestToWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080":  "ws://localhost:8080/",
		"https://relay.internal": "wss://relay.internal/",
		"ws://already.socket:81": "ws://already.socket:81/",
	}
	for in, want := range tests {
		if got := toWebsocketURL(in); got != want {
			t.Errorf("toWebsocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProvidePubSubConfig_NodeIDFallback(t *testing.T) {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := ProvidePubSubConfig(cfg); got.NodeID == "" || got.Topic != "relay.changes" {
		t.Errorf("pubsub config = %+v", got)
	}
}
