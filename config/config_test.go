package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Bus.Driver != "none" {
		t.Errorf("bus driver = %q", cfg.Bus.Driver)
	}
	if cfg.Realtime.PingInterval != 25*time.Second || cfg.Realtime.LongPollTimeout != 30*time.Second {
		t.Errorf("realtime = %+v", cfg.Realtime)
	}
	if cfg.Ingress.MaxBodyBytes != 1<<20 {
		t.Errorf("max body = %d", cfg.Ingress.MaxBodyBytes)
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	file := writeFile(t, "relay.yaml", `
server:
  port: 9000
log:
  level: warn
realtime:
  ping_interval: 5s
  pong_timeout: 15s
bus:
  driver: gochannel
`)

	tests := []struct {
		name      string
		args      []string
		env       map[string]string
		wantPort  int
		wantLevel string
	}{
		{name: "file", args: []string{"--config_file", file}, wantPort: 9000, wantLevel: "warn"},
		{name: "bare PORT over file", args: []string{"--config_file", file}, env: map[string]string{"PORT": "7000"}, wantPort: 7000, wantLevel: "warn"},
		{name: "prefixed env over file", args: []string{"--config_file", file}, env: map[string]string{"RELAY_LOG_LEVEL": "debug"}, wantPort: 9000, wantLevel: "debug"},
		{name: "flag over env", args: []string{"--config_file", file, "--port", "6000"}, env: map[string]string{"PORT": "7000"}, wantPort: 6000, wantLevel: "warn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := LoadConfig(tt.args)
			if err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			if cfg.Server.Port != tt.wantPort {
				t.Errorf("port = %d, want %d", cfg.Server.Port, tt.wantPort)
			}
			if cfg.Log.Level != tt.wantLevel {
				t.Errorf("level = %q, want %q", cfg.Log.Level, tt.wantLevel)
			}
			if cfg.Realtime.PingInterval != 5*time.Second {
				t.Errorf("ping interval = %v", cfg.Realtime.PingInterval)
			}
			if cfg.Bus.Driver != "gochannel" {
				t.Errorf("driver = %q", cfg.Bus.Driver)
			}
		})
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "unknown bus driver", args: []string{"--bus-driver", "kafka"}},
		{name: "bad log level", env: map[string]string{"RELAY_LOG_LEVEL": "loud"}},
		{name: "pong shorter than ping", env: map[string]string{"RELAY_REALTIME_PONG_TIMEOUT": "1s"}},
		{name: "missing file", args: []string{"--config_file", filepath.Join(t.TempDir(), "nope.yaml")}},
		{name: "unknown flag", args: []string{"--nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(tt.args); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestOnChange_ReloadsLogLevel(t *testing.T) {
	file := writeFile(t, "relay.yaml", "log:\n  level: info\n")

	cfg, err := LoadConfig([]string{"--config_file", file})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	changed := make(chan string, 4)
	cfg.OnChange(slog.New(slog.NewTextHandler(io.Discard, nil)), func(next *Config) {
		changed <- next.Log.Level
	})

	if err := os.WriteFile(file, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case level := <-changed:
			if level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"WARN", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}
