package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  name: bench-rig\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Server.Name != "bench-rig" {
		t.Fatalf("name = %q", cfg.Server.Name)
	}
	if !cfg.TCP.Enabled || cfg.TCP.Addr != ":9090" {
		t.Fatalf("tcp defaults not applied: %+v", cfg.TCP)
	}
	if !cfg.Tools.Display || !cfg.Tools.Status {
		t.Fatalf("tools default to enabled: %+v", cfg.Tools)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("logging defaults not applied: %+v", cfg.Logging)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
serial:
  enabled: true
  device: /dev/ttyUSB0
  send_timeout: 250ms
tcp:
  addr: 127.0.0.1:7000
  max_clients: 2
  write_timeout: 2s
tools:
  display: false
logging:
  level: debug
  format: text
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !cfg.Serial.Enabled || cfg.Serial.Device != "/dev/ttyUSB0" {
		t.Fatalf("serial = %+v", cfg.Serial)
	}
	if cfg.Serial.SendTimeout != 250*time.Millisecond {
		t.Fatalf("send timeout = %v", cfg.Serial.SendTimeout)
	}
	if cfg.TCP.WriteTimeout != 2*time.Second {
		t.Fatalf("write timeout = %v", cfg.TCP.WriteTimeout)
	}
	if cfg.Tools.Display {
		t.Fatal("tools.display should be off")
	}
	if !cfg.Tools.GPIO {
		t.Fatal("tools.gpio should keep its default")
	}
	if cfg.TCP.MaxClients != 2 {
		t.Fatalf("max clients = %d", cfg.TCP.MaxClients)
	}
}

func TestParseExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_TCP_ADDR", "10.0.0.5:9100")
	cfg, err := Parse([]byte("tcp:\n  addr: ${TEST_TCP_ADDR}\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.TCP.Addr != "10.0.0.5:9100" {
		t.Fatalf("addr = %q", cfg.TCP.Addr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("DEVICED_TCP_ADDR", ":9999")
	t.Setenv("DEVICED_LOG_LEVEL", "warn")
	cfg, err := Parse([]byte("tcp:\n  addr: :9090\nlogging:\n  level: info\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.TCP.Addr != ":9999" {
		t.Fatalf("addr = %q, want env override", cfg.TCP.Addr)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("level = %q, want env override", cfg.Logging.Level)
	}
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"no transports", "tcp:\n  enabled: false\n", "at least one transport"},
		{"tcp without addr", "tcp:\n  addr: \"\"\n", "tcp.addr is required"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"bad duration", "tcp:\n  write_timeout: fast\n", "write_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTransportConfigConversion(t *testing.T) {
	cfg, err := Parse([]byte(`
serial:
  enabled: true
  device: stdio
  max_payload: 2048
tcp:
  addr: :9090
  max_clients: 3
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sc := cfg.SerialTransportConfig()
	if sc.MaxPayload != 2048 {
		t.Fatalf("serial config = %+v", sc)
	}
	tc := cfg.TCPTransportConfig()
	if tc.Addr != ":9090" || tc.MaxClients != 3 {
		t.Fatalf("tcp config = %+v", tc)
	}
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deviced.yaml")
	if err := os.WriteFile(path, []byte("server:\n  name: first\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)), func(c *Config) {
			reloaded <- c
		})
	}()

	// Give the watcher a moment to install before the first write.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("server:\n  name: second\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Server.Name != "second" {
			t.Fatalf("reloaded name = %q", cfg.Server.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	// A broken config must be skipped, not delivered.
	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case cfg := <-reloaded:
		if cfg.Logging.Level == "loud" {
			t.Fatal("invalid config was delivered")
		}
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}
