package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, DefaultHTTPAddr)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Gateway.Timeout() != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.Gateway.Timeout())
	}
	if cfg.Drafts.Path != DefaultDraftsPath {
		t.Errorf("drafts path = %q", cfg.Drafts.Path)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[log]
level = "debug"

[server]
addr = "127.0.0.1:9000"

[gateway]
base_url = "https://gw.example.com"
ws_url = "wss://gw.example.com/ws"
token = "tok"
timeout_seconds = 5

[presence]
poll_interval_seconds = 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("partial section must keep defaults: %+v", cfg.Log)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Gateway.WSURL != "wss://gw.example.com/ws" || cfg.Gateway.Timeout() != 5*time.Second {
		t.Errorf("gateway not decoded: %+v", cfg.Gateway)
	}
	if cfg.Presence.PollIntervalSeconds != 3 {
		t.Errorf("presence not decoded: %+v", cfg.Presence)
	}
}
