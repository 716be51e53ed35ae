// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = "127.0.0.1:8484"
	DefaultGatewayBaseURL = "https://gateway.omnidesk.example"
	DefaultDraftsPath     = "drafts.db"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Drafts   DraftsConfig   `toml:"drafts"`
	Typing   TypingConfig   `toml:"typing"`
	Presence PresenceConfig `toml:"presence"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the local API listen address. The daemon serves a UI on
// the same machine, so the default binds loopback only.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// GatewayConfig holds the messaging gateway endpoint and session token.
type GatewayConfig struct {
	BaseURL        string `toml:"base_url"`
	WSURL          string `toml:"ws_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the gateway request timeout.
func (c GatewayConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DraftsConfig holds the failed-draft database location.
type DraftsConfig struct {
	Path string `toml:"path"`
}

// TypingConfig tunes the typing indicator protocol.
type TypingConfig struct {
	SignalWindowSeconds int `toml:"signal_window_seconds"`
	StopDelaySeconds    int `toml:"stop_delay_seconds"`
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

// PresenceConfig tunes the live visitor poller.
type PresenceConfig struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	ActiveWindowSeconds int `toml:"active_window_seconds"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Gateway: GatewayConfig{
			BaseURL: DefaultGatewayBaseURL,
		},
		Drafts: DraftsConfig{
			Path: DefaultDraftsPath,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
