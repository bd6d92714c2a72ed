// Package config loads the merged gridcap configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gridcap/gridcap/internal/browser"
	"github.com/gridcap/gridcap/internal/capture"
	"github.com/gridcap/gridcap/internal/channel"
	"github.com/gridcap/gridcap/internal/httpapi"
)

// Config represents the merged gridcap configuration.
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Capture capture.Config `json:"capture"`
	Channel channel.Config `json:"channel"`
	Browser browser.Config `json:"browser"`
	API     httpapi.Config `json:"api"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level      string `json:"level"` // "error", "warn", "info", "debug", "trace"
	ShowCaller bool   `json:"showCaller"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", ShowCaller: true},
		Capture: capture.DefaultConfig(),
		Channel: channel.DefaultConfig(),
		Browser: browser.DefaultConfig(),
		API:     httpapi.DefaultConfig(),
	}
}

// Load reads configuration from ~/.gridcap/gridcap.json, applying it on
// top of the defaults. A missing file is not an error. The GRIDCAP_CONFIG
// environment variable overrides the config path.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("GRIDCAP_CONFIG")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, ".gridcap", "gridcap.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
