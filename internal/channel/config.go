package channel

import (
	"time"

	"github.com/gridcap/gridcap/internal/retry"
)

// Config holds channel configuration.
type Config struct {
	Endpoint         string `json:"endpoint"`         // Controller URL (ws://, wss://, or http(s) equivalent)
	HandshakeTimeout string `json:"handshakeTimeout"` // WebSocket handshake timeout
	BackoffBase      string `json:"backoffBase"`      // Initial reconnect delay
	BackoffMax       string `json:"backoffMax"`       // Reconnect delay cap
	CommandTimeout   string `json:"commandTimeout"`   // Per-command dispatch timeout
}

// DefaultConfig returns the default channel configuration:
// reconnect delays of 1s doubling to a 30s cap.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: "30s",
		BackoffBase:      "1s",
		BackoffMax:       "30s",
		CommandTimeout:   "60s",
	}
}

// ResolveHandshakeTimeout returns the handshake timeout as a Duration.
func (c Config) ResolveHandshakeTimeout() time.Duration {
	return parseDuration(c.HandshakeTimeout, 30*time.Second)
}

// ResolveCommandTimeout returns the per-command timeout as a Duration.
func (c Config) ResolveCommandTimeout() time.Duration {
	return parseDuration(c.CommandTimeout, 60*time.Second)
}

// ResolveBackoff returns the reconnect backoff function:
// min(base * 2^attempt, max).
func (c Config) ResolveBackoff() func(int) time.Duration {
	base := parseDuration(c.BackoffBase, time.Second)
	max := parseDuration(c.BackoffMax, 30*time.Second)
	return retry.Exponential(base, max)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
