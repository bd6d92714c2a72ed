package httpapi

import "time"

// Config holds control API configuration.
type Config struct {
	Listen           string `json:"listen"`           // Address to listen on (default loopback)
	Token            string `json:"token"`            // Bearer token (empty = no auth)
	AuthFailureDelay string `json:"authFailureDelay"` // Cooldown after a failed auth attempt
}

// DefaultConfig returns the default control API configuration.
func DefaultConfig() Config {
	return Config{
		Listen:           "127.0.0.1:3380",
		AuthFailureDelay: "10s",
	}
}

// ResolveListen returns the listen address.
func (c Config) ResolveListen() string {
	if c.Listen == "" {
		return "127.0.0.1:3380"
	}
	return c.Listen
}

// ResolveAuthFailureDelay returns the auth cooldown as a Duration.
func (c Config) ResolveAuthFailureDelay() time.Duration {
	if c.AuthFailureDelay == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(c.AuthFailureDelay)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
