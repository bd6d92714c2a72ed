package browser

import (
	"path/filepath"
	"time"
)

// Config holds browser configuration.
type Config struct {
	Dir       string `json:"dir"`       // Browser data directory (empty = ~/.gridcap/browser)
	Headless  bool   `json:"headless"`  // Run in headless mode
	NoSandbox bool   `json:"noSandbox"` // Disable sandbox (needed for Docker/root)
	Profile   string `json:"profile"`   // Profile name
	Timeout   string `json:"timeout"`   // Default action timeout (e.g., "30s")
	Stealth   bool   `json:"stealth"`   // Enable stealth mode
	ChromeCDP string `json:"chromeCDP"` // Attach to an existing Chrome at this CDP endpoint instead of launching
}

// DefaultConfig returns the default browser configuration.
func DefaultConfig() Config {
	return Config{
		Headless: true,
		Profile:  "default",
		Timeout:  "30s",
		Stealth:  true,
	}
}

// ResolveDir returns the browser directory, defaulting to ~/.gridcap/browser.
func (c Config) ResolveDir(homeDir string) string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(homeDir, ".gridcap", "browser")
}

// ResolveProfileDir returns the user-data directory for the configured profile.
func (c Config) ResolveProfileDir(homeDir string) string {
	profile := c.Profile
	if profile == "" {
		profile = "default"
	}
	return filepath.Join(c.ResolveDir(homeDir), "profiles", profile)
}

// ResolveTimeout returns the action timeout as a Duration.
func (c Config) ResolveTimeout() time.Duration {
	if c.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
