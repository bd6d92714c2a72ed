package capture

import "time"

// Defaults for the capture engine. The 600ms settle delay keeps the
// capture rate under ~2/second; rate-limit rejections get 3 attempts
// with a fixed 1s backoff.
const (
	DefaultSettleDelay     = 600 * time.Millisecond
	DefaultCaptureAttempts = 3
	DefaultCaptureBackoff  = time.Second
)

// Config holds capture configuration.
type Config struct {
	Endpoint        string `json:"endpoint"`        // Batch submission URL
	SettleDelay     string `json:"settleDelay"`     // Pause after each scroll (e.g., "600ms")
	CaptureAttempts int    `json:"captureAttempts"` // Attempts per tile on rate-limit rejection
	CaptureBackoff  string `json:"captureBackoff"`  // Delay between rate-limit retries
	SubmitTimeout   string `json:"submitTimeout"`   // Batch POST timeout
	MaxTileDim      int    `json:"maxTileDim"`      // Downscale tiles above this dimension (0 = off)

	// Scheduled captures
	Schedule    string `json:"schedule"`    // Cron expression (empty = disabled)
	ScheduleURL string `json:"scheduleUrl"` // URL captured on each schedule tick
	Note        string `json:"note"`        // Annotation for scheduled captures
	Hidden      bool   `json:"hidden"`      // Hidden flag for scheduled captures
	Mode        string `json:"mode"`        // "tiles" or "text" for scheduled captures
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{
		SettleDelay:     "600ms",
		CaptureAttempts: DefaultCaptureAttempts,
		CaptureBackoff:  "1s",
		SubmitTimeout:   "30s",
		MaxTileDim:      2048,
		Mode:            "tiles",
	}
}

// ResolveSettleDelay returns the settle delay as a Duration.
func (c Config) ResolveSettleDelay() time.Duration {
	return parseDuration(c.SettleDelay, DefaultSettleDelay)
}

// ResolveCaptureBackoff returns the rate-limit retry backoff as a Duration.
func (c Config) ResolveCaptureBackoff() time.Duration {
	return parseDuration(c.CaptureBackoff, DefaultCaptureBackoff)
}

// ResolveSubmitTimeout returns the batch POST timeout as a Duration.
func (c Config) ResolveSubmitTimeout() time.Duration {
	return parseDuration(c.SubmitTimeout, 30*time.Second)
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
