package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	logging "github.com/gridcap/gridcap/internal/logging"
)

// AuthLimiter blocks an IP for a cooldown period after a failed auth
// attempt.
type AuthLimiter struct {
	failures map[string]time.Time // IP -> time of last failure
	mu       sync.RWMutex
	delay    time.Duration
}

// NewAuthLimiter creates an auth limiter with the given cooldown.
func NewAuthLimiter(delay time.Duration) *AuthLimiter {
	return &AuthLimiter{
		failures: make(map[string]time.Time),
		delay:    delay,
	}
}

// RecordFailure records a failed auth attempt for an IP.
func (l *AuthLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[ip] = time.Now()
}

// ClearFailure clears the failure record for an IP.
func (l *AuthLimiter) ClearFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, ip)
}

// IsLimited returns true if the IP is inside its cooldown window.
func (l *AuthLimiter) IsLimited(ip string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	failTime, exists := l.failures[ip]
	if !exists {
		return false
	}
	return time.Since(failTime) <= l.delay
}

// tokenAuth enforces bearer-token authentication when a token is
// configured. Without a token the API is open (loopback-only listen is
// the default).
func (s *Server) tokenAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			handler(w, r)
			return
		}

		clientIP := getClientIP(r)
		if s.limiter.IsLimited(clientIP) {
			logging.L_warn("httpapi: rate limited", "ip", clientIP)
			http.Error(w, "Too many failed attempts. Try again later.", http.StatusTooManyRequests)
			return
		}

		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			s.limiter.RecordFailure(clientIP)
			logging.L_warn("httpapi: auth failed", "ip", clientIP)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		s.limiter.ClearFailure(clientIP)
		handler(w, r)
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
