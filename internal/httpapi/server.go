// Package httpapi provides the local control HTTP server: it triggers
// captures, reports channel status, and connects or disconnects the
// command channel.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gridcap/gridcap/internal/channel"
	logging "github.com/gridcap/gridcap/internal/logging"
)

// CaptureRunner runs one capture request end to end (capture plus batch
// submission).
type CaptureRunner interface {
	RunCapture(ctx context.Context, req CaptureRequest) (CaptureSummary, error)
}

// ChannelControl is the slice of the channel manager the API exposes.
type ChannelControl interface {
	Connect(endpoint string) error
	Disconnect()
	Status() channel.Status
	Endpoint() string
	Attempts() int
}

// TabControl is the slice of the browser manager the API exposes.
type TabControl interface {
	ListTabs(ctx context.Context) ([]TabDetails, error)
	ActivateTab(ctx context.Context, id int) error
	CloseTab(id int) error
}

// Server is the control HTTP server.
type Server struct {
	server  *http.Server
	runner  CaptureRunner
	channel ChannelControl
	tabs    TabControl
	token   string
	limiter *AuthLimiter
	wg      sync.WaitGroup
}

// NewServer creates the control server.
func NewServer(cfg Config, runner CaptureRunner, ch ChannelControl, tabs TabControl) *Server {
	s := &Server{
		runner:  runner,
		channel: ch,
		tabs:    tabs,
		token:   cfg.Token,
		limiter: NewAuthLimiter(cfg.ResolveAuthFailureDelay()),
	}

	s.server = &http.Server{
		Addr:         cfg.ResolveListen(),
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // capture runs can be slow on tall pages
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.tokenAuth(h))
	}

	mux.HandleFunc("/capture", wrap(s.handleCapture))
	mux.HandleFunc("/status", wrap(s.handleStatus))
	mux.HandleFunc("/connect", wrap(s.handleConnect))
	mux.HandleFunc("/disconnect", wrap(s.handleDisconnect))
	mux.HandleFunc("/tabs", wrap(s.handleTabs))
	mux.HandleFunc("/tabs/activate", wrap(s.handleTabActivate))
	mux.HandleFunc("/tabs/close", wrap(s.handleTabClose))

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logging.L_info("httpapi: server starting", "addr", s.server.Addr)

		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logging.L_error("httpapi: server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logging.L_error("httpapi: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	logging.L_info("httpapi: server stopped")
	return nil
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		logging.L_trace("httpapi: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}
