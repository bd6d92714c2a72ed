package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridcap/gridcap/internal/config"
	. "github.com/gridcap/gridcap/internal/logging"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("gridcap %s\n", version)
		return
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	Init(&Config{
		Level:      parseLevel(cfg.Logging.Level),
		ShowCaller: cfg.Logging.ShowCaller,
	})

	L_info("gridcap %s starting", version)

	app, err := newApp(cfg)
	if err != nil {
		L_fatal("startup failed: %v", err)
	}

	if err := app.Start(); err != nil {
		L_fatal("failed to start: %v", err)
	}

	L_info("gridcap ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	L_info("received %s, shutting down", s)

	app.Stop()
	L_info("gridcap stopped")
}

func parseLevel(level string) int {
	switch level {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
