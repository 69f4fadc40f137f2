// Screen translation server - runs the capture/recognize/translate engine
// and serves its REST and WebSocket observers
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mucsbr/Screen-Translate/internal/config"
	"github.com/mucsbr/Screen-Translate/internal/engine"
	"github.com/mucsbr/Screen-Translate/internal/server"
)

func main() {
	rt := config.LoadRuntime()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: rt.LogLevel}))
	slog.SetDefault(logger)

	manager, err := config.NewManager("")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	eng := engine.New()
	srv := server.New(eng, manager, rt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick up edits to the config file while running. A reload only
	// changes what the next engine start sees.
	snapshots, err := manager.Watch(ctx)
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for cfg := range snapshots {
				slog.Info("configuration reloaded",
					"interval_ms", cfg.Translation.IntervalMS,
					"source_language", cfg.Translation.SourceLanguage)
			}
		}()
	}

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         rt.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("screen translation server starting", "http", rt.HTTPAddr, "config", manager.Path())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	srv.Shutdown()
	eng.Stop()
	slog.Info("shutdown complete")
}
