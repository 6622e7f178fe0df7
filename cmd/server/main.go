package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaki95/ipa-library/config"
	"github.com/jaki95/ipa-library/internal/activity"
	"github.com/jaki95/ipa-library/internal/app"
	"github.com/jaki95/ipa-library/internal/server"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "Path to the config file")
	port := flag.String("port", "", "Server port (overrides config)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	// Setup logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.Level(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if cfg.LogLevel > int(slog.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialise application", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	opts := server.Options{
		Activities: a.Activities,
		Downloads:  a.Downloads,
		Library:    a.Library,
		Storage:    a.Storage,
		Installer:  a.Installing,
		Tasks:      make(map[activity.Category]server.Canceler),
		ScratchDir: a.ScratchDir,
	}
	for _, c := range []activity.Category{activity.CategorySign, activity.CategoryModify, activity.CategoryInstall} {
		if r, ok := a.Runner(c); ok {
			opts.Tasks[c] = r
		}
	}
	if a.Signing != nil {
		opts.Signer = a.Signing
	}
	srv := server.New(opts)
	srv.StartCleanupWorker(ctx.Done())

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Handler(),
		// Open event streams end when the signal arrives
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting IPA library API server", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		slog.Error("Server failed", "error", err)
		a.Close()
		os.Exit(1)
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	slog.Info("Server stopped")
}
