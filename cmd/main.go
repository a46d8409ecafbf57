package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bedtime-stories/server/internal/app"
	"bedtime-stories/server/internal/config"
	"bedtime-stories/server/internal/logging"
	"bedtime-stories/server/internal/web"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize story core", zap.Error(err))
	}
	defer core.Close()

	hub := web.NewHub(logger.Named("hub"))
	go hub.Run(ctx)

	var opts []web.Option
	if core.Narrator != nil {
		opts = append(opts, web.WithNarrator(core.Narrator))
	}
	if core.Illustrator != nil {
		opts = append(opts, web.WithIllustrator(core.Illustrator))
	}
	if core.Redis != nil {
		opts = append(opts, web.WithSessionIndex(core.Redis))
	}
	if core.MySQL != nil {
		opts = append(opts, web.WithArchive(core.MySQL))
	}
	handlers := web.NewHandlers(core.Manager, hub, logger.Named("http"), opts...)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      web.NewRouter(handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
}
