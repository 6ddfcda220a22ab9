package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/api"
	"github.com/leozw/hotspot-guardian/internal/api/handlers"
	"github.com/leozw/hotspot-guardian/internal/app"
	"github.com/leozw/hotspot-guardian/internal/config"
	"github.com/leozw/hotspot-guardian/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log, cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	a, err := app.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialise", zap.Error(err))
	}

	h := handlers.NewHandler(handlers.Deps{
		Access:   a.Access,
		Usage:    a.Usage,
		Identity: a.Identity,
		Store:    a.DB,
		Queue:    a.Queue,
		Vault:    a.Vault,
		Cache:    a.Cache,
		Checks: map[string]handlers.Pinger{
			"database": handlers.PingFunc(a.DB.PingContext),
			"redis":    a.Cache,
		},
	}, logger.Named("api"))

	server := api.NewServer(cfg, h, a.Registry, logger.Named("http"))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Metrics.StartRemoteWrite(ctx)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("Failed to release resources", zap.Error(err))
	}

	logger.Info("Server exited")
}
