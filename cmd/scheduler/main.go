package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/app"
	"github.com/leozw/hotspot-guardian/internal/config"
	"github.com/leozw/hotspot-guardian/internal/logging"
	"github.com/leozw/hotspot-guardian/internal/scheduler"
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

	reconciler := scheduler.NewReconciler(a.DB, a.Access, a.Usage, scheduler.Config{
		ReconcileInterval: cfg.Scheduler.ReconcileInterval,
		RetentionInterval: cfg.Scheduler.RetentionInterval,
		Retention:         cfg.Scheduler.Retention,
		PendingTimeout:    cfg.Scheduler.PendingTimeout,
		SessionTimeout:    cfg.Scheduler.SessionTimeout,
		Workers:           cfg.Scheduler.WorkerCount,
	}, logger.Named("scheduler"), scheduler.WithMetrics(a.Metrics))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reconciler.Start(ctx)
	}()
	go a.Metrics.StartRemoteWrite(ctx)

	logger.Info("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scheduler...")
	cancel()
	<-done

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("Failed to release resources", zap.Error(err))
	}

	logger.Info("Scheduler stopped")
}
