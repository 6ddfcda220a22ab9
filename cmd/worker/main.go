package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
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

	workers := cfg.Scheduler.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	wcfg := scheduler.WorkerConfig{
		MaxRetries:   cfg.Scheduler.MaxRetries,
		RetryBackoff: cfg.Scheduler.RetryBackoff,
		GrantTimeout: cfg.Scheduler.SessionTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go a.Metrics.StartRemoteWrite(ctx)

	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		w := scheduler.NewGrantWorker(i, a.Queue, a.DB, a.Access, wcfg, a.Metrics, logger.Named("worker"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	}

	logger.Info("Worker started", zap.Int("workers", workers))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("Failed to release resources", zap.Error(err))
	}

	logger.Info("Worker exited")
}
