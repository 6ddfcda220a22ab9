package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/access"
	"github.com/leozw/hotspot-guardian/internal/core"
	"github.com/leozw/hotspot-guardian/internal/metrics"
	"github.com/leozw/hotspot-guardian/internal/queue"
)

const (
	JobGranted  = "granted"
	JobRequeued = "requeued"
	JobDropped  = "dropped"
	JobFailed   = "failed"
)

type JobQueue interface {
	Push(ctx context.Context, job *queue.Job, delay time.Duration) error
	Pop(ctx context.Context, timeout time.Duration) (*queue.Job, error)
}

type SessionGetter interface {
	GetSession(ctx context.Context, id string) (*core.Session, error)
}

type Granter interface {
	GrantAccess(ctx context.Context, req access.GrantRequest) access.Result
}

type WorkerConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
	PopTimeout   time.Duration
	GrantTimeout time.Duration
}

// GrantWorker turns queued payment confirmations into router grants.
type GrantWorker struct {
	id       int
	queue    JobQueue
	sessions SessionGetter
	granter  Granter
	cfg      WorkerConfig
	clock    quartz.Clock
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func NewGrantWorker(id int, q JobQueue, sessions SessionGetter, granter Granter, cfg WorkerConfig, m *metrics.Collector, logger *zap.Logger) *GrantWorker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.GrantTimeout <= 0 {
		cfg.GrantTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrantWorker{
		id:       id,
		queue:    q,
		sessions: sessions,
		granter:  granter,
		cfg:      cfg,
		clock:    quartz.NewReal(),
		metrics:  m,
		logger:   logger.With(zap.Int("worker_id", id)),
	}
}

func (w *GrantWorker) Start(ctx context.Context) {
	w.logger.Info("Worker started")

	for {
		job, err := w.queue.Pop(ctx, w.cfg.PopTimeout)
		switch {
		case ctx.Err() != nil:
			w.logger.Info("Worker stopped")
			return
		case errors.Is(err, queue.ErrTimeout):
			continue
		case err != nil:
			w.logger.Error("Failed to pop job", zap.Error(err))
			t := w.clock.NewTimer(w.cfg.RetryBackoff, "worker", "pop")
			select {
			case <-ctx.Done():
				t.Stop()
				w.logger.Info("Worker stopped")
				return
			case <-t.C:
			}
			continue
		}

		result := w.Process(ctx, job)
		w.metrics.RecordGrantJob(result)
	}
}

// Process handles one job and returns what happened to it.
func (w *GrantWorker) Process(ctx context.Context, job *queue.Job) string {
	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID),
		zap.String("session_id", job.SessionID),
		zap.Int("attempt", job.Attempts+1),
	)

	sess, err := w.sessions.GetSession(ctx, job.SessionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			logger.Warn("Dropping job for unknown session")
			return JobDropped
		}
		logger.Error("Failed to load session", zap.Error(err))
		return w.requeue(ctx, logger, job)
	}
	if sess.Status != core.StatusPending {
		logger.Info("Dropping job for session that is not pending", zap.String("status", string(sess.Status)))
		return JobDropped
	}

	req := access.GrantRequest{
		TenantID:      sess.TenantID,
		HardwareID:    sess.MACAddress,
		Address:       sess.CurrentIP,
		SessionID:     sess.ID,
		DurationHours: sess.DurationHours,
		DataCapMB:     sess.DataCapMB,
	}
	if sess.SpeedLimit != nil {
		req.SpeedLimit = *sess.SpeedLimit
	}

	grantCtx, cancel := context.WithTimeout(ctx, w.cfg.GrantTimeout)
	res := w.granter.GrantAccess(grantCtx, req)
	cancel()

	if res.Success {
		logger.Info("Access granted")
		return JobGranted
	}

	logger.Warn("Grant failed", zap.String("message", res.Message))
	return w.requeue(ctx, logger, job)
}

func (w *GrantWorker) requeue(ctx context.Context, logger *zap.Logger, job *queue.Job) string {
	job.Attempts++
	if job.Attempts >= w.cfg.MaxRetries {
		logger.Error("Giving up on grant", zap.Int("attempts", job.Attempts))
		return JobFailed
	}

	delay := w.retryDelay(job.Attempts)
	if err := w.queue.Push(ctx, job, delay); err != nil {
		logger.Error("Failed to requeue job", zap.Error(err))
		return JobFailed
	}
	logger.Info("Requeued job", zap.Duration("delay", delay))
	return JobRequeued
}

// retryDelay doubles the configured backoff per attempt.
func (w *GrantWorker) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 10 * w.cfg.RetryBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
