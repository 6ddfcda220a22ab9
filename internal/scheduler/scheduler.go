package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leozw/hotspot-guardian/internal/access"
	"github.com/leozw/hotspot-guardian/internal/core"
	"github.com/leozw/hotspot-guardian/internal/metrics"
)

const (
	PassReconcile = "reconcile"
	PassRetention = "retention"
)

var ErrPassInProgress = errors.New("pass already in progress")

type SessionStore interface {
	ListActiveSessions(ctx context.Context) ([]core.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status core.SessionStatus, reason string, usedMB *float64) error
	UpdateSessionUsage(ctx context.Context, id string, usedMB float64) error
	DeleteSessionsCreatedBefore(ctx context.Context, before time.Time) (int64, error)
	CancelPendingSessionsBefore(ctx context.Context, before time.Time) (int64, error)
}

type Revoker interface {
	RevokeAccess(ctx context.Context, tenantID, address, sessionID string) access.RevokeResult
}

type UsageReader interface {
	GetUsage(ctx context.Context, tenantID, key string) core.UsageRecord
}

type Config struct {
	ReconcileInterval time.Duration
	RetentionInterval time.Duration
	Retention         time.Duration
	PendingTimeout    time.Duration
	SessionTimeout    time.Duration
	Workers           int
}

func (c *Config) setDefaults() {
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Minute
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 15 * time.Minute
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
}

// PassStats summarises one reconciliation pass.
type PassStats struct {
	Checked  int
	Expired  int
	Exceeded int
	Updated  int
	Failed   int
}

type RetentionStats struct {
	Deleted   int64
	Cancelled int64
}

// Reconciler brings router state in line with the session store. Expired and
// over-cap sessions are revoked; usage is recorded for the rest.
type Reconciler struct {
	store   SessionStore
	revoker Revoker
	usage   UsageReader
	cfg     Config
	clock   quartz.Clock
	metrics *metrics.Collector
	logger  *zap.Logger

	passMu      sync.Mutex
	retentionMu sync.Mutex
	wg          sync.WaitGroup
}

type Option func(*Reconciler)

func WithClock(clock quartz.Clock) Option {
	return func(r *Reconciler) { r.clock = clock }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(r *Reconciler) { r.metrics = c }
}

func NewReconciler(store SessionStore, revoker Revoker, usage UsageReader, cfg Config, logger *zap.Logger, opts ...Option) *Reconciler {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		store:   store,
		revoker: revoker,
		usage:   usage,
		cfg:     cfg,
		clock:   quartz.NewReal(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs both passes on their cadences until ctx is done, then waits for
// any pass still running. A tick that arrives while the previous pass of the
// same kind is running is skipped.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Starting scheduler",
		zap.Duration("reconcile_interval", r.cfg.ReconcileInterval),
		zap.Duration("retention_interval", r.cfg.RetentionInterval),
		zap.Int("worker_count", r.cfg.Workers),
	)

	reconcile := r.clock.NewTicker(r.cfg.ReconcileInterval, "scheduler", PassReconcile)
	defer reconcile.Stop()
	retention := r.clock.NewTicker(r.cfg.RetentionInterval, "scheduler", PassRetention)
	defer retention.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping scheduler")
			r.wg.Wait()
			return
		case <-reconcile.C:
			r.spawn(ctx, PassReconcile, func(ctx context.Context) error {
				_, err := r.RunPass(ctx)
				return err
			})
		case <-retention.C:
			r.spawn(ctx, PassRetention, func(ctx context.Context) error {
				_, err := r.RunRetention(ctx)
				return err
			})
		}
	}
}

func (r *Reconciler) spawn(ctx context.Context, pass string, run func(context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := run(ctx)
		switch {
		case errors.Is(err, ErrPassInProgress):
			r.logger.Warn("Skipping tick, previous pass still running", zap.String("pass", pass))
			r.metrics.RecordSkippedTick(pass)
		case err != nil:
			r.logger.Error("Pass failed", zap.String("pass", pass), zap.Error(err))
		}
	}()
}

// RunPass reconciles every active session once.
func (r *Reconciler) RunPass(ctx context.Context) (PassStats, error) {
	if !r.passMu.TryLock() {
		return PassStats{}, ErrPassInProgress
	}
	defer r.passMu.Unlock()

	start := r.clock.Now()
	sessions, err := r.store.ListActiveSessions(ctx)
	if err != nil {
		r.metrics.RecordPass(PassReconcile, r.clock.Since(start), 1)
		return PassStats{}, err
	}

	var expired, exceeded, updated, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, sess := range sessions {
		g.Go(func() error {
			switch r.reconcile(gctx, sess) {
			case outcomeExpired:
				expired.Add(1)
			case outcomeExceeded:
				exceeded.Add(1)
			case outcomeUpdated:
				updated.Add(1)
			case outcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := PassStats{
		Checked:  len(sessions),
		Expired:  int(expired.Load()),
		Exceeded: int(exceeded.Load()),
		Updated:  int(updated.Load()),
		Failed:   int(failed.Load()),
	}
	took := r.clock.Since(start)
	r.metrics.RecordPass(PassReconcile, took, stats.Failed)
	r.logger.Info("Reconciliation pass completed",
		zap.Int("checked", stats.Checked),
		zap.Int("expired", stats.Expired),
		zap.Int("data_exceeded", stats.Exceeded),
		zap.Int("updated", stats.Updated),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", took),
	)
	return stats, nil
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeExpired
	outcomeExceeded
	outcomeUpdated
	outcomeFailed
)

func (r *Reconciler) reconcile(ctx context.Context, sess core.Session) outcome {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SessionTimeout)
	defer cancel()

	logger := r.logger.With(
		zap.String("tenant_id", sess.TenantID),
		zap.String("session_id", sess.ID),
		zap.String("address", sess.CurrentIP),
	)

	if !sess.ExpiresAt.IsZero() && r.clock.Now().After(sess.ExpiresAt) {
		if !r.terminate(ctx, logger, sess, core.StatusExpired, "session expired", nil) {
			return outcomeFailed
		}
		return outcomeExpired
	}

	if !sess.HasCap() {
		return outcomeNone
	}

	u := r.usage.GetUsage(ctx, sess.TenantID, sess.ID)
	if u.Source == core.UsageSourceNone {
		logger.Debug("No usage reading, skipping cap check")
		return outcomeNone
	}

	used := u.TotalMB
	if used >= float64(*sess.DataCapMB) {
		logger.Info("Data cap reached", zap.Float64("used_mb", used), zap.Int64("cap_mb", *sess.DataCapMB))
		if !r.terminate(ctx, logger, sess, core.StatusDataExceeded, "data cap exceeded", &used) {
			return outcomeFailed
		}
		return outcomeExceeded
	}

	if err := r.store.UpdateSessionUsage(ctx, sess.ID, used); err != nil {
		logger.Error("Failed to update session usage", zap.Error(err))
		return outcomeFailed
	}
	return outcomeUpdated
}

// terminate revokes access and then records the new status. A failed revoke
// leaves the session active for the next pass.
func (r *Reconciler) terminate(ctx context.Context, logger *zap.Logger, sess core.Session, status core.SessionStatus, reason string, usedMB *float64) bool {
	res := r.revoker.RevokeAccess(ctx, sess.TenantID, sess.CurrentIP, sess.ID)
	if !res.Success {
		logger.Error("Failed to revoke access", zap.String("status", string(status)), zap.String("message", res.Message))
		return false
	}

	if err := r.store.UpdateSessionStatus(ctx, sess.ID, status, reason, usedMB); err != nil {
		logger.Error("Failed to update session status", zap.String("status", string(status)), zap.Error(err))
		return false
	}

	var used float64
	if usedMB != nil {
		used = *usedMB
	}
	r.metrics.RecordSessionTransition(sess.TenantID, string(status), used)
	logger.Info("Session terminated", zap.String("status", string(status)), zap.Bool("revoked", res.Revoked))
	return true
}

// RunRetention deletes sessions older than the retention window and cancels
// sessions left pending past the payment timeout.
func (r *Reconciler) RunRetention(ctx context.Context) (RetentionStats, error) {
	if !r.retentionMu.TryLock() {
		return RetentionStats{}, ErrPassInProgress
	}
	defer r.retentionMu.Unlock()

	start := r.clock.Now()
	var (
		stats  RetentionStats
		result *multierror.Error
		err    error
	)

	stats.Cancelled, err = r.store.CancelPendingSessionsBefore(ctx, start.Add(-r.cfg.PendingTimeout))
	if err != nil {
		result = multierror.Append(result, err)
	}

	stats.Deleted, err = r.store.DeleteSessionsCreatedBefore(ctx, start.Add(-r.cfg.Retention))
	if err != nil {
		result = multierror.Append(result, err)
	}

	failures := 0
	if result != nil {
		failures = len(result.Errors)
	}
	r.metrics.RecordPass(PassRetention, r.clock.Since(start), failures)
	r.logger.Info("Retention pass completed",
		zap.Int64("deleted", stats.Deleted),
		zap.Int64("cancelled", stats.Cancelled),
	)
	return stats, result.ErrorOrNil()
}
