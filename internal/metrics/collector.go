package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/config"
)

// Collector owns every service metric. All methods are safe on a nil
// *Collector so components can run without metrics in tests.
type Collector struct {
	config   *config.MimirConfig
	gatherer prometheus.Gatherer
	mimir    *MimirClient
	logger   *zap.Logger

	// Router connections
	connectAttempts *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec
	poolSize        prometheus.Gauge

	// Access mutations
	grantsTotal  *prometheus.CounterVec
	revokesTotal *prometheus.CounterVec

	// Sessions
	sessionTransitions *prometheus.CounterVec
	sessionUsageMB     *prometheus.HistogramVec

	// Background passes
	passDuration *prometheus.HistogramVec
	passFailures *prometheus.CounterVec
	passSkipped  *prometheus.CounterVec
	grantJobs    *prometheus.CounterVec
}

// NewCollector registers metrics on reg. Remote write reads back through
// gatherer.
func NewCollector(cfg config.MimirConfig, reg prometheus.Registerer, gatherer prometheus.Gatherer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		config:   &cfg,
		gatherer: gatherer,
		logger:   logger,

		connectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspot_router_connect_total",
				Help: "Router connection attempts by outcome",
			},
			[]string{"tenant_id", "outcome"},
		),

		connectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotspot_router_connect_duration_seconds",
				Help:    "Time to dial, log in and verify a router",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tenant_id"},
		),

		poolSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hotspot_router_pool_connections",
				Help: "Router connections currently held by the pool",
			},
		),

		grantsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspot_access_grants_total",
				Help: "Access grants by outcome",
			},
			[]string{"tenant_id", "outcome"},
		),

		revokesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspot_access_revokes_total",
				Help: "Access revocations by outcome",
			},
			[]string{"tenant_id", "outcome"},
		),

		sessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspot_session_transitions_total",
				Help: "Session status changes made by the service",
			},
			[]string{"tenant_id", "status"},
		),

		sessionUsageMB: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotspot_session_usage_megabytes",
				Help:    "Data used by sessions when they end",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"tenant_id"},
		),

		passDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotspot_scheduler_pass_duration_seconds",
				Help:    "Duration of background passes",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"pass"},
		),

		passFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspot_scheduler_failures_total",
				Help: "Items that failed during background passes",
			},
			[]string{"pass"},
		),

		passSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspot_scheduler_skipped_ticks_total",
				Help: "Ticks skipped because the previous pass was still running",
			},
			[]string{"pass"},
		),

		grantJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspot_grant_jobs_total",
				Help: "Queued grant jobs processed by outcome",
			},
			[]string{"outcome"},
		),
	}

	if cfg.URL != "" {
		c.mimir = NewMimirClient(cfg.URL, cfg.TenantHeader, cfg.AuthToken)
	}
	return c
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (c *Collector) RecordConnect(tenantID string, ok bool, took time.Duration) {
	if c == nil {
		return
	}
	c.connectAttempts.WithLabelValues(tenantID, outcome(ok)).Inc()
	if ok {
		c.connectDuration.WithLabelValues(tenantID).Observe(took.Seconds())
	}
}

func (c *Collector) SetPoolSize(n int) {
	if c == nil {
		return
	}
	c.poolSize.Set(float64(n))
}

func (c *Collector) RecordGrant(tenantID string, ok bool) {
	if c == nil {
		return
	}
	c.grantsTotal.WithLabelValues(tenantID, outcome(ok)).Inc()
}

// RecordRevoke counts a revocation; outcome is "revoked", "noop" or
// "failure".
func (c *Collector) RecordRevoke(tenantID, result string) {
	if c == nil {
		return
	}
	c.revokesTotal.WithLabelValues(tenantID, result).Inc()
}

func (c *Collector) RecordSessionTransition(tenantID, status string, usedMB float64) {
	if c == nil {
		return
	}
	c.sessionTransitions.WithLabelValues(tenantID, status).Inc()
	c.sessionUsageMB.WithLabelValues(tenantID).Observe(usedMB)
}

func (c *Collector) RecordPass(pass string, took time.Duration, failures int) {
	if c == nil {
		return
	}
	c.passDuration.WithLabelValues(pass).Observe(took.Seconds())
	if failures > 0 {
		c.passFailures.WithLabelValues(pass).Add(float64(failures))
	}
}

func (c *Collector) RecordSkippedTick(pass string) {
	if c == nil {
		return
	}
	c.passSkipped.WithLabelValues(pass).Inc()
}

// RecordGrantJob counts a processed queue job: "granted", "requeued",
// "dropped" or "failed".
func (c *Collector) RecordGrantJob(result string) {
	if c == nil {
		return
	}
	c.grantJobs.WithLabelValues(result).Inc()
}
