// Package pool keeps one live control connection per tenant router.
//
// A tenant has at most one connection being established and at most one
// usable connection at any time. Callers that arrive while a connection is
// being established wait for that attempt instead of dialing again.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/core"
	"github.com/leozw/hotspot-guardian/internal/device"
	"github.com/leozw/hotspot-guardian/internal/metrics"
)

const (
	DefaultMaxAge         = 5 * time.Minute
	DefaultWaitTimeout    = 10 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*core.Tenant, error)
	UpdateTenantLastSeen(ctx context.Context, id string, at time.Time) error
}

type Decrypter interface {
	Decrypt(stored string) string
}

type Config struct {
	MaxAge         time.Duration
	WaitTimeout    time.Duration
	ConnectTimeout time.Duration
}

type Pool struct {
	store   TenantStore
	vault   Decrypter
	dialer  device.Dialer
	cfg     Config
	clock   quartz.Clock
	metrics *metrics.Collector
	logger  *zap.Logger

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool
}

// slot is a tenant's entry. ready is closed once the establishing attempt
// finishes; conn and err are immutable after that.
type slot struct {
	ready    chan struct{}
	conn     device.Conn
	err      error
	lastUsed time.Time
}

func (s *slot) established() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

type Option func(*Pool)

func WithClock(clock quartz.Clock) Option {
	return func(p *Pool) { p.clock = clock }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(p *Pool) { p.metrics = m }
}

func New(store TenantStore, vault Decrypter, dialer device.Dialer, cfg Config, logger *zap.Logger, opts ...Option) *Pool {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		store:  store,
		vault:  vault,
		dialer: dialer,
		cfg:    cfg,
		clock:  quartz.NewReal(),
		logger: logger,
		slots:  make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns the tenant's connection, establishing a new one when there
// is none, it has been idle longer than the max age, or it reports itself
// broken.
func (p *Pool) Acquire(ctx context.Context, tenantID string) (device.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	var stale device.Conn
	if s, ok := p.slots[tenantID]; ok {
		if !s.established() {
			p.mu.Unlock()
			return p.wait(ctx, tenantID, s)
		}

		now := p.clock.Now()
		if now.Sub(s.lastUsed) < p.cfg.MaxAge && !device.IsBroken(s.conn) {
			s.lastUsed = now
			p.mu.Unlock()
			return s.conn, nil
		}
		stale = s.conn
		delete(p.slots, tenantID)
	}

	s := &slot{ready: make(chan struct{})}
	p.slots[tenantID] = s
	p.mu.Unlock()

	if stale != nil {
		p.logger.Debug("Replacing router connection", zap.String("tenant_id", tenantID))
		if err := stale.Close(); err != nil {
			p.logger.Debug("Closing stale connection failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}

	// The attempt is shared with waiters, so it is bounded by the connect
	// timeout rather than by this caller's context.
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ConnectTimeout)
	conn, err := p.establish(ectx, tenantID)
	cancel()

	p.mu.Lock()
	if err == nil && p.closed {
		conn.Close()
		conn, err = nil, ErrClosed
	}
	if err != nil {
		s.err = err
		if p.slots[tenantID] == s {
			delete(p.slots, tenantID)
		}
	} else {
		s.conn = conn
		s.lastUsed = p.clock.Now()
	}
	close(s.ready)
	size := len(p.slots)
	p.mu.Unlock()

	p.metrics.SetPoolSize(size)
	return conn, err
}

func (p *Pool) wait(ctx context.Context, tenantID string, s *slot) (device.Conn, error) {
	timer := p.clock.NewTimer(p.cfg.WaitTimeout, "pool", "wait")
	defer timer.Stop()

	select {
	case <-s.ready:
	case <-timer.C:
		return nil, &ConnectionError{Kind: KindTimeout, TenantID: tenantID, Err: errors.New("waiting for connection attempt")}
	case <-ctx.Done():
		return nil, &ConnectionError{Kind: KindTimeout, TenantID: tenantID, Err: ctx.Err()}
	}

	if s.err != nil {
		return nil, s.err
	}
	p.mu.Lock()
	s.lastUsed = p.clock.Now()
	p.mu.Unlock()
	return s.conn, nil
}

func (p *Pool) establish(ctx context.Context, tenantID string) (device.Conn, error) {
	logger := p.logger.With(zap.String("tenant_id", tenantID))
	start := p.clock.Now()

	tenant, err := p.store.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, &ConnectionError{Kind: KindTenantNotFound, TenantID: tenantID}
		}
		return nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	if !tenant.IsActive {
		return nil, &ConnectionError{Kind: KindTenantInactive, TenantID: tenantID}
	}

	ep := device.Endpoint{
		Host:      tenant.RouterHost,
		Port:      tenant.RouterPort,
		Username:  tenant.RouterUser,
		Password:  p.vault.Decrypt(tenant.RouterPassword),
		Transport: tenant.Transport,
		TLS:       tenant.UseTLS,
	}

	conn, err := p.dialer.Dial(ctx, ep)
	if err != nil {
		p.metrics.RecordConnect(tenantID, false, 0)
		logger.Warn("Router connection failed", zap.String("host", ep.Host), zap.Error(err))
		return nil, classify(tenantID, err)
	}

	if _, err := device.Print(ctx, conn, device.PathIdentity, nil); err != nil {
		conn.Close()
		p.metrics.RecordConnect(tenantID, false, 0)
		logger.Warn("Router identity check failed", zap.String("host", ep.Host), zap.Error(err))
		return nil, classify(tenantID, err)
	}

	now := p.clock.Now()
	p.metrics.RecordConnect(tenantID, true, now.Sub(start))
	if err := p.store.UpdateTenantLastSeen(ctx, tenantID, now); err != nil {
		logger.Warn("Failed to record router last seen", zap.Error(err))
	}

	logger.Info("Router connected", zap.String("host", ep.Host), zap.String("transport", ep.Transport))
	return conn, nil
}

func classify(tenantID string, err error) error {
	kind := KindDeviceUnreachable
	switch {
	case errors.Is(err, device.ErrAuthFailed):
		kind = KindAuthFailed
	case device.IsTransient(err):
		kind = KindTimeout
	}
	return &ConnectionError{Kind: kind, TenantID: tenantID, Err: err}
}

// Release closes and forgets the tenant's connection. A connection still
// being established is left alone.
func (p *Pool) Release(tenantID string) error {
	p.mu.Lock()
	s, ok := p.slots[tenantID]
	if !ok || !s.established() {
		p.mu.Unlock()
		return nil
	}
	delete(p.slots, tenantID)
	size := len(p.slots)
	p.mu.Unlock()

	p.metrics.SetPoolSize(size)
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close connection for tenant %s: %w", tenantID, err)
	}
	return nil
}

// CloseAll closes every established connection and refuses further
// acquisitions. Attempts still in flight close their connection when they
// finish. Every close is attempted; failures are returned together.
func (p *Pool) CloseAll(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	slots := p.slots
	p.slots = make(map[string]*slot)
	p.mu.Unlock()

	var result *multierror.Error
	for tenantID, s := range slots {
		if !s.established() || s.conn == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		if err := s.conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close connection for tenant %s: %w", tenantID, err))
		}
	}

	p.metrics.SetPoolSize(0)
	p.logger.Info("Router connections closed", zap.Int("count", len(slots)))
	return result.ErrorOrNil()
}

// Size returns the number of tenants with an established or pending
// connection.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
