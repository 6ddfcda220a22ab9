// Package access creates and removes the router objects that let a client
// through the hotspot: an address binding plus optional data-cap and speed
// meters.
//
// Every mutation is idempotent. Creating an object that already exists
// counts as success and removing one that is gone is a no-op, so repeated
// or interleaved grants and revokes for the same address converge without a
// per-address lock.
package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/core"
	"github.com/leozw/hotspot-guardian/internal/device"
	"github.com/leozw/hotspot-guardian/internal/identity"
	"github.com/leozw/hotspot-guardian/internal/metrics"
	"github.com/leozw/hotspot-guardian/internal/pool"
)

const (
	BindingType     = "bypassed"
	DefaultMaxLimit = "10M/10M"

	// DisconnectReason is recorded on sessions ended by an operator.
	DisconnectReason = "manual"
)

type Acquirer interface {
	Acquire(ctx context.Context, tenantID string) (device.Conn, error)
}

type HardwareResolver interface {
	ResolveHardwareID(ctx context.Context, tenantID, address string) string
}

// SessionRecorder persists the outcome of a successful grant.
type SessionRecorder interface {
	ActivateSession(ctx context.Context, id string, a core.Activation) error
}

type GrantRequest struct {
	TenantID      string `json:"tenant_id"`
	HardwareID    string `json:"hardware_id"`
	Address       string `json:"address"`
	SessionID     string `json:"session_id"`
	DurationHours int    `json:"duration_hours"`
	DataCapMB     *int64 `json:"data_cap_mb,omitempty"`
	SpeedLimit    string `json:"speed_limit,omitempty"`
}

type Result struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Objects *core.RemoteObjects `json:"objects,omitempty"`
}

type RevokeResult struct {
	Success bool   `json:"success"`
	Revoked bool   `json:"revoked"`
	Message string `json:"message"`
}

type Config struct {
	DefaultMaxLimit string
}

type Manager struct {
	pool     Acquirer
	resolver HardwareResolver
	sessions SessionRecorder
	cfg      Config
	clock    quartz.Clock
	metrics  *metrics.Collector
	logger   *zap.Logger
}

type Option func(*Manager)

func WithSessionRecorder(s SessionRecorder) Option {
	return func(m *Manager) { m.sessions = s }
}

func WithClock(clock quartz.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

func NewManager(p Acquirer, resolver HardwareResolver, cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if cfg.DefaultMaxLimit == "" {
		cfg.DefaultMaxLimit = DefaultMaxLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		pool:     p,
		resolver: resolver,
		cfg:      cfg,
		clock:    quartz.NewReal(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (r GrantRequest) validate() error {
	switch {
	case r.TenantID == "":
		return errors.New("tenant id is required")
	case r.SessionID == "":
		return errors.New("session id is required")
	case !identity.ValidAddress(r.Address):
		return fmt.Errorf("invalid client address %q", r.Address)
	case r.DurationHours < 0:
		return errors.New("duration must not be negative")
	case r.DataCapMB != nil && *r.DataCapMB < 0:
		return errors.New("data cap must not be negative")
	}
	return nil
}

// GrantAccess binds the client's address on the router and sets up its
// meters. Success depends only on the binding; meter failures are logged.
func (m *Manager) GrantAccess(ctx context.Context, req GrantRequest) Result {
	logger := m.logger.With(
		zap.String("tenant_id", req.TenantID),
		zap.String("session_id", req.SessionID),
		zap.String("address", req.Address),
	)

	if err := req.validate(); err != nil {
		m.metrics.RecordGrant(req.TenantID, false)
		return Result{Success: false, Message: "invalid request: " + err.Error()}
	}

	conn, err := m.pool.Acquire(ctx, req.TenantID)
	if err != nil {
		logger.Error("Failed to grant access", zap.Error(err))
		m.metrics.RecordGrant(req.TenantID, false)
		return Result{Success: false, Message: connectionMessage(err)}
	}

	mac := req.HardwareID
	if !identity.IsValidMAC(mac) {
		mac = identity.Unknown
		if m.resolver != nil {
			mac = m.resolver.ResolveHardwareID(ctx, req.TenantID, req.Address)
		}
	} else {
		mac = identity.Normalize(mac)
	}

	if n, err := device.RemoveWhere(ctx, conn, device.PathIPBinding, map[string]string{"address": req.Address}); err != nil {
		logger.Warn("Could not remove existing binding", zap.Error(err))
	} else if n > 0 {
		logger.Debug("Removed existing binding", zap.Int("count", n))
	}

	binding := map[string]string{
		"address": req.Address,
		"type":    BindingType,
		"comment": core.BindingComment(req.SessionID, req.DurationHours, req.DataCapMB),
	}
	if identity.IsValidMAC(mac) {
		binding["mac-address"] = mac
	}
	if _, err := device.Add(ctx, conn, device.PathIPBinding, binding); err != nil {
		if !device.IsAlreadyExists(err) {
			logger.Error("Failed to create binding", zap.Error(err))
			m.metrics.RecordGrant(req.TenantID, false)
			return Result{Success: false, Message: "failed to create access binding"}
		}
		logger.Debug("Binding already present")
	}
	logger.Info("Created binding", zap.String("mac_address", mac))

	objects := core.RemoteObjects{BindingAddress: req.Address}

	if req.DataCapMB != nil && *req.DataCapMB > 0 {
		name := core.DataCapMeterName(req.SessionID)
		if err := m.replaceMeter(ctx, conn, map[string]string{
			"name":      name,
			"target":    core.HostTarget(req.Address),
			"max-limit": m.cfg.DefaultMaxLimit,
			"comment":   core.DataCapComment(req.SessionID, *req.DataCapMB),
		}, core.LegacyDataCapMeterName(req.Address)); err != nil {
			logger.Warn("Failed to create data cap meter", zap.Error(err))
		} else {
			objects.DataCapMeter = name
		}
	}

	if req.SpeedLimit != "" {
		name := core.SpeedMeterName(req.SessionID)
		if err := m.replaceMeter(ctx, conn, map[string]string{
			"name":      name,
			"target":    core.HostTarget(req.Address),
			"max-limit": req.SpeedLimit,
			"comment":   "speed-session-" + req.SessionID,
		}); err != nil {
			logger.Warn("Failed to create speed meter", zap.Error(err))
		} else {
			objects.SpeedMeter = name
		}
	}

	m.metrics.RecordGrant(req.TenantID, true)

	if m.sessions != nil {
		activation := core.Activation{
			Address:       req.Address,
			ExpiresAt:     m.clock.Now().Add(time.Duration(req.DurationHours) * time.Hour),
			RemoteObjects: objects,
		}
		if identity.IsValidMAC(mac) {
			activation.MACAddress = mac
		}
		if err := m.sessions.ActivateSession(ctx, req.SessionID, activation); err != nil {
			logger.Error("Failed to record session activation", zap.Error(err))
		}
	}

	return Result{Success: true, Message: "access granted", Objects: &objects}
}

// replaceMeter removes any queue with the new meter's name (and any extra
// names given) before adding it.
func (m *Manager) replaceMeter(ctx context.Context, conn device.Conn, args map[string]string, extra ...string) error {
	for _, name := range append([]string{args["name"]}, extra...) {
		if _, err := device.RemoveWhere(ctx, conn, device.PathSimpleQueue, map[string]string{"name": name}); err != nil {
			m.logger.Debug("Could not remove stale meter", zap.String("meter", name), zap.Error(err))
		}
	}
	if _, err := device.Add(ctx, conn, device.PathSimpleQueue, args); err != nil && !device.IsAlreadyExists(err) {
		return err
	}
	return nil
}

// RevokeAccess removes the binding, the active hotspot host and the meters
// for a client. Each removal runs even if an earlier one failed.
//
// With a session id, only bindings written for that session (or carrying no
// session label at all) are removed, and a host whose address is now bound
// to another session is left connected. A revoke for a superseded session is
// therefore harmless to the session that replaced it. Without a session id
// every binding and meter for the address goes.
func (m *Manager) RevokeAccess(ctx context.Context, tenantID, address, sessionID string) RevokeResult {
	logger := m.logger.With(
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
		zap.String("address", address),
	)

	if address == "" && sessionID == "" {
		return RevokeResult{Success: false, Message: "address or session id is required"}
	}

	conn, err := m.pool.Acquire(ctx, tenantID)
	if err != nil {
		logger.Error("Failed to revoke access", zap.Error(err))
		m.metrics.RecordRevoke(tenantID, "failure")
		return RevokeResult{Success: false, Message: connectionMessage(err)}
	}

	var (
		removed int
		result  *multierror.Error
	)
	record := func(menu string, n int, err error) {
		removed += n
		if err != nil {
			logger.Warn("Revoke step failed", zap.String("menu", menu), zap.Error(err))
			result = multierror.Append(result, err)
		}
	}

	n, freed, taken, err := m.revokeBindings(ctx, conn, address, sessionID)
	record(device.PathIPBinding, n, err)

	for _, addr := range freed {
		if taken[addr] {
			logger.Info("Address rebound to another session, keeping host", zap.String("host", addr))
			continue
		}
		n, err := device.RemoveWhere(ctx, conn, device.PathHotspotHost, map[string]string{"address": addr})
		record(device.PathHotspotHost, n, err)
	}

	if sessionID != "" {
		for _, name := range []string{core.DataCapMeterName(sessionID), core.SpeedMeterName(sessionID)} {
			n, err := device.RemoveWhere(ctx, conn, device.PathSimpleQueue, map[string]string{"name": name})
			record(device.PathSimpleQueue, n, err)
		}
	}
	if address != "" && !taken[address] {
		legacy := core.LegacyDataCapMeterName(address)
		target := core.HostTarget(address)
		n, err := device.RemoveMatching(ctx, conn, device.PathSimpleQueue, nil, func(rec device.Record) bool {
			if rec["name"] == legacy {
				return true
			}
			return sessionID == "" && core.IsMeterName(rec["name"]) && targetsHost(rec["target"], target)
		})
		record(device.PathSimpleQueue, n, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		m.metrics.RecordRevoke(tenantID, "failure")
		return RevokeResult{
			Success: false,
			Revoked: removed > 0,
			Message: fmt.Sprintf("revoke incomplete: %d step(s) failed", len(result.Errors)),
		}
	}

	if removed == 0 {
		m.metrics.RecordRevoke(tenantID, "noop")
		logger.Debug("Nothing to revoke")
		return RevokeResult{Success: true, Revoked: false, Message: "nothing to revoke"}
	}

	m.metrics.RecordRevoke(tenantID, "revoked")
	logger.Info("Access revoked", zap.Int("objects_removed", removed))
	return RevokeResult{Success: true, Revoked: true, Message: "access revoked"}
}

// revokeBindings removes the bindings a revoke owns. It returns the
// addresses whose hosts should be disconnected and the addresses still bound
// to a different session.
func (m *Manager) revokeBindings(ctx context.Context, conn device.Conn, address, sessionID string) (int, []string, map[string]bool, error) {
	var query map[string]string
	if address != "" {
		query = map[string]string{"address": address}
	}
	recs, err := device.Print(ctx, conn, device.PathIPBinding, query)
	if err != nil && !device.IsNotFound(err) {
		err = fmt.Errorf("list %s: %w", device.PathIPBinding, err)
		if address == "" || sessionID != "" {
			// Ownership of the address is unknown.
			return 0, nil, map[string]bool{address: true}, err
		}
		return 0, []string{address}, nil, err
	}

	var (
		removed int
		result  *multierror.Error
		taken   = make(map[string]bool)
		freed   = make(map[string]bool)
	)
	if address != "" {
		freed[address] = true
	}
	for _, rec := range recs {
		owner, labelled := core.BindingOwner(rec["comment"])
		mine := sessionID == "" || owner == sessionID || (!labelled && address != "")
		if !mine {
			taken[rec["address"]] = true
			continue
		}
		if err := device.Remove(ctx, conn, device.PathIPBinding, rec.ID()); err != nil && !device.IsNotFound(err) {
			result = multierror.Append(result, fmt.Errorf("remove %s %s: %w", device.PathIPBinding, rec.ID(), err))
			continue
		}
		removed++
		if rec["address"] != "" {
			freed[rec["address"]] = true
		}
	}

	addrs := make([]string, 0, len(freed))
	for addr := range freed {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return removed, addrs, taken, result.ErrorOrNil()
}

func targetsHost(list, target string) bool {
	for _, t := range strings.Split(list, ",") {
		if strings.TrimSpace(t) == target {
			return true
		}
	}
	return false
}

// TestConnection reports whether the tenant's router is reachable and
// returns a summary of its state.
func (m *Manager) TestConnection(ctx context.Context, tenantID string) core.ConnectionResult {
	conn, err := m.pool.Acquire(ctx, tenantID)
	if err != nil {
		return core.ConnectionResult{Success: false, Message: connectionMessage(err)}
	}

	info := &core.RouterInfo{}

	ident, err := device.Print(ctx, conn, device.PathIdentity, nil)
	if err != nil {
		return core.ConnectionResult{Success: false, Message: "failed to read router identity"}
	}
	if len(ident) > 0 {
		info.Identity = ident[0]["name"]
	}

	res, err := device.Print(ctx, conn, device.PathResource, nil)
	if err != nil {
		return core.ConnectionResult{Success: false, Message: "failed to read router resources"}
	}
	if len(res) > 0 {
		r := res[0]
		info.Version = r["version"]
		info.BoardName = r["board-name"]
		info.Uptime = r["uptime"]
		info.CPULoad, _ = strconv.ParseFloat(r["cpu-load"], 64)
		total, _ := strconv.ParseInt(r["total-memory"], 10, 64)
		free, _ := strconv.ParseInt(r["free-memory"], 10, 64)
		info.MemoryTotal = total
		if total >= free {
			info.MemoryUsed = total - free
		}
	}

	if hosts, err := device.Print(ctx, conn, device.PathHotspotHost, nil); err == nil {
		info.ActiveUsers = len(hosts)
	} else {
		m.logger.Debug("Failed to count active hosts", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if bindings, err := device.Print(ctx, conn, device.PathIPBinding, nil); err == nil {
		info.TotalBindings = len(bindings)
	} else {
		m.logger.Debug("Failed to count bindings", zap.String("tenant_id", tenantID), zap.Error(err))
	}

	return core.ConnectionResult{
		Success: true,
		Message: fmt.Sprintf("connected to %s", strings.TrimSpace(info.Identity)),
		Info:    info,
	}
}

// connectionMessage renders a pool error without transport details.
func connectionMessage(err error) string {
	var ce *pool.ConnectionError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case pool.KindTenantNotFound:
			return "tenant not found"
		case pool.KindTenantInactive:
			return "tenant is inactive"
		case pool.KindAuthFailed:
			return "router rejected credentials"
		case pool.KindTimeout:
			return "router connection timed out"
		}
	}
	return "router unavailable"
}
