// Package usage reads traffic counters from a tenant's router. It never
// changes router state.
package usage

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/core"
	"github.com/leozw/hotspot-guardian/internal/device"
	"github.com/leozw/hotspot-guardian/internal/identity"
)

type Acquirer interface {
	Acquire(ctx context.Context, tenantID string) (device.Conn, error)
}

// SessionGetter looks up the address of a session when usage is requested
// by session id and no meter exists.
type SessionGetter interface {
	GetSession(ctx context.Context, id string) (*core.Session, error)
}

type Reader struct {
	pool     Acquirer
	sessions SessionGetter
	logger   *zap.Logger
}

// NewReader builds a reader. sessions may be nil, in which case session keys
// without a meter read as zero.
func NewReader(pool Acquirer, sessions SessionGetter, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{pool: pool, sessions: sessions, logger: logger}
}

// GetUsage returns the traffic for key, which is either a session id or a
// client address. Meter counters win over active host counters. Errors yield
// a zero record with source "none".
func (r *Reader) GetUsage(ctx context.Context, tenantID, key string) core.UsageRecord {
	logger := r.logger.With(zap.String("tenant_id", tenantID), zap.String("key", key))
	none := core.NewUsageRecord(0, 0, core.UsageSourceNone)

	if key == "" {
		return none
	}

	conn, err := r.pool.Acquire(ctx, tenantID)
	if err != nil {
		logger.Warn("Failed to read usage", zap.Error(err))
		return none
	}

	var address string
	if identity.ValidAddress(key) {
		address = key
		meter, err := r.meterForAddress(ctx, conn, address)
		if err != nil {
			logger.Warn("Failed to read meter", zap.Error(err))
			return none
		}
		if meter != nil {
			return meterUsage(meter)
		}
	} else {
		meter, err := r.meterByName(ctx, conn, core.DataCapMeterName(key))
		if err != nil {
			logger.Warn("Failed to read meter", zap.Error(err))
			return none
		}
		if meter != nil {
			return meterUsage(meter)
		}
		if r.sessions == nil {
			return none
		}
		sess, err := r.sessions.GetSession(ctx, key)
		if err != nil {
			logger.Debug("Session lookup failed", zap.Error(err))
			return none
		}
		address = sess.CurrentIP
		if address == "" {
			return none
		}
	}

	hosts, err := device.Print(ctx, conn, device.PathHotspotHost, map[string]string{"address": address})
	if err != nil {
		logger.Warn("Failed to read active hosts", zap.Error(err))
		return none
	}
	for _, h := range hosts {
		if h["address"] == address {
			return hostUsage(h)
		}
	}
	return none
}

func (r *Reader) meterByName(ctx context.Context, conn device.Conn, name string) (device.Record, error) {
	recs, err := device.Print(ctx, conn, device.PathSimpleQueue, map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec["name"] == name {
			return rec, nil
		}
	}
	return nil, nil
}

// meterForAddress finds the legacy address-named meter, or else any data-cap
// meter targeting the address.
func (r *Reader) meterForAddress(ctx context.Context, conn device.Conn, address string) (device.Record, error) {
	if rec, err := r.meterByName(ctx, conn, core.LegacyDataCapMeterName(address)); err != nil || rec != nil {
		return rec, err
	}

	recs, err := device.Print(ctx, conn, device.PathSimpleQueue, nil)
	if err != nil {
		return nil, err
	}
	target := core.HostTarget(address)
	for _, rec := range recs {
		if strings.HasPrefix(rec["name"], "datacap-") && targets(rec["target"], target) {
			return rec, nil
		}
	}
	return nil, nil
}

// ListActiveClients returns every host currently authorised on the hotspot,
// joined with its data-cap meter when one targets the host.
func (r *Reader) ListActiveClients(ctx context.Context, tenantID string) ([]core.ClientRecord, error) {
	conn, err := r.pool.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	hosts, err := device.Print(ctx, conn, device.PathHotspotHost, nil)
	if err != nil {
		return nil, err
	}

	queues, err := device.Print(ctx, conn, device.PathSimpleQueue, nil)
	if err != nil {
		r.logger.Warn("Failed to read meters", zap.String("tenant_id", tenantID), zap.Error(err))
		queues = nil
	}

	clients := make([]core.ClientRecord, 0, len(hosts))
	for _, h := range hosts {
		c := core.ClientRecord{
			ID:         h.ID(),
			Address:    h["address"],
			MACAddress: h["mac-address"],
			User:       h["user"],
			Uptime:     h["uptime"],
			Usage:      hostUsage(h),
		}
		target := core.HostTarget(c.Address)
		for _, q := range queues {
			if strings.HasPrefix(q["name"], "datacap-") && targets(q["target"], target) {
				c.Meter = &core.MeterRecord{
					Name:     q["name"],
					MaxLimit: q["max-limit"],
					Usage:    meterUsage(q),
				}
				break
			}
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func targets(list, target string) bool {
	for _, t := range strings.Split(list, ",") {
		if strings.TrimSpace(t) == target {
			return true
		}
	}
	return false
}

// meterUsage reads queue counters, either "bytes" as "up/down" or separate
// upload and download fields.
func meterUsage(rec device.Record) core.UsageRecord {
	if combined, ok := rec["bytes"]; ok {
		up, down := splitPair(combined)
		return core.NewUsageRecord(up, down, core.UsageSourceMeter)
	}
	return core.NewUsageRecord(parseCounter(rec["upload-bytes"]), parseCounter(rec["download-bytes"]), core.UsageSourceMeter)
}

// hostUsage reads active host counters. bytes-in is traffic received from
// the client.
func hostUsage(rec device.Record) core.UsageRecord {
	return core.NewUsageRecord(parseCounter(rec["bytes-in"]), parseCounter(rec["bytes-out"]), core.UsageSourceActive)
}

func splitPair(s string) (uint64, uint64) {
	first, second, ok := strings.Cut(s, "/")
	if !ok {
		return parseCounter(first), 0
	}
	return parseCounter(first), parseCounter(second)
}

func parseCounter(s string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
