// Package identity maps a client's IP address to its hardware (MAC) address
// using the router's ARP table and DHCP leases.
package identity

import (
	"context"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/device"
)

// Unknown is returned whenever no hardware address could be resolved.
const Unknown = "00:00:00:00:00:00"

const DefaultTimeout = 5 * time.Second

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)

type Acquirer interface {
	Acquire(ctx context.Context, tenantID string) (device.Conn, error)
}

type Cache interface {
	GetHardwareID(ctx context.Context, tenantID, address string) (string, error)
	SetHardwareID(ctx context.Context, tenantID, address, mac string) error
}

type Resolver struct {
	pool    Acquirer
	cache   Cache
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver builds a resolver. cache may be nil.
func NewResolver(pool Acquirer, cache Cache, timeout time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{pool: pool, cache: cache, timeout: timeout, logger: logger}
}

// IsValidMAC reports whether mac is a well-formed, non-zero hardware address.
func IsValidMAC(mac string) bool {
	return macPattern.MatchString(mac) && Normalize(mac) != Unknown
}

// Normalize returns mac in upper-case colon-separated form.
func Normalize(mac string) string {
	return strings.ToUpper(strings.ReplaceAll(mac, "-", ":"))
}

// ValidAddress reports whether address is a usable client address: a
// parseable IPv4 or IPv6 address that is neither loopback nor unspecified.
func ValidAddress(address string) bool {
	ip, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	return !ip.IsLoopback() && !ip.IsUnspecified()
}

// ResolveHardwareID never fails. Invalid addresses, lookup errors, timeouts
// and misses all yield Unknown.
func (r *Resolver) ResolveHardwareID(ctx context.Context, tenantID, address string) string {
	logger := r.logger.With(zap.String("tenant_id", tenantID), zap.String("address", address))

	if !ValidAddress(address) {
		logger.Debug("Skipping hardware lookup for invalid address")
		return Unknown
	}

	if r.cache != nil {
		if mac, err := r.cache.GetHardwareID(ctx, tenantID, address); err == nil && IsValidMAC(mac) {
			return mac
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	mac, err := r.lookup(ctx, tenantID, address)
	if err != nil {
		logger.Warn("Hardware address lookup failed", zap.Error(err))
		return Unknown
	}
	if mac == "" {
		logger.Warn("Hardware address not found")
		return Unknown
	}

	if r.cache != nil {
		if err := r.cache.SetHardwareID(ctx, tenantID, address, mac); err != nil {
			logger.Debug("Failed to cache hardware address", zap.Error(err))
		}
	}
	return mac
}

func (r *Resolver) lookup(ctx context.Context, tenantID, address string) (string, error) {
	conn, err := r.pool.Acquire(ctx, tenantID)
	if err != nil {
		return "", err
	}

	query := map[string]string{"address": address}

	arp, err := device.Print(ctx, conn, device.PathARP, query)
	if err != nil {
		return "", err
	}
	if mac := firstMAC(arp, address); mac != "" {
		return mac, nil
	}

	leases, err := device.Print(ctx, conn, device.PathDHCPLease, query)
	if err != nil {
		return "", err
	}
	return firstMAC(leases, address), nil
}

func firstMAC(recs []device.Record, address string) string {
	for _, rec := range recs {
		if rec["address"] != "" && rec["address"] != address {
			continue
		}
		if mac := rec["mac-address"]; IsValidMAC(mac) {
			return Normalize(mac)
		}
	}
	return ""
}
