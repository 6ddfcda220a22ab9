package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/hotspot-guardian/internal/device"
	"github.com/leozw/hotspot-guardian/internal/device/devicetest"
	"github.com/leozw/hotspot-guardian/internal/identity"
	"github.com/leozw/hotspot-guardian/internal/storage/redis"
)

type fakePool struct {
	mu       sync.Mutex
	conn     device.Conn
	err      error
	acquires int
}

func (p *fakePool) Acquire(ctx context.Context, tenantID string) (device.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	return p.conn, p.err
}

func TestResolveFromARP(t *testing.T) {
	t.Parallel()

	router := devicetest.NewRouter()
	router.Put(device.PathARP, device.Record{"address": "10.0.0.5", "mac-address": "aa-bb-cc-dd-ee-ff"})
	router.Put(device.PathDHCPLease, device.Record{"address": "10.0.0.5", "mac-address": "11:22:33:44:55:66"})

	r := identity.NewResolver(&fakePool{conn: router}, nil, time.Second, nil)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", r.ResolveHardwareID(context.Background(), "t1", "10.0.0.5"))
	assert.Zero(t, router.Calls(device.PathDHCPLease+"/print"))
}

func TestResolveFallsBackToDHCP(t *testing.T) {
	t.Parallel()

	router := devicetest.NewRouter()
	// Incomplete ARP entry without a hardware address.
	router.Put(device.PathARP, device.Record{"address": "10.0.0.7", "mac-address": ""})
	router.Put(device.PathDHCPLease, device.Record{"address": "10.0.0.7", "mac-address": "11:22:33:44:55:66"})

	r := identity.NewResolver(&fakePool{conn: router}, nil, time.Second, nil)
	assert.Equal(t, "11:22:33:44:55:66", r.ResolveHardwareID(context.Background(), "t1", "10.0.0.7"))
}

func TestResolveDegradesToUnknown(t *testing.T) {
	t.Parallel()

	t.Run("invalid address skips the router", func(t *testing.T) {
		t.Parallel()
		p := &fakePool{conn: devicetest.NewRouter()}
		r := identity.NewResolver(p, nil, time.Second, nil)

		for _, addr := range []string{"", "not-an-ip", "127.0.0.1", "0.0.0.0", "::1", "::"} {
			assert.Equal(t, identity.Unknown, r.ResolveHardwareID(context.Background(), "t1", addr), addr)
		}
		assert.Zero(t, p.acquires)
	})

	t.Run("unreachable router", func(t *testing.T) {
		t.Parallel()
		p := &fakePool{err: errors.New("router unreachable")}
		r := identity.NewResolver(p, nil, time.Second, nil)
		assert.Equal(t, identity.Unknown, r.ResolveHardwareID(context.Background(), "t1", "10.0.0.5"))
	})

	t.Run("lookup error", func(t *testing.T) {
		t.Parallel()
		router := devicetest.NewRouter()
		router.Fail(device.PathARP+"/print", errors.New("stream reset"))
		r := identity.NewResolver(&fakePool{conn: router}, nil, time.Second, nil)
		assert.Equal(t, identity.Unknown, r.ResolveHardwareID(context.Background(), "t1", "10.0.0.5"))
	})

	t.Run("no entry", func(t *testing.T) {
		t.Parallel()
		router := devicetest.NewRouter()
		router.Put(device.PathARP, device.Record{"address": "10.0.0.9", "mac-address": "00:00:00:00:00:00"})
		r := identity.NewResolver(&fakePool{conn: router}, nil, time.Second, nil)
		assert.Equal(t, identity.Unknown, r.ResolveHardwareID(context.Background(), "t1", "10.0.0.9"))
	})

	t.Run("ipv6 address is accepted", func(t *testing.T) {
		t.Parallel()
		router := devicetest.NewRouter()
		router.Put(device.PathDHCPLease, device.Record{"address": "2001:db8::5", "mac-address": "AA:BB:CC:00:11:22"})
		r := identity.NewResolver(&fakePool{conn: router}, nil, time.Second, nil)
		assert.Equal(t, "AA:BB:CC:00:11:22", r.ResolveHardwareID(context.Background(), "t1", "2001:db8::5"))
	})
}

func TestResolveUsesCache(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cache := redis.NewClient("redis://" + mr.Addr())
	t.Cleanup(func() { cache.Close() })

	router := devicetest.NewRouter()
	router.Put(device.PathARP, device.Record{"address": "10.0.0.5", "mac-address": "AA:BB:CC:DD:EE:FF"})
	p := &fakePool{conn: router}
	r := identity.NewResolver(p, cache, time.Second, nil)
	ctx := context.Background()

	require.Equal(t, "AA:BB:CC:DD:EE:FF", r.ResolveHardwareID(ctx, "t1", "10.0.0.5"))
	require.Equal(t, "AA:BB:CC:DD:EE:FF", r.ResolveHardwareID(ctx, "t1", "10.0.0.5"))
	assert.Equal(t, 1, p.acquires)

	// A broken cache is ignored.
	mr.SetError("ERR cache disabled")
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", r.ResolveHardwareID(ctx, "t1", "10.0.0.5"))
	assert.Equal(t, 2, p.acquires)
}

func TestIsValidMAC(t *testing.T) {
	t.Parallel()

	assert.True(t, identity.IsValidMAC("AA:BB:CC:DD:EE:FF"))
	assert.True(t, identity.IsValidMAC("aa-bb-cc-dd-ee-ff"))
	assert.False(t, identity.IsValidMAC(identity.Unknown))
	assert.False(t, identity.IsValidMAC("AA:BB:CC:DD:EE"))
	assert.False(t, identity.IsValidMAC("GG:BB:CC:DD:EE:FF"))
	assert.False(t, identity.IsValidMAC(""))
}
