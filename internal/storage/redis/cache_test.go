package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewClient("redis://" + mr.Addr())
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestHardwareIDCache(t *testing.T) {
	t.Parallel()

	c, mr := newTestClient(t)
	c.WithHardwareIDTTL(time.Minute)
	ctx := context.Background()

	_, err := c.GetHardwareID(ctx, "t1", "10.0.0.5")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.SetHardwareID(ctx, "t1", "10.0.0.5", "AA:BB:CC:DD:EE:FF"))
	mac, err := c.GetHardwareID(ctx, "t1", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", mac)

	_, err = c.GetHardwareID(ctx, "t2", "10.0.0.5")
	assert.ErrorIs(t, err, ErrCacheMiss)

	mr.FastForward(2 * time.Minute)
	_, err = c.GetHardwareID(ctx, "t1", "10.0.0.5")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.SetJSON(ctx, "k", payload{Name: "router"}, time.Minute))

	var got payload
	require.NoError(t, c.GetJSON(ctx, "k", &got))
	assert.Equal(t, "router", got.Name)

	assert.ErrorIs(t, c.GetJSON(ctx, "missing", &got), ErrCacheMiss)
	assert.NoError(t, c.Ping(ctx))
}
