package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/leozw/hotspot-guardian/internal/device"
	"github.com/leozw/hotspot-guardian/internal/device/devicetest"
)

func TestRemoveWhere(t *testing.T) {
	t.Parallel()

	router := devicetest.NewRouter()
	router.Put(device.PathIPBinding, device.Record{"address": "10.0.0.5"})
	router.Put(device.PathIPBinding, device.Record{"address": "10.0.0.6"})

	ctx := context.Background()
	n, err := device.RemoveWhere(ctx, router, device.PathIPBinding, map[string]string{"address": "10.0.0.5"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = device.RemoveWhere(ctx, router, device.PathIPBinding, map[string]string{"address": "10.0.0.5"})
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Len(t, router.Rows(device.PathIPBinding), 1)
}

func TestRemoveMatching(t *testing.T) {
	t.Parallel()

	router := devicetest.NewRouter()
	router.Put(device.PathSimpleQueue, device.Record{"name": "datacap-a", "target": "10.0.0.5/32"})
	router.Put(device.PathSimpleQueue, device.Record{"name": "guest", "target": "10.0.0.5/32"})

	n, err := device.RemoveMatching(context.Background(), router, device.PathSimpleQueue, nil, func(rec device.Record) bool {
		return rec["name"] == "datacap-a"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows := router.Rows(device.PathSimpleQueue)
	require.Len(t, rows, 1)
	assert.Equal(t, "guest", rows[0]["name"])
}

func TestRemoveWhereCollectsFailures(t *testing.T) {
	t.Parallel()

	router := devicetest.NewRouter()
	router.Put(device.PathSimpleQueue, device.Record{"name": "a", "target": "10.0.0.5/32"})
	router.Put(device.PathSimpleQueue, device.Record{"name": "b", "target": "10.0.0.5/32"})
	router.Fail(device.PathSimpleQueue+"/remove", errors.New("boom"))

	n, err := device.RemoveWhere(context.Background(), router, device.PathSimpleQueue, map[string]string{"target": "10.0.0.5/32"})
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, router.Calls(device.PathSimpleQueue+"/remove"))
}

type flakyConn struct {
	device.Conn
	failures int
	err      error
	calls    int
}

func (f *flakyConn) Run(ctx context.Context, cmd device.Command) ([]device.Record, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.Conn.Run(ctx, cmd)
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	t.Run("transient errors are retried", func(t *testing.T) {
		t.Parallel()
		f := &flakyConn{Conn: devicetest.NewRouter(), failures: 2, err: context.DeadlineExceeded}
		c := device.WithRetry(f, device.RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond})

		recs, err := device.Print(context.Background(), c, device.PathIdentity, nil)
		require.NoError(t, err)
		assert.Equal(t, "hotspot-test", recs[0]["name"])
		assert.Equal(t, 3, f.calls)
	})

	t.Run("retries are bounded", func(t *testing.T) {
		t.Parallel()
		f := &flakyConn{Conn: devicetest.NewRouter(), failures: 10, err: context.DeadlineExceeded}
		c := device.WithRetry(f, device.RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond})

		_, err := device.Print(context.Background(), c, device.PathIdentity, nil)
		require.Error(t, err)
		assert.Equal(t, 3, f.calls)
	})

	t.Run("router rejections are not retried", func(t *testing.T) {
		t.Parallel()
		f := &flakyConn{Conn: devicetest.NewRouter(), failures: 1, err: devicetest.Trap("/x", "no such item")}
		c := device.WithRetry(f, device.RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond})

		_, err := device.Print(context.Background(), c, device.PathIdentity, nil)
		require.Error(t, err)
		assert.True(t, device.IsNotFound(err))
		assert.Equal(t, 1, f.calls)
	})
}

func TestWithRateLimit(t *testing.T) {
	t.Parallel()

	router := devicetest.NewRouter()
	c := device.WithRateLimit(router, rate.Limit(1), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := device.Print(ctx, c, device.PathIdentity, nil)
	require.NoError(t, err)

	// The bucket is empty and refills after a second, past the deadline.
	_, err = device.Print(ctx, c, device.PathIdentity, nil)
	require.Error(t, err)
	assert.Equal(t, 1, router.Calls(device.PathIdentity+"/print"))
}
