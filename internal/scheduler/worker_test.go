package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/hotspot-guardian/internal/access"
	"github.com/leozw/hotspot-guardian/internal/core"
	"github.com/leozw/hotspot-guardian/internal/device"
	"github.com/leozw/hotspot-guardian/internal/device/devicetest"
	"github.com/leozw/hotspot-guardian/internal/queue"
	"github.com/leozw/hotspot-guardian/internal/scheduler"
	"github.com/leozw/hotspot-guardian/internal/storage/memory"
)

type workerFixture struct {
	router *devicetest.Router
	store  *memory.Store
	queue  *queue.RedisQueue
	worker *scheduler.GrantWorker
}

func newWorkerFixture(t *testing.T, cfg scheduler.WorkerConfig) *workerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &workerFixture{
		router: devicetest.NewRouter(),
		store:  memory.New(),
		queue:  queue.NewRedisQueue(client, "", queue.WithPollInterval(5*time.Millisecond)),
	}
	manager := access.NewManager(&routerPool{conn: f.router}, nil, access.Config{}, nil, access.WithSessionRecorder(f.store))
	f.worker = scheduler.NewGrantWorker(1, f.queue, f.store, manager, cfg, nil, nil)

	speed := "2M/2M"
	f.store.PutSession(core.Session{
		ID: "sess-1", TenantID: "t1", MACAddress: "AA:BB:CC:DD:EE:FF", CurrentIP: "10.0.0.5",
		Status: core.StatusPending, DurationHours: 2, DataCapMB: int64p(100), SpeedLimit: &speed,
	})
	return f
}

func TestGrantWorkerProcess(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, scheduler.WorkerConfig{})
	ctx := context.Background()

	result := f.worker.Process(ctx, queue.NewJob("t1", "sess-1", time.Now()))
	assert.Equal(t, scheduler.JobGranted, result)

	binding, ok := f.router.Find(device.PathIPBinding, "address", "10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", binding["mac-address"])
	_, ok = f.router.Find(device.PathSimpleQueue, "name", "speed-sess-1")
	assert.True(t, ok)

	sess, err := f.store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, sess.Status)
}

func TestGrantWorkerDropsJobs(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, scheduler.WorkerConfig{})
	ctx := context.Background()

	assert.Equal(t, scheduler.JobDropped, f.worker.Process(ctx, queue.NewJob("t1", "missing", time.Now())))

	f.store.PutSession(core.Session{ID: "sess-2", TenantID: "t1", CurrentIP: "10.0.0.6", Status: core.StatusCancelled})
	assert.Equal(t, scheduler.JobDropped, f.worker.Process(ctx, queue.NewJob("t1", "sess-2", time.Now())))
	assert.Empty(t, f.router.Rows(device.PathIPBinding))
}

func TestGrantWorkerDuplicateJobKeepsExpiry(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, scheduler.WorkerConfig{})
	ctx := context.Background()

	require.Equal(t, scheduler.JobGranted, f.worker.Process(ctx, queue.NewJob("t1", "sess-1", time.Now())))
	granted, err := f.store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	adds := f.router.Calls(device.PathIPBinding + "/add")

	assert.Equal(t, scheduler.JobDropped, f.worker.Process(ctx, queue.NewJob("t1", "sess-1", time.Now())))

	sess, err := f.store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, sess.Status)
	assert.True(t, granted.ExpiresAt.Equal(sess.ExpiresAt))
	assert.Equal(t, adds, f.router.Calls(device.PathIPBinding+"/add"))
	assert.Len(t, f.router.Rows(device.PathIPBinding), 1)
}

func TestGrantWorkerRequeuesFailures(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, scheduler.WorkerConfig{MaxRetries: 2, RetryBackoff: time.Hour})
	f.router.Fail(device.PathIPBinding+"/add", errors.New("router busy"))
	ctx := context.Background()

	job := queue.NewJob("t1", "sess-1", time.Now())
	assert.Equal(t, scheduler.JobRequeued, f.worker.Process(ctx, job))
	assert.Equal(t, 1, job.Attempts)

	n, err := f.queue.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// The retry is delayed, not immediately ready.
	_, err = f.queue.Pop(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrTimeout)

	assert.Equal(t, scheduler.JobFailed, f.worker.Process(ctx, job))
	n, err = f.queue.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGrantWorkerStart(t *testing.T) {
	t.Parallel()

	f := newWorkerFixture(t, scheduler.WorkerConfig{PopTimeout: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.queue.Push(ctx, queue.NewJob("t1", "sess-1", time.Now()), 0))

	done := make(chan struct{})
	go func() {
		f.worker.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := f.router.Find(device.PathIPBinding, "address", "10.0.0.5")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
