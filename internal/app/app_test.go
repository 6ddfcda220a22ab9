package app

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/config"
	"github.com/leozw/hotspot-guardian/internal/queue"
	"github.com/leozw/hotspot-guardian/internal/storage/postgres"
	"github.com/leozw/hotspot-guardian/internal/storage/redis"
)

func TestNewWiresComponents(t *testing.T) {
	mr := miniredis.RunT(t)
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)

	cfg := &config.Config{
		Redis: config.RedisConfig{QueueKey: "test:grants"},
		Vault: config.VaultConfig{EncryptionKey: "a-passphrase-that-is-not-32-bytes"},
	}
	a, err := New(cfg, postgres.New(sqlx.NewDb(conn, "postgres")), redis.NewClient("redis://"+mr.Addr()), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Cache.Ping(ctx))

	require.NoError(t, a.Queue.Push(ctx, queue.NewJob("t1", "sess-1", time.Now()), 0))
	n, err := a.Queue.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, mr.Exists("test:grants"))

	sealed, err := a.Vault.Encrypt("router-secret")
	require.NoError(t, err)
	assert.Equal(t, "router-secret", a.Vault.Decrypt(sealed))

	mfs, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	mock.ExpectClose()
	require.NoError(t, a.Close(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRejectsMissingKey(t *testing.T) {
	mr := miniredis.RunT(t)
	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	cache := redis.NewClient("redis://" + mr.Addr())
	defer cache.Close()

	_, err = New(&config.Config{}, postgres.New(sqlx.NewDb(conn, "postgres")), cache, zap.NewNop())
	assert.Error(t, err)
}
