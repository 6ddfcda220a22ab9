package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Pool.MaxAge)
	assert.Equal(t, 10*time.Second, cfg.Pool.WaitTimeout)
	assert.Equal(t, 5*time.Second, cfg.Identity.Timeout)
	assert.Equal(t, time.Minute, cfg.Scheduler.ReconcileInterval)
	assert.Equal(t, time.Hour, cfg.Scheduler.RetentionInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Scheduler.Retention)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.PendingTimeout)
	assert.Equal(t, "10M/10M", cfg.Access.DefaultMaxLimit)
	assert.Equal(t, "X-Scope-OrgID", cfg.Mimir.TenantHeader)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := []byte(`
server:
  port: "9090"
pool:
  maxage: 2m
scheduler:
  workercount: 4
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ENCRYPTION_KEY=from-dotenv\n"), 0o600))

	t.Setenv("HOTSPOT_SCHEDULER_WORKERCOUNT", "7")
	t.Setenv("DATABASE_URL", "postgres://db/hotspot")
	t.Cleanup(func() { os.Unsetenv("ENCRYPTION_KEY") })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Pool.MaxAge)
	assert.Equal(t, 7, cfg.Scheduler.WorkerCount)
	assert.Equal(t, "postgres://db/hotspot", cfg.Database.URL)
	assert.Equal(t, "from-dotenv", cfg.Vault.EncryptionKey)
}
