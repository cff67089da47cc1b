package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.toml")
	body := `
env = "prod"

[site]
id = "site-1"
api_key = "secret"
timeout = "3s"

[storage]
backend = "badger"
badger_path = "/var/lib/queue"

[queue]
min_tasks_to_run = 3
run_delay = "5s"
task_expiry = "24h"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFile(Default(), path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "site-1", cfg.SiteID)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, 3*time.Second, cfg.TrackAPITimeout)
	assert.Equal(t, BackendBadger, cfg.StorageBackend)
	assert.Equal(t, "/var/lib/queue", cfg.BadgerPath)
	assert.Equal(t, 3, cfg.MinTasksToRun)
	assert.Equal(t, 5*time.Second, cfg.RunDelay)
	assert.Equal(t, 24*time.Hour, cfg.TaskExpiry)
	// untouched values keep their defaults
	assert.Equal(t, "@hourly", cfg.CleanupSchedule)
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.yaml")
	body := "site:\n  id: site-yaml\nstorage:\n  backend: redis\n  redis_addr: redis:6379\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFile(Default(), path)
	require.NoError(t, err)
	assert.Equal(t, "site-yaml", cfg.SiteID)
	assert.Equal(t, BackendRedis, cfg.StorageBackend)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}

func TestLoadFileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.toml")
	require.NoError(t, os.WriteFile(path, []byte("[queue]\nrun_delay = \"soon\"\n"), 0o644))

	_, err := LoadFile(Default(), path)
	assert.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.toml")
	require.NoError(t, os.WriteFile(path, []byte("[site]\nid = \"from-file\"\n"), 0o644))
	t.Setenv("CIO_QUEUE_CONFIG", path)
	t.Setenv("CIO_SITE_ID", "from-env")
	t.Setenv("QUEUE_MIN_TASKS", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.SiteID)
	assert.Equal(t, 1, cfg.MinTasksToRun)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "site id is required")

	cfg.SiteID = "site"
	assert.NoError(t, cfg.Validate())

	cfg.StorageBackend = "floppy"
	assert.Error(t, cfg.Validate())

	cfg.StorageBackend = BackendS3
	assert.Error(t, cfg.Validate(), "s3 needs a bucket")
	cfg.S3Bucket = "bucket"
	assert.NoError(t, cfg.Validate())
}
