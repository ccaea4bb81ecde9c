package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(newViper())
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "local", cfg.BlobStoreType)
	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, 1, cfg.WorkerConcurrency)
	assert.Equal(t, 2*time.Minute, cfg.WorkerMessageTimeout)
	assert.Equal(t, int64(1000000), cfg.MaxContentBytes)
	assert.False(t, cfg.FaultInjection)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("QUEUE_BACKEND", "AMQP")
	t.Setenv("BLOB_STORE", "s3")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("MAX_CONTENT_SIZE", "2MB")
	t.Setenv("FAULT_INJECTION", "true")
	t.Setenv("S3_SSE", "AES256")

	cfg, err := LoadFrom(newViper())
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "rabbitmq", cfg.QueueBackend)
	assert.Equal(t, "s3", cfg.BlobStoreType)
	assert.True(t, cfg.S3UsePathStyle)
	assert.Equal(t, 1, cfg.WorkerConcurrency)
	assert.Equal(t, int64(2000000), cfg.MaxContentBytes)
	assert.True(t, cfg.FaultInjection)
	assert.Equal(t, "AES256", cfg.S3Encryption)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("STAGING_DIR=/var/staging\nRABBITMQ_URL=amqp://guest:guest@mq:5672/\n"), 0o644))

	cfg, err := LoadFrom(newViper(path))
	require.NoError(t, err)

	assert.Equal(t, "/var/staging", cfg.StagingDir)
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.RabbitMQURL)
}

func TestLoadRejectsBadContentSize(t *testing.T) {
	t.Setenv("MAX_CONTENT_SIZE", "lots")

	cfg, err := LoadFrom(newViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_CONTENT_SIZE")
	assert.Equal(t, int64(1000000), cfg.MaxContentBytes)
}

func TestLoadKeepsContentLimitOnBadSize(t *testing.T) {
	t.Setenv("MAX_CONTENT_SIZE", "bogus")
	t.Setenv("PORT", "9090")

	cfg := Load()

	assert.Equal(t, "1MB", cfg.MaxContentSize)
	assert.Equal(t, int64(1000000), cfg.MaxContentBytes)
	assert.Equal(t, "9090", cfg.Port)
}

func TestLoadRejectsNonPositiveContentSize(t *testing.T) {
	t.Setenv("MAX_CONTENT_SIZE", "0")

	cfg, err := LoadFrom(newViper())
	require.Error(t, err)
	assert.Equal(t, int64(1000000), cfg.MaxContentBytes)
}
