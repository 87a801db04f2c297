package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamweaver-io/streamweaver/internal/backpressure"
)

func writeConfig(t *testing.T, yaml string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streamweaver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("CONFIG_PATH", path)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	f, err := Load()
	require.NoError(t, err)
	cfg := f.Service()

	assert.Equal(t, 3600*time.Second, cfg.SessionTimeout)
	assert.Equal(t, 1000, cfg.MaxConcurrentStreams)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, backpressure.DropOldest, cfg.BackpressurePolicy)
	assert.Equal(t, 100, cfg.EventBufferSize)
	assert.True(t, cfg.EnableHeartbeat)
	assert.True(t, cfg.EnableReplay)
	assert.False(t, cfg.EnableBatching)
	assert.False(t, cfg.EnableMetrics)
	assert.Equal(t, 1024, cfg.CompressionThreshold)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	writeConfig(t, `
session_timeout: 120
max_concurrent_streams: 50
enable_heartbeat: false
queue_size: 10
backpressure_policy: drop_newest
event_buffer_size: 25
enable_batching: true
batch_size: 5
batch_delay_ms: 20
port: 9090
`)

	f, err := Load()
	require.NoError(t, err)
	cfg := f.Service()

	assert.Equal(t, 120*time.Second, cfg.SessionTimeout)
	assert.Equal(t, 50, cfg.MaxConcurrentStreams)
	assert.False(t, cfg.EnableHeartbeat)
	assert.Equal(t, 10, cfg.QueueSize)
	assert.Equal(t, backpressure.DropNewest, cfg.BackpressurePolicy)
	assert.Equal(t, 25, cfg.EventBufferSize)
	assert.True(t, cfg.EnableBatching)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, 20*time.Millisecond, cfg.BatchDelay)
	assert.Equal(t, 9090, f.HTTPPort(8080))
}

func TestEnvOverridesFile(t *testing.T) {
	writeConfig(t, `
queue_size: 10
backpressure_policy: drop_newest
`)
	t.Setenv("QUEUE_SIZE", "42")
	t.Setenv("BACKPRESSURE_POLICY", "block")
	t.Setenv("SESSION_TIMEOUT", "60")
	t.Setenv("ENABLE_METRICS", "true")

	f, err := Load()
	require.NoError(t, err)
	cfg := f.Service()

	assert.Equal(t, 42, cfg.QueueSize)
	assert.Equal(t, backpressure.Block, cfg.BackpressurePolicy)
	assert.Equal(t, 60*time.Second, cfg.SessionTimeout)
	assert.True(t, cfg.EnableMetrics)
}

func TestInvalidPolicyIgnored(t *testing.T) {
	writeConfig(t, `backpressure_policy: whatever`)

	f, err := Load()
	require.NoError(t, err)
	assert.Equal(t, backpressure.DropOldest, f.Service().BackpressurePolicy)
}

func TestMalformedFile(t *testing.T) {
	writeConfig(t, "queue_size: [not a number")
	_, err := Load()
	assert.Error(t, err)
}

func TestHTTPPortEnvWins(t *testing.T) {
	writeConfig(t, `port: 9090`)
	t.Setenv("PORT", "7070")

	f, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, f.HTTPPort(8080))
}
