package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvs.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, DefaultMaxSegmentBytes, cfg.MaxSegmentBytes)
	assert.Equal(t, DefaultCompactionThreshold, cfg.CompactionThreshold)
	assert.False(t, cfg.SyncWrites)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
max_segment_bytes = 4096
compaction_threshold = 2048
sync_writes = true
log_level = "debug"
metrics_addr = "127.0.0.1:9100"
`)

	cfg := New()
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, int64(4096), cfg.MaxSegmentBytes)
	assert.Equal(t, int64(2048), cfg.CompactionThreshold)
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	assert.Empty(t, cfg.JaegerEndpoint)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `sync_writes = true`)

	cfg := New()
	require.NoError(t, cfg.Load(path))
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, DefaultMaxSegmentBytes, cfg.MaxSegmentBytes)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `compaction_threshold = 0`)
	assert.Error(t, New().Load(path))

	path = writeConfig(t, `max_segment_bytes = -1`)
	assert.Error(t, New().Load(path))
}

func TestLoadMissingFile(t *testing.T) {
	err := New().Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
