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
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err, "a missing config file is not an error")

	assert.Equal(t, "5000", cfg.HTTPPort)
	assert.Equal(t, []string{"ROOM-1", "ROOM-2", "ROOM-3"}, cfg.Rooms)
	assert.Equal(t, 288, cfg.BoxesPerPallet("4kg"))
	assert.Equal(t, 120, cfg.BoxesPerPallet("10kg"))
	assert.Equal(t, 288, cfg.BoxesPerPallet("7kg"), "unknown box types use the default divisor")
	assert.Equal(t, 24*time.Hour, cfg.DedupeWindow())
	assert.False(t, cfg.SerializeBatchUpdates)
	assert.True(t, cfg.AutoAggregate)
	assert.False(t, cfg.Seed)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coldstore.yaml")
	content := `
http_port: "8080"
dedupe_window_hours: 12
serialize_batch_updates: true
pallet_divisors:
  4kg: 300
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 12*time.Hour, cfg.DedupeWindow())
	assert.True(t, cfg.SerializeBatchUpdates)
	assert.Equal(t, 300, cfg.BoxesPerPallet("4kg"))
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coldstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
