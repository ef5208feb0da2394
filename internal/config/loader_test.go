package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
server:
  port: 8080
  mode: release
engine:
  confidence_threshold: 0.65
  rejection_cache_size: 500
  matcher_timeout: 2s
snapshot:
  path: /tmp/lorekeeper.json
  backup_dir: /tmp/backups
redis:
  addr: localhost:6379
kafka:
  brokers: ["localhost:9092"]
  topic: lorekeeper.events
log:
  level: debug
  format: text
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromFile_ValidConfig(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 0.65, cfg.Engine.ConfidenceThreshold)
	assert.Equal(t, 500, cfg.Engine.RejectionCacheSize)
	assert.Equal(t, 2*time.Second, cfg.Engine.MatcherTimeout)
	assert.Equal(t, "/tmp/lorekeeper.json", cfg.Snapshot.Path)
	assert.True(t, cfg.RedisEnabled())
	assert.True(t, cfg.KafkaEnabled())
	assert.False(t, cfg.Neo4jEnabled())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_FromFile_AppliesDefaults(t *testing.T) {
	path := createTempConfigFile(t, "server:\n  port: 9000\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, DefaultServerMode, cfg.Server.Mode)
	assert.Equal(t, DefaultConfidenceThreshold, cfg.Engine.ConfidenceThreshold)
	assert.Equal(t, DefaultSnapshotPath, cfg.Snapshot.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := createTempConfigFile(t, "server: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := createTempConfigFile(t, "server:\n  mode: production\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.mode")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultRejectionCacheSize, cfg.Engine.RejectionCacheSize)
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	})
}
