package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapgraph/store"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
data_dir: /var/lib/snapgraph
backend: badger
compress_above: -1
log:
  level: debug
  format: json
rebaser:
  queue_size: 8
  idle_ttl: 90s
approvals:
  - pattern: "schemas/**"
    approvals: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/snapgraph", cfg.DataDir)
	assert.Equal(t, store.BackendBadger, cfg.Backend)
	assert.Equal(t, -1, cfg.CompressAbove)
	assert.Equal(t, 8, cfg.Rebaser.QueueSize)
	assert.Equal(t, 90*time.Second, cfg.Rebaser.IdleTTL)
	assert.Equal(t, 32, cfg.Rebaser.SnapshotCache)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 2, policy.Required([]string{"schemas/Schema/x"}))
	assert.Equal(t, 0, policy.Required([]string{"components/Component/x"}))

	log := cfg.Logger()
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	sc := cfg.Store(log)
	assert.Equal(t, store.BackendBadger, sc.Backend)
	assert.Same(t, log, sc.Logger)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "backend: badger\ncache_entries: 10\n")
	t.Setenv("SNAPGRAPH_BACKEND", "memory")
	t.Setenv("SNAPGRAPH_CACHE_ENTRIES", "99")
	t.Setenv("SNAPGRAPH_IDLE_TTL", "1m")
	t.Setenv("SNAPGRAPH_SYNC_WRITES", "not-a-bool")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, store.BackendMemory, cfg.Backend)
	assert.Equal(t, 99, cfg.CacheEntries)
	assert.Equal(t, time.Minute, cfg.Rebaser.IdleTTL)
	assert.False(t, cfg.SyncWrites)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"backend", "backend: tape\n"},
		{"log level", "log:\n  level: loud\n"},
		{"log format", "log:\n  format: xml\n"},
		{"pattern", "approvals:\n  - pattern: \"[\"\n    approvals: 1\n"},
		{"yaml", "backend: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
