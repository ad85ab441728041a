package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.UpstreamEnabled())
	assert.Equal(t, "datasets", cfg.Storage.DatasetsFolder)
	assert.Equal(t, "metrics-configurations", cfg.Storage.MetricsFolder)
	assert.Equal(t, "eval-processing-requests", cfg.Queues.Processing)
	assert.Equal(t, 4*time.Hour, cfg.Cache.TTLs.Content)
	assert.Equal(t, "@every 5m", cfg.Reconcile.Schedule)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evalcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
database:
  driver: sqlite
  url: "file:evalcore.db"
  max_open_conns: 1
  max_idle_conns: 1
blob_backend: memory
upstream:
  base_url: "https://platform.example.com"
  attempt_timeout: 5s
mirror_status: true
cache:
  ttls:
    list: 1m
queues:
  data_platform_enabled: true
reconcile:
  schedule: "*/2 * * * *"
`), 0o600))

	t.Setenv("EVALCORE_HTTP_ADDR", ":7070")
	t.Setenv("EVALCORE_RECONCILE_GRACE_PERIOD", "30m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, BlobBackendMemory, cfg.BlobBackend)
	assert.True(t, cfg.UpstreamEnabled())
	assert.Equal(t, 5*time.Second, cfg.Upstream.AttemptTimeout)
	assert.Equal(t, uint(3), cfg.Upstream.MaxAttempts)
	assert.True(t, cfg.MirrorStatus)
	assert.Equal(t, time.Minute, cfg.Cache.TTLs.List)
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTLs.Metadata)
	assert.True(t, cfg.Queues.DataPlatformEnabled)
	assert.Equal(t, "*/2 * * * *", cfg.Reconcile.Schedule)
	assert.Equal(t, 30*time.Minute, cfg.Reconcile.GracePeriod)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("databse:\n  driver: sqlite\n"))
	assert.Error(t, err)

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"unknown blob backend":    func(c *Config) { c.BlobBackend = "s3" },
		"mirror without upstream": func(c *Config) { c.MirrorStatus = true },
		"bad upstream url":        func(c *Config) { c.Upstream.BaseURL = "not a url" },
		"zero cache ttl":          func(c *Config) { c.Cache.TTLs.List = 0 },
		"empty folder":            func(c *Config) { c.Storage.DatasetsFolder = " " },
		"bad schedule":            func(c *Config) { c.Reconcile.Schedule = "sometimes" },
		"no dispatch timeout":     func(c *Config) { c.Runs.DispatchTimeout = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Cache.Enabled = false
	cfg.Cache.TTLs.List = 0
	cfg.Reconcile.Enabled = false
	cfg.Reconcile.Schedule = "sometimes"
	assert.NoError(t, cfg.Validate())
}
