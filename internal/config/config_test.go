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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Database.Driver)
	assert.Equal(t, "native", cfg.Hash)
	assert.Equal(t, 7420, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, []string{"main"}, cfg.Sync.Branches)
	assert.Equal(t, "127.0.0.1:7420", cfg.Addr())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relgit.json")
	body := `{
  "server": {"host": "0.0.0.0", "port": 9000},
  "database": {"driver": "sqlite", "path": "/tmp/relgit.db"},
  "hash": "gogit",
  "log_level": "debug",
  "sync": {"remote": "http://peer:7420", "org": "acme", "repo": "films", "interval": "5s", "branches": ["main", "draft"]}
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "gogit", cfg.Hash)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.Sync.Interval)
	assert.Equal(t, []string{"main", "draft"}, cfg.Sync.Branches)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RELGIT_DATABASE_DRIVER", "sqlite")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"missing path", func(c *Config) { c.Database.Path = "" }},
		{"unknown hash", func(c *Config) { c.Hash = "md5" }},
		{"sync without repo", func(c *Config) { c.Sync.Remote = "http://x" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
