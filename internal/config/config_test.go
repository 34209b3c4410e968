package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "zora_core_agent", cfg.Engine.DefaultAgent)
	assert.Equal(t, "workflow_step", cfg.Engine.DefaultTaskType)
	assert.Equal(t, time.Duration(0), cfg.Engine.SyncInterval)
	assert.Equal(t, "store", cfg.Tasks.Backend)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
db:
  driver: sqlite
  path: /tmp/test.db
engine:
  default_agent: planner
  sync_interval: 30s
tasks:
  backend: http
  url: http://tasks.local/
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ZORA_ENGINE_DEFAULT_TASK_TYPE", "custom_type")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "/tmp/test.db", cfg.DB.Path)
	assert.Equal(t, "planner", cfg.Engine.DefaultAgent)
	assert.Equal(t, "custom_type", cfg.Engine.DefaultTaskType)
	assert.Equal(t, 30*time.Second, cfg.Engine.SyncInterval)
	assert.Equal(t, "http://tasks.local", cfg.Tasks.URL)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	var cfg Config
	cfg.DB.Driver = "mysql"
	cfg.Tasks.Backend = "store"
	assert.Error(t, cfg.Validate())

	cfg.DB.Driver = "sqlite"
	assert.NoError(t, cfg.Validate())

	cfg.Tasks.Backend = "http"
	assert.Error(t, cfg.Validate())

	cfg.Tasks.URL = "http://x"
	assert.NoError(t, cfg.Validate())

	cfg.Engine.SyncInterval = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestPostgresDSN(t *testing.T) {
	var cfg Config
	cfg.DB.Host = "db"
	cfg.DB.Port = 5433
	cfg.DB.User = "u"
	cfg.DB.Password = "p"
	cfg.DB.Name = "n"
	cfg.DB.SSLMode = "require"
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=require", cfg.PostgresDSN())
}
