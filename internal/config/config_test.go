package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `debug: false
database:
  host: localhost
  name: syndicate
redis:
  url: localhost:6379
network:
  name: news.example.com
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8075", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 15*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 10, cfg.Engine.BatchSize)
	assert.Equal(t, 72*time.Hour, cfg.Engine.Retention)
	assert.Equal(t, 10*time.Minute, cfg.Engine.StaleAfter)
	assert.Equal(t, 10*time.Minute, cfg.Engine.ResolverCacheTTL)
	assert.Equal(t, 30*time.Second, cfg.Network.RemoteTimeout)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing database host",
			content: "redis:\n  url: localhost:6379\nnetwork:\n  name: n.example.com\ndatabase:\n  name: syndicate\n",
			wantErr: "database.host is required",
		},
		{
			name:    "missing redis url",
			content: "database:\n  host: localhost\n  name: syndicate\nnetwork:\n  name: n.example.com\n",
			wantErr: "redis.url is required",
		},
		{
			name:    "missing network name",
			content: "database:\n  host: localhost\n  name: syndicate\nredis:\n  url: localhost:6379\n",
			wantErr: "network.name is required",
		},
		{
			name:    "notify enabled without key",
			content: minimalYAML + "notify:\n  enabled: true\n",
			wantErr: "notify.api_key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_DEBUG", "yes")
	t.Setenv("REDIS_URL", "redis.internal:6379")
	t.Setenv("NETWORK_NAME", "override.example.com")
	t.Setenv("SYNDICATE_PORT", "9090")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.URL)
	assert.Equal(t, "override.example.com", cfg.Network.Name)
	assert.Equal(t, ":9090", cfg.Server.Address)
}

func TestDatabaseDSN(t *testing.T) {
	dsn := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "syndicate",
		Password: "secret",
		Name:     "syndicate",
		SSLMode:  "require",
	}.DSN()

	assert.Equal(t, "host=db.internal port=5433 user=syndicate password=secret dbname=syndicate sslmode=require", dsn)
}
