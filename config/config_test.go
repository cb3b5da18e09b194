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
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"app_name": "TestApp",
		"listen_ip": "127.0.0.1",
		"listen_port": 9090,
		"session_key": "test-session-key",
		"storage": {"bucket": "pics", "dir": "/tmp/pics"}
	}`)

	require.NoError(t, LoadConfig(path))

	assert.Equal(t, "TestApp", AppConfig.AppName)
	assert.Equal(t, "127.0.0.1", AppConfig.ListenIP)
	assert.Equal(t, 9090, AppConfig.ListenPort)
	assert.Equal(t, "test-session-key", AppConfig.SessionKey)
	assert.Equal(t, "pics", AppConfig.Storage.Bucket)
	assert.Equal(t, "/tmp/pics", AppConfig.Storage.Dir)
	assert.Equal(t, AuthLocal, AppConfig.AuthMode)
	assert.Equal(t, 9, AppConfig.PageSize)
	assert.Equal(t, "127.0.0.1:9090", AppConfig.Addr())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `{"session_key": "from-file", "listen_port": 9090}`)
	t.Setenv("ACKG_SESSION_KEY", "from-env")
	t.Setenv("ACKG_STORAGE_BUCKET", "env-bucket")

	require.NoError(t, LoadConfig(path))

	assert.Equal(t, "from-env", AppConfig.SessionKey)
	assert.Equal(t, "env-bucket", AppConfig.Storage.Bucket)
}

func TestLoadConfigPlaceholderKeyIsReplaced(t *testing.T) {
	path := writeConfig(t, `{"session_key": "CHANGE_ME_IN_PRODUCTION"}`)

	require.NoError(t, LoadConfig(path))

	assert.NotEqual(t, placeholderKey, AppConfig.SessionKey)
	assert.Len(t, AppConfig.SessionKey, 64)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	err := LoadConfig(filepath.Join(t.TempDir(), "non-existent.json"))
	require.NoError(t, err)
	assert.Equal(t, 8080, AppConfig.ListenPort)
	assert.Equal(t, "fr", AppConfig.DefaultLang)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{ "invalid": json }`)

	err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		AuthMode:    AuthLocal,
		RecordStore: DriverSQLite,
		PageSize:    9,
		Storage:     Storage{Driver: DriverLocal, Bucket: "b"},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown auth mode", func(c *Config) { c.AuthMode = "ldap" }},
		{"unknown record store", func(c *Config) { c.RecordStore = "mongo" }},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "s3" }},
		{"delegated without backend", func(c *Config) { c.AuthMode = AuthDelegated }},
		{"remote storage without backend", func(c *Config) { c.Storage.Driver = DriverRemote }},
		{"empty bucket", func(c *Config) { c.Storage.Bucket = "" }},
		{"zero page size", func(c *Config) { c.PageSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
