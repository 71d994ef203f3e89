package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", false)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3001", cfg.Addr())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "noughts.db", cfg.DSN())
	assert.Contains(t, cfg.Server.AllowedOrigins, "http://localhost:5173")
	assert.Equal(t, 10.0, cfg.WebSocket.MessagesPerSecond)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yml")

	_, err := Load(path, false)
	assert.Error(t, err)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Server.HTTPPort)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: 127.0.0.1
  http_port: 8080
  allowed_origins: []
  allowed_origin_suffixes: [".onrender.com"]
  request_timeout: 5s
websocket:
  messages_per_second: 2.5
database:
  driver: none
bus:
  nats_url: nats://localhost:4222
log:
  level: debug
  format: json
`), 0o644))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.Empty(t, cfg.Server.AllowedOrigins, "an explicit empty list is kept")
	assert.Equal(t, []string{".onrender.com"}, cfg.Server.AllowedOriginSuffixes)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 2.5, cfg.WebSocket.MessagesPerSecond)
	assert.Equal(t, 20, cfg.WebSocket.Burst)
	assert.Equal(t, "none", cfg.Database.Driver)
	assert.Equal(t, "nats://localhost:4222", cfg.Bus.NATSURL)
	assert.Equal(t, "noughts", cfg.Bus.SubjectPrefix)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o644))
	_, err := Load(path, true)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Load("", false)
	require.NoError(t, err)

	err = cfg.ApplyEnv(envMap(map[string]string{
		"HOST":            "::1",
		"PORT":            "9000",
		"ALLOWED_ORIGINS": "https://a.example, https://b.example,",
		"LOG_LEVEL":       "warn",
		"DATABASE_URL":    "postgres://u:p@db/noughts",
		"NATS_URL":        "nats://bus:4222",
	}))
	require.NoError(t, err)

	assert.Equal(t, "[::1]:9000", cfg.Addr())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "postgres", cfg.Database.Driver, "DATABASE_URL implies postgres")
	assert.Equal(t, "postgres://u:p@db/noughts", cfg.DSN())
	assert.Equal(t, "nats://bus:4222", cfg.Bus.NATSURL)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port not a number", map[string]string{"PORT": "http"}},
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"unknown driver", map[string]string{"DATABASE_DRIVER": "mongo"}},
		{"postgres without url", map[string]string{"DATABASE_DRIVER": "postgres"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("", false)
			require.NoError(t, err)
			assert.Error(t, cfg.ApplyEnv(envMap(tt.env)))
		})
	}
}
