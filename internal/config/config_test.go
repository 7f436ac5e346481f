package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7420", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Empty(t, cfg.Server.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.Session.GracePeriod)
	assert.Equal(t, 30*time.Second, cfg.Session.HandshakeTimeout)
	assert.Equal(t, 2*time.Second, cfg.Session.CancelTimeout)
	assert.Zero(t, cfg.Session.Timeout)
	assert.Equal(t, "claude", cfg.Session.DefaultProvider)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Settings.Path)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, "agentbridge.yaml", `
server:
  port: 9000
  allowed_origins:
    - http://localhost:5173
session:
  grace_period: 5s
  default_provider: codex
policy:
  file: /etc/agentbridge/rules.yaml
logging:
  level: debug
  format: json
`)
	t.Setenv("AGENTBRIDGE_SERVER_HOST", "0.0.0.0")
	t.Setenv("AGENTBRIDGE_SESSION_TIMEOUT", "10m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Session.GracePeriod)
	assert.Equal(t, 10*time.Minute, cfg.Session.Timeout)
	assert.Equal(t, "codex", cfg.Session.DefaultProvider)
	assert.Equal(t, "/etc/agentbridge/rules.yaml", cfg.Policy.File)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, "agentbridge.yaml", `
server:
  port: 70000
  allowed_origins:
    - "*"
session:
  cancel_timeout: 0s
logging:
  level: chatty
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "server.allowed_origins")
	assert.Contains(t, err.Error(), "session.cancel_timeout")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	s, err := OpenStore(path)
	require.NoError(t, err)
	_, ok := s.Get("notes_directory")
	assert.False(t, ok)

	s.Set("notes_directory", "/home/me/notes")
	s.Set("provider_paths.claude", "/opt/bin/claude-code-acp")
	s.Set("models.claude", "sonnet")
	v, ok := s.Get("notes_directory")
	require.True(t, ok)
	assert.Equal(t, "/home/me/notes", v)
	require.NoError(t, s.Save())

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	v, ok = reopened.Get("provider_paths.claude")
	require.True(t, ok)
	assert.Equal(t, "/opt/bin/claude-code-acp", v)
	v, ok = reopened.Get("MODELS.CLAUDE")
	require.True(t, ok, "keys are case-insensitive")
	assert.Equal(t, "sonnet", v)
	assert.Equal(t, []string{"models.claude", "notes_directory", "provider_paths.claude"}, reopened.Keys())
	assert.Equal(t, path, reopened.Path())
}

func TestStore_Corrupt(t *testing.T) {
	path := writeFile(t, "config.json", "{not json")
	_, err := OpenStore(path)
	assert.Error(t, err)
}
