// ABOUTME: Tests for configuration loading, env expansion, and validation.
// ABOUTME: Covers defaults, duration parsing, and required-field errors.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)

	// Defaults
	assert.Equal(t, DefaultMailboxTTL, cfg.Mailbox.TTL)
	assert.Equal(t, DefaultPollInterval, cfg.Widget.PollInterval)
	assert.Equal(t, DefaultPollAttempts, cfg.Widget.PollAttempts)
	assert.Equal(t, DefaultReconnectDelay, cfg.Gateway.ReconnectDelay)
	assert.Equal(t, DefaultRequestTimeout, cfg.Gateway.RequestTimeout)
	assert.Equal(t, "concierge-widget", cfg.Gateway.ClientID)
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9000"

gateway:
  url: "ws://localhost:18789/ws/gateway"
  token: "secret-token"
  client_id: "widget-1"
  session_key: "concierge:kiosk"
  reconnect_delay: "2s"
  request_timeout: "30s"

hook:
  url: "https://agent.example.net/hooks/chat"
  secret: "hook-secret"
  require_secret: true

mailbox:
  ttl: "60s"

widget:
  greeting: "Hello there"
  poll_interval: "500ms"
  poll_attempts: 10

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:18789/ws/gateway", cfg.Gateway.URL)
	assert.Equal(t, "widget-1", cfg.Gateway.ClientID)
	assert.Equal(t, 2*time.Second, cfg.Gateway.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.Gateway.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.Mailbox.TTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Widget.PollInterval)
	assert.Equal(t, 10, cfg.Widget.PollAttempts)
	assert.True(t, cfg.Hook.RequireSecret)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_CONCIERGE_TOKEN", "tok-from-env")

	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
gateway:
  url: "ws://localhost:18789/ws/gateway"
  token: "${TEST_CONCIERGE_TOKEN}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-from-env", cfg.Gateway.Token)
}

func TestLoad_EnvExpansion_Unset(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
gateway:
  token: "${TEST_CONCIERGE_DEFINITELY_UNSET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Gateway.Token)
}

func TestLoad_MissingHTTPAddr(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "info"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_addr")
}

func TestLoad_TailscaleRequiresHostname(t *testing.T) {
	path := writeConfig(t, `
tailscale:
  enabled: true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hostname")
}

func TestLoad_TailscaleWithoutHTTPAddr(t *testing.T) {
	// http_addr is optional when tailscale provides the listener
	path := writeConfig(t, `
tailscale:
  enabled: true
  hostname: "concierge"
`)

	_, err := Load(path)
	require.NoError(t, err)
}

func TestLoad_RequireSecretWithoutSecret(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
hook:
  url: "https://agent.example.net/hooks/chat"
  require_secret: true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook.secret")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
mailbox:
  ttl: "five minutes"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ttl")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
