package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/soyeahso/handoff/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 18790, cfg.Server.Port)
	assert.Equal(t, "loopback", cfg.Server.Bind)
	assert.Equal(t, 900, cfg.Server.MaxStreamSeconds)
	assert.Equal(t, 30, cfg.Server.KeepAliveSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.PubSub.Driver)
	assert.Equal(t, 720, cfg.Token.TTLMinutes)
	assert.Equal(t, 30, cfg.Availability.CacheSeconds)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, 18790, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("TEST_FRONT_SECRET", "front-shh")
	t.Setenv("TEST_TOKEN_SECRET", "token-shh")

	yaml := `
server:
  port: 9999
  bind: lan
  allowedOrigins:
    - https://shop.example.com
logging:
  level: debug
  consoleStyle: json
token:
  secret: ${TEST_TOKEN_SECRET}
agents:
  - id: agent-1
    organizationId: org-1
    handoff:
      type: front
      connectingMessage: Connecting you to a human
      customFields:
        - name: orderId
          label: Order number
          required: true
      availabilityCheck: true
      front:
        appId: app-1
        appSecret: ${TEST_FRONT_SECRET}
        channelId: cha_1
        apiToken: core-token
        shifts: [Support, Weekend]
  - id: agent-2
    organizationId: org-1
    handoff:
      type: salesforce
      salesforce:
        baseUrl: https://d.la1.salesforceliveagent.com/chat/rest
        organizationId: 00D
        deploymentId: "572"
        chatButtonId: "573"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "lan", cfg.Server.Bind)
	assert.Equal(t, 900, cfg.Server.MaxStreamSeconds)
	assert.Equal(t, []string{"https://shop.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "token-shh", cfg.Token.Secret)

	require.Len(t, cfg.Agents, 2)
	front := cfg.Agents[0].Handoff
	assert.Equal(t, domain.HandoffFront, front.Type)
	require.NotNil(t, front.Front)
	assert.Equal(t, "front-shh", front.Front.AppSecret)
	assert.Equal(t, []string{"Support", "Weekend"}, front.Front.Shifts)
	require.Len(t, front.CustomFields, 1)
	assert.True(t, front.CustomFields[0].Required)

	sf := cfg.Agents[1].Handoff.Salesforce
	require.NotNil(t, sf)
	assert.Equal(t, "59", sf.APIVersion, "api version defaulted")
	assert.Equal(t, "572", sf.DeploymentID)

	assert.Empty(t, Validate(&cfg))
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HANDOFF_PORT", "12345")
	t.Setenv("HANDOFF_LOG_LEVEL", "TRACE")
	t.Setenv("HANDOFF_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("HANDOFF_DATABASE_DSN", "postgres://u:p@localhost/handoff")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Server.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "redis", cfg.PubSub.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.PubSub.URL)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestExpandEnvVarsLeavesUnsetReferences(t *testing.T) {
	assert.Equal(t, "${HANDOFF_TEST_UNSET_VAR}", expandEnvVars("${HANDOFF_TEST_UNSET_VAR}"))
	t.Setenv("HANDOFF_TEST_SET_VAR", "x")
	assert.Equal(t, "a-x-b", expandEnvVars("a-${HANDOFF_TEST_SET_VAR}-b"))
}

func TestAgentLookup(t *testing.T) {
	cfg := Defaults()
	cfg.Agents = []AgentConfig{{ID: "a"}, {ID: "b", OrganizationID: "org"}}

	agent, ok := cfg.Agent("b")
	require.True(t, ok)
	assert.Equal(t, "org", agent.OrganizationID)

	_, ok = cfg.Agent("missing")
	assert.False(t, ok)
}

func TestClientSafeOmitsSecrets(t *testing.T) {
	h := HandoffConfig{
		Type:                   domain.HandoffZendesk,
		ConnectingMessage:      "hold on",
		TerminatingMessageText: "bye now",
		CustomFields:           []CustomField{{Name: "plan"}},
		AvailabilityCheck:      true,
		Zendesk: &ZendeskConfig{
			AppID:  "app",
			KeyID:  "key",
			Secret: "very-secret",
		},
	}

	safe := h.ClientSafe()
	assert.Equal(t, domain.HandoffZendesk, safe.Type)
	assert.Equal(t, "bye now", safe.TerminatingMessageText)
	assert.True(t, safe.AvailabilityCheck)

	data, err := json.Marshal(safe)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "very-secret")
	assert.NotContains(t, string(data), "key")

	// The projection owns its slice.
	safe.CustomFields[0].Name = "changed"
	assert.Equal(t, "plan", h.CustomFields[0].Name)
}

func TestGetSetValueAtPath(t *testing.T) {
	root := map[string]any{
		"server": map[string]any{
			"port": 18790,
		},
	}

	val, ok := GetValueAtPath(root, []string{"server", "port"})
	assert.True(t, ok)
	assert.Equal(t, 18790, val)

	_, ok = GetValueAtPath(root, []string{"server", "missing"})
	assert.False(t, ok)

	require.NoError(t, SetValueAtPath(root, []string{"pubsub", "driver"}, "redis"))
	val, ok = GetValueAtPath(root, []string{"pubsub", "driver"})
	assert.True(t, ok)
	assert.Equal(t, "redis", val)
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"server": map[string]any{
			"port": 9999,
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"server", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}
