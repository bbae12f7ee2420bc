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
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
endpoints:
  - id: claude-primary
    provider: anthropic
    model: claude-sonnet-4-20250514
    api_key: ${TEST_ANTHROPIC_KEY}
    capabilities: [chat, tools]
    max_tpm: 80000
    daily_budget_usd: 25.0
    cost_per_mtok_usd: 9.0
  - id: local-llama
    provider: ollama
    model: llama3.2
    host: http://localhost:11434
    capabilities: [chat]
agents:
  - id: researcher
    role: researcher
    system_prompt: You research things.
    tools: [extract_content]
    prefer_endpoint: claude-primary
    can_vote: true
run:
  termination: any
  max_turns: 12
  max_wall_clock: 5m
storage:
  db_path: /tmp/conductor.db
metrics:
  enabled: true
`

func TestLoadValid(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-test-123")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, "sk-test-123", cfg.Endpoints[0].APIKey)
	assert.Equal(t, []string{"chat", "tools"}, cfg.Endpoints[0].Capabilities)
	assert.Equal(t, 80000, cfg.Endpoints[0].MaxTPM)
	assert.InDelta(t, 25.0, cfg.Endpoints[0].DailyBudgetUSD, 0.001)

	assert.Equal(t, ProviderOllama, cfg.Endpoints[1].Provider)
	assert.Empty(t, cfg.Endpoints[1].APIKey)

	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "claude-primary", cfg.Agents[0].PreferEndpoint)
	assert.True(t, cfg.Agents[0].CanVote)

	assert.Equal(t, "any", cfg.Run.Termination)
	assert.Equal(t, 12, cfg.Run.MaxTurns)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "endpoints: [\n"))
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	base := func() *Config {
		return &Config{
			Endpoints: []Endpoint{
				{ID: "ep1", Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514", APIKey: "k"},
			},
			Agents: []Agent{{ID: "a1"}},
		}
	}

	t.Run("valid baseline", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("no endpoints", func(t *testing.T) {
		cfg := base()
		cfg.Endpoints = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("duplicate endpoint id", func(t *testing.T) {
		cfg := base()
		cfg.Endpoints = append(cfg.Endpoints, cfg.Endpoints[0])
		assert.ErrorContains(t, cfg.Validate(), "duplicate endpoint")
	})

	t.Run("missing api key", func(t *testing.T) {
		cfg := base()
		cfg.Endpoints[0].APIKey = ""
		assert.ErrorContains(t, cfg.Validate(), "api_key")
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := base()
		cfg.Endpoints[0].Provider = "cohere"
		assert.ErrorContains(t, cfg.Validate(), "unknown provider")
	})

	t.Run("missing model", func(t *testing.T) {
		cfg := base()
		cfg.Endpoints[0].Model = ""
		assert.ErrorContains(t, cfg.Validate(), "model")
	})

	t.Run("no agents", func(t *testing.T) {
		cfg := base()
		cfg.Agents = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("duplicate agent id", func(t *testing.T) {
		cfg := base()
		cfg.Agents = append(cfg.Agents, cfg.Agents[0])
		assert.ErrorContains(t, cfg.Validate(), "duplicate agent")
	})

	t.Run("dangling prefer_endpoint", func(t *testing.T) {
		cfg := base()
		cfg.Agents[0].PreferEndpoint = "ghost"
		assert.ErrorContains(t, cfg.Validate(), "prefer_endpoint")
	})

	t.Run("terminator without agent", func(t *testing.T) {
		cfg := base()
		cfg.Run.Termination = "terminator"
		assert.ErrorContains(t, cfg.Validate(), "terminator")

		cfg.Run.Terminator = "ghost"
		assert.ErrorContains(t, cfg.Validate(), "not a configured agent")

		cfg.Run.Terminator = "a1"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown termination mode", func(t *testing.T) {
		cfg := base()
		cfg.Run.Termination = "majority"
		assert.ErrorContains(t, cfg.Validate(), "termination")
	})

	t.Run("unknown speaker policy", func(t *testing.T) {
		cfg := base()
		cfg.Run.Speaker = "random"
		assert.ErrorContains(t, cfg.Validate(), "speaker")
	})
}
