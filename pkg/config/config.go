// Package config loads and validates the YAML configuration for a conductor
// deployment: provider endpoints, resilience tuning, agents, and run policy.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds understood by the endpoint factory.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
)

// Config is the root configuration document.
type Config struct {
	Endpoints  []Endpoint    `yaml:"endpoints"`
	Agents     []Agent       `yaml:"agents"`
	Resilience Resilience    `yaml:"resilience"`
	Run        Run           `yaml:"run"`
	Tools      ToolsConfig   `yaml:"tools"`
	Storage    Storage       `yaml:"storage"`
	Metrics    MetricsConfig `yaml:"metrics"`
}

// Endpoint declares one routable provider backend.
type Endpoint struct {
	// ID uniquely names the endpoint; referenced by agents and limits.
	ID string `yaml:"id"`
	// Provider is one of anthropic, openai, ollama, google.
	Provider string `yaml:"provider"`
	// Model is the provider-specific model name.
	Model string `yaml:"model"`
	// APIKey supports ${ENV_VAR} expansion.
	APIKey string `yaml:"api_key"`
	// Host is the server URL for self-hosted providers (ollama).
	Host string `yaml:"host"`
	// Capabilities advertises routing tags (e.g. tools, long-context).
	Capabilities []string `yaml:"capabilities"`
	// MaxTPM caps tokens per minute client-side; zero disables.
	MaxTPM int `yaml:"max_tpm"`
	// DailyBudgetUSD caps daily spend; zero disables.
	DailyBudgetUSD float64 `yaml:"daily_budget_usd"`
	// CostPerMTokUSD is the blended cost per million tokens for budgeting.
	CostPerMTokUSD float64 `yaml:"cost_per_mtok_usd"`
	// Health overrides circuit thresholds for this endpoint.
	Health *Health `yaml:"health"`
}

// Health tunes the endpoint circuit machine.
type Health struct {
	DegradeThreshold int           `yaml:"degrade_threshold"`
	OpenThreshold    int           `yaml:"open_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// Resilience tunes the request executor.
type Resilience struct {
	CallTimeout            time.Duration `yaml:"call_timeout"`
	MaxAttemptsPerEndpoint int           `yaml:"max_attempts_per_endpoint"`
	Hedging                bool          `yaml:"hedging"`
	HedgeDelay             time.Duration `yaml:"hedge_delay"`
}

// Agent declares one conversation participant.
type Agent struct {
	ID                   string   `yaml:"id"`
	Role                 string   `yaml:"role"`
	SystemPrompt         string   `yaml:"system_prompt"`
	Tools                []string `yaml:"tools"`
	RequiredCapabilities []string `yaml:"required_capabilities"`
	PreferEndpoint       string   `yaml:"prefer_endpoint"`
	MaxTokens            int      `yaml:"max_tokens"`
	Temperature          float32  `yaml:"temperature"`
	CanVote              bool     `yaml:"can_vote"`
}

// Run configures the conversation loop.
type Run struct {
	// Speaker is round_robin (default); selector requires code wiring.
	Speaker string `yaml:"speaker"`
	// Termination is unanimous (default), any, or terminator.
	Termination string `yaml:"termination"`
	// Terminator names the designated agent for terminator mode.
	Terminator string `yaml:"terminator"`
	// MaxTurns caps agent turns.
	MaxTurns int `yaml:"max_turns"`
	// MaxWallClock caps run duration.
	MaxWallClock time.Duration `yaml:"max_wall_clock"`
	// MaxContextTokens is the per-turn context budget.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// ToolsConfig configures the tool executor.
type ToolsConfig struct {
	// WorkDir roots file access for the content extraction tool.
	WorkDir string `yaml:"work_dir"`
	// ExecTimeout bounds one tool execution.
	ExecTimeout time.Duration `yaml:"exec_timeout"`
	// ExtractMaxTokens caps extracted document size.
	ExtractMaxTokens int `yaml:"extract_max_tokens"`
}

// Storage configures persistence and event logging.
type Storage struct {
	// DBPath is the SQLite file; empty disables persistence.
	DBPath string `yaml:"db_path"`
	// EventLogDir holds JSONL event logs; empty disables.
	EventLogDir string `yaml:"event_log_dir"`
}

// MetricsConfig toggles Prometheus recording.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads, expands, and validates the configuration file. API key fields
// support ${ENV_VAR} references resolved at load time.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	for i := range cfg.Endpoints {
		cfg.Endpoints[i].APIKey = os.ExpandEnv(cfg.Endpoints[i].APIKey)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-references and required fields.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	endpointIDs := make(map[string]bool, len(c.Endpoints))
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.ID == "" {
			return fmt.Errorf("endpoint %d: id is required", i)
		}
		if endpointIDs[ep.ID] {
			return fmt.Errorf("duplicate endpoint id %q", ep.ID)
		}
		endpointIDs[ep.ID] = true

		switch ep.Provider {
		case ProviderAnthropic, ProviderOpenAI, ProviderGoogle:
			if ep.APIKey == "" {
				return fmt.Errorf("endpoint %s: api_key is required for provider %s", ep.ID, ep.Provider)
			}
		case ProviderOllama:
			// Local provider needs no key.
		default:
			return fmt.Errorf("endpoint %s: unknown provider %q", ep.ID, ep.Provider)
		}
		if ep.Model == "" {
			return fmt.Errorf("endpoint %s: model is required", ep.ID)
		}
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	agentIDs := make(map[string]bool, len(c.Agents))
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.ID == "" {
			return fmt.Errorf("agent %d: id is required", i)
		}
		if agentIDs[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		agentIDs[a.ID] = true
		if a.PreferEndpoint != "" && !endpointIDs[a.PreferEndpoint] {
			return fmt.Errorf("agent %s: prefer_endpoint %q is not a configured endpoint", a.ID, a.PreferEndpoint)
		}
	}

	switch c.Run.Termination {
	case "", "unanimous", "any":
	case "terminator":
		if c.Run.Terminator == "" {
			return fmt.Errorf("run.terminator is required for terminator mode")
		}
		if !agentIDs[c.Run.Terminator] {
			return fmt.Errorf("run.terminator %q is not a configured agent", c.Run.Terminator)
		}
	default:
		return fmt.Errorf("unknown termination mode %q", c.Run.Termination)
	}

	switch c.Run.Speaker {
	case "", "round_robin":
	default:
		return fmt.Errorf("unknown speaker policy %q", c.Run.Speaker)
	}

	return nil
}
