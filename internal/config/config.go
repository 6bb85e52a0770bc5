package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/ergon/internal/models"
)

// FlowSettings holds the defaults for every flow run.
type FlowSettings struct {
	// Type is the default flow type (planning, simple)
	Type string `yaml:"type"`

	// MaxSteps caps the number of steps a plan may have (0 = plan length)
	MaxSteps int `yaml:"max_steps"`

	// StepTimeout is the deadline for one step attempt (0 = none)
	StepTimeout time.Duration `yaml:"step_timeout"`

	// FlowTimeout is the deadline for a whole run (0 = none)
	FlowTimeout time.Duration `yaml:"flow_timeout"`

	// MaxRetriesPerStep is the number of retries after the first attempt
	MaxRetriesPerStep int `yaml:"max_retries_per_step"`

	// RetryDelay is the first wait before re-routing a step that found no agent
	RetryDelay time.Duration `yaml:"retry_delay"`

	// FailurePolicy is stop-on-failure or continue-on-failure
	FailurePolicy string `yaml:"failure_policy"`

	// TimeoutAction is log, alarm or kill
	TimeoutAction string `yaml:"timeout_action"`
}

// StoreConfig controls report persistence.
type StoreConfig struct {
	// Enabled turns the SQLite report history on
	Enabled bool `yaml:"enabled"`

	// DBPath is the SQLite database file
	DBPath string `yaml:"db_path"`

	// ArchiveDir receives one JSON file per report; empty disables the archive
	ArchiveDir string `yaml:"archive_dir"`
}

// LLMConfig configures the chat model used for planning and for agents
// without a command.
type LLMConfig struct {
	// Provider selects the client; only "openai" (and compatible endpoints) is supported
	Provider string `yaml:"provider"`

	// Model is the default model name
	Model string `yaml:"model"`

	// BaseURL overrides the API endpoint for OpenAI-compatible servers
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `yaml:"api_key_env"`

	// RequestsPerMinute throttles model calls across all flows (0 = unlimited)
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Config represents ergon configuration options
type Config struct {
	Flow FlowSettings `yaml:"flow"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written
	LogDir string `yaml:"log_dir"`

	// AgentsDir holds the agent definition files
	AgentsDir string `yaml:"agents_dir"`

	// MaxConcurrentFlows bounds how many goals run at once
	MaxConcurrentFlows int `yaml:"max_concurrent_flows"`

	Store StoreConfig `yaml:"store"`
	LLM   LLMConfig   `yaml:"llm"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Flow: FlowSettings{
			Type:              string(models.FlowPlanning),
			MaxSteps:          30,
			StepTimeout:       5 * time.Minute,
			FlowTimeout:       0,
			MaxRetriesPerStep: 1,
			RetryDelay:        time.Second,
			FailurePolicy:     string(models.StopOnFailure),
			TimeoutAction:     string(models.TimeoutLog),
		},
		LogLevel:           "info",
		LogDir:             ".ergon/logs",
		AgentsDir:          ".ergon/agents",
		MaxConcurrentFlows: 4,
		Store: StoreConfig{
			Enabled:    true,
			DBPath:     ".ergon/reports.db",
			ArchiveDir: "",
		},
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			RequestsPerMinute: 60,
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// A missing file yields the defaults; a malformed file is an error.
// Only keys present in the file override defaults, so an explicit zero or
// false is honoured.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are strings in the file.
	type yamlFlow struct {
		Type              string `yaml:"type"`
		MaxSteps          int    `yaml:"max_steps"`
		StepTimeout       string `yaml:"step_timeout"`
		FlowTimeout       string `yaml:"flow_timeout"`
		MaxRetriesPerStep int    `yaml:"max_retries_per_step"`
		RetryDelay        string `yaml:"retry_delay"`
		FailurePolicy     string `yaml:"failure_policy"`
		TimeoutAction     string `yaml:"timeout_action"`
	}
	type yamlConfig struct {
		Flow               yamlFlow    `yaml:"flow"`
		LogLevel           string      `yaml:"log_level"`
		LogDir             string      `yaml:"log_dir"`
		AgentsDir          string      `yaml:"agents_dir"`
		MaxConcurrentFlows int         `yaml:"max_concurrent_flows"`
		Store              StoreConfig `yaml:"store"`
		LLM                LLMConfig   `yaml:"llm"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if has(raw, "log_level") {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if has(raw, "log_dir") {
		cfg.LogDir = yamlCfg.LogDir
	}
	if has(raw, "agents_dir") {
		cfg.AgentsDir = yamlCfg.AgentsDir
	}
	if has(raw, "max_concurrent_flows") {
		cfg.MaxConcurrentFlows = yamlCfg.MaxConcurrentFlows
	}

	if flow := section(raw, "flow"); flow != nil {
		f := yamlCfg.Flow
		if has(flow, "type") {
			cfg.Flow.Type = f.Type
		}
		if has(flow, "max_steps") {
			cfg.Flow.MaxSteps = f.MaxSteps
		}
		if has(flow, "step_timeout") {
			d, err := parseDuration("flow.step_timeout", f.StepTimeout)
			if err != nil {
				return nil, err
			}
			cfg.Flow.StepTimeout = d
		}
		if has(flow, "flow_timeout") {
			d, err := parseDuration("flow.flow_timeout", f.FlowTimeout)
			if err != nil {
				return nil, err
			}
			cfg.Flow.FlowTimeout = d
		}
		if has(flow, "max_retries_per_step") {
			cfg.Flow.MaxRetriesPerStep = f.MaxRetriesPerStep
		}
		if has(flow, "retry_delay") {
			d, err := parseDuration("flow.retry_delay", f.RetryDelay)
			if err != nil {
				return nil, err
			}
			cfg.Flow.RetryDelay = d
		}
		if has(flow, "failure_policy") {
			cfg.Flow.FailurePolicy = f.FailurePolicy
		}
		if has(flow, "timeout_action") {
			cfg.Flow.TimeoutAction = f.TimeoutAction
		}
	}

	if store := section(raw, "store"); store != nil {
		s := yamlCfg.Store
		if has(store, "enabled") {
			cfg.Store.Enabled = s.Enabled
		}
		if has(store, "db_path") {
			cfg.Store.DBPath = s.DBPath
		}
		if has(store, "archive_dir") {
			cfg.Store.ArchiveDir = s.ArchiveDir
		}
	}

	if llm := section(raw, "llm"); llm != nil {
		l := yamlCfg.LLM
		if has(llm, "provider") {
			cfg.LLM.Provider = l.Provider
		}
		if has(llm, "model") {
			cfg.LLM.Model = l.Model
		}
		if has(llm, "base_url") {
			cfg.LLM.BaseURL = l.BaseURL
		}
		if has(llm, "api_key_env") {
			cfg.LLM.APIKeyEnv = l.APIKeyEnv
		}
		if has(llm, "requests_per_minute") {
			cfg.LLM.RequestsPerMinute = l.RequestsPerMinute
		}
	}

	return cfg, nil
}

func has(m map[string]interface{}, key string) bool {
	_, ok := m[key]
	return ok
}

func section(raw map[string]interface{}, key string) map[string]interface{} {
	m, _ := raw[key].(map[string]interface{})
	return m
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format %q: %w", key, value, err)
	}
	return d, nil
}

// LoadConfigFromDir loads configuration from .ergon/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".ergon", "config.yaml"))
}

// Overrides carries CLI flag values. Nil fields leave the configuration untouched.
type Overrides struct {
	FlowType          *string
	MaxSteps          *int
	StepTimeout       *time.Duration
	FlowTimeout       *time.Duration
	MaxRetriesPerStep *int
	RetryDelay        *time.Duration
	ContinueOnFailure *bool
	TimeoutAction     *string
	LogDir            *string
	LogLevel          *string
}

// MergeWithFlags merges CLI flags into the configuration.
// CLI flags take precedence over config file settings.
func (c *Config) MergeWithFlags(o Overrides) {
	if o.FlowType != nil {
		c.Flow.Type = *o.FlowType
	}
	if o.MaxSteps != nil {
		c.Flow.MaxSteps = *o.MaxSteps
	}
	if o.StepTimeout != nil {
		c.Flow.StepTimeout = *o.StepTimeout
	}
	if o.FlowTimeout != nil {
		c.Flow.FlowTimeout = *o.FlowTimeout
	}
	if o.RetryDelay != nil {
		c.Flow.RetryDelay = *o.RetryDelay
	}
	if o.MaxRetriesPerStep != nil {
		c.Flow.MaxRetriesPerStep = *o.MaxRetriesPerStep
	}
	if o.ContinueOnFailure != nil {
		if *o.ContinueOnFailure {
			c.Flow.FailurePolicy = string(models.ContinueOnFailure)
		} else {
			c.Flow.FailurePolicy = string(models.StopOnFailure)
		}
	}
	if o.TimeoutAction != nil {
		c.Flow.TimeoutAction = *o.TimeoutAction
	}
	if o.LogDir != nil {
		c.LogDir = *o.LogDir
	}
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
}

// Validate validates the configuration values.
// An unknown timeout_action is not an error: the flow falls back to log with a warning.
func (c *Config) Validate() error {
	if _, err := models.ParseFlowType(c.Flow.Type); err != nil {
		return fmt.Errorf("flow.type: %w", err)
	}
	if c.Flow.MaxSteps < 0 {
		return fmt.Errorf("flow.max_steps must be >= 0, got %d", c.Flow.MaxSteps)
	}
	if c.Flow.StepTimeout < 0 {
		return fmt.Errorf("flow.step_timeout must be >= 0, got %v", c.Flow.StepTimeout)
	}
	if c.Flow.FlowTimeout < 0 {
		return fmt.Errorf("flow.flow_timeout must be >= 0, got %v", c.Flow.FlowTimeout)
	}
	if c.Flow.MaxRetriesPerStep < 0 {
		return fmt.Errorf("flow.max_retries_per_step must be >= 0, got %d", c.Flow.MaxRetriesPerStep)
	}
	if c.Flow.RetryDelay < 0 {
		return fmt.Errorf("flow.retry_delay must be >= 0, got %v", c.Flow.RetryDelay)
	}
	if _, err := models.ParseFailurePolicy(c.Flow.FailurePolicy); err != nil {
		return fmt.Errorf("flow.failure_policy: %w", err)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.MaxConcurrentFlows < 1 {
		return fmt.Errorf("max_concurrent_flows must be >= 1, got %d", c.MaxConcurrentFlows)
	}

	if c.Store.Enabled && c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path cannot be empty when the store is enabled")
	}

	if c.LLM.Provider != "" && c.LLM.Provider != "openai" {
		return fmt.Errorf("invalid llm.provider %q, must be: openai", c.LLM.Provider)
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must be >= 0, got %d", c.LLM.RequestsPerMinute)
	}

	return nil
}

// FlowConfig converts the flow settings into the controller's configuration.
// Call Validate first; invalid values are passed through for the controller to reject.
func (c *Config) FlowConfig() models.FlowConfig {
	policy, err := models.ParseFailurePolicy(c.Flow.FailurePolicy)
	if err != nil {
		policy = models.FailurePolicy(c.Flow.FailurePolicy)
	}
	return models.FlowConfig{
		MaxSteps:          c.Flow.MaxSteps,
		PerStepTimeout:    c.Flow.StepTimeout,
		FlowTimeout:       c.Flow.FlowTimeout,
		MaxRetriesPerStep: c.Flow.MaxRetriesPerStep,
		RetryDelay:        c.Flow.RetryDelay,
		FailurePolicy:     policy,
		TimeoutAction:     models.TimeoutAction(c.Flow.TimeoutAction),
	}
}

// FlowType returns the configured default flow type.
func (c *Config) FlowType() models.FlowType {
	t, err := models.ParseFlowType(c.Flow.Type)
	if err != nil {
		return models.FlowType(c.Flow.Type)
	}
	return t
}
