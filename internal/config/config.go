// Package config loads the franz configuration file.
package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/franz/internal/backoff"
	"github.com/haasonsaas/franz/internal/tier"
)

// Config is the root configuration.
type Config struct {
	Version       int                 `yaml:"version"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Tiers         []tier.Definition   `yaml:"tiers"`
	Loop          LoopConfig          `yaml:"loop"`
	Decision      DecisionConfig      `yaml:"decision"`
	UI            UIConfig            `yaml:"ui"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Journal       JournalConfig       `yaml:"journal"`
	MCP           MCPConfig           `yaml:"mcp"`
}

// SandboxConfig bounds fragment execution.
type SandboxConfig struct {
	// Tier is the default trust tier.
	Tier            string        `yaml:"tier"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxTimeout      time.Duration `yaml:"max_timeout"`
	MaxOutputBytes  int           `yaml:"max_output_bytes"`
	MaxSteps        uint64        `yaml:"max_steps"` // zero leaves only the wall-clock limit
	MaxMemoryBytes  int64         `yaml:"max_memory_bytes"`
	ScratchDir      string        `yaml:"scratch_dir"`
	ScratchMaxBytes int64         `yaml:"scratch_max_bytes"`

	// Isolation is "process" to run each fragment in its own worker
	// process or "inprocess" to run it on a goroutine.
	Isolation string `yaml:"isolation"`
}

// Sandbox isolation modes.
const (
	IsolationProcess   = "process"
	IsolationInProcess = "inprocess"
)

// LoopConfig controls the Plan/Execute/Reflect loop.
type LoopConfig struct {
	MaxCycles          int           `yaml:"max_cycles"`
	FailurePolicy      string        `yaml:"failure_policy"`
	CycleDelay         time.Duration `yaml:"cycle_delay"`
	MaxWait            time.Duration `yaml:"max_wait"`
	PlanFailureDelay   time.Duration `yaml:"plan_failure_delay"`
	InitialObservation string        `yaml:"initial_observation"`

	// StopFile ends the run once it exists.
	StopFile string `yaml:"stop_file"`
}

// DecisionConfig selects the decision process.
type DecisionConfig struct {
	// Provider is openai, anthropic, bedrock or scripted.
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Region is used by bedrock.
	Region string `yaml:"region"`

	// Script is the YAML file replayed by the scripted provider.
	Script string `yaml:"script"`

	Timeout time.Duration  `yaml:"timeout"`
	Retry   backoff.Policy `yaml:"retry"`
}

// UIConfig selects the user-interface backend.
type UIConfig struct {
	// Backend is browser or log.
	Backend string        `yaml:"backend"`
	Browser BrowserConfig `yaml:"browser"`
}

// BrowserConfig configures the Chrome backend.
type BrowserConfig struct {
	RemoteURL      string        `yaml:"remote_url"`
	Headless       bool          `yaml:"headless"`
	StartURL       string        `yaml:"start_url"`
	ViewportWidth  int           `yaml:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height"`
	FrameWidth     int           `yaml:"frame_width"`
	FrameHeight    int           `yaml:"frame_height"`
	ActionTimeout  time.Duration `yaml:"action_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// File adds a JSON log sink alongside stderr.
	File string `yaml:"file"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// JournalConfig configures the cycle journal.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite file; empty keeps the journal in memory.
	Path string `yaml:"path"`
}

// MCPConfig configures the MCP server.
type MCPConfig struct {
	// Tier is the trust tier for fragments run over MCP.
	Tier string `yaml:"tier"`
}

// Load reads, merges, decodes, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	if cfg.Sandbox.Tier == "" {
		cfg.Sandbox.Tier = tier.Minimal
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 5 * time.Second
	}
	if cfg.Sandbox.MaxTimeout == 0 {
		cfg.Sandbox.MaxTimeout = 60 * time.Second
	}
	if cfg.Sandbox.MaxOutputBytes == 0 {
		cfg.Sandbox.MaxOutputBytes = 8 * 1024
	}
	if cfg.Sandbox.ScratchMaxBytes == 0 {
		cfg.Sandbox.ScratchMaxBytes = 1 << 20
	}
	if cfg.Sandbox.MaxMemoryBytes == 0 {
		cfg.Sandbox.MaxMemoryBytes = 512 << 20
	}
	if cfg.Sandbox.Isolation == "" {
		cfg.Sandbox.Isolation = IsolationProcess
	}

	if cfg.Loop.MaxCycles == 0 {
		cfg.Loop.MaxCycles = 50
	}
	if cfg.Loop.FailurePolicy == "" {
		cfg.Loop.FailurePolicy = "observe"
	}
	if cfg.Loop.CycleDelay == 0 {
		cfg.Loop.CycleDelay = 500 * time.Millisecond
	}
	if cfg.Loop.MaxWait == 0 {
		cfg.Loop.MaxWait = 10 * time.Second
	}
	if cfg.Loop.PlanFailureDelay == 0 {
		cfg.Loop.PlanFailureDelay = 2 * time.Second
	}

	if cfg.Decision.Provider == "" {
		cfg.Decision.Provider = "openai"
	}
	if cfg.Decision.Temperature == 0 {
		cfg.Decision.Temperature = 0.7
	}
	if cfg.Decision.TopP == 0 {
		cfg.Decision.TopP = 0.9
	}
	if cfg.Decision.MaxTokens == 0 {
		cfg.Decision.MaxTokens = 400
	}
	if cfg.Decision.Timeout == 0 {
		cfg.Decision.Timeout = 120 * time.Second
	}
	if cfg.Decision.Retry == (backoff.Policy{}) {
		cfg.Decision.Retry = backoff.DefaultPolicy()
	}

	if cfg.UI.Backend == "" {
		cfg.UI.Backend = "log"
	}
	if cfg.UI.Browser.ViewportWidth == 0 {
		cfg.UI.Browser.ViewportWidth = 1280
	}
	if cfg.UI.Browser.ViewportHeight == 0 {
		cfg.UI.Browser.ViewportHeight = 800
	}
	if cfg.UI.Browser.FrameWidth == 0 {
		cfg.UI.Browser.FrameWidth = 536
	}
	if cfg.UI.Browser.FrameHeight == 0 {
		cfg.UI.Browser.FrameHeight = 364
	}
	if cfg.UI.Browser.ActionTimeout == 0 {
		cfg.UI.Browser.ActionTimeout = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "franz"
	}
	if cfg.Observability.Tracing.SampleRate == 0 {
		cfg.Observability.Tracing.SampleRate = 1
	}

	if cfg.MCP.Tier == "" {
		cfg.MCP.Tier = cfg.Sandbox.Tier
	}
}
