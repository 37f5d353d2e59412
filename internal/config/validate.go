package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return ""
	}
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// Validate checks a defaulted configuration. Tier names are checked
// against the tier mapping later, when the resolver is built.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Issues: []string{"config is nil"}}
	}
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		add("version: %v", err)
	}

	s := cfg.Sandbox
	if s.Timeout < 0 || s.MaxTimeout < 0 {
		add("sandbox.timeout and sandbox.max_timeout must not be negative")
	}
	if s.MaxTimeout > 0 && s.Timeout > s.MaxTimeout {
		add("sandbox.timeout (%s) exceeds sandbox.max_timeout (%s)", s.Timeout, s.MaxTimeout)
	}
	if s.MaxOutputBytes < 0 {
		add("sandbox.max_output_bytes must not be negative")
	}
	if s.ScratchMaxBytes < 0 {
		add("sandbox.scratch_max_bytes must not be negative")
	}
	if s.MaxMemoryBytes < 0 {
		add("sandbox.max_memory_bytes must not be negative")
	}
	switch s.Isolation {
	case IsolationProcess, IsolationInProcess:
	default:
		add("sandbox.isolation must be %q or %q, got %q", IsolationProcess, IsolationInProcess, s.Isolation)
	}

	seen := map[string]bool{}
	for i, def := range cfg.Tiers {
		name := strings.ToLower(strings.TrimSpace(def.Name))
		if name == "" {
			add("tiers[%d].name is required", i)
			continue
		}
		if seen[name] {
			add("tiers[%d].name %q is duplicated", i, def.Name)
		}
		seen[name] = true
	}

	l := cfg.Loop
	if l.MaxCycles < 0 {
		add("loop.max_cycles must not be negative")
	}
	switch l.FailurePolicy {
	case "observe", "terminate":
	default:
		add("loop.failure_policy must be observe or terminate, got %q", l.FailurePolicy)
	}
	if l.CycleDelay < 0 || l.MaxWait < 0 || l.PlanFailureDelay < 0 {
		add("loop delays must not be negative")
	}

	d := cfg.Decision
	switch d.Provider {
	case "openai":
		if d.BaseURL != "" {
			if _, err := url.ParseRequestURI(d.BaseURL); err != nil {
				add("decision.base_url: %v", err)
			}
		}
	case "anthropic":
		if strings.TrimSpace(d.APIKey) == "" {
			add("decision.api_key is required for provider anthropic")
		}
	case "bedrock":
	case "scripted":
		if strings.TrimSpace(d.Script) == "" {
			add("decision.script is required for provider scripted")
		}
	default:
		add("decision.provider must be openai, anthropic, bedrock or scripted, got %q", d.Provider)
	}
	if d.Temperature < 0 || d.Temperature > 2 {
		add("decision.temperature must be within 0..2")
	}
	if d.TopP < 0 || d.TopP > 1 {
		add("decision.top_p must be within 0..1")
	}
	if d.MaxTokens < 0 {
		add("decision.max_tokens must not be negative")
	}
	if d.Retry.Attempts < 0 {
		add("decision.retry.attempts must not be negative")
	}

	switch cfg.UI.Backend {
	case "log", "browser":
	default:
		add("ui.backend must be browser or log, got %q", cfg.UI.Backend)
	}
	b := cfg.UI.Browser
	if b.ViewportWidth < 0 || b.ViewportHeight < 0 || b.FrameWidth < 0 || b.FrameHeight < 0 {
		add("ui.browser sizes must not be negative")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format must be text or json, got %q", cfg.Logging.Format)
	}

	t := cfg.Observability.Tracing
	if t.Enabled && strings.TrimSpace(t.Endpoint) == "" {
		add("observability.tracing.endpoint is required when tracing is enabled")
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		add("observability.tracing.sample_rate must be within 0..1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
