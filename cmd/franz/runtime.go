package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/franz/internal/agent"
	"github.com/haasonsaas/franz/internal/capability"
	"github.com/haasonsaas/franz/internal/config"
	"github.com/haasonsaas/franz/internal/decision"
	"github.com/haasonsaas/franz/internal/journal"
	"github.com/haasonsaas/franz/internal/observability"
	"github.com/haasonsaas/franz/internal/sandbox"
	"github.com/haasonsaas/franz/internal/tier"
)

// loadConfig resolves the configuration path from the flag, FRANZ_CONFIG or
// the default name. A missing default file yields the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv("FRANZ_CONFIG"))
		explicit = path != ""
	}
	if !explicit {
		path = defaultConfigPath
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// runtime is the sandbox stack every command shares.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *capability.Registry
	tiers    *tier.Resolver
	exec     *sandbox.Executor
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer

	closers []io.Closer
}

func newRuntime(cfg *config.Config, logOutput io.Writer) (*runtime, error) {
	logger, logCloser, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOutput,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	reg := prometheus.NewRegistry()
	rt.metrics = observability.NewMetrics(reg)
	rt.gatherer = reg

	rt.registry, err = capability.Defaults(capability.Options{
		ScratchDir:      cfg.Sandbox.ScratchDir,
		ScratchMaxBytes: cfg.Sandbox.ScratchMaxBytes,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("capability registry: %w", err)
	}
	rt.registry.Seal()

	defs := cfg.Tiers
	if len(defs) == 0 {
		defs = tier.DefaultDefinitions()
	}
	rt.tiers, err = tier.NewResolver(rt.registry, defs)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("tier mapping: %w", err)
	}
	if _, err := rt.tiers.Resolve(cfg.Sandbox.Tier); err != nil {
		rt.Close()
		return nil, fmt.Errorf("sandbox.tier: %w", err)
	}

	opts := []sandbox.Option{
		sandbox.WithDefaultTier(cfg.Sandbox.Tier),
		sandbox.WithDefaultTimeout(cfg.Sandbox.Timeout),
		sandbox.WithMaxTimeout(cfg.Sandbox.MaxTimeout),
		sandbox.WithMaxOutputBytes(cfg.Sandbox.MaxOutputBytes),
		sandbox.WithMaxSteps(cfg.Sandbox.MaxSteps),
		sandbox.WithMaxMemoryBytes(cfg.Sandbox.MaxMemoryBytes),
		sandbox.WithLogger(logger),
		sandbox.WithObserver(rt.metrics),
	}
	if cfg.Sandbox.Isolation == config.IsolationProcess {
		self, err := os.Executable()
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("sandbox worker: %w", err)
		}
		opts = append(opts, sandbox.WithProcessIsolation(sandbox.Worker{
			Path: self,
			Capabilities: capability.Options{
				ScratchDir:      cfg.Sandbox.ScratchDir,
				ScratchMaxBytes: cfg.Sandbox.ScratchMaxBytes,
			},
		}))
	}
	rt.exec, err = sandbox.NewExecutor(rt.registry, rt.tiers, opts...)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	return rt, nil
}

// Close releases everything the runtime opened, last first.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil && rt.logger != nil {
			rt.logger.Warn("close failed", "error", err)
		}
	}
	rt.closers = nil
}

func (rt *runtime) onClose(c io.Closer) {
	rt.closers = append(rt.closers, c)
}

// buildDecision builds the configured decision process.
func buildDecision(ctx context.Context, cfg config.DecisionConfig, logger *slog.Logger) (agent.DecisionProcess, error) {
	sampling := decision.Sampling{
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
	}

	var model decision.Model
	switch cfg.Provider {
	case "scripted":
		script, err := decision.LoadScript(cfg.Script)
		if err != nil {
			return nil, err
		}
		return decision.NewScripted(script), nil
	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		model = decision.NewOpenAIModel(decision.OpenAIConfig{
			BaseURL:  cfg.BaseURL,
			APIKey:   apiKey,
			Model:    cfg.Model,
			Sampling: sampling,
			Timeout:  cfg.Timeout,
		})
	case "anthropic":
		m, err := decision.NewAnthropicModel(decision.AnthropicConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Sampling: sampling,
		})
		if err != nil {
			return nil, err
		}
		model = m
	case "bedrock":
		m, err := decision.NewBedrockModel(ctx, decision.BedrockConfig{
			Region:   cfg.Region,
			Model:    cfg.Model,
			Sampling: sampling,
		})
		if err != nil {
			return nil, err
		}
		model = m
	default:
		return nil, fmt.Errorf("unknown decision provider %q", cfg.Provider)
	}

	proc, err := decision.NewProcess(model,
		decision.WithRetryPolicy(cfg.Retry),
		decision.WithProcessLogger(logger.With("component", "decision")),
	)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// openJournal opens the cycle journal, or returns nil when it is disabled.
func openJournal(ctx context.Context, cfg config.JournalConfig) (journal.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Path == "" {
		return journal.NewMemoryStore(), nil
	}
	store, err := journal.OpenSQLite(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}
	return store, nil
}
