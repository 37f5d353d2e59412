package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/franz/internal/agent"
	"github.com/haasonsaas/franz/internal/config"
	"github.com/haasonsaas/franz/internal/decision"
	"github.com/haasonsaas/franz/internal/mcp"
	"github.com/haasonsaas/franz/internal/narrative"
	"github.com/haasonsaas/franz/internal/observability"
	"github.com/haasonsaas/franz/internal/sandbox"
	"github.com/haasonsaas/franz/internal/ui"
)

// runLoop handles the run command.
func runLoop(cmd *cobra.Command, flags runFlags) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg, flags)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	rt, err := newRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracing, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       tracingEndpoint(cfg.Observability.Tracing),
		SamplingRate:   cfg.Observability.Tracing.SampleRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		shutdownMetrics, err := serveMetrics(addr, rt)
		if err != nil {
			return err
		}
		defer shutdownMetrics()
	}

	decider, err := buildDecision(ctx, cfg.Decision, logger)
	if err != nil {
		return fmt.Errorf("decision: %w", err)
	}

	backend, err := ui.New(ctx, ui.Config{
		Backend: cfg.UI.Backend,
		Browser: ui.BrowserConfig(cfg.UI.Browser),
	}, logger)
	if err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	rt.onClose(backend)

	runID := uuid.NewString()
	opts := []agent.Option{
		agent.WithLogger(logger),
		agent.WithMetrics(rt.metrics),
		agent.WithTracer(tracer.Tracer()),
		agent.WithRunID(runID),
	}

	store, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if store != nil {
		rt.onClose(store)
		opts = append(opts, agent.WithJournal(store))
	}

	if cfg.Loop.StopFile != "" {
		stopCh, err := agent.WatchStopFile(ctx, cfg.Loop.StopFile, logger)
		if err != nil {
			return fmt.Errorf("stop file: %w", err)
		}
		opts = append(opts, agent.WithStopSignal(stopCh))
	}

	initial := cfg.Loop.InitialObservation
	if initial == "" {
		initial = decision.InitialObservation
	}
	holder := narrative.New(initial)

	controller, err := agent.NewController(decider, backend, rt.exec, holder, agent.Config{
		Tier:      cfg.Sandbox.Tier,
		MaxCycles: cfg.Loop.MaxCycles,
		Limits: sandbox.Limits{
			Timeout:        cfg.Sandbox.Timeout,
			MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		},
		FailurePolicy:    agent.FailurePolicy(cfg.Loop.FailurePolicy),
		CycleDelay:       cfg.Loop.CycleDelay,
		MaxWait:          cfg.Loop.MaxWait,
		PlanFailureDelay: cfg.Loop.PlanFailureDelay,
	}, opts...)
	if err != nil {
		return err
	}

	summary, runErr := controller.Run(ctx)
	if summary != nil {
		printSummary(cmd.OutOrStdout(), summary, holder.Get())
	}
	return runErr
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags runFlags) {
	changed := cmd.Flags().Changed
	if changed("max-cycles") {
		cfg.Loop.MaxCycles = flags.maxCycles
	}
	if changed("tier") {
		cfg.Sandbox.Tier = flags.tier
	}
	if changed("provider") {
		cfg.Decision.Provider = flags.provider
	}
	if changed("script") {
		cfg.Decision.Script = flags.script
		if !changed("provider") {
			cfg.Decision.Provider = "scripted"
		}
	}
	if changed("stop-file") {
		cfg.Loop.StopFile = flags.stopFile
	}
	if changed("observation") {
		cfg.Loop.InitialObservation = flags.observation
	}
	if changed("journal") {
		cfg.Journal.Enabled = true
		cfg.Journal.Path = flags.journal
	}
}

func tracingEndpoint(cfg config.TracingConfig) string {
	if !cfg.Enabled {
		return ""
	}
	return cfg.Endpoint
}

func serveMetrics(addr string, rt *runtime) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(rt.gatherer))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server failed", "error", err)
		}
	}()
	rt.logger.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printSummary(out io.Writer, s *agent.RunSummary, observation string) {
	fmt.Fprintf(out, "Run %s: %s after %d cycle(s) in %s\n",
		s.RunID, s.Reason, s.Cycles, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	if len(s.Actions) > 0 {
		kinds := []agent.ActionKind{agent.ActionExecuteCode, agent.ActionUI, agent.ActionWait, agent.ActionTerminate}
		var parts []string
		for _, k := range kinds {
			if n := s.Actions[k]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", k, n))
			}
		}
		fmt.Fprintf(out, "Actions: %s\n", strings.Join(parts, " "))
	}
	fmt.Fprintf(out, "Observation: %s\n", observation)
}

// runExec handles the exec command.
func runExec(cmd *cobra.Command, flags execFlags, args []string) error {
	code, err := readFragment(cmd, flags, args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	var bindings sandbox.Bindings
	if flags.vars != "" {
		var raw map[string]any
		if err := json.Unmarshal([]byte(flags.vars), &raw); err != nil {
			return fmt.Errorf("--vars: %w", err)
		}
		if bindings, err = sandbox.FromGo(raw); err != nil {
			return fmt.Errorf("--vars: %w", err)
		}
	}

	res := rt.exec.Execute(cmd.Context(), sandbox.Request{
		Code:     code,
		Tier:     flags.tier,
		Bindings: bindings,
		Limits:   sandbox.Limits{Timeout: flags.timeout},
	})

	out := cmd.OutOrStdout()
	if flags.jsonOut {
		payload := struct {
			sandbox.Result
			Values map[string]any `json:"values,omitempty"`
		}{Result: res}
		if res.OK() && len(res.NewBindings) > 0 {
			changed := sandbox.Bindings{}
			for _, name := range res.NewBindings {
				if v, ok := res.Bindings.Get(name); ok {
					changed[name] = v
				}
			}
			payload.Values = changed.ToGo()
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(payload); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, res.Summary())
	}
	if !res.OK() {
		return fmt.Errorf("fragment %s", res.Outcome)
	}
	return nil
}

func readFragment(cmd *cobra.Command, flags execFlags, args []string) (string, error) {
	switch {
	case len(args) == 1 && flags.file != "":
		return "", errors.New("pass the fragment as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case flags.file != "":
		data, err := os.ReadFile(flags.file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// runTiers handles the tiers command.
func runTiers(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tRANK\tINHERITS\tCAPABILITIES")
	for _, def := range rt.tiers.Definitions() {
		set, err := rt.tiers.Resolve(def.Name)
		if err != nil {
			return err
		}
		marker := ""
		if def.Name == cfg.Sandbox.Tier {
			marker = " (default)"
		}
		fmt.Fprintf(w, "%s%s\t%d\t%s\t%s\n", def.Name, marker, def.Rank, def.Inherits, strings.Join(set.IDs(), ", "))
	}
	return w.Flush()
}

// runCapabilities handles the capabilities command.
func runCapabilities(cmd *cobra.Command, configPath, tierName string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	var granted func(string) bool
	if tierName != "" {
		set, err := rt.tiers.Resolve(tierName)
		if err != nil {
			return err
		}
		granted = set.Has
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	header := "ID\tCATEGORY\tRISK\tDESCRIPTION"
	if granted != nil {
		header = "ID\tCATEGORY\tRISK\tGRANTED\tDESCRIPTION"
	}
	fmt.Fprintln(w, header)
	for _, c := range rt.registry.List() {
		if granted != nil {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", c.ID, c.Category, c.Risk, granted(c.ID), c.Description)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Category, c.Risk, c.Description)
	}
	return w.Flush()
}

// runConfigValidate handles the config validate command.
func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, io.Discard)
	if err != nil {
		return err
	}
	rt.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (tier %s, provider %s, ui %s)\n",
		cfg.Sandbox.Tier, cfg.Decision.Provider, cfg.UI.Backend)
	return nil
}

// runConfigSchema handles the config schema command.
func runConfigSchema(cmd *cobra.Command) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// runMcpServe handles the mcp serve command.
func runMcpServe(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	server, err := mcp.New(mcp.Config{Tier: cfg.MCP.Tier, Version: version}, rt.exec, rt.tiers, rt.registry, rt.logger)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rt.logger.Info("serving mcp on stdio", "tier", cfg.MCP.Tier)
	return server.Run(ctx)
}
