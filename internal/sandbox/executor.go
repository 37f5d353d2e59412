// Package sandbox runs untrusted code fragments under a trust tier. Each
// execution gets a fresh interpreter environment holding only the granted
// capabilities, a wall-clock limit and a bounded output buffer; every
// failure mode is reported as a structured Result.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/haasonsaas/franz/internal/capability"
	"github.com/haasonsaas/franz/internal/tier"
)

// Registry is the capability lookup the executor needs.
type Registry interface {
	Lookup(id string) (capability.Capability, error)
	List() []capability.Capability
}

// TierResolver maps a tier name to its capability set.
type TierResolver interface {
	Resolve(name string) (tier.Set, error)
}

// Observer receives one call per finished execution.
type Observer interface {
	ObserveExecution(tier, outcome, kind string, duration time.Duration)
}

// Config holds executor defaults.
type Config struct {
	DefaultTier    string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputBytes int
	MaxSteps       uint64
	MaxMemoryBytes int64
	GracePeriod    time.Duration

	// Worker, when set, runs every fragment in a separate process.
	Worker *Worker
}

// Option configures an Executor.
type Option func(*Config, *Executor)

// WithDefaultTier sets the tier used when a request names none.
func WithDefaultTier(name string) Option {
	return func(c *Config, _ *Executor) { c.DefaultTier = name }
}

// WithDefaultTimeout sets the wall-clock limit used when a request sets none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Config, _ *Executor) { c.DefaultTimeout = d }
}

// WithMaxTimeout caps the timeout a request may ask for.
func WithMaxTimeout(d time.Duration) Option {
	return func(c *Config, _ *Executor) { c.MaxTimeout = d }
}

// WithMaxOutputBytes sets the default output cap.
func WithMaxOutputBytes(n int) Option {
	return func(c *Config, _ *Executor) { c.MaxOutputBytes = n }
}

// WithMaxSteps bounds interpreter steps per execution. Zero disables the
// bound.
func WithMaxSteps(n uint64) Option {
	return func(c *Config, _ *Executor) { c.MaxSteps = n }
}

// WithMaxMemoryBytes sets the default memory limit. Zero disables it.
func WithMaxMemoryBytes(n int64) Option {
	return func(c *Config, _ *Executor) { c.MaxMemoryBytes = n }
}

// WithProcessIsolation runs each fragment in a worker process started from
// w.Path, so a fragment that exhausts memory or ignores cancellation takes
// down only its worker.
func WithProcessIsolation(w Worker) Option {
	return func(c *Config, _ *Executor) { c.Worker = &w }
}

// WithGracePeriod sets how long the executor waits for a cancelled
// interpreter to unwind before reporting a timeout anyway.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Config, _ *Executor) { c.GracePeriod = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(_ *Config, e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(_ *Config, e *Executor) { e.observer = o }
}

// WithTracer sets the tracer used for execution spans.
func WithTracer(t trace.Tracer) Option {
	return func(_ *Config, e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTier:    tier.Minimal,
		DefaultTimeout: 5 * time.Second,
		MaxTimeout:     60 * time.Second,
		MaxOutputBytes: 8 * 1024,
		MaxMemoryBytes: 512 << 20,
		GracePeriod:    250 * time.Millisecond,
	}
}

// Executor runs fragments. It is safe for concurrent use; executions do not
// share interpreter state.
type Executor struct {
	registry Registry
	tiers    TierResolver
	cfg      Config
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// NewExecutor creates an executor over a sealed registry and a tier resolver.
func NewExecutor(registry Registry, tiers TierResolver, opts ...Option) (*Executor, error) {
	if registry == nil {
		return nil, errors.New("sandbox: capability registry is required")
	}
	if tiers == nil {
		return nil, errors.New("sandbox: tier resolver is required")
	}
	cfg := DefaultConfig()
	e := &Executor{
		registry: registry,
		tiers:    tiers,
		logger:   slog.Default().With("component", "sandbox"),
		tracer:   otel.Tracer("github.com/haasonsaas/franz/internal/sandbox"),
	}
	for _, opt := range opts {
		opt(&cfg, e)
	}
	if cfg.DefaultTimeout <= 0 {
		return nil, fmt.Errorf("sandbox: default timeout must be positive, got %s", cfg.DefaultTimeout)
	}
	if cfg.MaxTimeout < cfg.DefaultTimeout {
		cfg.MaxTimeout = cfg.DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		return nil, fmt.Errorf("sandbox: max output bytes must be positive, got %d", cfg.MaxOutputBytes)
	}
	if cfg.MaxMemoryBytes < 0 {
		return nil, fmt.Errorf("sandbox: max memory bytes must not be negative, got %d", cfg.MaxMemoryBytes)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultConfig().GracePeriod
	}
	if cfg.Worker != nil && strings.TrimSpace(cfg.Worker.Path) == "" {
		return nil, errors.New("sandbox: worker path is required for process isolation")
	}
	if _, err := tiers.Resolve(cfg.DefaultTier); err != nil {
		return nil, fmt.Errorf("sandbox: default tier: %w", err)
	}
	e.cfg = cfg
	return e, nil
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute runs one fragment. It never panics and never returns an error;
// every failure is described by the Result.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	tierName := strings.TrimSpace(req.Tier)
	if tierName == "" {
		tierName = e.cfg.DefaultTier
	}

	ctx, span := e.tracer.Start(ctx, "sandbox.execute",
		trace.WithAttributes(attribute.String("franz.tier", tierName)))
	defer span.End()

	res := e.run(ctx, tierName, req)
	res.Tier = tierName
	res.Duration = time.Since(start)
	if res.Bindings == nil {
		res.Bindings = Bindings{}
	}

	kind := ""
	if res.Error != nil {
		kind = string(res.Error.Kind)
		span.SetAttributes(attribute.String("franz.error_kind", kind))
		if !res.OK() {
			span.SetStatus(codes.Error, res.Error.Message)
		}
	}
	span.SetAttributes(
		attribute.String("franz.outcome", string(res.Outcome)),
		attribute.Int("franz.output_bytes", len(res.Output)),
	)
	if e.observer != nil {
		e.observer.ObserveExecution(tierName, string(res.Outcome), kind, res.Duration)
	}
	e.logger.Debug("fragment executed",
		"tier", tierName,
		"outcome", res.Outcome,
		"error_kind", kind,
		"duration", res.Duration,
		"new_bindings", res.NewBindings,
	)
	return res
}

func (e *Executor) run(ctx context.Context, tierName string, req Request) Result {
	fail := func(outcome Outcome, kind ErrorKind, msg string) Result {
		return Result{Outcome: outcome, Error: &ExecError{Kind: kind, Message: msg}, Bindings: req.Bindings}
	}

	set, err := e.tiers.Resolve(tierName)
	if err != nil {
		return fail(OutcomeCapabilityDenied, KindCapabilityDenied, err.Error())
	}
	if err := ctx.Err(); err != nil {
		return fail(OutcomeTimedOut, KindTimeout, "execution cancelled before start")
	}

	lim := e.limits(req.Limits)
	if e.cfg.Worker != nil {
		return e.runIsolated(ctx, set, req, lim)
	}
	timeout, maxOutput := lim.Timeout, lim.MaxOutputBytes

	file, err := fileOptions.Parse("fragment", req.Code, 0)
	if err != nil {
		return fail(OutcomeFailed, KindSyntax, err.Error())
	}

	log := &denials{}
	scope := capability.NewScope(tierName)
	env, err := e.environment(set, scope, log)
	if err != nil {
		_ = scope.Close()
		return fail(OutcomeFailed, KindRuntime, err.Error())
	}

	globals := make(starlark.StringDict, len(env.values)+len(req.Bindings))
	for name, v := range env.values {
		globals[name] = v
	}
	carried := req.Bindings.Clone()
	for name, v := range carried {
		if _, reserved := env.values[name]; reserved {
			delete(carried, name)
			continue
		}
		globals[name] = v
	}

	if denied := e.checkDenials(req.Code, globals, set); denied != nil {
		_ = scope.Close()
		res := fail(OutcomeCapabilityDenied, KindCapabilityDenied, denied.Error())
		res.Error.Capability = denied.Capability
		return res
	}

	out := newLimitedBuffer(maxOutput)
	loader := &moduleLoader{registry: e.registry, tier: tierName, bound: env.modules, log: log}
	thread := &starlark.Thread{
		Name:  "fragment",
		Print: func(_ *starlark.Thread, msg string) { out.WriteLine(msg) },
		Load:  loader.load,
	}
	var stepsExhausted atomic.Bool
	if e.cfg.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(e.cfg.MaxSteps)
		thread.OnMaxSteps = func(th *starlark.Thread) {
			stepsExhausted.Store(true)
			th.Cancel("step budget exhausted")
		}
	}

	var memExceeded atomic.Bool
	stopWatch := watchMemory(thread, lim.MaxMemoryBytes, &memExceeded)
	defer stopWatch()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if cerr := scope.Close(); cerr != nil {
				e.logger.Warn("closing execution scope", "error", cerr)
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("interpreter panic", "panic", fmt.Sprint(r))
				done <- errInterpreterPanic
			}
		}()
		done <- starlark.ExecREPLChunk(file, thread, globals)
	}()

	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		thread.Cancel("timeout")
	})
	defer timer.Stop()
	deadline := time.NewTimer(timeout + e.cfg.GracePeriod)
	defer deadline.Stop()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		thread.Cancel("cancelled")
		return fail(OutcomeTimedOut, KindTimeout, "execution cancelled")
	case <-deadline.C:
		return fail(OutcomeTimedOut, KindTimeout, fmt.Sprintf("execution exceeded %s", timeout))
	}

	if runErr != nil {
		res := e.classify(runErr, log, limitFlags{timedOut: &timedOut, steps: &stepsExhausted, memory: &memExceeded}, lim)
		res.Bindings = req.Bindings
		if res.Outcome != OutcomeTimedOut {
			res.Output = out.String()
			res.Truncated = out.Truncated()
		}
		return res
	}

	res := Result{Outcome: OutcomeCompleted, Output: out.String(), Truncated: out.Truncated()}
	res.Bindings, res.NewBindings = carryOver(req.Bindings, carried, globals, env.values)
	if res.Truncated {
		res.Error = &ExecError{
			Kind:    KindOutputLimitExceeded,
			Message: fmt.Sprintf("output exceeded %d bytes and was truncated", maxOutput),
		}
	}
	return res
}

var errInterpreterPanic = errors.New("internal interpreter error")

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// limits fills unset request limits from the executor defaults and clamps
// the timeout.
func (e *Executor) limits(req Limits) Limits {
	lim := req
	if lim.Timeout <= 0 {
		lim.Timeout = e.cfg.DefaultTimeout
	}
	if lim.Timeout > e.cfg.MaxTimeout {
		lim.Timeout = e.cfg.MaxTimeout
	}
	if lim.MaxOutputBytes <= 0 {
		lim.MaxOutputBytes = e.cfg.MaxOutputBytes
	}
	if lim.MaxMemoryBytes <= 0 || (e.cfg.MaxMemoryBytes > 0 && lim.MaxMemoryBytes > e.cfg.MaxMemoryBytes) {
		lim.MaxMemoryBytes = e.cfg.MaxMemoryBytes
	}
	return lim
}

// limitFlags record which limit cancelled an execution.
type limitFlags struct {
	timedOut *atomic.Bool
	steps    *atomic.Bool
	memory   *atomic.Bool
}

func (e *Executor) classify(err error, log *denials, flags limitFlags, lim Limits) Result {
	res := Result{Outcome: OutcomeFailed}
	var (
		resolveErrs resolve.ErrorList
		unknownMod  *unknownModuleError
		evalErr     *starlark.EvalError
		denied      *DeniedError
	)
	switch {
	case flags.timedOut.Load():
		res.Outcome = OutcomeTimedOut
		res.Error = &ExecError{Kind: KindTimeout, Message: fmt.Sprintf("execution exceeded %s", lim.Timeout)}
	case flags.memory.Load():
		res.Error = &ExecError{
			Kind:    KindMemoryLimitExceeded,
			Message: fmt.Sprintf("execution exceeded the %d byte memory limit", lim.MaxMemoryBytes),
		}
	case denialCause(err, log, &denied):
		res.Outcome = OutcomeCapabilityDenied
		res.Error = &ExecError{Kind: KindCapabilityDenied, Message: denied.Error(), Capability: denied.Capability}
	case errors.As(err, &resolveErrs):
		res.Error = resolutionError(resolveErrs)
	case errors.As(err, &unknownMod):
		res.Error = &ExecError{Kind: KindNameResolution, Message: unknownMod.Error()}
	case flags.steps.Load():
		res.Error = &ExecError{Kind: KindRuntime, Message: "step budget exhausted"}
	case errors.As(err, &evalErr):
		res.Error = &ExecError{Kind: KindRuntime, Message: evalErr.Msg}
	default:
		res.Error = &ExecError{Kind: KindRuntime, Message: err.Error()}
	}
	return res
}

// denialCause reports whether err was caused by a capability denial and
// stores that denial in target. A denial raised inside a callback can be
// rewrapped as text on its way out, so the logged denial counts when its
// message survives in err. A logged denial that err does not carry was
// swallowed by the fragment and is not the reason it failed.
func denialCause(err error, log *denials, target **DeniedError) bool {
	if errors.As(err, target) {
		return true
	}
	if first := log.get(); first != nil && strings.Contains(err.Error(), first.Error()) {
		*target = first
		return true
	}
	return false
}

// resolutionError reports undefined names as name resolution failures and
// any other static error as a syntax failure.
func resolutionError(errs resolve.ErrorList) *ExecError {
	kind := KindNameResolution
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if !strings.HasPrefix(e.Msg, "undefined:") {
			kind = KindSyntax
		}
		msgs = append(msgs, fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Col, e.Msg))
	}
	return &ExecError{Kind: kind, Message: strings.Join(msgs, "; ")}
}

// carryOver computes the bindings after a completed fragment: the input
// bindings updated with every data-valued global the fragment left behind.
func carryOver(input, carried Bindings, globals starlark.StringDict, reserved map[string]starlark.Value) (Bindings, []string) {
	out := make(Bindings, len(globals))
	for name, v := range carried {
		out[name] = v
	}
	var changed []string
	for name, v := range globals {
		if _, ok := reserved[name]; ok {
			continue
		}
		if !IsData(v) {
			delete(out, name)
			continue
		}
		out[name] = v
		prev, existed := input[name]
		if !existed || !sameValue(prev, v) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return out, changed
}

func sameValue(a, b starlark.Value) bool {
	eq, err := starlark.Equal(a, b)
	return err == nil && eq
}
