// Package agent drives the Plan -> Execute -> Reflect cycle.
//
// State machine per cycle:
//
//	planning   -> capture the screen, ask the decision process for one action
//	executing  -> run the fragment in the sandbox or hand the action to the UI
//	reflecting -> ask the decision process for the next observation and
//	              replace the narrative with it
//
// The loop stops on a terminate action, the cycle limit, a stop signal,
// context cancellation, or a collaborator failure under the terminate policy.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/franz/internal/backoff"
	"github.com/haasonsaas/franz/internal/narrative"
	"github.com/haasonsaas/franz/internal/sandbox"
)

// FailurePolicy decides what a collaborator failure does to the run.
type FailurePolicy string

const (
	// FailureTerminate ends the run with a LoopError.
	FailureTerminate FailurePolicy = "terminate"

	// FailureObserve turns the failure into the cycle's result and carries on.
	FailureObserve FailurePolicy = "observe"
)

// Valid reports whether p is a known policy.
func (p FailurePolicy) Valid() bool {
	return p == FailureTerminate || p == FailureObserve
}

// Config controls a run.
type Config struct {
	// Tier is the trust tier every fragment runs under.
	Tier string

	// MaxCycles bounds the run; zero means no bound.
	MaxCycles int

	// Limits are passed to every execution.
	Limits sandbox.Limits

	FailurePolicy FailurePolicy

	// CycleDelay is the pause between cycles.
	CycleDelay time.Duration

	// MaxWait caps wait actions.
	MaxWait time.Duration

	// PlanFailureDelay is the pause after a failed plan under the observe
	// policy.
	PlanFailureDelay time.Duration
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		Tier:             "minimal",
		MaxCycles:        50,
		FailurePolicy:    FailureObserve,
		CycleDelay:       500 * time.Millisecond,
		MaxWait:          10 * time.Second,
		PlanFailureDelay: 2 * time.Second,
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Tier == "" {
		cfg.Tier = defaults.Tier
	}
	if cfg.MaxCycles < 0 {
		cfg.MaxCycles = 0
	}
	if !cfg.FailurePolicy.Valid() {
		cfg.FailurePolicy = defaults.FailurePolicy
	}
	if cfg.CycleDelay < 0 {
		cfg.CycleDelay = 0
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaults.MaxWait
	}
	if cfg.PlanFailureDelay < 0 {
		cfg.PlanFailureDelay = 0
	}
	return cfg
}

// StepStatus summarizes how the executing phase went.
type StepStatus string

const (
	StepOK       StepStatus = "ok"
	StepFailed   StepStatus = "failed"
	StepTimedOut StepStatus = "timed_out"
	StepDenied   StepStatus = "capability_denied"
	StepError    StepStatus = "collaborator_error"
)

// StepResult is the structured outcome of the executing phase.
type StepResult struct {
	Kind   ActionKind
	Status StepStatus

	// Text is what the decision process reads during reflection.
	Text string

	// Exec is set for execute_code actions.
	Exec *sandbox.Result

	Duration time.Duration
}

func statusFor(outcome sandbox.Outcome) StepStatus {
	switch outcome {
	case sandbox.OutcomeCompleted:
		return StepOK
	case sandbox.OutcomeTimedOut:
		return StepTimedOut
	case sandbox.OutcomeCapabilityDenied:
		return StepDenied
	}
	return StepFailed
}

// StopReason says why a run ended.
type StopReason string

const (
	StopTerminated StopReason = "terminated"
	StopMaxCycles  StopReason = "max_cycles"
	StopSignalled  StopReason = "stopped"
	StopCancelled  StopReason = "cancelled"
	StopFailed     StopReason = "failed"
)

// RunSummary describes a finished run.
type RunSummary struct {
	RunID      string
	Cycles     int
	Reason     StopReason
	Actions    map[ActionKind]int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJournal records cycle metadata.
func WithJournal(j Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithMetrics attaches loop metrics.
func WithMetrics(m Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTracer sets the tracer for cycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithStopSignal ends the run between cycles once ch is closed.
func WithStopSignal(ch <-chan struct{}) Option {
	return func(c *Controller) { c.stop = ch }
}

// WithRunID labels the run in logs and the journal.
func WithRunID(id string) Option {
	return func(c *Controller) { c.runID = id }
}

// WithInitialBindings seeds the carried fragment state.
func WithInitialBindings(b sandbox.Bindings) Option {
	return func(c *Controller) { c.bindings = b.Clone() }
}

// Controller runs the cycle loop. A controller runs once at a time.
type Controller struct {
	decider DecisionProcess
	ui      UI
	exec    CodeExecutor
	holder  *narrative.Holder
	cfg     Config

	logger  *slog.Logger
	journal Journal
	metrics Metrics
	tracer  trace.Tracer
	stop    <-chan struct{}
	runID   string

	mu       sync.Mutex
	phase    Phase
	bindings sandbox.Bindings
}

// NewController wires a controller.
func NewController(decider DecisionProcess, ui UI, exec CodeExecutor, holder *narrative.Holder, cfg Config, opts ...Option) (*Controller, error) {
	if decider == nil {
		return nil, ErrNoDecisionProcess
	}
	if ui == nil {
		return nil, ErrNoUI
	}
	if exec == nil {
		return nil, ErrNoExecutor
	}
	if holder == nil {
		holder = narrative.New("")
	}
	c := &Controller{
		decider:  decider,
		ui:       ui,
		exec:     exec,
		holder:   holder,
		cfg:      sanitizeConfig(cfg),
		logger:   slog.Default().With("component", "agent"),
		tracer:   otel.Tracer("github.com/haasonsaas/franz/internal/agent"),
		phase:    PhaseIdle,
		bindings: sandbox.Bindings{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Phase returns the current state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Bindings returns a copy of the carried fragment state.
func (c *Controller) Bindings() sandbox.Bindings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindings.Clone()
}

// Run loops until a stop condition. The error is non-nil only when a
// collaborator failure ended the run.
func (c *Controller) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     c.runID,
		Actions:   make(map[ActionKind]int),
		StartedAt: time.Now(),
	}
	defer func() {
		summary.FinishedAt = time.Now()
		c.setPhase(PhaseTerminated)
		c.logger.Info("loop finished",
			"run_id", c.runID,
			"cycles", summary.Cycles,
			"reason", summary.Reason,
			"duration", summary.FinishedAt.Sub(summary.StartedAt),
		)
	}()

	c.logger.Info("loop starting",
		"run_id", c.runID,
		"tier", c.cfg.Tier,
		"max_cycles", c.cfg.MaxCycles,
		"failure_policy", c.cfg.FailurePolicy,
	)

	for cycle := 1; ; cycle++ {
		if reason, stop := c.shouldStop(ctx, cycle); stop {
			summary.Reason = reason
			return summary, nil
		}

		done, err := c.runCycle(ctx, cycle, summary)
		summary.Cycles = cycle
		if err != nil {
			summary.Reason = StopFailed
			return summary, err
		}
		if done {
			summary.Reason = StopTerminated
			return summary, nil
		}
		c.pause(ctx, c.cfg.CycleDelay)
	}
}

func (c *Controller) shouldStop(ctx context.Context, cycle int) (StopReason, bool) {
	if ctx.Err() != nil {
		return StopCancelled, true
	}
	if c.stop != nil {
		select {
		case <-c.stop:
			return StopSignalled, true
		default:
		}
	}
	if c.cfg.MaxCycles > 0 && cycle > c.cfg.MaxCycles {
		return StopMaxCycles, true
	}
	return "", false
}

// pause sleeps for d unless the context ends or the stop signal fires.
func (c *Controller) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	if c.stop == nil {
		_ = backoff.Sleep(ctx, d)
		return
	}
	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-sleepCtx.Done():
		}
	}()
	_ = backoff.Sleep(sleepCtx, d)
}

func (c *Controller) runCycle(ctx context.Context, cycle int, summary *RunSummary) (bool, error) {
	started := time.Now()
	ctx, span := c.tracer.Start(ctx, "agent.cycle", trace.WithAttributes(attribute.Int("franz.cycle", cycle)))
	defer span.End()
	logger := c.logger.With("run_id", c.runID, "cycle", cycle)

	finish := func(kind ActionKind, step StepResult) {
		rec := CycleRecord{
			RunID:      c.runID,
			Cycle:      cycle,
			ActionKind: kind,
			Status:     step.Status,
			StartedAt:  started,
			Duration:   time.Since(started),
		}
		if step.Exec != nil {
			rec.Outcome = string(step.Exec.Outcome)
			if step.Exec.Error != nil {
				rec.ErrorKind = string(step.Exec.Error.Kind)
			}
		}
		span.SetAttributes(
			attribute.String("franz.action", string(kind)),
			attribute.String("franz.status", string(step.Status)),
		)
		if c.metrics != nil {
			c.metrics.CycleFinished(string(kind), string(step.Status))
		}
		if c.journal != nil {
			if err := c.journal.RecordCycle(ctx, rec); err != nil {
				logger.Warn("journal write failed", "error", err)
			}
		}
	}
	fail := func(phase Phase, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &LoopError{Phase: phase, Cycle: cycle, Cause: err}
	}

	// Planning.
	c.setPhase(PhasePlanning)
	phaseStart := time.Now()
	shot := c.capture(ctx, logger)
	c.mu.Lock()
	names := c.bindings.Names()
	c.mu.Unlock()
	action, err := c.decider.Plan(ctx, PlanInput{
		Cycle:       cycle,
		Observation: c.holder.Get(),
		Screenshot:  shot,
		Bindings:    names,
		Tier:        c.cfg.Tier,
	})
	if err == nil {
		if verr := action.Validate(); verr != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidAction, verr)
		}
	}
	c.observePhase(PhasePlanning, phaseStart)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		cerr := &CollaboratorError{Collaborator: "decision", Op: "plan", Cause: err}
		finish("", StepResult{Status: StepError, Text: cerr.Error()})
		if c.cfg.FailurePolicy == FailureTerminate {
			return false, fail(PhasePlanning, cerr)
		}
		logger.Warn("plan failed, skipping cycle", "error", err)
		c.pause(ctx, c.cfg.PlanFailureDelay)
		return false, nil
	}
	summary.Actions[action.Kind]++
	logger.Info("action planned", "kind", action.Kind, "action", clip(action.String(), 200))

	if action.Kind == ActionTerminate {
		finish(ActionTerminate, StepResult{Kind: ActionTerminate, Status: StepOK})
		return true, nil
	}

	// Executing.
	c.setPhase(PhaseExecuting)
	phaseStart = time.Now()
	step, err := c.execute(ctx, action)
	c.observePhase(PhaseExecuting, phaseStart)
	if err != nil {
		finish(action.Kind, step)
		return false, fail(PhaseExecuting, err)
	}
	logger.Info("action executed", "kind", action.Kind, "status", step.Status, "duration", step.Duration)

	// Reflecting.
	c.setPhase(PhaseReflecting)
	phaseStart = time.Now()
	prior := c.holder.Get()
	next, err := c.decider.Reflect(ctx, ReflectInput{
		Cycle:       cycle,
		Observation: prior,
		Action:      action,
		Result:      step,
		Screenshot:  c.capture(ctx, logger),
	})
	c.observePhase(PhaseReflecting, phaseStart)
	if err != nil {
		if ctx.Err() != nil {
			finish(action.Kind, step)
			return false, nil
		}
		cerr := &CollaboratorError{Collaborator: "decision", Op: "reflect", Cause: err}
		if c.cfg.FailurePolicy == FailureTerminate {
			finish(action.Kind, step)
			return false, fail(PhaseReflecting, cerr)
		}
		logger.Warn("reflect failed, keeping observation", "error", err)
		next = prior
	}
	c.holder.Replace(next)
	finish(action.Kind, step)
	return false, nil
}

func (c *Controller) execute(ctx context.Context, action Action) (StepResult, error) {
	start := time.Now()
	switch action.Kind {
	case ActionExecuteCode:
		c.mu.Lock()
		bindings := c.bindings
		c.mu.Unlock()
		res := c.exec.Execute(ctx, sandbox.Request{
			Code:     action.Code,
			Tier:     c.cfg.Tier,
			Bindings: bindings,
			Limits:   c.cfg.Limits,
		})
		c.mu.Lock()
		c.bindings = res.Bindings
		c.mu.Unlock()
		return StepResult{
			Kind:     action.Kind,
			Status:   statusFor(res.Outcome),
			Text:     res.Summary(),
			Exec:     &res,
			Duration: res.Duration,
		}, nil

	case ActionUI:
		text, err := c.ui.Perform(ctx, *action.UI)
		return c.uiStep(action, "perform", text, err, start)

	case ActionWait:
		d := action.Wait
		if d > c.cfg.MaxWait {
			d = c.cfg.MaxWait
		}
		text, err := c.ui.Wait(ctx, d)
		return c.uiStep(action, "wait", text, err, start)
	}
	return StepResult{Kind: action.Kind, Status: StepFailed}, fmt.Errorf("%w: cannot execute %q", ErrInvalidAction, action.Kind)
}

func (c *Controller) uiStep(action Action, op, text string, err error, start time.Time) (StepResult, error) {
	step := StepResult{Kind: action.Kind, Status: StepOK, Text: text, Duration: time.Since(start)}
	if err != nil {
		cerr := &CollaboratorError{Collaborator: "ui", Op: op, Cause: err}
		step.Status = StepError
		step.Text = "ERROR " + cerr.Error()
		if c.cfg.FailurePolicy == FailureTerminate {
			return step, cerr
		}
		c.logger.Warn("ui action failed", "op", op, "error", err)
		return step, nil
	}
	if step.Text == "" {
		step.Text = action.String() + ": OK"
	}
	return step, nil
}

// capture grabs the screen. Failures are logged and yield an empty frame;
// the decision process can still act on the observation alone.
func (c *Controller) capture(ctx context.Context, logger *slog.Logger) Screenshot {
	shot, err := c.ui.Capture(ctx)
	if err != nil {
		logger.Warn("screen capture failed", "error", err)
		return Screenshot{}
	}
	return shot
}

func (c *Controller) observePhase(p Phase, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObservePhase(string(p), time.Since(start))
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
