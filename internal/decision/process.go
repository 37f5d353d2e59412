// Package decision implements the agent's decision process on top of a
// vision language model, plus a scripted process for deterministic runs.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/franz/internal/agent"
	"github.com/haasonsaas/franz/internal/backoff"
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Prompt is one request to a model.
type Prompt struct {
	System string
	User   string

	// Images are PNG frames attached to the user turn.
	Images [][]byte
}

// Sampling holds generation parameters shared by all backends.
type Sampling struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// DefaultSampling matches the small vision models the loop was tuned on.
func DefaultSampling() Sampling {
	return Sampling{Temperature: 0.7, TopP: 0.9, MaxTokens: 400}
}

// Model completes a prompt. Implementations classify transient failures so
// the process can retry them.
type Model interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Process implements agent.DecisionProcess with a Model.
type Process struct {
	model  Model
	retry  backoff.Policy
	logger *slog.Logger
	tracer trace.Tracer
}

// ProcessOption configures a Process.
type ProcessOption func(*Process)

// WithRetryPolicy overrides the retry policy for model calls.
func WithRetryPolicy(p backoff.Policy) ProcessOption {
	return func(proc *Process) { proc.retry = p }
}

// WithProcessLogger sets the logger.
func WithProcessLogger(logger *slog.Logger) ProcessOption {
	return func(proc *Process) {
		if logger != nil {
			proc.logger = logger
		}
	}
}

// NewProcess builds a decision process around model.
func NewProcess(model Model, opts ...ProcessOption) (*Process, error) {
	if model == nil {
		return nil, errors.New("decision: model is required")
	}
	p := &Process{
		model:  model,
		retry:  backoff.DefaultPolicy(),
		logger: slog.Default().With("component", "decision"),
		tracer: otel.Tracer("github.com/haasonsaas/franz/internal/decision"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Plan asks the model for the next action.
func (p *Process) Plan(ctx context.Context, in agent.PlanInput) (agent.Action, error) {
	reply, err := p.complete(ctx, "plan", Prompt{
		System: PlanSystemPrompt,
		User:   planUserPrompt(in),
		Images: frames(in.Screenshot),
	})
	if err != nil {
		return agent.Action{}, err
	}
	p.logger.Debug("plan reply", "cycle", in.Cycle, "reply", reply)
	action, err := ParseAction(reply)
	if err != nil {
		return agent.Action{}, err
	}
	return action, nil
}

// Reflect asks the model for the next observation.
func (p *Process) Reflect(ctx context.Context, in agent.ReflectInput) (string, error) {
	reply, err := p.complete(ctx, "reflect", Prompt{
		System: ReflectSystemPrompt,
		User:   reflectUserPrompt(in),
		Images: frames(in.Screenshot),
	})
	if err != nil {
		return "", err
	}
	p.logger.Debug("reflect reply", "cycle", in.Cycle, "reply", reply)
	return reply, nil
}

func (p *Process) complete(ctx context.Context, op string, prompt Prompt) (string, error) {
	ctx, span := p.tracer.Start(ctx, "decision."+op, trace.WithAttributes(
		attribute.String("franz.model", p.model.Name()),
		attribute.Int("franz.images", len(prompt.Images)),
	))
	defer span.End()

	start := time.Now()
	reply, err := backoff.Retry(ctx, p.retry, func(ctx context.Context, attempt int) (string, error) {
		reply, err := p.model.Complete(ctx, prompt)
		if err != nil {
			if !IsRetryable(err) {
				return "", backoff.Permanent(err)
			}
			p.logger.Warn("model call failed, retrying", "op", op, "attempt", attempt, "error", err)
			return "", err
		}
		reply = strings.TrimSpace(reply)
		if reply == "" {
			return "", ErrEmptyReply
		}
		return reply, nil
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%s via %s: %w", op, p.model.Name(), err)
	}
	span.SetAttributes(attribute.Int64("franz.latency_ms", time.Since(start).Milliseconds()))
	return reply, nil
}

func frames(s agent.Screenshot) [][]byte {
	if s.Empty() {
		return nil
	}
	return [][]byte{s.PNG}
}
