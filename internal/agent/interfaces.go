package agent

import (
	"context"
	"time"

	"github.com/haasonsaas/franz/internal/sandbox"
)

// Screenshot is a captured frame, already scaled for the decision process.
type Screenshot struct {
	PNG    []byte
	Width  int
	Height int
}

// Empty reports whether no image was captured.
func (s Screenshot) Empty() bool {
	return len(s.PNG) == 0
}

// PlanInput is what the decision process sees when choosing an action.
type PlanInput struct {
	Cycle       int
	Observation string
	Screenshot  Screenshot

	// Bindings lists the names currently carried between fragments.
	Bindings []string

	// Tier is the trust tier fragments will run under.
	Tier string
}

// ReflectInput is what the decision process sees when writing the next
// observation.
type ReflectInput struct {
	Cycle       int
	Observation string
	Action      Action
	Result      StepResult
	Screenshot  Screenshot
}

// DecisionProcess chooses actions and rewrites the observation.
type DecisionProcess interface {
	Plan(ctx context.Context, in PlanInput) (Action, error)
	Reflect(ctx context.Context, in ReflectInput) (string, error)
}

// UI perceives and manipulates the screen.
type UI interface {
	Perform(ctx context.Context, action UIAction) (string, error)
	Wait(ctx context.Context, d time.Duration) (string, error)
	Capture(ctx context.Context) (Screenshot, error)
}

// CodeExecutor runs fragments; *sandbox.Executor implements it.
type CodeExecutor interface {
	Execute(ctx context.Context, req sandbox.Request) sandbox.Result
}

// CycleRecord is the metadata of one finished cycle. It never contains the
// observation text.
type CycleRecord struct {
	RunID      string
	Cycle      int
	ActionKind ActionKind
	Status     StepStatus
	Outcome    string
	ErrorKind  string
	StartedAt  time.Time
	Duration   time.Duration
}

// Journal persists cycle metadata.
type Journal interface {
	RecordCycle(ctx context.Context, rec CycleRecord) error
}

// Metrics receives loop measurements.
type Metrics interface {
	ObservePhase(phase string, d time.Duration)
	CycleFinished(actionKind, status string)
}
