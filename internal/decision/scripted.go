package decision

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/franz/internal/agent"
)

// Script is a fixed sequence of plan replies, each optionally followed by
// the observation to report after it runs.
//
//	steps:
//	  - plan: EXECUTE total = sum([1, 2, 3])
//	    observe: total computed
//	  - plan: DONE
type Script struct {
	Steps []ScriptStep `yaml:"steps"`
}

// ScriptStep is one scripted cycle.
type ScriptStep struct {
	// Plan is a reply in the command grammar or JSON form.
	Plan string `yaml:"plan"`

	// Observe replaces the narrative after the step. When empty the result
	// text of the step is used.
	Observe string `yaml:"observe,omitempty"`
}

// LoadScript reads a YAML script from path.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	for i, step := range s.Steps {
		if _, err := ParseAction(step.Plan); err != nil {
			return nil, fmt.Errorf("script step %d: %w", i+1, err)
		}
	}
	return &s, nil
}

// Scripted replays a Script. Once the steps run out it terminates the run.
type Scripted struct {
	mu    sync.Mutex
	steps []ScriptStep
	next  int
}

// NewScripted builds a scripted process.
func NewScripted(s *Script) *Scripted {
	sc := &Scripted{}
	if s != nil {
		sc.steps = append(sc.steps, s.Steps...)
	}
	return sc
}

// Plan returns the next scripted action.
func (s *Scripted) Plan(_ context.Context, _ agent.PlanInput) (agent.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.steps) {
		return agent.Action{Kind: agent.ActionTerminate, Reason: "script finished"}, nil
	}
	step := s.steps[s.next]
	s.next++
	return ParseAction(step.Plan)
}

// Reflect returns the scripted observation for the step just planned.
func (s *Scripted) Reflect(_ context.Context, in agent.ReflectInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next > 0 && s.next <= len(s.steps) {
		if obs := s.steps[s.next-1].Observe; obs != "" {
			return obs, nil
		}
	}
	return fmt.Sprintf("%s -> %s", in.Action.String(), in.Result.Text), nil
}
