package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ActionKind is what the decision process asked for in one cycle.
type ActionKind string

const (
	ActionExecuteCode ActionKind = "execute_code"
	ActionUI          ActionKind = "ui_action"
	ActionWait        ActionKind = "wait"
	ActionTerminate   ActionKind = "terminate"
)

// UIOp is a user-interface operation.
type UIOp string

const (
	UIClick    UIOp = "click"
	UIDrag     UIOp = "drag"
	UIType     UIOp = "type"
	UIKey      UIOp = "key"
	UINavigate UIOp = "navigate"
)

// CoordinateScale is the range of normalized screen coordinates. Decision
// processes address the screen as a 0..CoordinateScale grid on both axes.
const CoordinateScale = 1000

// UIAction is a single input to synthesize.
type UIAction struct {
	Op UIOp `json:"op"`

	// Normalized coordinates for click and drag (start, then end).
	X  int `json:"x,omitempty"`
	Y  int `json:"y,omitempty"`
	X2 int `json:"x2,omitempty"`
	Y2 int `json:"y2,omitempty"`

	Text string `json:"text,omitempty"`
	Key  string `json:"key,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Validate checks that the operation has the fields it needs.
func (u UIAction) Validate() error {
	inRange := func(vs ...int) bool {
		for _, v := range vs {
			if v < 0 || v > CoordinateScale {
				return false
			}
		}
		return true
	}
	switch u.Op {
	case UIClick:
		if !inRange(u.X, u.Y) {
			return fmt.Errorf("click coordinates (%d, %d) outside 0..%d", u.X, u.Y, CoordinateScale)
		}
	case UIDrag:
		if !inRange(u.X, u.Y, u.X2, u.Y2) {
			return fmt.Errorf("drag coordinates outside 0..%d", CoordinateScale)
		}
	case UIType:
		if u.Text == "" {
			return errors.New("type requires text")
		}
	case UIKey:
		if strings.TrimSpace(u.Key) == "" {
			return errors.New("key requires a key name")
		}
	case UINavigate:
		if strings.TrimSpace(u.URL) == "" {
			return errors.New("navigate requires a url")
		}
	default:
		return fmt.Errorf("unknown ui operation %q", u.Op)
	}
	return nil
}

func (u UIAction) String() string {
	switch u.Op {
	case UIClick:
		return fmt.Sprintf("CLICK %d %d", u.X, u.Y)
	case UIDrag:
		return fmt.Sprintf("DRAG %d %d %d %d", u.X, u.Y, u.X2, u.Y2)
	case UIType:
		return "TYPE " + u.Text
	case UIKey:
		return "KEY " + u.Key
	case UINavigate:
		return "NAVIGATE " + u.URL
	}
	return string(u.Op)
}

// Action is the single thing the loop does in one cycle.
type Action struct {
	Kind ActionKind `json:"kind"`

	// Code is the fragment for execute_code.
	Code string `json:"code,omitempty"`

	// UI is set for ui_action.
	UI *UIAction `json:"ui,omitempty"`

	// Wait is the pause for wait.
	Wait time.Duration `json:"wait,omitempty"`

	// Reason is free text from the decision process, shown in logs.
	Reason string `json:"reason,omitempty"`
}

// Validate checks the action is well formed.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionExecuteCode:
		if strings.TrimSpace(a.Code) == "" {
			return errors.New("execute_code requires code")
		}
	case ActionUI:
		if a.UI == nil {
			return errors.New("ui_action requires an operation")
		}
		return a.UI.Validate()
	case ActionWait:
		if a.Wait < 0 {
			return fmt.Errorf("wait duration %s is negative", a.Wait)
		}
	case ActionTerminate:
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// String renders the action in the command form the decision prompts use.
func (a Action) String() string {
	switch a.Kind {
	case ActionExecuteCode:
		return "EXECUTE " + a.Code
	case ActionUI:
		if a.UI != nil {
			return a.UI.String()
		}
	case ActionWait:
		return fmt.Sprintf("WAIT %d", a.Wait.Milliseconds())
	case ActionTerminate:
		return "DONE"
	}
	return string(a.Kind)
}
