package decision

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/franz/internal/agent"
)

// InitialObservation seeds the narrative when the configuration gives none.
const InitialObservation = "System started. Capable of: clicking, dragging, typing, pressing keys, " +
	"executing Starlark code, waiting. Monitoring screen for tasks or instructions."

// PlanSystemPrompt instructs the model how to choose the next action.
const PlanSystemPrompt = `You are operating a computer. Look at the screen and output one command.

Commands:
CLICK x y - Click at position (x and y are 0-1000, where 0 is left/top, 1000 is right/bottom)
DRAG x1 y1 x2 y2 - Drag from position 1 to position 2
TYPE text - Type text
KEY name - Press key (enter, escape, tab, backspace, delete)
NAVIGATE url - Open a page
EXECUTE code - Run a single-line Starlark fragment (math and logic only)
WAIT milliseconds - Pause
DONE - Stop when the task is finished

Output exactly one command. No explanations.

EXECUTE examples:
EXECUTE result = 2 * 6
EXECUTE values = [2*x for x in [1,2,3,4]]
EXECUTE answer = sum([1,2,3,4,5])

Variables assigned by EXECUTE stay available to later EXECUTE commands.
Execute tasks one step at a time.
If no task is visible, output: WAIT 1000`

// ReflectSystemPrompt instructs the model how to rewrite the observation.
const ReflectSystemPrompt = `You see the screen after a command executed.

Write an observation of 50-100 words covering:
1. The command executed and its result
2. What you see now
3. What changed from the previous observation
4. The next step, or "No active task - monitoring screen"

Be factual. Describe what changed.`

func planUserPrompt(in agent.PlanInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current observation:\n%s\n\n", in.Observation)
	fmt.Fprintf(&b, "Available variables: %s\n", variableList(in.Bindings))
	if in.Tier != "" {
		fmt.Fprintf(&b, "Code trust tier: %s\n", in.Tier)
	}
	b.WriteString("\nLook at the screen. Execute visible tasks one step at a time. ")
	b.WriteString("Use EXECUTE for calculations. If no task is present, output: WAIT 1000")
	return b.String()
}

func reflectUserPrompt(in agent.ReflectInput) string {
	result := strings.TrimSpace(in.Result.Text)
	if result == "" {
		result = "No execution results"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Previous observation:\n%s\n\n", in.Observation)
	fmt.Fprintf(&b, "Command executed:\n%s\n\n", in.Action.String())
	fmt.Fprintf(&b, "Execution result:\n%s\n\n", result)
	b.WriteString("Look at the current screen and write the new observation:")
	return b.String()
}

func variableList(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return "[" + strings.Join(names, ", ") + "]"
}
