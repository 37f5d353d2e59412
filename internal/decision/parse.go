package decision

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/franz/internal/agent"
)

// DefaultWait is used when a reply contains no actionable command.
const DefaultWait = 2000 * time.Millisecond

// maxWaitMillis is the longest wait a time.Duration can hold.
const maxWaitMillis = math.MaxInt64 / int64(time.Millisecond)

// ParseAction turns a model reply into one action. Replies are either a
// JSON object or lines in the command grammar:
//
//	CLICK x y
//	DRAG x1 y1 x2 y2
//	TYPE text
//	KEY name
//	EXECUTE code        (PYTHON_EXECUTE is accepted too)
//	WAIT ms
//	NAVIGATE url
//	DONE
//
// The first well-formed command wins. Blank lines, lines starting with '#'
// and code fences are skipped. A reply with no command yields WAIT 2000.
func ParseAction(reply string) (agent.Action, error) {
	trimmed := strings.TrimSpace(stripFence(reply))
	if strings.HasPrefix(trimmed, "{") {
		return parseJSONAction([]byte(trimmed))
	}
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
			continue
		}
		if action, ok := parseCommand(line); ok {
			return action, nil
		}
	}
	return agent.Action{Kind: agent.ActionWait, Wait: DefaultWait, Reason: "no actionable command"}, nil
}

func parseCommand(line string) (agent.Action, bool) {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	fields := strings.Fields(rest)

	switch strings.ToUpper(strings.TrimSuffix(cmd, ":")) {
	case "CLICK":
		xy, ok := coords(fields, 2)
		if !ok {
			return agent.Action{}, false
		}
		return uiAction(agent.UIAction{Op: agent.UIClick, X: xy[0], Y: xy[1]}), true
	case "DRAG":
		xy, ok := coords(fields, 4)
		if !ok {
			return agent.Action{}, false
		}
		return uiAction(agent.UIAction{Op: agent.UIDrag, X: xy[0], Y: xy[1], X2: xy[2], Y2: xy[3]}), true
	case "TYPE":
		if rest == "" {
			return agent.Action{}, false
		}
		return uiAction(agent.UIAction{Op: agent.UIType, Text: rest}), true
	case "KEY":
		if len(fields) == 0 {
			return agent.Action{}, false
		}
		return uiAction(agent.UIAction{Op: agent.UIKey, Key: strings.ToLower(fields[0])}), true
	case "NAVIGATE":
		if len(fields) == 0 {
			return agent.Action{}, false
		}
		return uiAction(agent.UIAction{Op: agent.UINavigate, URL: fields[0]}), true
	case "EXECUTE", "PYTHON_EXECUTE":
		if rest == "" {
			return agent.Action{}, false
		}
		return agent.Action{Kind: agent.ActionExecuteCode, Code: rest}, true
	case "WAIT":
		if len(fields) == 0 {
			return agent.Action{}, false
		}
		ms, err := strconv.ParseFloat(fields[0], 64)
		if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
			return agent.Action{}, false
		}
		return agent.Action{Kind: agent.ActionWait, Wait: waitMillis(ms)}, true
	case "DONE", "TERMINATE":
		return agent.Action{Kind: agent.ActionTerminate, Reason: rest}, true
	}
	return agent.Action{}, false
}

// waitMillis converts a non-negative millisecond count, saturating at the
// longest representable duration.
func waitMillis(ms float64) time.Duration {
	if ms >= float64(maxWaitMillis) {
		return time.Duration(maxWaitMillis) * time.Millisecond
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func uiAction(u agent.UIAction) agent.Action {
	return agent.Action{Kind: agent.ActionUI, UI: &u}
}

// coords parses n coordinates, clamping each to the normalized grid.
func coords(fields []string, n int) ([]int, bool) {
	if len(fields) < n {
		return nil, false
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(strings.Trim(fields[i], ",()"), 64)
		if err != nil {
			return nil, false
		}
		out[i] = clampCoord(int(v))
	}
	return out, true
}

func clampCoord(v int) int {
	if v < 0 {
		return 0
	}
	if v > agent.CoordinateScale {
		return agent.CoordinateScale
	}
	return v
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

type jsonAction struct {
	Kind   string `json:"kind"`
	Code   string `json:"code"`
	Op     string `json:"op"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	X2     int    `json:"x2"`
	Y2     int    `json:"y2"`
	Text   string `json:"text"`
	Key    string `json:"key"`
	URL    string `json:"url"`
	WaitMs int64  `json:"wait_ms"`
	Reason string `json:"reason"`
}

var actionSchema struct {
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

func compiledActionSchema() (*jsonschema.Schema, error) {
	actionSchema.once.Do(func() {
		actionSchema.schema, actionSchema.err = jsonschema.CompileString("action.json", actionSchemaJSON)
	})
	return actionSchema.schema, actionSchema.err
}

func parseJSONAction(raw []byte) (agent.Action, error) {
	schema, err := compiledActionSchema()
	if err != nil {
		return agent.Action{}, fmt.Errorf("compile action schema: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return agent.Action{}, fmt.Errorf("decode action: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return agent.Action{}, fmt.Errorf("invalid action: %w", err)
	}
	var ja jsonAction
	if err := json.Unmarshal(raw, &ja); err != nil {
		return agent.Action{}, fmt.Errorf("decode action: %w", err)
	}

	action := agent.Action{Kind: agent.ActionKind(ja.Kind), Reason: ja.Reason}
	switch action.Kind {
	case agent.ActionExecuteCode:
		action.Code = ja.Code
	case agent.ActionUI:
		action.UI = &agent.UIAction{
			Op:   agent.UIOp(ja.Op),
			X:    ja.X,
			Y:    ja.Y,
			X2:   ja.X2,
			Y2:   ja.Y2,
			Text: ja.Text,
			Key:  strings.ToLower(ja.Key),
			URL:  ja.URL,
		}
	case agent.ActionWait:
		action.Wait = waitMillis(float64(ja.WaitMs))
		if ja.WaitMs == 0 {
			action.Wait = DefaultWait
		}
	}
	return action, nil
}

const actionSchemaJSON = `{
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": { "enum": ["execute_code", "ui_action", "wait", "terminate"] },
    "code": { "type": "string" },
    "op": { "enum": ["click", "drag", "type", "key", "navigate"] },
    "x": { "type": "integer", "minimum": 0, "maximum": 1000 },
    "y": { "type": "integer", "minimum": 0, "maximum": 1000 },
    "x2": { "type": "integer", "minimum": 0, "maximum": 1000 },
    "y2": { "type": "integer", "minimum": 0, "maximum": 1000 },
    "text": { "type": "string" },
    "key": { "type": "string" },
    "url": { "type": "string" },
    "wait_ms": { "type": "integer", "minimum": 0 },
    "reason": { "type": "string" }
  },
  "allOf": [
    {
      "if": { "properties": { "kind": { "const": "execute_code" } } },
      "then": { "required": ["code"], "properties": { "code": { "minLength": 1 } } }
    },
    {
      "if": { "properties": { "kind": { "const": "ui_action" } } },
      "then": { "required": ["op"] }
    }
  ],
  "additionalProperties": false
}`
