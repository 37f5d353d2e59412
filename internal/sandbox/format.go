package sandbox

import (
	"strings"
)

// Summary renders the result as the text handed back to the decision
// process: captured output, then either the changed bindings ("name = value;
// ...") or OK, then any error line.
func (r Result) Summary() string {
	var parts []string
	if out := strings.TrimRight(r.Output, "\n"); out != "" {
		parts = append(parts, out)
	}

	switch {
	case r.Outcome == OutcomeCompleted:
		if len(r.NewBindings) > 0 {
			parts = append(parts, r.Bindings.Render(r.NewBindings...))
		} else if len(parts) == 0 {
			parts = append(parts, "OK")
		}
		if r.Error != nil {
			parts = append(parts, "WARNING "+r.Error.Error())
		}
	case r.Error != nil:
		parts = append(parts, "ERROR "+r.Error.Error())
	default:
		parts = append(parts, "ERROR "+string(r.Outcome))
	}
	return strings.Join(parts, "\n")
}
