package sandbox

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/haasonsaas/franz/internal/capability"
	"github.com/haasonsaas/franz/internal/tier"
)

// environment is the set of names an execution starts with besides carried
// bindings: granted capabilities and a denial stub for everything else.
type environment struct {
	values  starlark.StringDict
	modules starlark.StringDict
}

var literals = map[string]bool{"None": true, "True": true, "False": true}

func (e *Executor) environment(set tier.Set, scope *capability.Scope, log *denials) (*environment, error) {
	env := &environment{
		values:  make(starlark.StringDict),
		modules: make(starlark.StringDict),
	}
	for _, c := range e.registry.List() {
		name := c.Name()
		var v starlark.Value
		if set.Has(c.ID) {
			bound, err := c.Binding(scope)
			if err != nil {
				e.logger.Warn("capability binding failed", "capability", c.ID, "error", err)
				return nil, fmt.Errorf("capability %q is unavailable", c.ID)
			}
			v = bound
		} else {
			v = &deniedValue{name: name, capability: c.ID, tier: set.Name(), log: log}
		}
		env.values[name] = v
		if c.IsModule() {
			env.modules[name] = v
		}
	}

	// Interpreter builtins without a registered capability are never granted.
	for name := range starlark.Universe {
		if literals[name] {
			continue
		}
		if _, ok := env.values[name]; ok {
			continue
		}
		env.values[name] = &deniedValue{name: name, capability: name, tier: set.Name(), log: log}
	}
	return env, nil
}
