package sandbox

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/haasonsaas/franz/internal/capability"
)

// unknownModuleError is returned by load for modules that are not in the
// registry at all.
type unknownModuleError struct {
	module string
}

func (e *unknownModuleError) Error() string {
	return fmt.Sprintf("no module named %q", e.module)
}

// moduleLoader serves load() statements from the modules bound for one
// execution.
type moduleLoader struct {
	registry Registry
	tier     string
	bound    starlark.StringDict
	log      *denials
}

// moduleID maps a load() argument such as "json" or "json.star" to its
// capability ID.
func moduleID(module string) string {
	id := capability.NormalizeID(strings.TrimSuffix(strings.TrimSpace(module), ".star"))
	if !strings.HasPrefix(id, capability.ModulePrefix) {
		id = capability.ModulePrefix + id
	}
	return id
}

func (l *moduleLoader) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	id := moduleID(module)
	name := strings.TrimPrefix(id, capability.ModulePrefix)

	c, err := l.registry.Lookup(id)
	if err != nil || !c.IsModule() {
		return nil, &unknownModuleError{module: module}
	}

	v, ok := l.bound[name]
	if _, denied := v.(*deniedValue); !ok || denied {
		return nil, l.log.record(&DeniedError{Capability: c.ID, Tier: l.tier})
	}

	exports := starlark.StringDict{name: v}
	if m, ok := v.(*starlarkstruct.Module); ok {
		for member, mv := range m.Members {
			exports[member] = mv
		}
	}
	return exports, nil
}
