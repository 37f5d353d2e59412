package sandbox

import (
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/haasonsaas/franz/internal/tier"
)

// checkDenials resolves code against globals and returns the first
// reference, in source order, to a name the tier does not grant. Loads of
// registered modules outside the tier are reported the same way. A stub is
// therefore never reachable as a value: a fragment that mentions one is
// denied before it runs, whether it would call it, print it or only test
// its truth.
//
// Top-level assignments to an ungranted name are references too, since a
// fragment could read the stub before the assignment runs.
//
// Code that does not parse or resolve yields nil; execution reports the
// static error itself.
func (e *Executor) checkDenials(code string, globals starlark.StringDict, set tier.Set) *DeniedError {
	file, err := fileOptions.Parse("fragment", code, 0)
	if err != nil {
		return nil
	}
	var predeclared starlark.StringDict
	if err := resolve.REPLChunk(file, globals.Has, predeclared.Has, starlark.Universe.Has); err != nil {
		return nil
	}

	var found *DeniedError
	syntax.Walk(file, func(n syntax.Node) bool {
		if found != nil {
			return false
		}
		switch n := n.(type) {
		case *syntax.LoadStmt:
			module, _ := n.Module.Value.(string)
			c, err := e.registry.Lookup(moduleID(module))
			if err == nil && c.IsModule() && !set.Has(c.ID) {
				found = &DeniedError{Capability: c.ID, Tier: set.Name()}
				return false
			}
		case *syntax.Ident:
			b, ok := n.Binding.(*resolve.Binding)
			if !ok || b.Scope != resolve.Global {
				return true
			}
			if stub, ok := globals[n.Name].(*deniedValue); ok {
				found = &DeniedError{Capability: stub.capability, Tier: stub.tier}
			}
		}
		return true
	})
	return found
}
