// Package capability holds the catalogue of operations a code fragment may be
// granted: interpreter builtins, the output sink and importable modules.
package capability

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.starlark.net/starlark"
)

// Category classifies what kind of host surface a capability exposes.
type Category string

const (
	CategoryBuiltin Category = "builtin"
	CategoryModule  Category = "module"
	CategorySink    Category = "sink"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryBuiltin, CategoryModule, CategorySink:
		return true
	}
	return false
}

// Risk is a coarse classification used to order tiers and to report policy.
type Risk string

const (
	RiskNone Risk = "none"
	RiskLow  Risk = "low"
	RiskHigh Risk = "high"
)

// Valid reports whether r is a known risk level.
func (r Risk) Valid() bool {
	switch r {
	case RiskNone, RiskLow, RiskHigh:
		return true
	}
	return false
}

// ModulePrefix marks capability IDs that name importable modules.
const ModulePrefix = "module:"

var (
	// ErrUnknownCapability is returned when an ID is not in the registry.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrSealed is returned when the registry is modified after Seal.
	ErrSealed = errors.New("capability registry is sealed")

	// ErrUnknownGroup is returned when a group: reference is not defined.
	ErrUnknownGroup = errors.New("unknown capability group")
)

// UnknownCapabilityError names the capability that failed lookup.
type UnknownCapabilityError struct {
	ID string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability %q", e.ID)
}

func (e *UnknownCapabilityError) Unwrap() error {
	return ErrUnknownCapability
}

// Binder builds the value of an execution-scoped capability.
type Binder func(scope *Scope) (starlark.Value, error)

// Capability is a single named operation a fragment may invoke.
type Capability struct {
	ID          string
	Category    Category
	Risk        Risk
	Description string

	// Value is the binding for capabilities that are safe to share across
	// executions. Bind is used instead when set.
	Value starlark.Value
	Bind  Binder
}

// Name returns the identifier the capability is bound to inside a fragment.
func (c Capability) Name() string {
	return strings.TrimPrefix(c.ID, ModulePrefix)
}

// IsModule reports whether the capability is an importable module.
func (c Capability) IsModule() bool {
	return c.Category == CategoryModule
}

// Binding returns the value to expose for one execution.
func (c Capability) Binding(scope *Scope) (starlark.Value, error) {
	if c.Bind != nil {
		v, err := c.Bind(scope)
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", c.ID, err)
		}
		return v, nil
	}
	if c.Value == nil {
		return nil, fmt.Errorf("capability %s has no binding", c.ID)
	}
	return c.Value, nil
}

func (c Capability) validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("capability id is required")
	}
	if c.ID != NormalizeID(c.ID) {
		return fmt.Errorf("capability id %q is not normalized", c.ID)
	}
	if strings.HasPrefix(c.ID, GroupPrefix) {
		return fmt.Errorf("capability id %q uses the group prefix", c.ID)
	}
	if !c.Category.Valid() {
		return fmt.Errorf("capability %s: invalid category %q", c.ID, c.Category)
	}
	if !c.Risk.Valid() {
		return fmt.Errorf("capability %s: invalid risk %q", c.ID, c.Risk)
	}
	if (c.Category == CategoryModule) != strings.HasPrefix(c.ID, ModulePrefix) {
		return fmt.Errorf("capability %s: module capabilities must use the %q prefix", c.ID, ModulePrefix)
	}
	if c.Value == nil && c.Bind == nil {
		return fmt.Errorf("capability %s: value or binder is required", c.ID)
	}
	return nil
}

// Scope carries per-execution state for binders and releases it when the
// execution ends.
type Scope struct {
	Tier string

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

// NewScope returns a scope for one execution under tier.
func NewScope(tier string) *Scope {
	return &Scope{Tier: tier}
}

// OnClose registers fn to run when the scope is closed. Closers run in
// reverse registration order.
func (s *Scope) OnClose(fn func() error) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = fn()
		return
	}
	s.closers = append(s.closers, fn)
}

// Close runs all registered closers once.
func (s *Scope) Close() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
