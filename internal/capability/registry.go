package capability

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps capability IDs to their definitions. It is populated at
// startup and sealed before any fragment runs; after Seal it is read-only.
type Registry struct {
	mu     sync.RWMutex
	caps   map[string]Capability
	groups map[string][]string
	sealed bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:   make(map[string]Capability),
		groups: make(map[string][]string),
	}
}

// Register adds a capability.
func (r *Registry) Register(c Capability) error {
	if err := c.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, exists := r.caps[c.ID]; exists {
		return fmt.Errorf("capability %s already registered", c.ID)
	}
	for _, existing := range r.caps {
		if existing.Name() == c.Name() {
			return fmt.Errorf("capability %s binds the same name as %s", c.ID, existing.ID)
		}
	}
	r.caps[c.ID] = c
	return nil
}

// AddGroup defines a named group of capability IDs. Members may reference
// groups defined earlier.
func (r *Registry) AddGroup(name string, members []string) error {
	name = NormalizeID(name)
	if !IsGroup(name) {
		return fmt.Errorf("group name %q must use the %q prefix", name, GroupPrefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, exists := r.groups[name]; exists {
		return fmt.Errorf("group %s already defined", name)
	}
	expanded, err := r.expandLocked(members, map[string]bool{name: true})
	if err != nil {
		return fmt.Errorf("group %s: %w", name, err)
	}
	r.groups[name] = expanded
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the capability registered under id.
func (r *Registry) Lookup(id string) (Capability, error) {
	id = NormalizeID(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[id]
	if !ok {
		return Capability{}, &UnknownCapabilityError{ID: id}
	}
	return c, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, err := r.Lookup(id)
	return err == nil
}

// ByName returns the capability bound to the fragment-level name.
func (r *Registry) ByName(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.caps[name]; ok && c.Name() == name {
		return c, true
	}
	c, ok := r.caps[ModulePrefix+name]
	return c, ok
}

// List returns all capabilities sorted by ID.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns all registered IDs sorted.
func (r *Registry) IDs() []string {
	caps := r.List()
	ids := make([]string, len(caps))
	for i, c := range caps {
		ids[i] = c.ID
	}
	return ids
}

// Groups returns a copy of the group table.
func (r *Registry) Groups() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.groups))
	for name, members := range r.groups {
		out[name] = append([]string(nil), members...)
	}
	return out
}

// ExpandGroups replaces group references with their members. The result is
// deduplicated and keeps first-seen order. Plain IDs are normalized but not
// checked against the registry.
func (r *Registry) ExpandGroups(items []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expandLocked(items, nil)
}

func (r *Registry) expandLocked(items []string, visiting map[string]bool) ([]string, error) {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, item := range items {
		id := NormalizeID(item)
		if id == "" {
			continue
		}
		if !IsGroup(id) {
			add(id)
			continue
		}
		if visiting[id] {
			return nil, fmt.Errorf("group %s references itself", id)
		}
		members, ok := r.groups[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, id)
		}
		for _, m := range members {
			add(m)
		}
	}
	return out, nil
}
