package tier

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/franz/internal/capability"
)

// Catalogue is the part of the capability registry the resolver needs.
type Catalogue interface {
	Has(id string) bool
	ExpandGroups(items []string) ([]string, error)
}

// Resolver holds the materialized tiers. It is immutable after construction.
type Resolver struct {
	sets  map[string]Set
	defs  []Definition
	order []string
}

// NewResolver validates defs against catalogue and materializes every tier.
// Any unknown capability, unknown parent, cycle or rank conflict is a
// configuration error, as is a tier that does not grant everything the tier
// ranked just below it grants.
func NewResolver(catalogue Catalogue, defs []Definition) (*Resolver, error) {
	if catalogue == nil {
		return nil, errors.New("tier: capability catalogue is required")
	}
	if len(defs) == 0 {
		return nil, errors.New("tier: at least one tier must be defined")
	}

	byName := make(map[string]Definition, len(defs))
	ranks := make(map[int]string, len(defs))
	for _, def := range defs {
		def.Name = normalizeName(def.Name)
		def.Inherits = normalizeName(def.Inherits)
		if def.Name == "" {
			return nil, errors.New("tier: name is required")
		}
		if _, dup := byName[def.Name]; dup {
			return nil, fmt.Errorf("tier %s: defined more than once", def.Name)
		}
		if other, dup := ranks[def.Rank]; dup {
			return nil, fmt.Errorf("tier %s: rank %d already used by %s", def.Name, def.Rank, other)
		}
		byName[def.Name] = def
		ranks[def.Rank] = def.Name
	}

	m := &materializer{
		catalogue: catalogue,
		defs:      byName,
		sets:      make(map[string]Set, len(byName)),
		visiting:  make(map[string]bool),
	}
	for name := range byName {
		if _, err := m.materialize(name); err != nil {
			return nil, err
		}
	}

	r := &Resolver{sets: m.sets}
	for name := range m.sets {
		r.order = append(r.order, name)
	}
	sort.Slice(r.order, func(i, j int) bool {
		return m.sets[r.order[i]].Rank() < m.sets[r.order[j]].Rank()
	})
	for i := 1; i < len(r.order); i++ {
		lower, higher := m.sets[r.order[i-1]], m.sets[r.order[i]]
		if !lower.SubsetOf(higher) {
			return nil, fmt.Errorf("tier %s: rank %d is above %s but does not grant %s",
				higher.Name(), higher.Rank(), lower.Name(), strings.Join(missing(lower, higher), ", "))
		}
	}
	for _, name := range r.order {
		r.defs = append(r.defs, byName[name])
	}
	return r, nil
}

// Resolve returns the capability set for a tier.
func (r *Resolver) Resolve(name string) (Set, error) {
	set, ok := r.sets[normalizeName(name)]
	if !ok {
		return Set{}, &UnknownTierError{Name: name, Known: r.Names()}
	}
	return set, nil
}

// Names returns the tier names ordered by rank.
func (r *Resolver) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions returns the normalized definitions ordered by rank.
func (r *Resolver) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	for i, def := range r.defs {
		def.Allow = append([]string(nil), def.Allow...)
		def.Deny = append([]string(nil), def.Deny...)
		out[i] = def
	}
	return out
}

type materializer struct {
	catalogue Catalogue
	defs      map[string]Definition
	sets      map[string]Set
	visiting  map[string]bool
}

func (m *materializer) materialize(name string) (Set, error) {
	if set, ok := m.sets[name]; ok {
		return set, nil
	}
	def, ok := m.defs[name]
	if !ok {
		return Set{}, &UnknownTierError{Name: name}
	}
	if m.visiting[name] {
		return Set{}, fmt.Errorf("tier %s: inheritance cycle", name)
	}
	m.visiting[name] = true
	defer delete(m.visiting, name)

	var inherited Set
	if def.Inherits != "" {
		if _, ok := m.defs[def.Inherits]; !ok {
			return Set{}, fmt.Errorf("tier %s: inherits %w", name, &UnknownTierError{Name: def.Inherits})
		}
		parent, err := m.materialize(def.Inherits)
		if err != nil {
			return Set{}, err
		}
		if parent.Rank() >= def.Rank {
			return Set{}, fmt.Errorf("tier %s: rank %d must be above inherited tier %s (rank %d)",
				name, def.Rank, parent.Name(), parent.Rank())
		}
		inherited = parent
	}

	allow, err := m.expand(name, "allow", def.Allow)
	if err != nil {
		return Set{}, err
	}
	deny, err := m.expand(name, "deny", def.Deny)
	if err != nil {
		return Set{}, err
	}

	own := make(map[string]bool, len(allow))
	for _, id := range allow {
		own[id] = true
	}
	for _, id := range deny {
		if !own[id] {
			if inherited.Has(id) {
				return Set{}, fmt.Errorf("tier %s: cannot deny %s inherited from %s", name, id, inherited.Name())
			}
			return Set{}, fmt.Errorf("tier %s: denies %s which it does not allow", name, id)
		}
		delete(own, id)
	}

	ids := inherited.IDs()
	for id := range own {
		ids = append(ids, id)
	}
	set := NewSet(name, def.Rank, ids)
	m.sets[name] = set
	return set, nil
}

func (m *materializer) expand(tierName, field string, items []string) ([]string, error) {
	ids, err := m.catalogue.ExpandGroups(items)
	if err != nil {
		return nil, fmt.Errorf("tier %s %s: %w", tierName, field, err)
	}
	for _, id := range ids {
		if !m.catalogue.Has(id) {
			return nil, fmt.Errorf("tier %s %s: %w", tierName, field, &capability.UnknownCapabilityError{ID: id})
		}
	}
	return ids, nil
}

// missing lists the capabilities lower grants that higher does not.
func missing(lower, higher Set) []string {
	var out []string
	for _, id := range lower.IDs() {
		if !higher.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
