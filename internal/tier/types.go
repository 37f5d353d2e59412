// Package tier maps trust tier names to the capability sets they grant.
// Tiers are defined as data, materialized once against a sealed capability
// registry, and resolved by name for every execution.
package tier

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Built-in tier names.
const (
	Minimal  = "minimal"
	Standard = "standard"
	Extended = "extended"
)

// ErrUnknownTier is returned when a tier name is not configured.
var ErrUnknownTier = errors.New("unknown tier")

// UnknownTierError names the tier that failed resolution.
type UnknownTierError struct {
	Name  string
	Known []string
}

func (e *UnknownTierError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown tier %q", e.Name)
	}
	return fmt.Sprintf("unknown tier %q (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

func (e *UnknownTierError) Unwrap() error {
	return ErrUnknownTier
}

// Definition declares a tier. Allow and Deny accept capability IDs and
// group references.
type Definition struct {
	// Name identifies the tier in configuration and requests.
	Name string `json:"name" yaml:"name"`

	// Rank orders tiers by risk; higher ranks grant more.
	Rank int `json:"rank" yaml:"rank"`

	// Description is shown by the tiers command.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Inherits names a lower-ranked tier whose grants are included.
	Inherits string `json:"inherits,omitempty" yaml:"inherits,omitempty"`

	// Allow lists the capabilities this tier adds.
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`

	// Deny removes capabilities from this tier's own Allow list.
	Deny []string `json:"deny,omitempty" yaml:"deny,omitempty"`
}

// Set is the materialized, immutable capability set of one tier.
type Set struct {
	name    string
	rank    int
	ids     []string
	members map[string]struct{}
}

// NewSet builds a set from already materialized IDs. Resolvers build sets
// from definitions; a sandbox worker rebuilds the one it was handed.
func NewSet(name string, rank int, ids []string) Set {
	members := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		members[id] = struct{}{}
	}
	sorted := make([]string, 0, len(members))
	for id := range members {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return Set{name: name, rank: rank, ids: sorted, members: members}
}

// Name returns the tier name.
func (s Set) Name() string { return s.name }

// Rank returns the tier rank.
func (s Set) Rank() int { return s.rank }

// Has reports whether the tier grants id.
func (s Set) Has(id string) bool {
	_, ok := s.members[id]
	return ok
}

// IDs returns the granted capability IDs in sorted order.
func (s Set) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Len returns the number of granted capabilities.
func (s Set) Len() int { return len(s.ids) }

// SubsetOf reports whether every capability in s is also in other.
func (s Set) SubsetOf(other Set) bool {
	for _, id := range s.ids {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets grant the same capabilities.
func (s Set) Equal(other Set) bool {
	return len(s.ids) == len(other.ids) && s.SubsetOf(other)
}
