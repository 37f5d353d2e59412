// Package narrative holds the single observation string that carries the
// agent's memory from one cycle to the next.
package narrative

import "sync/atomic"

// Holder owns the current observation. Replacement is atomic: readers see
// either the previous or the new value, never a mix, and no history is kept.
type Holder struct {
	current atomic.Pointer[string]
	version atomic.Uint64
}

// New returns a holder seeded with initial.
func New(initial string) *Holder {
	h := &Holder{}
	h.current.Store(&initial)
	return h
}

// Get returns the current observation.
func (h *Holder) Get() string {
	if p := h.current.Load(); p != nil {
		return *p
	}
	return ""
}

// Replace installs next and returns the observation it replaced.
func (h *Holder) Replace(next string) string {
	prev := h.current.Swap(&next)
	h.version.Add(1)
	if prev == nil {
		return ""
	}
	return *prev
}

// Version counts replacements since creation.
func (h *Holder) Version() uint64 {
	return h.version.Load()
}
