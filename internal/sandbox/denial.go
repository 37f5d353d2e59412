package sandbox

import (
	"fmt"
	"sync"

	"go.starlark.net/starlark"
)

// DeniedError is raised inside a fragment that touches a capability its tier
// does not grant.
type DeniedError struct {
	Capability string
	Tier       string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("capability %q is not granted by tier %q", e.Capability, e.Tier)
}

// denials remembers the first denial of an execution. Fragments cannot catch
// errors, but a denial raised inside a callback may be rewrapped on its way
// out, so the executor does not rely on the returned error alone.
type denials struct {
	mu    sync.Mutex
	first *DeniedError
}

func (d *denials) record(err *DeniedError) *DeniedError {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.first == nil {
		d.first = err
	}
	return err
}

func (d *denials) get() *DeniedError {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.first
}

// deniedValue stands in for a capability the tier does not grant. Calling it
// or reading any attribute raises a DeniedError.
type deniedValue struct {
	name       string
	capability string
	tier       string
	log        *denials
}

var (
	_ starlark.Callable = (*deniedValue)(nil)
	_ starlark.HasAttrs = (*deniedValue)(nil)
)

func (d *deniedValue) deny() error {
	return d.log.record(&DeniedError{Capability: d.capability, Tier: d.tier})
}

func (d *deniedValue) String() string        { return "<denied " + d.capability + ">" }
func (d *deniedValue) Type() string          { return "denied_capability" }
func (d *deniedValue) Freeze()               {}
func (d *deniedValue) Truth() starlark.Bool  { return starlark.False }
func (d *deniedValue) Hash() (uint32, error) { return 0, d.deny() }
func (d *deniedValue) Name() string          { return d.name }
func (d *deniedValue) AttrNames() []string   { return nil }

func (d *deniedValue) Attr(string) (starlark.Value, error) {
	return nil, d.deny()
}

func (d *deniedValue) CallInternal(*starlark.Thread, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return nil, d.deny()
}
