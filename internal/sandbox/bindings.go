package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// maxDepth bounds copying of nested values; deeper or cyclic values are not
// carried.
const maxDepth = 64

// maxRenderedValue caps one value in a rendered binding list.
const maxRenderedValue = 256

// Bindings are named data values carried from one fragment to the next.
// Only plain data is ever stored: None, bool, int, float, string, bytes and
// lists, tuples, dicts, sets and structs of those.
type Bindings map[string]starlark.Value

// Names returns the binding names sorted.
func (b Bindings) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the value bound to name.
func (b Bindings) Get(name string) (starlark.Value, bool) {
	v, ok := b[name]
	return v, ok
}

// Clone returns a deep copy. Values that are not plain data are dropped.
func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	for name, v := range b {
		if c, ok := copyData(v, 0); ok {
			out[name] = c
		}
	}
	return out
}

// Render formats the named bindings as "name = value" pairs joined by "; ".
// With no names it renders every binding.
func (b Bindings) Render(names ...string) string {
	if len(names) == 0 {
		names = b.Names()
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		v, ok := b[name]
		if !ok {
			continue
		}
		parts = append(parts, name+" = "+renderValue(v))
	}
	return strings.Join(parts, "; ")
}

func renderValue(v starlark.Value) string {
	s := v.String()
	if len(s) <= maxRenderedValue {
		return s
	}
	cut := maxRenderedValue
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// IsData reports whether v is plain data that may be carried.
func IsData(v starlark.Value) bool {
	_, ok := copyData(v, 0)
	return ok
}

// copyData returns a deep copy of v, or false if v is not plain data.
func copyData(v starlark.Value, depth int) (starlark.Value, bool) {
	if depth > maxDepth {
		return nil, false
	}
	switch x := v.(type) {
	case starlark.NoneType, starlark.Bool, starlark.Int, starlark.Float, starlark.String, starlark.Bytes:
		return v, true
	case *starlark.List:
		elems := make([]starlark.Value, x.Len())
		for i := 0; i < x.Len(); i++ {
			c, ok := copyData(x.Index(i), depth+1)
			if !ok {
				return nil, false
			}
			elems[i] = c
		}
		return starlark.NewList(elems), true
	case starlark.Tuple:
		elems := make(starlark.Tuple, len(x))
		for i, e := range x {
			c, ok := copyData(e, depth+1)
			if !ok {
				return nil, false
			}
			elems[i] = c
		}
		return elems, true
	case *starlark.Dict:
		d := starlark.NewDict(x.Len())
		for _, item := range x.Items() {
			k, ok := copyData(item[0], depth+1)
			if !ok {
				return nil, false
			}
			val, ok := copyData(item[1], depth+1)
			if !ok {
				return nil, false
			}
			if err := d.SetKey(k, val); err != nil {
				return nil, false
			}
		}
		return d, true
	case *starlark.Set:
		s := starlark.NewSet(x.Len())
		iter := x.Iterate()
		defer iter.Done()
		var e starlark.Value
		for iter.Next(&e) {
			c, ok := copyData(e, depth+1)
			if !ok {
				return nil, false
			}
			if err := s.Insert(c); err != nil {
				return nil, false
			}
		}
		return s, true
	case *starlarkstruct.Struct:
		// The constructor must itself be data, which rules out structs
		// built by a host function value.
		ctor, ok := copyData(x.Constructor(), depth+1)
		if !ok {
			return nil, false
		}
		fields := make(starlark.StringDict, len(x.AttrNames()))
		for _, name := range x.AttrNames() {
			fv, err := x.Attr(name)
			if err != nil {
				return nil, false
			}
			c, ok := copyData(fv, depth+1)
			if !ok {
				return nil, false
			}
			fields[name] = c
		}
		return starlarkstruct.FromStringDict(ctor, fields), true
	}
	return nil, false
}

// FromGo converts JSON-like Go values into bindings.
func FromGo(values map[string]any) (Bindings, error) {
	out := make(Bindings, len(values))
	for name, raw := range values {
		v, err := toStarlark(raw, 0)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func toStarlark(raw any, depth int) (starlark.Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d", maxDepth)
	}
	switch x := raw.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return starlark.MakeInt64(int64(x)), nil
		}
		return starlark.Float(x), nil
	case string:
		return starlark.String(x), nil
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			v, err := toStarlark(e, depth+1)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(x))
		for _, k := range keys {
			v, err := toStarlark(x[k], depth+1)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), v); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("unsupported value of type %T", raw)
}

// ToGo converts bindings into JSON-friendly Go values.
func (b Bindings) ToGo() map[string]any {
	out := make(map[string]any, len(b))
	for name, v := range b {
		out[name] = toGo(v)
	}
	return out
}

func toGo(v starlark.Value) any {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(x)
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i
		}
		return x.BigInt().String()
	case starlark.Float:
		return float64(x)
	case starlark.String:
		return string(x)
	case starlark.Bytes:
		return string(x)
	case *starlark.List:
		out := make([]any, x.Len())
		for i := 0; i < x.Len(); i++ {
			out[i] = toGo(x.Index(i))
		}
		return out
	case starlark.Tuple:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toGo(e)
		}
		return out
	case *starlark.Set:
		out := make([]any, 0, x.Len())
		iter := x.Iterate()
		defer iter.Done()
		var e starlark.Value
		for iter.Next(&e) {
			out = append(out, toGo(e))
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			key := item[0].String()
			if s, ok := item[0].(starlark.String); ok {
				key = string(s)
			}
			out[key] = toGo(item[1])
		}
		return out
	case *starlarkstruct.Struct:
		out := make(map[string]any, len(x.AttrNames()))
		for _, name := range x.AttrNames() {
			if fv, err := x.Attr(name); err == nil {
				out[name] = toGo(fv)
			}
		}
		return out
	}
	return v.String()
}
