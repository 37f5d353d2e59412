package sandbox

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// wireValue is the JSON form of one data value passed to and from a sandbox
// worker. Strings travel as raw bytes because Starlark strings need not be
// valid UTF-8.
type wireValue struct {
	Type   string      `json:"t"`
	Bool   bool        `json:"b,omitempty"`
	Number string      `json:"n,omitempty"`
	Raw    []byte      `json:"r,omitempty"`
	Keys   []wireValue `json:"k,omitempty"`
	Items  []wireValue `json:"i,omitempty"`
	Fields []string    `json:"f,omitempty"`
	Ctor   *wireValue  `json:"c,omitempty"`
}

func encodeBindings(b Bindings) (map[string]wireValue, error) {
	out := make(map[string]wireValue, len(b))
	for name, v := range b {
		w, err := encodeValue(v, 0)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", name, err)
		}
		out[name] = w
	}
	return out, nil
}

func decodeBindings(in map[string]wireValue) (Bindings, error) {
	out := make(Bindings, len(in))
	for name, w := range in {
		v, err := decodeValue(w, 0)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func encodeValue(v starlark.Value, depth int) (wireValue, error) {
	if depth > maxDepth {
		return wireValue{}, fmt.Errorf("value nested deeper than %d", maxDepth)
	}
	encodeAll := func(typ string, elems []starlark.Value) (wireValue, error) {
		w := wireValue{Type: typ, Items: make([]wireValue, len(elems))}
		for i, e := range elems {
			item, err := encodeValue(e, depth+1)
			if err != nil {
				return wireValue{}, err
			}
			w.Items[i] = item
		}
		return w, nil
	}

	switch x := v.(type) {
	case starlark.NoneType:
		return wireValue{Type: "none"}, nil
	case starlark.Bool:
		return wireValue{Type: "bool", Bool: bool(x)}, nil
	case starlark.Int:
		return wireValue{Type: "int", Number: x.String()}, nil
	case starlark.Float:
		return wireValue{Type: "float", Number: strconv.FormatFloat(float64(x), 'g', -1, 64)}, nil
	case starlark.String:
		return wireValue{Type: "string", Raw: []byte(x)}, nil
	case starlark.Bytes:
		return wireValue{Type: "bytes", Raw: []byte(x)}, nil
	case *starlark.List:
		elems := make([]starlark.Value, x.Len())
		for i := range elems {
			elems[i] = x.Index(i)
		}
		return encodeAll("list", elems)
	case starlark.Tuple:
		return encodeAll("tuple", x)
	case *starlark.Set:
		elems := make([]starlark.Value, 0, x.Len())
		iter := x.Iterate()
		defer iter.Done()
		var e starlark.Value
		for iter.Next(&e) {
			elems = append(elems, e)
		}
		return encodeAll("set", elems)
	case *starlark.Dict:
		items := x.Items()
		keys := make([]starlark.Value, len(items))
		vals := make([]starlark.Value, len(items))
		for i, item := range items {
			keys[i], vals[i] = item[0], item[1]
		}
		kw, err := encodeAll("dict", keys)
		if err != nil {
			return wireValue{}, err
		}
		vw, err := encodeAll("dict", vals)
		if err != nil {
			return wireValue{}, err
		}
		return wireValue{Type: "dict", Keys: kw.Items, Items: vw.Items}, nil
	case *starlarkstruct.Struct:
		ctor, err := encodeValue(x.Constructor(), depth+1)
		if err != nil {
			return wireValue{}, err
		}
		names := x.AttrNames()
		elems := make([]starlark.Value, len(names))
		for i, name := range names {
			if elems[i], err = x.Attr(name); err != nil {
				return wireValue{}, err
			}
		}
		w, err := encodeAll("struct", elems)
		if err != nil {
			return wireValue{}, err
		}
		w.Fields = names
		w.Ctor = &ctor
		return w, nil
	}
	return wireValue{}, fmt.Errorf("cannot transfer value of type %s", v.Type())
}

func decodeValue(w wireValue, depth int) (starlark.Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d", maxDepth)
	}
	decodeAll := func(items []wireValue) ([]starlark.Value, error) {
		out := make([]starlark.Value, len(items))
		for i, item := range items {
			v, err := decodeValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	switch w.Type {
	case "none":
		return starlark.None, nil
	case "bool":
		return starlark.Bool(w.Bool), nil
	case "int":
		n, ok := new(big.Int).SetString(w.Number, 10)
		if !ok {
			return nil, fmt.Errorf("malformed int %q", w.Number)
		}
		return starlark.MakeBigInt(n), nil
	case "float":
		f, err := strconv.ParseFloat(w.Number, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed float %q", w.Number)
		}
		return starlark.Float(f), nil
	case "string":
		return starlark.String(w.Raw), nil
	case "bytes":
		return starlark.Bytes(w.Raw), nil
	case "list", "tuple", "set":
		elems, err := decodeAll(w.Items)
		if err != nil {
			return nil, err
		}
		switch w.Type {
		case "list":
			return starlark.NewList(elems), nil
		case "tuple":
			return starlark.Tuple(elems), nil
		}
		s := starlark.NewSet(len(elems))
		for _, e := range elems {
			if err := s.Insert(e); err != nil {
				return nil, err
			}
		}
		return s, nil
	case "dict":
		if len(w.Keys) != len(w.Items) {
			return nil, fmt.Errorf("dict has %d keys and %d values", len(w.Keys), len(w.Items))
		}
		keys, err := decodeAll(w.Keys)
		if err != nil {
			return nil, err
		}
		vals, err := decodeAll(w.Items)
		if err != nil {
			return nil, err
		}
		d := starlark.NewDict(len(keys))
		for i := range keys {
			if err := d.SetKey(keys[i], vals[i]); err != nil {
				return nil, err
			}
		}
		return d, nil
	case "struct":
		if w.Ctor == nil || len(w.Fields) != len(w.Items) {
			return nil, errors.New("malformed struct")
		}
		ctor, err := decodeValue(*w.Ctor, depth+1)
		if err != nil {
			return nil, err
		}
		vals, err := decodeAll(w.Items)
		if err != nil {
			return nil, err
		}
		fields := make(starlark.StringDict, len(vals))
		for i, name := range w.Fields {
			fields[name] = vals[i]
		}
		return starlarkstruct.FromStringDict(ctor, fields), nil
	}
	return nil, fmt.Errorf("unknown value type %q", w.Type)
}
