package capability

import (
	"fmt"
	"math"
	"math/big"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// Options configures the default catalogue.
type Options struct {
	// ScratchDir is the only directory module:scratch can touch.
	ScratchDir string
	// ScratchMaxBytes caps the bytes one execution may write there.
	ScratchMaxBytes int64
}

// DefaultScratchMaxBytes is used when Options.ScratchMaxBytes is zero.
const DefaultScratchMaxBytes = 1 << 20

type entry struct {
	id   string
	risk Risk
	desc string
}

var universeEntries = []entry{
	{"abs", RiskNone, "absolute value of a number"},
	{"min", RiskNone, "smallest of the arguments or of an iterable"},
	{"max", RiskNone, "largest of the arguments or of an iterable"},
	{"int", RiskNone, "convert to integer"},
	{"float", RiskNone, "convert to floating point"},
	{"bool", RiskNone, "truth value"},
	{"dict", RiskNone, "construct a dictionary"},
	{"list", RiskNone, "construct a list"},
	{"tuple", RiskNone, "construct a tuple"},
	{"set", RiskNone, "construct a set"},
	{"range", RiskNone, "integer range"},
	{"len", RiskNone, "length of a sequence or mapping"},
	{"enumerate", RiskNone, "index/value pairs of an iterable"},
	{"zip", RiskNone, "pairwise tuples of iterables"},
	{"sorted", RiskNone, "sorted copy of an iterable"},
	{"reversed", RiskNone, "reversed copy of a sequence"},
	{"any", RiskNone, "true if any element is true"},
	{"all", RiskNone, "true if all elements are true"},
	{"fail", RiskNone, "abort the fragment with a message"},
	{"str", RiskNone, "string form of a value"},
	{"chr", RiskNone, "character for a code point"},
	{"ord", RiskNone, "code point of a character"},
	{"bytes", RiskNone, "construct a byte string"},
	{"hash", RiskNone, "hash of a string"},
	{"type", RiskLow, "name of a value's type"},
	{"repr", RiskLow, "quoted representation of a value"},
	{"getattr", RiskLow, "read an attribute by name"},
	{"hasattr", RiskLow, "test for an attribute by name"},
	{"dir", RiskLow, "list attribute names of a value"},
}

var extraEntries = []struct {
	entry
	fn func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)
}{
	{entry{"sum", RiskNone, "sum of an iterable"}, builtinSum},
	{entry{"pow", RiskNone, "x raised to the power y"}, builtinPow},
	{entry{"round", RiskNone, "round a number to a given precision"}, builtinRound},
	{entry{"bin", RiskNone, "binary string of an integer"}, builtinBase},
	{entry{"hex", RiskNone, "hexadecimal string of an integer"}, builtinBase},
	{entry{"oct", RiskNone, "octal string of an integer"}, builtinBase},
	{entry{"map", RiskNone, "apply a function to each element"}, builtinMap},
	{entry{"filter", RiskNone, "elements for which a function is true"}, builtinFilter},
	{entry{"struct", RiskNone, "record with named fields"}, starlarkstruct.Make},
}

// Defaults returns a registry holding the standard catalogue and groups. The
// registry is not sealed so callers may add more before sealing.
func Defaults(opts Options) (*Registry, error) {
	reg := NewRegistry()

	for _, e := range universeEntries {
		v, ok := starlark.Universe[e.id]
		if !ok {
			return nil, fmt.Errorf("interpreter has no builtin %q", e.id)
		}
		if err := reg.Register(Capability{
			ID: e.id, Category: CategoryBuiltin, Risk: e.risk, Description: e.desc, Value: v,
		}); err != nil {
			return nil, err
		}
	}
	for _, e := range extraEntries {
		if err := reg.Register(Capability{
			ID: e.id, Category: CategoryBuiltin, Risk: e.risk, Description: e.desc,
			Value: starlark.NewBuiltin(e.id, e.fn),
		}); err != nil {
			return nil, err
		}
	}

	// print is routed by the executor into the bounded output buffer.
	if err := reg.Register(Capability{
		ID: "print", Category: CategorySink, Risk: RiskLow,
		Description: "write a line to the captured output",
		Value:       starlark.Universe["print"],
	}); err != nil {
		return nil, err
	}

	modules := []Capability{
		{ID: "module:math", Risk: RiskLow, Description: "mathematical functions and constants", Value: starmath.Module},
		{ID: "module:json", Risk: RiskLow, Description: "encode and decode JSON", Value: starjson.Module},
		{ID: "module:time", Risk: RiskLow, Description: "read the clock and parse durations", Value: startime.Module},
		{ID: "module:scratch", Risk: RiskHigh, Description: "read and write files in the scratch directory", Bind: scratchBinder(opts)},
	}
	for _, m := range modules {
		m.Category = CategoryModule
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}

	for _, g := range DefaultGroups {
		if err := reg.AddGroup(g.Name, g.Members); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func builtinSum(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}
	acc := start
	err := each(iterable, func(x starlark.Value) error {
		next, err := starlark.Binary(syntax.PLUS, acc, x)
		if err != nil {
			return fmt.Errorf("%s: %w", b.Name(), err)
		}
		acc = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

const maxPowExponent = 4096

func builtinPow(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
		return nil, err
	}
	xi, xInt := x.(starlark.Int)
	yi, yInt := y.(starlark.Int)
	if xInt && yInt && yi.Sign() >= 0 {
		exp, ok := yi.Int64()
		if !ok || exp > maxPowExponent {
			return nil, fmt.Errorf("%s: exponent too large", b.Name())
		}
		return starlark.MakeBigInt(new(big.Int).Exp(xi.BigInt(), big.NewInt(exp), nil)), nil
	}
	xf, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", b.Name(), x.Type())
	}
	yf, ok := starlark.AsFloat(y)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", b.Name(), y.Type())
	}
	return starlark.Float(math.Pow(xf, yf)), nil
}

func builtinRound(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	var ndigits starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "number", &x, "ndigits?", &ndigits); err != nil {
		return nil, err
	}
	if i, ok := x.(starlark.Int); ok {
		return i, nil
	}
	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", b.Name(), x.Type())
	}
	if ndigits == starlark.None {
		return starlark.NumberToInt(starlark.Float(math.RoundToEven(f)))
	}
	n, err := starlark.AsInt32(ndigits)
	if err != nil {
		return nil, fmt.Errorf("%s: ndigits: %w", b.Name(), err)
	}
	p := math.Pow10(n)
	return starlark.Float(math.RoundToEven(f*p) / p), nil
}

var basePrefixes = map[string]struct {
	base   int
	prefix string
}{
	"bin": {2, "0b"},
	"oct": {8, "0o"},
	"hex": {16, "0x"},
}

func builtinBase(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	spec := basePrefixes[b.Name()]
	n := x.BigInt()
	sign := ""
	if n.Sign() < 0 {
		sign = "-"
		n.Neg(n)
	}
	return starlark.String(sign + spec.prefix + n.Text(spec.base)), nil
}

func builtinMap(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}
	var out []starlark.Value
	err := each(iterable, func(x starlark.Value) error {
		v, err := starlark.Call(thread, fn, starlark.Tuple{x}, nil)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return starlark.NewList(out), nil
}

func builtinFilter(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Value
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}
	var out []starlark.Value
	err := each(iterable, func(x starlark.Value) error {
		keep := x
		if fn != starlark.None {
			v, err := starlark.Call(thread, fn, starlark.Tuple{x}, nil)
			if err != nil {
				return err
			}
			keep = v
		}
		if keep.Truth() {
			out = append(out, x)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return starlark.NewList(out), nil
}

func each(iterable starlark.Iterable, fn func(starlark.Value) error) error {
	iter := iterable.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		if err := fn(x); err != nil {
			return err
		}
	}
	return nil
}
