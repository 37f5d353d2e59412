package sandbox

import (
	"reflect"
	"strings"
	"testing"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

func TestBindingsCloneIsDeep(t *testing.T) {
	inner := starlark.NewList([]starlark.Value{starlark.MakeInt(1)})
	d := starlark.NewDict(1)
	_ = d.SetKey(starlark.String("k"), inner)
	b := Bindings{"d": d, "f": starlark.NewBuiltin("f", nil)}

	c := b.Clone()
	if _, ok := c["f"]; ok {
		t.Error("Clone should drop builtins")
	}
	copied, found, err := c["d"].(*starlark.Dict).Get(starlark.String("k"))
	if err != nil || !found {
		t.Fatalf("Get(k) = %v, %v, %v", copied, found, err)
	}
	if err := copied.(*starlark.List).Append(starlark.MakeInt(2)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if inner.Len() != 1 {
		t.Errorf("original list mutated through clone: %s", inner)
	}
}

func TestBindingsCloneCopiesStructs(t *testing.T) {
	inner := starlark.NewList([]starlark.Value{starlark.MakeInt(1)})
	s := starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"name":  starlark.String("x"),
		"items": inner,
	})
	c := Bindings{"s": s}.Clone()

	got, ok := c["s"].(*starlarkstruct.Struct)
	if !ok {
		t.Fatalf("Clone() dropped the struct: %v", c)
	}
	if got.String() != `struct(items = [1], name = "x")` {
		t.Errorf("cloned struct = %s", got)
	}
	items, err := got.Attr("items")
	if err != nil {
		t.Fatalf("Attr(items) error = %v", err)
	}
	if err := items.(*starlark.List).Append(starlark.MakeInt(2)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if inner.Len() != 1 {
		t.Errorf("original struct field mutated through clone: %s", inner)
	}

	want := map[string]any{"s": map[string]any{"name": "x", "items": []any{int64(1), int64(2)}}}
	if out := c.ToGo(); !reflect.DeepEqual(out, want) {
		t.Errorf("ToGo() = %#v, want %#v", out, want)
	}
}

func TestIsData(t *testing.T) {
	cyclic := starlark.NewList(nil)
	_ = cyclic.Append(cyclic)

	set := starlark.NewSet(1)
	_ = set.Insert(starlark.String("a"))

	tests := []struct {
		name string
		v    starlark.Value
		want bool
	}{
		{"none", starlark.None, true},
		{"int", starlark.MakeInt(3), true},
		{"bytes", starlark.Bytes("x"), true},
		{"tuple", starlark.Tuple{starlark.True, starlark.Float(1.5)}, true},
		{"set", set, true},
		{"builtin", starlark.NewBuiltin("f", nil), false},
		{"list holding builtin", starlark.NewList([]starlark.Value{starlark.NewBuiltin("f", nil)}), false},
		{"cyclic", cyclic, false},
		{"struct", starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{"a": starlark.MakeInt(1)}), true},
		{"struct holding builtin", starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{"f": starlark.NewBuiltin("f", nil)}), false},
		{"struct with host constructor", starlarkstruct.FromStringDict(starlark.NewBuiltin("point", nil), starlark.StringDict{}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsData(tt.v); got != tt.want {
				t.Errorf("IsData() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromGoToGo(t *testing.T) {
	in := map[string]any{
		"n":    float64(3),
		"f":    1.5,
		"s":    "hi",
		"ok":   true,
		"nil":  nil,
		"list": []any{float64(1), "two"},
		"obj":  map[string]any{"b": float64(2), "a": float64(1)},
	}
	b, err := FromGo(in)
	if err != nil {
		t.Fatalf("FromGo() error = %v", err)
	}
	if got := b.Render("n", "f", "obj"); got != `n = 3; f = 1.5; obj = {"a": 1, "b": 2}` {
		t.Errorf("Render() = %q", got)
	}

	out := b.ToGo()
	want := map[string]any{
		"n":    int64(3),
		"f":    1.5,
		"s":    "hi",
		"ok":   true,
		"nil":  nil,
		"list": []any{int64(1), "two"},
		"obj":  map[string]any{"a": int64(1), "b": int64(2)},
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("ToGo() = %#v, want %#v", out, want)
	}

	if _, err := FromGo(map[string]any{"c": make(chan int)}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestRenderTruncatesLongValues(t *testing.T) {
	b := Bindings{"s": starlark.String(strings.Repeat("x", 1000))}
	got := b.Render()
	if len(got) > len("s = ")+maxRenderedValue+len("...") {
		t.Errorf("Render() length = %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Render() should mark truncation: %q", got[len(got)-10:])
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want string
	}{
		{"ok", Result{Outcome: OutcomeCompleted}, "OK"},
		{"output only", Result{Outcome: OutcomeCompleted, Output: "hi\n"}, "hi"},
		{
			"bindings",
			Result{Outcome: OutcomeCompleted, Bindings: Bindings{"a": starlark.MakeInt(1), "b": starlark.MakeInt(2)}, NewBindings: []string{"b"}},
			"b = 2",
		},
		{
			"failed with output",
			Result{Outcome: OutcomeFailed, Output: "x\n", Error: &ExecError{Kind: KindRuntime, Message: "boom"}},
			"x\nERROR runtime: boom",
		},
		{
			"truncated",
			Result{Outcome: OutcomeCompleted, Output: "abc", Truncated: true, Error: &ExecError{Kind: KindOutputLimitExceeded, Message: "cut"}},
			"abc\nWARNING output_limit_exceeded: cut",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Summary(); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}
