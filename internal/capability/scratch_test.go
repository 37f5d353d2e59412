package capability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.starlark.net/starlark"
)

func bindScratch(t *testing.T, opts Options) (starlark.StringDict, *Scope) {
	t.Helper()
	reg, err := Defaults(opts)
	if err != nil {
		t.Fatalf("Defaults() error = %v", err)
	}
	c, err := reg.Lookup("scratch")
	if err != nil {
		t.Fatalf("Lookup(scratch) error = %v", err)
	}
	scope := NewScope("extended")
	t.Cleanup(func() { _ = scope.Close() })
	v, err := c.Binding(scope)
	if err != nil {
		t.Fatalf("Binding() error = %v", err)
	}
	return starlark.StringDict{"scratch": v}, scope
}

func TestScratchReadWriteList(t *testing.T) {
	dir := t.TempDir()
	env, _ := bindScratch(t, Options{ScratchDir: dir})

	src := `
n = scratch.write("notes.txt", "hello")
scratch.write("notes.txt", " world", append=True)
text = scratch.read("notes.txt")
names = scratch.list()
`
	thread := &starlark.Thread{Name: "test"}
	globals, err := starlark.ExecFile(thread, "frag.star", src, env)
	if err != nil {
		t.Fatalf("ExecFile() error = %v", err)
	}
	if got := globals["n"].String(); got != "5" {
		t.Errorf("n = %s, want 5", got)
	}
	if got := globals["text"].(starlark.String).GoString(); got != "hello world" {
		t.Errorf("text = %q", got)
	}
	if got := globals["names"].String(); got != `["notes.txt"]` {
		t.Errorf("names = %s", got)
	}

	data, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("file content = %q", data)
	}
}

func TestScratchConfinement(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "scratch")
	if err := os.WriteFile(filepath.Join(parent, "secret"), []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	env, _ := bindScratch(t, Options{ScratchDir: dir})

	for _, src := range []string{
		`scratch.read("../secret")`,
		`scratch.read("/etc/passwd")`,
		`scratch.write("../escape", "x")`,
	} {
		thread := &starlark.Thread{Name: "test"}
		_, err := starlark.ExecFile(thread, "frag.star", src, env)
		if err == nil {
			t.Fatalf("%s: expected error", src)
		}
		if strings.Contains(err.Error(), parent) {
			t.Errorf("%s: error leaks host path: %v", src, err)
		}
	}
	if _, err := os.Stat(filepath.Join(parent, "escape")); !os.IsNotExist(err) {
		t.Errorf("escape file exists or stat failed unexpectedly: %v", err)
	}
}

func TestScratchWriteQuota(t *testing.T) {
	env, _ := bindScratch(t, Options{ScratchDir: t.TempDir(), ScratchMaxBytes: 4})
	thread := &starlark.Thread{Name: "test"}
	_, err := starlark.ExecFile(thread, "frag.star", `scratch.write("a", "hello")`, env)
	if err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestScratchUnconfigured(t *testing.T) {
	env, _ := bindScratch(t, Options{})
	thread := &starlark.Thread{Name: "test"}
	_, err := starlark.ExecFile(thread, "frag.star", `scratch.list()`, env)
	if err == nil || !strings.Contains(err.Error(), "no scratch directory") {
		t.Fatalf("expected unconfigured error, got %v", err)
	}
}
