package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.starlark.net/starlark"

	"github.com/haasonsaas/franz/internal/capability"
	"github.com/haasonsaas/franz/internal/tier"
)

func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	reg, err := capability.Defaults(capability.Options{ScratchDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Defaults() error = %v", err)
	}
	reg.Seal()
	tiers, err := tier.NewResolver(reg, tier.DefaultDefinitions())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	base := []Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	exec, err := NewExecutor(reg, tiers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return exec
}

func TestExecuteComprehensionUnderMinimal(t *testing.T) {
	exec := newTestExecutor(t)
	res := exec.Execute(context.Background(), Request{
		Code: "result = [x*2 for x in [2,4]]",
		Tier: tier.Minimal,
	})
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, error = %+v", res.Outcome, res.Error)
	}
	if res.Output != "" {
		t.Errorf("Output = %q, want empty", res.Output)
	}
	v, ok := res.Bindings.Get("result")
	if !ok || v.String() != "[4, 8]" {
		t.Fatalf("result binding = %v", v)
	}
	if got := res.Summary(); got != "result = [4, 8]" {
		t.Errorf("Summary() = %q", got)
	}
	if res.Tier != tier.Minimal {
		t.Errorf("Tier = %q", res.Tier)
	}
}

func TestExecutePrintByTier(t *testing.T) {
	exec := newTestExecutor(t)

	denied := exec.Execute(context.Background(), Request{Code: `print("hello")`, Tier: tier.Minimal})
	if denied.Outcome != OutcomeCapabilityDenied {
		t.Fatalf("minimal Outcome = %s, want capability_denied", denied.Outcome)
	}
	if denied.DeniedCapability() != "print" {
		t.Errorf("DeniedCapability() = %q, want print", denied.DeniedCapability())
	}
	if !strings.Contains(denied.Summary(), `"print"`) {
		t.Errorf("Summary() should name the capability: %q", denied.Summary())
	}

	allowed := exec.Execute(context.Background(), Request{Code: `print("hello")`, Tier: tier.Standard})
	if allowed.Outcome != OutcomeCompleted {
		t.Fatalf("standard Outcome = %s, error = %+v", allowed.Outcome, allowed.Error)
	}
	if allowed.Output != "hello\n" {
		t.Errorf("Output = %q, want hello\\n", allowed.Output)
	}
	if allowed.Summary() != "hello" {
		t.Errorf("Summary() = %q", allowed.Summary())
	}
}

func TestExecuteTimeout(t *testing.T) {
	exec := newTestExecutor(t, WithMaxSteps(0))
	start := time.Now()
	res := exec.Execute(context.Background(), Request{
		Code:   "print('before')\nwhile True:\n    pass",
		Tier:   tier.Standard,
		Limits: Limits{Timeout: 200 * time.Millisecond},
	})
	elapsed := time.Since(start)

	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("Outcome = %s, want timed_out (error %+v)", res.Outcome, res.Error)
	}
	if res.Error == nil || res.Error.Kind != KindTimeout {
		t.Errorf("Error = %+v, want timeout kind", res.Error)
	}
	if res.Output != "" {
		t.Errorf("Output = %q, want partial output discarded", res.Output)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Execute took %s, want close to the 200ms limit", elapsed)
	}
}

func TestExecuteContextCancelled(t *testing.T) {
	exec := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := exec.Execute(ctx, Request{Code: "x = 1"})
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("Outcome = %s, want timed_out", res.Outcome)
	}
}

func TestExecuteOutputTruncation(t *testing.T) {
	exec := newTestExecutor(t)
	const limit = 100
	res := exec.Execute(context.Background(), Request{
		Code:   "for i in range(1000):\n    print('line', i)\ndone = True",
		Tier:   tier.Standard,
		Limits: Limits{MaxOutputBytes: limit},
	})
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, error = %+v", res.Outcome, res.Error)
	}
	if !res.Truncated {
		t.Error("Truncated = false")
	}
	if len(res.Output) > limit {
		t.Errorf("len(Output) = %d, want <= %d", len(res.Output), limit)
	}
	if !strings.HasSuffix(res.Output, TruncationMarker) {
		t.Errorf("Output should end with marker: %q", res.Output)
	}
	if res.Error == nil || res.Error.Kind != KindOutputLimitExceeded {
		t.Errorf("Error = %+v, want output_limit_exceeded", res.Error)
	}
	if _, ok := res.Bindings.Get("done"); !ok {
		t.Error("execution should continue after truncation")
	}
}

func TestExecuteErrorKinds(t *testing.T) {
	exec := newTestExecutor(t)
	tests := []struct {
		name    string
		code    string
		tier    string
		outcome Outcome
		kind    ErrorKind
		message string
	}{
		{"syntax", "x = = 1", tier.Minimal, OutcomeFailed, KindSyntax, ""},
		{"undefined name", "y = undefined_name + 1", tier.Minimal, OutcomeFailed, KindNameResolution, "undefined_name"},
		{"runtime", "x = 1 // 0", tier.Minimal, OutcomeFailed, KindRuntime, "division by zero"},
		{"fail builtin", `fail("boom")`, tier.Minimal, OutcomeFailed, KindRuntime, "boom"},
		{"recursion", "def f(n):\n    return f(n)\nf(1)", tier.Minimal, OutcomeFailed, KindRuntime, "recursive"},
		{"unknown module", `load("os", "os")`, tier.Extended, OutcomeFailed, KindNameResolution, "os"},
		{"denied module load", `load("json", "json")`, tier.Minimal, OutcomeCapabilityDenied, KindCapabilityDenied, "module:json"},
		{"denied module attribute", "x = json.encode(1)", tier.Minimal, OutcomeCapabilityDenied, KindCapabilityDenied, "module:json"},
		{"denied reflection", `x = getattr([], "append")`, tier.Standard, OutcomeCapabilityDenied, KindCapabilityDenied, "getattr"},
		{"denied inside callback", "x = map(lambda v: str(v), [1])", tier.Minimal, OutcomeCapabilityDenied, KindCapabilityDenied, "str"},
		{"unknown tier", "x = 1", "root", OutcomeCapabilityDenied, KindCapabilityDenied, "unknown tier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := exec.Execute(context.Background(), Request{Code: tt.code, Tier: tt.tier})
			if res.Outcome != tt.outcome {
				t.Fatalf("Outcome = %s, want %s (error %+v)", res.Outcome, tt.outcome, res.Error)
			}
			if res.Error == nil || res.Error.Kind != tt.kind {
				t.Fatalf("Error = %+v, want kind %s", res.Error, tt.kind)
			}
			if tt.message != "" && !strings.Contains(res.Error.Message, tt.message) {
				t.Errorf("Message = %q, want substring %q", res.Error.Message, tt.message)
			}
			if strings.Contains(res.Error.Message, "Traceback") || strings.Contains(res.Error.Message, ".go:") {
				t.Errorf("Message leaks host detail: %q", res.Error.Message)
			}
		})
	}
}

func TestExecuteModules(t *testing.T) {
	exec := newTestExecutor(t)
	res := exec.Execute(context.Background(), Request{
		Code: "load(\"json\", \"encode\")\ns = encode({\"a\": 1})\nn = math.sqrt(16)",
		Tier: tier.Standard,
	})
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, error = %+v", res.Outcome, res.Error)
	}
	s, _ := res.Bindings.Get("s")
	if str, ok := s.(starlark.String); !ok || str.GoString() != `{"a":1}` {
		t.Errorf("s = %v", s)
	}
	n, _ := res.Bindings.Get("n")
	if n == nil || n.String() != "4.0" {
		t.Errorf("n = %v", n)
	}
	if _, ok := res.Bindings.Get("encode"); ok {
		t.Error("loaded functions must not be carried")
	}
}

func TestExecuteScratchUnderExtended(t *testing.T) {
	exec := newTestExecutor(t)
	res := exec.Execute(context.Background(), Request{
		Code: "scratch.write('a.txt', 'hi')\ncontent = scratch.read('a.txt')",
		Tier: tier.Extended,
	})
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, error = %+v", res.Outcome, res.Error)
	}
	if v, _ := res.Bindings.Get("content"); v == nil || v.String() != `"hi"` {
		t.Errorf("content = %v", v)
	}

	denied := exec.Execute(context.Background(), Request{Code: "scratch.list()", Tier: tier.Standard})
	if denied.DeniedCapability() != "module:scratch" {
		t.Errorf("DeniedCapability() = %q, want module:scratch", denied.DeniedCapability())
	}
}

func TestExecuteBindingCarryOver(t *testing.T) {
	exec := newTestExecutor(t)
	first := exec.Execute(context.Background(), Request{Code: "a = 1\nxs = [1, 2]", Tier: tier.Minimal})
	if first.Outcome != OutcomeCompleted {
		t.Fatalf("first Outcome = %s", first.Outcome)
	}
	if strings.Join(first.NewBindings, ",") != "a,xs" {
		t.Errorf("NewBindings = %v", first.NewBindings)
	}

	second := exec.Execute(context.Background(), Request{
		Code:     "b = a + 1\nxs.append(3)",
		Tier:     tier.Minimal,
		Bindings: first.Bindings,
	})
	if second.Outcome != OutcomeCompleted {
		t.Fatalf("second Outcome = %s, error = %+v", second.Outcome, second.Error)
	}
	if got := second.Bindings.Render(); got != "a = 1; b = 2; xs = [1, 2, 3]" {
		t.Errorf("Render() = %q", got)
	}
	if strings.Join(second.NewBindings, ",") != "b,xs" {
		t.Errorf("NewBindings = %v", second.NewBindings)
	}
	if xs, _ := first.Bindings.Get("xs"); xs.String() != "[1, 2]" {
		t.Errorf("input bindings mutated: xs = %s", xs)
	}
}

func TestExecuteFailureLeavesBindingsUnchanged(t *testing.T) {
	exec := newTestExecutor(t)
	input := Bindings{
		"a":  starlark.MakeInt(1),
		"xs": starlark.NewList([]starlark.Value{starlark.MakeInt(1)}),
	}
	res := exec.Execute(context.Background(), Request{
		Code:     "a = 5\nxs.append(2)\nfail('stop')",
		Tier:     tier.Minimal,
		Bindings: input,
	})
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %s", res.Outcome)
	}
	if got := res.Bindings.Render(); got != "a = 1; xs = [1]" {
		t.Errorf("result bindings = %q", got)
	}
	if got := input.Render(); got != "a = 1; xs = [1]" {
		t.Errorf("input bindings mutated: %q", got)
	}
}

func TestExecuteDropsNonDataBindings(t *testing.T) {
	exec := newTestExecutor(t)
	res := exec.Execute(context.Background(), Request{
		Code: "def f():\n    return 1\nv = f()\nenc = json.encode\nm = math",
		Tier: tier.Standard,
	})
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, error = %+v", res.Outcome, res.Error)
	}
	if got := strings.Join(res.Bindings.Names(), ","); got != "v" {
		t.Errorf("carried names = %s, want v", got)
	}
}

func TestExecuteReservedNamesNotCarried(t *testing.T) {
	exec := newTestExecutor(t)
	res := exec.Execute(context.Background(), Request{
		Code:     "x = 1\nlen = 3",
		Tier:     tier.Minimal,
		Bindings: Bindings{"print": starlark.MakeInt(7)},
	})
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, error = %+v", res.Outcome, res.Error)
	}
	if got := strings.Join(res.Bindings.Names(), ","); got != "x" {
		t.Errorf("carried names = %s, want x", got)
	}
}

func TestExecuteStepBudget(t *testing.T) {
	exec := newTestExecutor(t, WithMaxSteps(1000))
	res := exec.Execute(context.Background(), Request{
		Code: "x = 0\nfor i in range(100000):\n    x += 1",
		Tier: tier.Minimal,
	})
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %s, want failed", res.Outcome)
	}
	if res.Error.Kind != KindRuntime || !strings.Contains(res.Error.Message, "step budget") {
		t.Errorf("Error = %+v", res.Error)
	}
}

func TestNewExecutorValidation(t *testing.T) {
	reg, _ := capability.Defaults(capability.Options{})
	reg.Seal()
	tiers, _ := tier.NewResolver(reg, tier.DefaultDefinitions())

	if _, err := NewExecutor(nil, tiers); err == nil {
		t.Error("expected error for nil registry")
	}
	if _, err := NewExecutor(reg, nil); err == nil {
		t.Error("expected error for nil tiers")
	}
	if _, err := NewExecutor(reg, tiers, WithDefaultTier("root")); err == nil {
		t.Error("expected error for unknown default tier")
	}
	if _, err := NewExecutor(reg, tiers, WithDefaultTimeout(-time.Second)); err == nil {
		t.Error("expected error for negative timeout")
	}
	if _, err := NewExecutor(reg, tiers, WithMaxOutputBytes(-1)); err == nil {
		t.Error("expected error for negative output cap")
	}
	if _, err := NewExecutor(reg, tiers, WithMaxMemoryBytes(-1)); err == nil {
		t.Error("expected error for negative memory limit")
	}
	if _, err := NewExecutor(reg, tiers, WithProcessIsolation(Worker{})); err == nil {
		t.Error("expected error for a worker without a path")
	}
}

type recordingObserver struct {
	calls []string
}

func (o *recordingObserver) ObserveExecution(tier, outcome, kind string, _ time.Duration) {
	o.calls = append(o.calls, tier+"/"+outcome+"/"+kind)
}

func TestExecuteNotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	exec := newTestExecutor(t, WithObserver(obs))
	exec.Execute(context.Background(), Request{Code: "x = 1"})
	exec.Execute(context.Background(), Request{Code: "print(1)"})
	want := []string{"minimal/completed/", "minimal/capability_denied/capability_denied"}
	if strings.Join(obs.calls, ",") != strings.Join(want, ",") {
		t.Errorf("observer calls = %v, want %v", obs.calls, want)
	}
}

func TestDeniedNamesAreNeverObservable(t *testing.T) {
	exec := newTestExecutor(t)
	tests := []struct {
		name       string
		code       string
		tier       string
		capability string
	}{
		{"printed", "print(time)", tier.Standard, "module:time"},
		{"type taken", "print(type(time))", tier.Standard, "module:time"},
		{"truth tested", "if not print:\n    flag = 1\nelse:\n    print(\"hi\")", tier.Minimal, "print"},
		{"compared", "same = (str == None)", tier.Minimal, "str"},
		{"referenced from a function", "def f():\n    return repr\nx = 1", tier.Minimal, "repr"},
		{"shadowed", "print(1)\ntime = 1", tier.Standard, "module:time"},
		{"loaded after output", "print(\"before\")\nload(\"time\", \"now\")", tier.Standard, "module:time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := exec.Execute(context.Background(), Request{Code: tt.code, Tier: tt.tier})
			if res.Outcome != OutcomeCapabilityDenied {
				t.Fatalf("Outcome = %s, want capability_denied (output %q, error %+v)", res.Outcome, res.Output, res.Error)
			}
			if got := res.DeniedCapability(); got != tt.capability {
				t.Errorf("DeniedCapability() = %q, want %q", got, tt.capability)
			}
			if res.Output != "" {
				t.Errorf("Output = %q, want nothing from a denied fragment", res.Output)
			}
			if len(res.Bindings) != 0 || len(res.NewBindings) != 0 {
				t.Errorf("bindings = %v / %v, want none", res.Bindings.Names(), res.NewBindings)
			}
		})
	}

	granted := exec.Execute(context.Background(), Request{Code: "print(time)", Tier: tier.Extended})
	if granted.Outcome != OutcomeCompleted || granted.Output != "<module \"time\">\n" {
		t.Errorf("extended print(time) = %s %q, error %+v", granted.Outcome, granted.Output, granted.Error)
	}
}

func TestExecuteOutcomesAreMonotonicAcrossTiers(t *testing.T) {
	exec := newTestExecutor(t)
	fragments := []string{
		"x = 1",
		"xs = sorted([3, 1, 2])\ntotal = sum(xs)",
		"p = struct(a = 1)",
		"s = str(12)",
		"t = type(1)",
		"print(time)",
		"print(type(time))",
		"if not print:\n    flag = 1\nelse:\n    print(\"hi\")",
		"same = (str == None)",
		"v = json.encode({\"a\": [1, 2]})",
		"n = math.floor(2.5)",
		"load(\"math\", \"sqrt\")\nr = sqrt(16)",
		"ok = hasattr([], \"append\")",
		"names = dir(\"\")",
		"def f(n):\n    return n * 2\ny = f(21)",
		"print(\"a\")\nfail(\"stop\")",
		"ys = [str(i) for i in range(3)]",
	}
	tiers := []string{tier.Minimal, tier.Standard, tier.Extended}

	for _, code := range fragments {
		results := make([]Result, len(tiers))
		for i, name := range tiers {
			results[i] = exec.Execute(context.Background(), Request{Code: code, Tier: name})
			if results[i].Outcome == OutcomeCapabilityDenied && results[i].Output != "" {
				t.Errorf("%q under %s: denied with output %q", code, name, results[i].Output)
			}
		}
		for lo := range tiers {
			if results[lo].Outcome != OutcomeCompleted {
				continue
			}
			for hi := lo + 1; hi < len(tiers); hi++ {
				a, b := results[lo], results[hi]
				if b.Outcome != OutcomeCompleted {
					t.Errorf("%q completes under %s but is %s under %s", code, tiers[lo], b.Outcome, tiers[hi])
					continue
				}
				if a.Output != b.Output {
					t.Errorf("%q output differs: %s %q, %s %q", code, tiers[lo], a.Output, tiers[hi], b.Output)
				}
				if a.Bindings.Render() != b.Bindings.Render() {
					t.Errorf("%q bindings differ: %s %q, %s %q", code, tiers[lo], a.Bindings.Render(), tiers[hi], b.Bindings.Render())
				}
			}
		}
	}
}

func TestReflectionUnderExtendedReachesOnlyModuleMembers(t *testing.T) {
	exec := newTestExecutor(t)
	code := `
mods = {"math": math, "json": json, "time": time, "scratch": scratch}
reached = []
for name, m in mods.items():
    for attr in dir(m):
        v = getattr(m, attr)
        reached.append((name + "." + attr, type(v)))
        for inner in dir(v):
            reached.append((name + "." + attr + "." + inner, type(getattr(v, inner))))
`
	res := exec.Execute(context.Background(), Request{Code: code, Tier: tier.Extended})
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, error = %+v", res.Outcome, res.Error)
	}
	reached, ok := res.Bindings.Get("reached")
	if !ok {
		t.Fatal("reached was not carried")
	}
	allowed := map[string]bool{
		"builtin_function_or_method": true,
		"float":                      true,
		"int":                        true,
		"string":                     true,
		"bool":                       true,
		"time.duration":              true,
	}
	list := reached.(*starlark.List)
	if list.Len() == 0 {
		t.Fatal("reflection reached nothing")
	}
	for i := 0; i < list.Len(); i++ {
		pair := list.Index(i).(starlark.Tuple)
		path, typ := string(pair[0].(starlark.String)), string(pair[1].(starlark.String))
		if !allowed[typ] {
			t.Errorf("%s has type %s", path, typ)
		}
	}

	for _, attr := range []string{"print", "load", "os", "__class__"} {
		res := exec.Execute(context.Background(), Request{
			Code: "x = getattr(json, \"" + attr + "\")",
			Tier: tier.Extended,
		})
		if res.Outcome != OutcomeFailed || res.Error.Kind != KindRuntime {
			t.Errorf("getattr(json, %q) = %s %+v, want a runtime failure", attr, res.Outcome, res.Error)
		}
	}
}

func TestExecuteInfiniteLoopTimesOut(t *testing.T) {
	exec := newTestExecutor(t)
	start := time.Now()
	res := exec.Execute(context.Background(), Request{
		Code:   "while True:\n    pass",
		Tier:   tier.Minimal,
		Limits: Limits{Timeout: 2 * time.Second},
	})
	if res.Outcome != OutcomeTimedOut || res.Error == nil || res.Error.Kind != KindTimeout {
		t.Fatalf("result = %s %+v, want timed_out", res.Outcome, res.Error)
	}
	if res.Output != "" {
		t.Errorf("Output = %q, want empty", res.Output)
	}
	if elapsed := time.Since(start); elapsed < 2*time.Second || elapsed > 4*time.Second {
		t.Errorf("Execute took %s, want about 2s", elapsed)
	}
}

func TestClassifyReportsTheActualFailure(t *testing.T) {
	exec := newTestExecutor(t)
	swallowed := &DeniedError{Capability: "module:time", Tier: "custom"}
	_, divErr := starlark.ExecFile(&starlark.Thread{Name: "test"}, "fragment", "x = 1 // 0", nil)
	if divErr == nil {
		t.Fatal("expected a division error")
	}

	tests := []struct {
		name       string
		err        error
		kind       ErrorKind
		capability string
	}{
		{"denial swallowed before a runtime error", divErr, KindRuntime, ""},
		{"denial returned", fmt.Errorf("call: %w", swallowed), KindCapabilityDenied, "module:time"},
		{"denial flattened to text", errors.New("map: " + swallowed.Error()), KindCapabilityDenied, "module:time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &denials{}
			log.record(swallowed)
			flags := limitFlags{timedOut: new(atomic.Bool), steps: new(atomic.Bool), memory: new(atomic.Bool)}
			res := exec.classify(tt.err, log, flags, Limits{Timeout: time.Second})
			if res.Error == nil || res.Error.Kind != tt.kind {
				t.Fatalf("Error = %+v, want kind %s", res.Error, tt.kind)
			}
			if res.DeniedCapability() != tt.capability {
				t.Errorf("DeniedCapability() = %q, want %q", res.DeniedCapability(), tt.capability)
			}
		})
	}
}

func TestExecuteCarriesStructBindings(t *testing.T) {
	exec := newTestExecutor(t)
	first := exec.Execute(context.Background(), Request{Code: `p = struct(x = 1, tags = ["a"])`, Tier: tier.Minimal})
	if first.Outcome != OutcomeCompleted {
		t.Fatalf("first Outcome = %s, error = %+v", first.Outcome, first.Error)
	}
	if got := first.Bindings.Render(); got != `p = struct(tags = ["a"], x = 1)` {
		t.Fatalf("Render() = %q", got)
	}

	second := exec.Execute(context.Background(), Request{
		Code:     "y = p.x + len(p.tags)\np.tags.append(\"b\")",
		Tier:     tier.Minimal,
		Bindings: first.Bindings,
	})
	if second.Outcome != OutcomeCompleted {
		t.Fatalf("second Outcome = %s, error = %+v", second.Outcome, second.Error)
	}
	if got := second.Bindings.Render(); got != `p = struct(tags = ["a", "b"], x = 1); y = 2` {
		t.Errorf("Render() = %q", got)
	}
	if strings.Join(second.NewBindings, ",") != "p,y" {
		t.Errorf("NewBindings = %v", second.NewBindings)
	}
	if got := first.Bindings.Render(); got != `p = struct(tags = ["a"], x = 1)` {
		t.Errorf("input bindings mutated: %q", got)
	}
}

func TestExecuteMemoryLimitInProcess(t *testing.T) {
	exec := newTestExecutor(t, WithMaxMemoryBytes(32<<20))
	res := exec.Execute(context.Background(), Request{
		Code:   "chunk = \"x\" * (1 << 20)\nkept = []\nfor i in range(400):\n    kept.append(chunk * 2)",
		Tier:   tier.Minimal,
		Limits: Limits{Timeout: 30 * time.Second, MaxMemoryBytes: 1 << 40},
	})
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %s, want failed (error %+v)", res.Outcome, res.Error)
	}
	if res.Error.Kind != KindMemoryLimitExceeded {
		t.Errorf("Error = %+v, want memory_limit_exceeded", res.Error)
	}
	if _, ok := res.Bindings.Get("kept"); ok {
		t.Error("a failed fragment must not carry bindings")
	}
}
