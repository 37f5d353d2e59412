package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime/debug"
	"strings"
	"time"

	"github.com/haasonsaas/franz/internal/capability"
	"github.com/haasonsaas/franz/internal/tier"
)

// WorkerEnv marks a process started to run one fragment.
const WorkerEnv = "FRANZ_SANDBOX_WORKER"

// workerStartup is how long the parent allows a worker to start and report
// on top of the execution timeout and grace period.
const workerStartup = 2 * time.Second

// maxWorkerStderr bounds the diagnostic output kept from a failed worker.
const maxWorkerStderr = 4096

// Worker describes how to start an isolated worker. The executable must call
// RunWorker when IsWorkerProcess reports true; cmd/franz does so first thing
// in main.
type Worker struct {
	Path string

	// Capabilities configures the default catalogue the worker builds.
	Capabilities capability.Options
}

// IsWorkerProcess reports whether this process was started as a worker.
func IsWorkerProcess() bool {
	return os.Getenv(WorkerEnv) == "1"
}

type workerTier struct {
	Name string   `json:"name"`
	Rank int      `json:"rank"`
	IDs  []string `json:"ids"`
}

type workerRequest struct {
	Code            string               `json:"code"`
	Tier            workerTier           `json:"tier"`
	Bindings        map[string]wireValue `json:"bindings,omitempty"`
	Limits          Limits               `json:"limits"`
	MaxSteps        uint64               `json:"max_steps"`
	ScratchDir      string               `json:"scratch_dir,omitempty"`
	ScratchMaxBytes int64                `json:"scratch_max_bytes,omitempty"`
}

type workerResponse struct {
	Result   Result               `json:"result"`
	Bindings map[string]wireValue `json:"bindings,omitempty"`
}

// fixedTier resolves the single tier a worker was handed.
type fixedTier struct {
	set tier.Set
}

func (f fixedTier) Resolve(name string) (tier.Set, error) {
	if strings.ToLower(strings.TrimSpace(name)) != f.set.Name() {
		return tier.Set{}, &tier.UnknownTierError{Name: name}
	}
	return f.set, nil
}

// RunWorker reads one request from in, runs it and writes the result to out.
// It returns the process exit code.
func RunWorker(in io.Reader, out io.Writer) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})).
		With("component", "sandbox-worker")

	var req workerRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		logger.Error("decode request", "error", err)
		return 2
	}

	reply := func(res Result) int {
		resp := workerResponse{Result: res}
		if res.OK() {
			b, err := encodeBindings(res.Bindings)
			if err != nil {
				resp.Result = Result{Outcome: OutcomeFailed, Error: &ExecError{Kind: KindRuntime, Message: err.Error()}}
			} else {
				resp.Bindings = b
			}
		}
		if err := json.NewEncoder(out).Encode(resp); err != nil {
			logger.Error("encode response", "error", err)
			return 2
		}
		return 0
	}

	bindings, err := decodeBindings(req.Bindings)
	if err != nil {
		return reply(Result{Outcome: OutcomeFailed, Error: &ExecError{Kind: KindRuntime, Message: err.Error()}})
	}

	reg, err := capability.Defaults(capability.Options{ScratchDir: req.ScratchDir, ScratchMaxBytes: req.ScratchMaxBytes})
	if err != nil {
		logger.Error("build catalogue", "error", err)
		return 2
	}
	reg.Seal()
	for _, id := range req.Tier.IDs {
		if !reg.Has(id) {
			return reply(Result{Outcome: OutcomeFailed, Error: &ExecError{
				Kind:    KindRuntime,
				Message: fmt.Sprintf("capability %q is not available in an isolated worker", id),
			}})
		}
	}
	set := tier.NewSet(req.Tier.Name, req.Tier.Rank, req.Tier.IDs)

	if req.Limits.MaxMemoryBytes > 0 {
		if err := limitAddressSpace(req.Limits.MaxMemoryBytes); err != nil {
			logger.Warn("address space limit not applied", "error", err)
		}
		debug.SetMemoryLimit(int64(heapBytes()) + req.Limits.MaxMemoryBytes)
	}

	timeout := req.Limits.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().DefaultTimeout
	}
	executor, err := NewExecutor(reg, fixedTier{set: set},
		WithDefaultTier(set.Name()),
		WithDefaultTimeout(timeout),
		WithMaxSteps(req.MaxSteps),
		WithMaxMemoryBytes(req.Limits.MaxMemoryBytes),
		WithLogger(logger),
	)
	if err != nil {
		logger.Error("build executor", "error", err)
		return 2
	}
	return reply(executor.Execute(context.Background(), Request{
		Code:     req.Code,
		Tier:     set.Name(),
		Bindings: bindings,
		Limits:   req.Limits,
	}))
}

// runIsolated runs the fragment in a fresh worker process. The worker
// enforces the limits itself; the parent kills it if it outlives them.
func (e *Executor) runIsolated(ctx context.Context, set tier.Set, req Request, lim Limits) Result {
	fail := func(outcome Outcome, kind ErrorKind, msg string) Result {
		return Result{Outcome: outcome, Error: &ExecError{Kind: kind, Message: msg}, Bindings: req.Bindings}
	}

	bindings, err := encodeBindings(req.Bindings.Clone())
	if err != nil {
		return fail(OutcomeFailed, KindRuntime, err.Error())
	}
	body, err := json.Marshal(workerRequest{
		Code:            req.Code,
		Tier:            workerTier{Name: set.Name(), Rank: set.Rank(), IDs: set.IDs()},
		Bindings:        bindings,
		Limits:          lim,
		MaxSteps:        e.cfg.MaxSteps,
		ScratchDir:      e.cfg.Worker.Capabilities.ScratchDir,
		ScratchMaxBytes: e.cfg.Worker.Capabilities.ScratchMaxBytes,
	})
	if err != nil {
		return fail(OutcomeFailed, KindRuntime, err.Error())
	}

	var stdout bytes.Buffer
	stderr := newLimitedBuffer(maxWorkerStderr)
	cmd := exec.Command(e.cfg.Worker.Path)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stdout = &stdout
	cmd.Stderr = stderrWriter{stderr}
	if err := cmd.Start(); err != nil {
		e.logger.Error("starting sandbox worker", "error", err)
		return fail(OutcomeFailed, KindRuntime, "sandbox worker could not be started")
	}

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()
	deadline := time.NewTimer(lim.Timeout + e.cfg.GracePeriod + workerStartup)
	defer deadline.Stop()

	kill := func() {
		_ = cmd.Process.Kill()
		<-waited
	}
	var waitErr error
	select {
	case waitErr = <-waited:
	case <-ctx.Done():
		kill()
		return fail(OutcomeTimedOut, KindTimeout, "execution cancelled")
	case <-deadline.C:
		kill()
		return fail(OutcomeTimedOut, KindTimeout, fmt.Sprintf("execution exceeded %s", lim.Timeout))
	}

	if waitErr != nil {
		diag := stderr.String()
		if outOfMemory(diag) {
			return fail(OutcomeFailed, KindMemoryLimitExceeded,
				fmt.Sprintf("execution exceeded the %d byte memory limit", lim.MaxMemoryBytes))
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			e.logger.Warn("sandbox worker failed", "exit_code", exitErr.ExitCode(), "stderr", diag)
		}
		return fail(OutcomeFailed, KindRuntime, "sandbox worker exited unexpectedly")
	}

	var resp workerResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		e.logger.Warn("decoding sandbox worker result", "error", err)
		return fail(OutcomeFailed, KindRuntime, "sandbox worker returned a malformed result")
	}
	res := resp.Result
	if !res.OK() {
		res.Bindings = req.Bindings
		return res
	}
	if res.Bindings, err = decodeBindings(resp.Bindings); err != nil {
		return fail(OutcomeFailed, KindRuntime, err.Error())
	}
	return res
}

// outOfMemory reports whether a worker's diagnostics show that it died
// allocating.
func outOfMemory(stderr string) bool {
	for _, marker := range []string{"out of memory", "cannot allocate memory", "failed to create new OS thread"} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

type stderrWriter struct {
	buf *limitedBuffer
}

func (w stderrWriter) Write(p []byte) (int, error) {
	w.buf.write(string(p))
	return len(p), nil
}
