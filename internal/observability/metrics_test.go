package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveExecution(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveExecution("minimal", "completed", "", 5*time.Millisecond)
	m.ObserveExecution("minimal", "completed", "", 7*time.Millisecond)
	m.ObserveExecution("standard", "capability_denied", "capability_denied", time.Millisecond)

	expected := `
		# HELP franz_sandbox_executions_total Total number of fragment executions by tier, outcome and error kind
		# TYPE franz_sandbox_executions_total counter
		franz_sandbox_executions_total{error_kind="capability_denied",outcome="capability_denied",tier="standard"} 1
		franz_sandbox_executions_total{error_kind="none",outcome="completed",tier="minimal"} 2
	`
	if err := testutil.CollectAndCompare(m.Executions, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.ExecutionDuration); count != 2 {
		t.Errorf("expected 2 duration series, got %d", count)
	}
}

func TestLoopMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObservePhase("planning", 200*time.Millisecond)
	m.ObservePhase("reflecting", time.Second)
	m.CycleFinished("execute_code", "ok")
	m.CycleFinished("execute_code", "ok")
	m.CycleFinished("wait", "ok")

	if got := testutil.ToFloat64(m.Cycles.WithLabelValues("execute_code", "ok")); got != 2 {
		t.Errorf("execute_code cycles = %v, want 2", got)
	}
	if count := testutil.CollectAndCount(m.PhaseDuration); count != 2 {
		t.Errorf("expected 2 phase series, got %d", count)
	}
}

func TestNewMetricsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	NewMetrics(reg)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.CycleFinished("terminate", "ok")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `franz_loop_cycles_total{action_kind="terminate",status="ok"} 1`) {
		t.Errorf("metrics body missing cycle counter:\n%s", body)
	}
}
