package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/agent"
	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/eventbus"
	"github.com/agentflow/orchestrator/process"
	"github.com/agentflow/orchestrator/prompt"
	"github.com/agentflow/orchestrator/store"
	"github.com/agentflow/orchestrator/telemetry"
	"github.com/agentflow/orchestrator/wfcontext"
)

// scriptedExecutor returns a canned result (or error) for every call,
// recording call order so tests can assert on parallelism and sequencing.
type scriptedExecutor struct {
	mu      sync.Mutex
	calls   []string
	fn      func(input agent.ExecutionInput) (agent.ExecutionOutput, error)
	delay   time.Duration
	running int32
	maxSeen int32
}

func (e *scriptedExecutor) Execute(ctx context.Context, input agent.ExecutionInput) (agent.ExecutionOutput, error) {
	e.mu.Lock()
	e.calls = append(e.calls, input.Prompt)
	e.mu.Unlock()

	n := atomic.AddInt32(&e.running, 1)
	for {
		seen := atomic.LoadInt32(&e.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&e.maxSeen, seen, n) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	atomic.AddInt32(&e.running, -1)

	if e.fn != nil {
		return e.fn(input)
	}
	return agent.ExecutionOutput{Success: true, Result: map[string]interface{}{"echo": input.Prompt}}, nil
}

func (e *scriptedExecutor) HealthCheck(ctx context.Context) error { return nil }

func newTestEngine(t *testing.T, exec agent.Executor) (*Engine, *agent.Registry, *wfcontext.Store, *eventbus.Bus) {
	t.Helper()
	cfg := config.Default()
	cfg.MaxConcurrentWorkflows = 5
	cfg.MaxParallelSteps = 4

	registry := agent.New(cfg, telemetry.NoOpLogger{}, telemetry.NoOpTracer{}, nil, nil)
	if exec != nil {
		_, err := registry.Register(agent.TypeCustom, "test-agent", exec, agent.RegisterOptions{AgentID: "test-agent", Priority: 1})
		require.NoError(t, err)
	}

	ctxStore := wfcontext.New(cfg)
	bus := eventbus.New()
	backing := store.NewMemStore()
	prompts, err := prompt.New(context.Background(), backing, cfg, telemetry.NoOpLogger{})
	require.NoError(t, err)

	eng := New(cfg, registry, prompts, ctxStore, bus, telemetry.NoOpLogger{}, telemetry.NoOpTracer{})
	return eng, registry, ctxStore, bus
}

func waitTerminal(t *testing.T, eng *Engine, executionID string, timeout time.Duration) Execution {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		exec, ok := eng.Get(executionID)
		require.True(t, ok)
		if exec.Status.Terminal() {
			return exec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach a terminal state within %s", executionID, timeout)
	return Execution{}
}

func stepUsingCustomAgent(id string, deps ...string) StepDef {
	return StepDef{
		ID:           id,
		AgentType:    agent.TypeCustom,
		AgentID:      "test-agent",
		Prompt:       "do " + id,
		Dependencies: deps,
		Outputs:      []StepOutput{{Path: "results." + id}},
	}
}

// TestDiamondWorkflowRunsParallelBranches covers spec §8 S1: a diamond
// dependency shape (A -> B,C -> D) where B and C must run concurrently.
func TestDiamondWorkflowRunsParallelBranches(t *testing.T) {
	exec := &scriptedExecutor{delay: 30 * time.Millisecond}
	eng, _, _, _ := newTestEngine(t, exec)

	def := Definition{
		ID: "diamond",
		Steps: []StepDef{
			stepUsingCustomAgent("a"),
			stepUsingCustomAgent("b", "a"),
			stepUsingCustomAgent("c", "a"),
			stepUsingCustomAgent("d", "b", "c"),
		},
		MaxParallelSteps: 4,
	}
	require.NoError(t, eng.RegisterDefinition(def))

	execRecord, err := eng.Start(context.Background(), "diamond", "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, eng, execRecord.ExecutionID, 2*time.Second)
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, StepCompleted, final.Steps["a"].Status)
	require.Equal(t, StepCompleted, final.Steps["b"].Status)
	require.Equal(t, StepCompleted, final.Steps["c"].Status)
	require.Equal(t, StepCompleted, final.Steps["d"].Status)
	require.GreaterOrEqual(t, int(exec.maxSeen), 2, "b and c should have overlapped")
}

// TestFailedDependencySkipsDownstream covers spec §8 S2.
func TestFailedDependencySkipsDownstream(t *testing.T) {
	exec := &scriptedExecutor{fn: func(input agent.ExecutionInput) (agent.ExecutionOutput, error) {
		if input.Prompt == "do b" {
			return agent.ExecutionOutput{Success: false, Error: "boom"}, fmt.Errorf("boom")
		}
		return agent.ExecutionOutput{Success: true, Result: "ok"}, nil
	}}
	eng, _, _, _ := newTestEngine(t, exec)

	def := Definition{
		ID: "skips",
		Steps: []StepDef{
			stepUsingCustomAgent("a"),
			stepUsingCustomAgent("b", "a"),
			stepUsingCustomAgent("c", "b"),
		},
	}
	require.NoError(t, eng.RegisterDefinition(def))
	execRecord, err := eng.Start(context.Background(), "skips", "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, eng, execRecord.ExecutionID, 2*time.Second)
	require.Equal(t, StatusFailed, final.Status)
	require.Equal(t, StepCompleted, final.Steps["a"].Status)
	require.Equal(t, StepFailed, final.Steps["b"].Status)
	require.Equal(t, StepSkipped, final.Steps["c"].Status)
}

// TestConditionalStepRoutesOnContext covers spec §8 S3.
func TestConditionalStepRoutesOnContext(t *testing.T) {
	exec := &scriptedExecutor{}
	eng, _, _, _ := newTestEngine(t, exec)

	takeThis := stepUsingCustomAgent("route-true")
	takeThis.Condition = `context.flag == true`
	skipThis := stepUsingCustomAgent("route-false")
	skipThis.Condition = `context.flag == false`

	def := Definition{ID: "routing", Steps: []StepDef{takeThis, skipThis}}
	require.NoError(t, eng.RegisterDefinition(def))

	execRecord, err := eng.Start(context.Background(), "routing", "user-1", map[string]interface{}{"flag": true})
	require.NoError(t, err)

	final := waitTerminal(t, eng, execRecord.ExecutionID, 2*time.Second)
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, StepCompleted, final.Steps["route-true"].Status)
	require.Equal(t, StepSkipped, final.Steps["route-false"].Status)
}

// TestCancelDrainsRunningRoundThenStops covers spec §8 S8: cancelling mid-run
// lets the in-flight round finish but schedules nothing further.
func TestCancelDrainsRunningRoundThenStops(t *testing.T) {
	exec := &scriptedExecutor{delay: 100 * time.Millisecond}
	eng, _, _, _ := newTestEngine(t, exec)

	def := Definition{
		ID: "cancelme",
		Steps: []StepDef{
			stepUsingCustomAgent("a"),
			stepUsingCustomAgent("b", "a"),
		},
	}
	require.NoError(t, eng.RegisterDefinition(def))
	execRecord, err := eng.Start(context.Background(), "cancelme", "user-1", nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, eng.Cancel(execRecord.ExecutionID))

	final := waitTerminal(t, eng, execRecord.ExecutionID, 2*time.Second)
	require.Equal(t, StatusCancelled, final.Status)
	require.Equal(t, StepCompleted, final.Steps["a"].Status)
	require.Equal(t, StepPending, final.Steps["b"].Status)
}

// TestContinueOnErrorLetsIndependentBranchFinish covers the continueOnError
// contract: a failed step marked continueOnError must not stall its
// dependents or strand the rest of the graph in pending forever.
func TestContinueOnErrorLetsIndependentBranchFinish(t *testing.T) {
	exec := &scriptedExecutor{fn: func(input agent.ExecutionInput) (agent.ExecutionOutput, error) {
		if input.Prompt == "do b" {
			return agent.ExecutionOutput{Success: false, Error: "boom"}, fmt.Errorf("boom")
		}
		return agent.ExecutionOutput{Success: true, Result: "ok"}, nil
	}}
	eng, _, _, _ := newTestEngine(t, exec)

	failingStep := stepUsingCustomAgent("b", "a")
	failingStep.ContinueOnError = true

	def := Definition{
		ID: "continue-on-error",
		Steps: []StepDef{
			stepUsingCustomAgent("a"),
			failingStep,
			stepUsingCustomAgent("d", "b"),
		},
	}
	require.NoError(t, eng.RegisterDefinition(def))
	execRecord, err := eng.Start(context.Background(), "continue-on-error", "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, eng, execRecord.ExecutionID, 2*time.Second)
	require.Equal(t, StatusFailed, final.Status)
	require.Equal(t, StepCompleted, final.Steps["a"].Status)
	require.Equal(t, StepFailed, final.Steps["b"].Status)
	require.Equal(t, StepCompleted, final.Steps["d"].Status, "d depends only on the continueOnError step and must still run")
}

// TestStepDispatchesThroughProcessManager proves a workflow step can reach
// the process manager for an external call (spec.md §2's "dispatches to the
// process manager for external calls"), rather than the process package
// sitting unreachable from the rest of the engine.
func TestStepDispatchesThroughProcessManager(t *testing.T) {
	cfg := config.Default()
	cfg.MaxConcurrentWorkflows = 5
	cfg.MaxParallelSteps = 4

	registry := agent.New(cfg, telemetry.NoOpLogger{}, telemetry.NoOpTracer{}, nil, nil)
	backing := store.NewMemStore()
	mgr := process.New(cfg, backing, eventbus.New(), telemetry.NoOpLogger{}, telemetry.NoOpTracer{})
	defer mgr.Close()

	_, err := registry.Register(agent.TypeCustom, "shell", process.NewExecutor(mgr, 10*time.Millisecond), agent.RegisterOptions{AgentID: "shell", Priority: 1})
	require.NoError(t, err)

	ctxStore := wfcontext.New(cfg)
	bus := eventbus.New()
	prompts, err := prompt.New(context.Background(), store.NewMemStore(), cfg, telemetry.NoOpLogger{})
	require.NoError(t, err)
	eng := New(cfg, registry, prompts, ctxStore, bus, telemetry.NoOpLogger{}, telemetry.NoOpTracer{})

	step := StepDef{
		ID:        "run-echo",
		AgentType: agent.TypeCustom,
		AgentID:   "shell",
		Prompt:    "unused for a process step; command comes from Config",
		Outputs:   []StepOutput{{Path: "results.run-echo"}},
		Inputs: []StepInput{
			{Name: "command", Literal: "echo"},
		},
	}
	def := Definition{ID: "shells-out", Steps: []StepDef{step}}
	require.NoError(t, eng.RegisterDefinition(def))

	execRecord, err := eng.Start(context.Background(), "shells-out", "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, eng, execRecord.ExecutionID, 5*time.Second)
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, StepCompleted, final.Steps["run-echo"].Status)
}

func TestValidateRejectsUnknownAgentType(t *testing.T) {
	def := Definition{ID: "bad", Steps: []StepDef{{ID: "x", AgentType: "not-a-type", Prompt: "p"}}}
	err := Validate(def, config.Default())
	require.Error(t, err)
}

func TestValidateRejectsCycles(t *testing.T) {
	def := Definition{ID: "cyclic", Steps: []StepDef{
		{ID: "x", AgentType: agent.TypeCustom, Prompt: "p", Dependencies: []string{"y"}},
		{ID: "y", AgentType: agent.TypeCustom, Prompt: "p", Dependencies: []string{"x"}},
	}}
	err := Validate(def, config.Default())
	require.Error(t, err)
}
