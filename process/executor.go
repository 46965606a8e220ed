package process

import (
	"context"
	"fmt"
	"time"

	"github.com/agentflow/orchestrator/agent"
	"github.com/agentflow/orchestrator/ids"
)

// Executor adapts a Manager into an agent.Executor, the path by which a
// workflow step (or any other agent caller) dispatches to an external
// command through the process manager's queue, capture, and retry
// machinery (spec.md §2: "the engine dispatches to the process manager for
// external calls"). Register it with the agent registry under
// agent.TypeCustom to make it selectable from a StepDef like any other
// agent.
type Executor struct {
	manager *Manager
	poll    time.Duration
}

// NewExecutor wraps manager as an agent.Executor. poll controls how often
// Execute checks for process completion; 0 selects a sane default.
func NewExecutor(manager *Manager, poll time.Duration) *Executor {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &Executor{manager: manager, poll: poll}
}

// Execute spawns the command described by input.Config (keys "command",
// "args", "cwd", "env", "stdin") and blocks until it reaches a terminal
// state or ctx is cancelled, surfacing stdout/stderr/exit code as a
// structured result.
func (e *Executor) Execute(ctx context.Context, input agent.ExecutionInput) (agent.ExecutionOutput, error) {
	command, _ := input.Config["command"].(string)
	if command == "" {
		err := fmt.Errorf("process executor requires config[\"command\"]")
		return agent.ExecutionOutput{Success: false, Error: err.Error()}, err
	}

	var userID string
	if input.Context != nil {
		userID, _ = input.Context["userId"].(string)
	}

	req := SpawnRequest{
		ID:            ids.New("procstep"),
		UserID:        userID,
		Command:       command,
		Args:          stringSlice(input.Config["args"]),
		Cwd:           stringField(input.Config["cwd"]),
		Env:           stringMap(input.Config["env"]),
		TimeoutMs:     input.TimeoutMs,
		CaptureOutput: true,
		StdinContent:  stringField(input.Config["stdin"]),
	}

	if _, err := e.manager.Spawn(ctx, req); err != nil {
		return agent.ExecutionOutput{Success: false, Error: err.Error()}, err
	}

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = e.manager.Cancel(context.Background(), req.ID)
			return agent.ExecutionOutput{Success: false, Error: ctx.Err().Error()}, ctx.Err()
		case <-ticker.C:
			p, found := e.manager.Get(req.ID)
			if !found || !p.State.Terminal() {
				continue
			}
			stdout, stderr, _ := e.manager.Tail(req.ID, 0)
			result := map[string]interface{}{
				"exitCode": p.ExitCode,
				"state":    string(p.State),
				"stdout":   string(stdout),
				"stderr":   string(stderr),
			}
			if p.State == StateCompleted {
				return agent.ExecutionOutput{Success: true, Result: result}, nil
			}
			return agent.ExecutionOutput{Success: false, Result: result, Error: p.ErrorReason}, nil
		}
	}
}

// HealthCheck reports the wrapped manager as reachable; the manager itself
// has no external dependency to probe beyond being constructed.
func (e *Executor) HealthCheck(ctx context.Context) error {
	if e.manager == nil {
		return fmt.Errorf("process executor has no manager")
	}
	return nil
}

func stringField(v interface{}) string {
	s, _ := v.(string)
	return s
}

func stringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func stringMap(v interface{}) map[string]string {
	switch t := v.(type) {
	case map[string]string:
		return t
	case map[string]interface{}:
		out := make(map[string]string, len(t))
		for k, e := range t {
			if s, ok := e.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
