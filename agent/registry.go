package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/engineerr"
	"github.com/agentflow/orchestrator/ids"
	"github.com/agentflow/orchestrator/telemetry"
)

// record pairs the Agent entity with its Executor and a per-agent mutex so
// status transitions under concurrent Execute calls stay consistent without
// holding the registry lock for the duration of a call.
type record struct {
	mu       sync.Mutex
	agent    Agent
	executor Executor
}

// Registry is the Agent Registry (spec.md §4.3): a concurrency-safe map of
// registered agents plus default-resolution and health-check orchestration.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
	cfg     *config.Config
	logger  telemetry.Logger
	tracer  telemetry.Tracer
}

// New creates an empty registry. builtinLLM and builtinSynth, when non-nil,
// are registered immediately as the two permanent built-in agents (spec.md
// §4.3: "the registry always contains exactly one non-custom agent per
// built-in type that cannot be unregistered"); passing nil for either skips
// that built-in, useful in tests that only exercise custom agents.
func New(cfg *config.Config, logger telemetry.Logger, tracer telemetry.Tracer, builtinLLM, builtinSynth Executor) *Registry {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if tracer == nil {
		tracer = telemetry.NoOpTracer{}
	}
	r := &Registry{
		records: make(map[string]*record),
		cfg:     cfg,
		logger:  logger,
		tracer:  tracer,
	}
	if builtinLLM != nil {
		r.registerBuiltin(TypeLLM, "builtin-llm", builtinLLM)
	}
	if builtinSynth != nil {
		r.registerBuiltin(TypeSynth, "builtin-synth", builtinSynth)
	}
	return r
}

func (r *Registry) registerBuiltin(t Type, name string, executor Executor) {
	a := Agent{
		ID:       name,
		Type:     t,
		Name:     name,
		Status:   StatusIdle,
		Priority: 0,
		Builtin:  true,
	}
	r.records[a.ID] = &record{agent: a, executor: executor}
}

// RegisterOptions configures Register beyond the required fields.
type RegisterOptions struct {
	AgentID      string // when empty, a new id is minted
	Capabilities []string
	Priority     int
}

// Register adds a custom agent executor under the given type and name.
// Calling Register again with the same AgentID is idempotent: the existing
// record's name/capabilities/priority/executor are replaced rather than a
// duplicate being created, so callers can safely re-register on restart.
func (r *Registry) Register(t Type, name string, executor Executor, opts RegisterOptions) (Agent, error) {
	if executor == nil {
		return Agent{}, engineerr.New("agent.Register", engineerr.KindValidation, nil).WithMessage("executor is required")
	}
	if name == "" {
		return Agent{}, engineerr.New("agent.Register", engineerr.KindValidation, nil).WithMessage("name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := opts.AgentID
	if id == "" {
		id = ids.New("agent")
	}
	if existing, ok := r.records[id]; ok && existing.agent.Builtin {
		return Agent{}, engineerr.New("agent.Register", engineerr.KindValidation, nil).
			WithID(id).WithMessage("cannot overwrite a built-in agent")
	}

	a := Agent{
		ID:           id,
		Type:         t,
		Name:         name,
		Capabilities: opts.Capabilities,
		Status:       StatusIdle,
		Priority:     opts.Priority,
	}
	r.records[id] = &record{agent: a, executor: executor}
	r.logger.Info("agent registered", map[string]interface{}{"agent_id": id, "type": string(t), "name": name})
	return a, nil
}

// Unregister removes a custom agent. Built-in agents cannot be removed.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[agentID]
	if !ok {
		return engineerr.New("agent.Unregister", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(agentID)
	}
	if rec.agent.Builtin {
		return engineerr.New("agent.Unregister", engineerr.KindPermission, nil).
			WithID(agentID).WithMessage("built-in agents cannot be unregistered")
	}
	delete(r.records, agentID)
	return nil
}

// Resolve returns the current snapshot of an agent by ID.
func (r *Registry) Resolve(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[agentID]
	if !ok {
		return Agent{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.agent, true
}

// ResolveDefault picks the best candidate of a given type: among agents that
// are not in StatusError or StatusOffline, the highest Priority wins; ties
// break by the lexically smallest ID, mirroring the teacher's ai/registry.go priority-ordered provider
// selection generalized from "best available SDK" to "best available agent".
func (r *Registry) ResolveDefault(t Type) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []Agent
	for _, rec := range r.records {
		rec.mu.Lock()
		a := rec.agent
		rec.mu.Unlock()
		if a.Type != t {
			continue
		}
		if a.Status == StatusError || a.Status == StatusOffline {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return Agent{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

// List returns a snapshot of every registered agent.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.records))
	for _, rec := range r.records {
		rec.mu.Lock()
		out = append(out, rec.agent)
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Execute invokes the named agent's executor, tracking busy/idle/error
// status transitions around the call (spec.md §4.3). On failure, ErrorCount
// is incremented; once it reaches the configured threshold the agent's
// status is pinned to StatusError until a successful HealthCheck resets it
// (Execute refuses an agent in StatusError), mirroring the teacher's circuit-breaker open-state
// generalized into the registry's own status field.
func (r *Registry) Execute(ctx context.Context, agentID string, input ExecutionInput) (ExecutionOutput, error) {
	r.mu.RLock()
	rec, ok := r.records[agentID]
	r.mu.RUnlock()
	if !ok {
		return ExecutionOutput{}, engineerr.New("agent.Execute", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(agentID)
	}

	rec.mu.Lock()
	if rec.agent.Status == StatusError {
		rec.mu.Unlock()
		return ExecutionOutput{}, engineerr.New("agent.Execute", engineerr.KindCapacity, engineerr.ErrAgentUnavailable).WithID(agentID)
	}
	rec.agent.Status = StatusBusy
	executor := rec.executor
	rec.mu.Unlock()

	ctx, span := r.tracer.StartSpan(ctx, "agent.execute")
	span.SetAttribute("agent.id", agentID)
	span.SetAttribute("agent.type", string(rec.agent.Type))
	start := time.Now()

	out, err := executor.Execute(ctx, input)

	span.End()
	duration := time.Since(start)
	if out.DurationMs == 0 {
		out.DurationMs = duration.Milliseconds()
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err != nil || !out.Success {
		rec.agent.ErrorCount++
		if rec.agent.ErrorCount >= r.cfg.AgentErrorThreshold {
			rec.agent.Status = StatusError
		} else {
			rec.agent.Status = StatusIdle
		}
		r.logger.Warn("agent execution failed", map[string]interface{}{
			"agent_id":    agentID,
			"error_count": rec.agent.ErrorCount,
		})
		if err != nil {
			return out, engineerr.New("agent.Execute", engineerr.KindExecution, err).WithID(agentID)
		}
		return out, nil
	}

	rec.agent.Status = StatusIdle
	return out, nil
}

// HealthCheckAll probes every registered agent with a hard timeout
// (cfg.HealthCheckTimeout). A successful probe resets ErrorCount and returns
// StatusIdle agents from StatusError; a failed probe increments ErrorCount
// and may push the agent into StatusError, matching Execute's bookkeeping.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		id := rec.agent.ID
		executor := rec.executor
		rec.mu.Unlock()

		probeCtx, cancel := context.WithTimeout(ctx, r.cfg.HealthCheckTimeout)
		err := executor.HealthCheck(probeCtx)
		cancel()

		rec.mu.Lock()
		rec.agent.LastHealthCheck = time.Now()
		if err != nil {
			rec.agent.ErrorCount++
			if rec.agent.ErrorCount >= r.cfg.AgentErrorThreshold {
				rec.agent.Status = StatusError
			}
		} else {
			rec.agent.ErrorCount = 0
			if rec.agent.Status == StatusError {
				rec.agent.Status = StatusIdle
			}
		}
		rec.mu.Unlock()

		results[id] = err
	}
	return results
}
