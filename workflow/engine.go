package workflow

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/agent"
	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/engineerr"
	"github.com/agentflow/orchestrator/eventbus"
	"github.com/agentflow/orchestrator/orchestrate"
	"github.com/agentflow/orchestrator/prompt"
	"github.com/agentflow/orchestrator/telemetry"
	"github.com/agentflow/orchestrator/wfcontext"
)

// run is the engine's live bookkeeping for one execution.
type run struct {
	mu        sync.Mutex
	exec      Execution
	dag       *dag
	def       Definition
	paused    bool
	cancelled bool
}

// Engine is the Workflow Engine (spec.md §4.7).
type Engine struct {
	mu          sync.Mutex
	definitions map[string]Definition
	runs        map[string]*run
	activeCount int
	admissionQ  []string

	agents  *agent.Registry
	prompts *prompt.Store
	ctxs    *wfcontext.Store
	bus     *eventbus.Bus
	cfg     *config.Config
	logger  telemetry.Logger
	tracer  telemetry.Tracer
}

// New creates a Workflow Engine wired to the cross-cutting services it
// depends on.
func New(cfg *config.Config, agents *agent.Registry, prompts *prompt.Store, ctxs *wfcontext.Store, bus *eventbus.Bus, logger telemetry.Logger, tracer telemetry.Tracer) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if tracer == nil {
		tracer = telemetry.NoOpTracer{}
	}
	return &Engine{
		definitions: make(map[string]Definition),
		runs:        make(map[string]*run),
		agents:      agents,
		prompts:     prompts,
		ctxs:        ctxs,
		bus:         bus,
		cfg:         cfg,
		logger:      logger,
		tracer:      tracer,
	}
}

// RegisterDefinition validates and stores a workflow definition for later
// execution.
func (e *Engine) RegisterDefinition(def Definition) error {
	if err := Validate(def, e.cfg); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.definitions[def.ID] = def
	return nil
}

// Start admits a new execution of a registered workflow definition. Excess
// requests beyond MaxConcurrentWorkflows either queue (if enabled and the
// queue isn't full) or fail fast with a capacity error (spec.md §4.7).
func (e *Engine) Start(ctx context.Context, workflowID, userID string, initialContext map[string]interface{}) (Execution, error) {
	e.mu.Lock()
	def, ok := e.definitions[workflowID]
	e.mu.Unlock()
	if !ok {
		return Execution{}, engineerr.New("workflow.Start", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(workflowID)
	}

	executionID := wfcontext.NewID()
	seed := mergeContext(def.InitialContext, initialContext)
	if err := e.ctxs.Create(executionID, seed, 0); err != nil {
		return Execution{}, err
	}

	steps := make(map[string]*StepState, len(def.Steps))
	for _, s := range def.Steps {
		steps[s.ID] = &StepState{StepID: s.ID, Status: StepPending}
	}

	r := &run{
		exec: Execution{
			ExecutionID: executionID,
			WorkflowID:  workflowID,
			UserID:      userID,
			Status:      StatusQueued,
			Steps:       steps,
		},
		dag: newDAG(def),
		def: def,
	}

	e.mu.Lock()
	if e.activeCount >= e.cfg.MaxConcurrentWorkflows {
		if !e.cfg.WorkflowQueueEnabled || len(e.admissionQ) >= e.cfg.WorkflowQueueSize {
			e.mu.Unlock()
			return Execution{}, engineerr.New("workflow.Start", engineerr.KindCapacity, engineerr.ErrCapacityExceeded).WithID(executionID)
		}
		e.admissionQ = append(e.admissionQ, executionID)
		r.exec.QueuePosition = int64(len(e.admissionQ))
		e.runs[executionID] = r
		e.mu.Unlock()
		return r.exec, nil
	}
	e.activeCount++
	e.runs[executionID] = r
	e.mu.Unlock()

	go e.runWorkflow(r)
	return r.exec, nil
}

func mergeContext(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Get returns the current execution snapshot.
func (e *Engine) Get(executionID string) (Execution, bool) {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if !ok {
		return Execution{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec, true
}

// Cancel stops an execution: queued executions are pulled from admission,
// running executions are flagged so the scheduling loop exits at its next
// check.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if !ok {
		return engineerr.New("workflow.Cancel", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(executionID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec.Status.Terminal() {
		return engineerr.New("workflow.Cancel", engineerr.KindValidation, nil).WithID(executionID).WithMessage("execution already terminal")
	}
	r.cancelled = true
	if r.exec.Status == StatusQueued {
		e.mu.Lock()
		e.removeFromAdmission(executionID)
		e.mu.Unlock()
		r.exec.Status = StatusCancelled
		r.exec.CompletedAt = time.Now()
	}
	return nil
}

func (e *Engine) removeFromAdmission(executionID string) {
	for i, id := range e.admissionQ {
		if id == executionID {
			e.admissionQ = append(e.admissionQ[:i], e.admissionQ[i+1:]...)
			return
		}
	}
}

// Pause sets a flag the scheduling loop observes between rounds and writes
// a recovery snapshot of the context (spec.md §4.7).
func (e *Engine) Pause(executionID string) error {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if !ok {
		return engineerr.New("workflow.Pause", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(executionID)
	}
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
	_, err := e.ctxs.Snapshot(executionID, "pause")
	return err
}

// Resume clears the pause flag.
func (e *Engine) Resume(executionID string) error {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if !ok {
		return engineerr.New("workflow.Resume", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(executionID)
	}
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
	e.publish(executionID, "resumed", nil)
	return nil
}

func (e *Engine) publish(executionID, eventType string, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{ID: executionID, Type: eventType, Data: data})
}

// runWorkflow drives one execution's scheduling loop to completion.
func (e *Engine) runWorkflow(r *run) {
	ctx, span := e.tracer.StartSpan(context.Background(), "workflow.run")
	defer span.End()
	span.SetAttribute("workflow.execution_id", r.exec.ExecutionID)

	r.mu.Lock()
	r.exec.Status = StatusRunning
	r.exec.StartedAt = time.Now()
	r.mu.Unlock()
	e.publish(r.exec.ExecutionID, "workflow:started", nil)

	maxParallel := r.def.MaxParallelSteps
	if maxParallel <= 0 || maxParallel > e.cfg.MaxParallelSteps {
		maxParallel = e.cfg.MaxParallelSteps
	}

	for {
		r.mu.Lock()
		if r.cancelled {
			r.exec.Status = StatusCancelled
			r.exec.CompletedAt = time.Now()
			r.mu.Unlock()
			break
		}
		if r.paused {
			r.exec.Status = StatusPaused
			r.mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if r.exec.Status == StatusPaused {
			r.exec.Status = StatusRunning
		}
		if r.dag.isComplete() {
			r.mu.Unlock()
			break
		}
		ready := r.dag.readyNodes()
		r.mu.Unlock()

		if len(ready) == 0 {
			time.Sleep(20 * time.Millisecond)
			continue
		}

		e.runRound(ctx, r, ready, maxParallel)
		e.updateProgress(r)
	}

	r.mu.Lock()
	if !r.exec.Status.Terminal() {
		if r.dag.hasFailures() {
			r.exec.Status = StatusFailed
		} else {
			r.exec.Status = StatusCompleted
		}
	}
	r.exec.CompletedAt = time.Now()
	final := r.exec.Status
	executionID := r.exec.ExecutionID
	r.mu.Unlock()

	e.ctxs.Clear(executionID)
	e.publish(executionID, "workflow:"+string(final), nil)

	e.mu.Lock()
	e.activeCount--
	e.mu.Unlock()
	e.admitNext()
}

func (e *Engine) admitNext() {
	e.mu.Lock()
	if len(e.admissionQ) == 0 || e.activeCount >= e.cfg.MaxConcurrentWorkflows {
		e.mu.Unlock()
		return
	}
	nextID := e.admissionQ[0]
	e.admissionQ = e.admissionQ[1:]
	r, ok := e.runs[nextID]
	if !ok {
		e.mu.Unlock()
		e.admitNext()
		return
	}
	e.activeCount++
	e.mu.Unlock()

	r.mu.Lock()
	r.exec.QueuePosition = 0
	r.mu.Unlock()
	go e.runWorkflow(r)
}

func (e *Engine) runRound(ctx context.Context, r *run, ready []string, maxParallel int) {
	r.mu.Lock()
	for _, id := range ready {
		r.dag.markRunning(id)
		r.exec.Steps[id].Status = StepRunning
		r.exec.Steps[id].StartedAt = time.Now()
	}
	r.exec.CurrentSteps = ready
	r.mu.Unlock()

	var tasks []orchestrate.Task
	for _, id := range ready {
		stepID := id
		tasks = append(tasks, orchestrate.Task{
			ID: stepID,
			Run: func(innerCtx context.Context, taskCtx map[string]interface{}) (interface{}, error) {
				e.executeStep(innerCtx, r, stepID)
				return nil, nil
			},
		})
	}
	_, _ = orchestrate.Parallel(ctx, tasks, maxParallel, nil)
}

func (e *Engine) executeStep(ctx context.Context, r *run, stepID string) {
	r.mu.Lock()
	step := stepByID(r.def, stepID)
	executionID := r.exec.ExecutionID
	r.mu.Unlock()

	if step.Condition != "" {
		resolver := func(path string) (interface{}, bool) {
			v, ok, err := e.ctxs.GetValue(executionID, path)
			if err != nil {
				return nil, false
			}
			return v, ok
		}
		ok, err := orchestrate.Evaluate(step.Condition, resolver)
		if err != nil {
			e.logger.Warn("condition evaluation failed, defaulting to false", map[string]interface{}{"step": stepID, "error": err.Error()})
			ok = false
		}
		if !ok {
			e.finishStep(r, stepID, StepSkipped, nil, "condition")
			return
		}
	}

	maxAttempts := 1
	var policy *RetryPolicy
	if step.RetryPolicy != nil {
		policy = step.RetryPolicy
	} else {
		policy = r.def.DefaultRetryPolicy
	}
	if policy != nil {
		maxAttempts = policy.MaxRetries + 1
	}

	var lastErr error
	var output interface{}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		output, lastErr = e.invokeStep(ctx, r, step)
		if lastErr == nil {
			break
		}
		if attempt < maxAttempts-1 && policy != nil {
			time.Sleep(stepBackoff(policy, attempt))
			r.mu.Lock()
			r.exec.Steps[stepID].RetryCount++
			r.mu.Unlock()
		}
	}

	if lastErr != nil {
		e.finishStep(r, stepID, StepFailed, nil, lastErr.Error())
		return
	}

	for _, out := range step.Outputs {
		value := output
		if out.Field != "" {
			if extracted, ok := extractField(output, out.Field); ok {
				value = extracted
			}
		}
		_ = e.ctxs.SetValue(executionID, out.Path, value)
	}
	e.finishStep(r, stepID, StepCompleted, output, "")
}

func stepBackoff(policy *RetryPolicy, attempt int) time.Duration {
	base := float64(policy.InitialDelayMs)
	mult := policy.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	delay := base * math.Pow(mult, float64(attempt))
	if policy.MaxDelayMs > 0 && delay > float64(policy.MaxDelayMs) {
		delay = float64(policy.MaxDelayMs)
	}
	return time.Duration(delay) * time.Millisecond
}

func (e *Engine) invokeStep(ctx context.Context, r *run, step StepDef) (interface{}, error) {
	r.mu.Lock()
	executionID := r.exec.ExecutionID
	userID := r.exec.UserID
	r.mu.Unlock()

	var resolved agent.Agent
	var found bool
	if step.AgentID != "" {
		resolved, found = e.agents.Resolve(step.AgentID)
	} else {
		resolved, found = e.agents.ResolveDefault(step.AgentType)
	}
	if !found {
		return nil, fmt.Errorf("no agent available for step %q", step.ID)
	}

	inputs := make(map[string]interface{}, len(step.Inputs))
	for _, in := range step.Inputs {
		switch {
		case in.FromContext != "":
			if v, ok, _ := e.ctxs.GetValue(executionID, in.FromContext); ok {
				inputs[in.Name] = v
			}
		case in.FromStepID != "":
			r.mu.Lock()
			st, ok := r.exec.Steps[in.FromStepID]
			r.mu.Unlock()
			if ok {
				if in.FromStepField != "" {
					if v, ok := extractField(st.Result, in.FromStepField); ok {
						inputs[in.Name] = v
					}
				} else {
					inputs[in.Name] = st.Result
				}
			}
		default:
			inputs[in.Name] = in.Literal
		}
	}

	var renderedPrompt string
	var err error
	if step.PromptTemplateID != "" {
		renderedPrompt, err = e.prompts.Render(step.PromptTemplateID, inputs)
	} else {
		renderedPrompt, err = prompt.Interpolate(step.Prompt, nil, inputs)
	}
	if err != nil {
		return nil, err
	}

	timeoutMs := step.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = r.def.TimeoutMs
	}
	if timeoutMs <= 0 {
		timeoutMs = e.cfg.DefaultStepTimeout.Milliseconds()
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	out, err := e.agents.Execute(callCtx, resolved.ID, agent.ExecutionInput{
		Prompt:    renderedPrompt,
		Context:   map[string]interface{}{"userId": userID},
		Config:    inputs,
		TimeoutMs: timeoutMs,
	})
	if err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("agent %q reported failure: %s", resolved.ID, out.Error)
	}
	return out.Result, nil
}

func (e *Engine) finishStep(r *run, stepID string, status StepStatus, result interface{}, errMsg string) {
	r.mu.Lock()
	st := r.exec.Steps[stepID]
	st.Status = status
	st.Result = result
	st.Error = errMsg
	st.CompletedAt = time.Now()
	st.DurationMs = st.CompletedAt.Sub(st.StartedAt).Milliseconds()

	switch status {
	case StepCompleted:
		r.dag.markCompleted(stepID)
	case StepFailed:
		r.dag.markFailed(stepID, stepByID(r.def, stepID).ContinueOnError)
	case StepSkipped:
		r.dag.nodes[stepID].status = nodeSkipped
	}
	r.mu.Unlock()

	eventType := "step:" + string(status)
	e.publish(r.exec.ExecutionID, eventType, map[string]interface{}{"stepId": stepID})
}

func (e *Engine) updateProgress(r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	completed, running, total := r.dag.counts()
	if total == 0 {
		return
	}
	progress := (float64(completed) + 0.5*float64(running)) / float64(total) * 100
	r.exec.Progress = int(math.Floor(progress))
}

func stepByID(def Definition, id string) StepDef {
	for _, s := range def.Steps {
		if s.ID == id {
			return s
		}
	}
	return StepDef{}
}

// extractField resolves a dotted field path within an arbitrary result
// value (typically map[string]interface{} returned by an agent).
func extractField(result interface{}, field string) (interface{}, bool) {
	current := result
	for _, seg := range strings.Split(field, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
