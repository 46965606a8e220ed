package process

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/engineerr"
	"github.com/agentflow/orchestrator/eventbus"
	"github.com/agentflow/orchestrator/store"
	"github.com/agentflow/orchestrator/telemetry"
)

const (
	queueKey      = "process:queue"
	recordPrefix  = "process:record:"
	rateLimitKey  = "process:ratelimit:"
)

// entry is the manager's live bookkeeping for one process, including its
// output buffers and the running os/exec.Cmd while State is StateRunning.
type entry struct {
	mu     sync.Mutex
	proc   Process
	stdout *ringBuffer
	stderr *ringBuffer
	cancel context.CancelFunc
}

// Manager is the Process Manager (spec.md §4.6).
type Manager struct {
	mu            sync.Mutex
	entries       map[string]*entry
	activeCount   int
	completed     int64
	avgDurationMs float64

	store  store.Store
	bus    *eventbus.Bus
	cfg    *config.Config
	logger telemetry.Logger
	tracer telemetry.Tracer

	wake chan struct{}
	stop chan struct{}
}

// New creates a Manager and starts its background dequeue loop.
func New(cfg *config.Config, backing store.Store, bus *eventbus.Bus, logger telemetry.Logger, tracer telemetry.Tracer) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if tracer == nil {
		tracer = telemetry.NoOpTracer{}
	}
	m := &Manager{
		entries: make(map[string]*entry),
		store:   backing,
		bus:     bus,
		cfg:     cfg,
		logger:  logger,
		tracer:  tracer,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	go m.dequeueLoop()
	return m
}

// Close stops the background dequeue loop.
func (m *Manager) Close() { close(m.stop) }

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Spawn enqueues a process for execution, per spec.md §4.6. Re-spawning a
// known ID (the retry path) preserves that process's original config fields
// and only bumps Attempt, rather than trusting a possibly-partial req.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (Process, error) {
	if req.ID == "" {
		return Process{}, engineerr.New("process.Spawn", engineerr.KindValidation, nil).WithMessage("id is required")
	}

	if req.UserID != "" {
		allowed, err := m.checkRateLimit(ctx, req.UserID)
		if err != nil {
			return Process{}, engineerr.New("process.Spawn", engineerr.KindInternal, err)
		}
		if !allowed {
			p := Process{
				ID:          req.ID,
				UserID:      req.UserID,
				State:       StateFailed,
				ErrorReason: "rate limit exceeded",
				CreatedAt:   time.Now(),
				CompletedAt: time.Now(),
			}
			m.mu.Lock()
			if _, known := m.entries[req.ID]; !known {
				m.entries[req.ID] = &entry{
					proc:   p,
					stdout: newRingBuffer(effectiveMaxOutput(req.MaxOutputSize, m.cfg)),
					stderr: newRingBuffer(effectiveMaxOutput(req.MaxOutputSize, m.cfg)),
				}
			}
			m.mu.Unlock()
			m.saveRecord(ctx, p)
			return p, engineerr.New("process.Spawn", engineerr.KindCapacity, engineerr.ErrRateLimited).WithID(req.ID)
		}
	}

	m.mu.Lock()
	e, exists := m.entries[req.ID]
	if exists {
		e.mu.Lock()
		e.proc.Attempt++
		e.proc.State = StateQueued
		e.proc.ExitCode = 0
		e.proc.ErrorReason = ""
		e.proc.CompletedAt = time.Time{}
		p := e.proc
		e.mu.Unlock()
		m.mu.Unlock()
		if err := m.enqueue(ctx, p); err != nil {
			return Process{}, err
		}
		return p, nil
	}

	p := Process{
		ID:            req.ID,
		UserID:        req.UserID,
		Command:       req.Command,
		Args:          req.Args,
		Cwd:           req.Cwd,
		Env:           req.Env,
		TimeoutMs:     req.TimeoutMs,
		CaptureOutput: req.CaptureOutput,
		MaxOutputSize: req.MaxOutputSize,
		StdinContent:  req.StdinContent,
		Priority:      req.Priority,
		State:         StateQueued,
		CreatedAt:     time.Now(),
	}
	m.entries[req.ID] = &entry{
		proc:   p,
		stdout: newRingBuffer(effectiveMaxOutput(req.MaxOutputSize, m.cfg)),
		stderr: newRingBuffer(effectiveMaxOutput(req.MaxOutputSize, m.cfg)),
	}
	m.mu.Unlock()

	if err := m.enqueue(ctx, p); err != nil {
		m.mu.Lock()
		delete(m.entries, req.ID)
		m.mu.Unlock()
		return Process{}, err
	}
	return p, nil
}

func effectiveMaxOutput(requested int, cfg *config.Config) int {
	if requested > 0 {
		return requested
	}
	return cfg.MaxOutputBytes
}

func (m *Manager) enqueue(ctx context.Context, p Process) error {
	if m.store != nil {
		card, err := m.store.ZCard(ctx, queueKey)
		if err == nil && m.cfg.ProcessQueueSize > 0 && int(card) >= m.cfg.ProcessQueueSize {
			return engineerr.New("process.enqueue", engineerr.KindCapacity, engineerr.ErrQueueFull).WithID(p.ID)
		}
		score := queueScore(p.Priority, time.Now())
		if err := m.store.ZAdd(ctx, queueKey, p.ID, score); err != nil {
			return engineerr.New("process.enqueue", engineerr.KindInternal, err).WithID(p.ID)
		}
	}
	m.saveRecord(ctx, p)
	m.signalWake()
	return nil
}

// queueScore combines priority (higher wins) with enqueue time (earlier
// wins within equal priority) into one ascending sort key.
func queueScore(priority int, enqueuedAt time.Time) float64 {
	return float64(-priority)*1e15 + float64(enqueuedAt.UnixNano())/1e6
}

func (m *Manager) saveRecord(ctx context.Context, p Process) {
	if m.store == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = m.store.Set(ctx, recordPrefix+p.ID, string(b), 0)
}

// Get returns the current state of a process by ID, with QueuePosition and
// EstimatedWait filled in while it is still queued.
func (m *Manager) Get(id string) (Process, bool) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return Process{}, false
	}
	e.mu.Lock()
	p := e.proc
	e.mu.Unlock()

	if p.State == StateQueued {
		if rank, eta, found := m.Position(context.Background(), id); found {
			p.QueuePosition = rank
			p.EstimatedWait = eta
		}
	}
	return p, true
}

// Tail returns the last n bytes of captured stdout/stderr for id.
func (m *Manager) Tail(id string, n int) (stdout, stderr []byte, ok bool) {
	m.mu.Lock()
	e, found := m.entries[id]
	m.mu.Unlock()
	if !found {
		return nil, nil, false
	}
	return e.stdout.Tail(n), e.stderr.Tail(n), true
}

// Position returns this process's 0-based rank in the priority queue and
// the estimated time until it starts (spec.md §4.6: ETA = position ×
// movingAverageDuration).
func (m *Manager) Position(ctx context.Context, id string) (position int64, eta time.Duration, ok bool) {
	if m.store == nil {
		return 0, 0, false
	}
	rank, found, err := m.store.ZRank(ctx, queueKey, id)
	if err != nil || !found {
		return 0, 0, false
	}
	m.mu.Lock()
	avg := m.avgDurationMs
	m.mu.Unlock()
	return rank, time.Duration(float64(rank)*avg) * time.Millisecond, true
}

// Cancel transitions a process to StateCancelled from any non-terminal
// state (spec.md §4.6). Queued processes are pulled from the priority set;
// running processes are signalled gracefully, then killed after the grace
// window if still alive.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return engineerr.New("process.Cancel", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(id)
	}

	e.mu.Lock()
	state := e.proc.State
	cancel := e.cancel
	e.mu.Unlock()

	if state.Terminal() {
		return engineerr.New("process.Cancel", engineerr.KindValidation, nil).WithID(id).WithMessage("process already terminal")
	}

	if state == StateQueued {
		if m.store != nil {
			_ = m.store.ZRem(ctx, queueKey, id)
		}
		m.finish(ctx, e, StateCancelled, 0, "")
		return nil
	}

	// Running: signal cancellation; runProcess's goroutine handles the
	// graceful-then-hard termination sequence and the final state write.
	e.mu.Lock()
	e.proc.State = StateCancelled
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (m *Manager) dequeueLoop() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-m.wake:
			m.tryDequeue()
		case <-ticker.C:
			m.tryDequeue()
		}
	}
}

func (m *Manager) tryDequeue() {
	for {
		m.mu.Lock()
		if m.activeCount >= m.cfg.MaxConcurrentProcesses {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		if m.store == nil {
			return
		}
		ctx := context.Background()
		min, found, err := m.store.ZPopMin(ctx, queueKey)
		if err != nil || !found {
			return
		}

		m.mu.Lock()
		e, ok := m.entries[min.Member]
		if !ok {
			m.mu.Unlock()
			continue
		}
		m.activeCount++
		m.mu.Unlock()

		go m.runProcess(e)
	}
}

func (m *Manager) runProcess(e *entry) {
	ctx := context.Background()
	ctx, span := m.tracer.StartSpan(ctx, "process.run")
	defer span.End()

	e.mu.Lock()
	e.proc.State = StateRunning
	e.proc.StartedAt = time.Now()
	p := e.proc
	e.mu.Unlock()
	span.SetAttribute("process.id", p.ID)
	m.saveRecord(ctx, p)
	m.publish(p.ID, "start", nil)

	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = m.cfg.DefaultProcessTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.Command, p.Args...)
	cmd.Dir = p.Cwd
	if len(p.Env) > 0 {
		env := make([]string, 0, len(p.Env))
		for k, v := range p.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if grace := m.cfg.ProcessGraceWindow; grace > 0 {
		cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
		cmd.WaitDelay = grace
	}

	stdoutPipe, _ := cmd.StdoutPipe()
	stderrPipe, _ := cmd.StderrPipe()
	if p.StdinContent != "" {
		cmd.Stdin = strings.NewReader(p.StdinContent)
	}

	var wg sync.WaitGroup
	if stdoutPipe != nil {
		wg.Add(1)
		go m.streamOutput(&wg, e, p.ID, "stdout", stdoutPipe, e.stdout, p.CaptureOutput)
	}
	if stderrPipe != nil {
		wg.Add(1)
		go m.streamOutput(&wg, e, p.ID, "stderr", stderrPipe, e.stderr, p.CaptureOutput)
	}

	startErr := cmd.Start()
	var runErr error
	if startErr != nil {
		runErr = startErr
	} else {
		runErr = cmd.Wait()
	}
	wg.Wait()

	finishedAt := time.Now()
	exitCode := 0
	var reason string
	var final State

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		final = StateTimeout
		reason = "process timed out"
	case runErr != nil:
		final = StateFailed
		reason = runErr.Error()
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	default:
		final = StateCompleted
	}

	e.mu.Lock()
	wasCancelled := e.proc.State == StateCancelled
	e.mu.Unlock()
	if wasCancelled {
		final = StateCancelled
	}

	m.mu.Lock()
	m.activeCount--
	if final == StateCompleted {
		duration := float64(finishedAt.Sub(p.StartedAt).Milliseconds())
		if m.completed == 0 {
			m.avgDurationMs = duration
		} else {
			m.avgDurationMs = (m.avgDurationMs*float64(m.completed) + duration) / float64(m.completed+1)
		}
		m.completed++
	}
	m.mu.Unlock()

	retryCandidate := Process{State: final, ExitCode: exitCode, ErrorReason: reason}
	if !wasCancelled && (final == StateFailed || final == StateTimeout) &&
		IsTransient(retryCandidate) && p.Attempt < m.cfg.MaxProcessRetries {
		delay := Backoff(p.Attempt, m.cfg)
		m.publish(p.ID, "retry-scheduled", map[string]interface{}{"attempt": p.Attempt + 1, "delayMs": delay.Milliseconds(), "reason": reason})
		time.AfterFunc(delay, func() {
			_, _ = m.Spawn(context.Background(), SpawnRequest{
				ID:            p.ID,
				UserID:        p.UserID,
				Command:       p.Command,
				Args:          p.Args,
				Cwd:           p.Cwd,
				Env:           p.Env,
				TimeoutMs:     p.TimeoutMs,
				CaptureOutput: p.CaptureOutput,
				MaxOutputSize: p.MaxOutputSize,
				StdinContent:  p.StdinContent,
				Priority:      p.Priority,
			})
		})
		return
	}

	m.finish(ctx, e, final, exitCode, reason)
	if final == StateTimeout {
		m.publish(p.ID, "timeout", map[string]interface{}{"reason": reason})
	}
	if final == StateFailed {
		m.publish(p.ID, "error", map[string]interface{}{"reason": reason, "exitCode": exitCode})
	}
	m.publish(p.ID, "exit", map[string]interface{}{"exitCode": exitCode, "state": string(final)})

	m.signalWake()
}

func (m *Manager) streamOutput(wg *sync.WaitGroup, e *entry, id, kind string, r io.Reader, buf *ringBuffer, emit bool) {
	defer wg.Done()
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			data := append([]byte(nil), chunk[:n]...)
			buf.Write(data)
			if emit {
				m.publish(id, kind, map[string]interface{}{"data": string(data)})
			}
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) finish(ctx context.Context, e *entry, state State, exitCode int, reason string) {
	e.mu.Lock()
	e.proc.State = state
	e.proc.ExitCode = exitCode
	e.proc.ErrorReason = reason
	e.proc.CompletedAt = time.Now()
	p := e.proc
	e.mu.Unlock()
	m.saveRecord(ctx, p)
}

func (m *Manager) publish(id, eventType string, data map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{ID: id, Type: eventType, Data: data})
}

// checkRateLimit increments a rolling per-user counter with a one-minute
// window and reports whether the user is still within cfg.UserRateLimitPerMinute.
func (m *Manager) checkRateLimit(ctx context.Context, userID string) (bool, error) {
	if m.store == nil || m.cfg.UserRateLimitPerMinute <= 0 {
		return true, nil
	}
	count, err := m.store.Incr(ctx, rateLimitKey+userID, 1, time.Minute)
	if err != nil {
		return false, err
	}
	return int(count) <= m.cfg.UserRateLimitPerMinute, nil
}

// List returns every known process, sorted by ID, for status/debug surfaces.
// Queued entries carry their live QueuePosition/EstimatedWait.
func (m *Manager) List() []Process {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make([]Process, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.Get(id); ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
