package wfcontext

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/engineerr"
	"github.com/agentflow/orchestrator/ids"
)

// Snapshot is a labeled, point-in-time copy of a context's data, keyed
// `{createdAtMillis}-{label}` (spec.md §4.5).
type Snapshot struct {
	ID        string
	Label     string
	Data      map[string]interface{}
	CreatedAt time.Time
}

type execContext struct {
	mu        sync.RWMutex
	data      map[string]interface{}
	snapshots []Snapshot // oldest first, bounded to cfg.MaxSnapshots
	expiresAt time.Time
}

func (e *execContext) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store holds every live workflow context, addressed by execution ID.
type Store struct {
	mu       sync.RWMutex
	contexts map[string]*execContext
	cfg      *config.Config
}

// New creates an empty context store.
func New(cfg *config.Config) *Store {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Store{contexts: make(map[string]*execContext), cfg: cfg}
}

// Create initializes a context under id with the given seed data (deep
// copied) and an optional ttl (0 means no expiry).
func (s *Store) Create(id string, data map[string]interface{}, ttl time.Duration) error {
	if data == nil {
		data = make(map[string]interface{})
	}
	if err := s.checkLimits(data); err != nil {
		return engineerr.New("wfcontext.Create", engineerr.KindValidation, err).WithID(id)
	}
	ec := &execContext{data: cloneMap(data)}
	if ttl > 0 {
		ec.expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.contexts[id] = ec
	s.mu.Unlock()
	return nil
}

func (s *Store) get(id string) (*execContext, error) {
	s.mu.RLock()
	ec, ok := s.contexts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, engineerr.New("wfcontext.get", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(id)
	}
	if ec.expired(time.Now()) {
		s.mu.Lock()
		delete(s.contexts, id)
		s.mu.Unlock()
		return nil, engineerr.New("wfcontext.get", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(id).WithMessage("context expired")
	}
	return ec, nil
}

// Get returns a deep copy of the whole context.
func (s *Store) Get(id string) (map[string]interface{}, error) {
	ec, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return cloneMap(ec.data), nil
}

// GetValue resolves path within the context.
func (s *Store) GetValue(id, path string) (interface{}, bool, error) {
	ec, err := s.get(id)
	if err != nil {
		return nil, false, err
	}
	tokens, err := parsePath(path)
	if err != nil {
		return nil, false, engineerr.New("wfcontext.GetValue", engineerr.KindValidation, err).WithID(id)
	}
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := getValue(ec.data, tokens)
	return v, ok, nil
}

// SetValue writes value at path, enforcing size/depth caps.
func (s *Store) SetValue(id, path string, value interface{}) error {
	ec, err := s.get(id)
	if err != nil {
		return err
	}
	tokens, err := parsePath(path)
	if err != nil {
		return engineerr.New("wfcontext.SetValue", engineerr.KindValidation, err).WithID(id)
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	trial := cloneMap(ec.data)
	if err := setValue(trial, tokens, value); err != nil {
		return engineerr.New("wfcontext.SetValue", engineerr.KindValidation, err).WithID(id)
	}
	if err := s.checkLimits(trial); err != nil {
		return engineerr.New("wfcontext.SetValue", engineerr.KindValidation, err).WithID(id)
	}
	ec.data = trial
	return nil
}

// Merge deep-merges (or, when deep is false, shallow-replaces) data into the
// context.
func (s *Store) Merge(id string, data map[string]interface{}, deep bool) error {
	ec, err := s.get(id)
	if err != nil {
		return err
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()

	trial := cloneMap(ec.data)
	if deep {
		trial = deepMerge(trial, data)
	} else {
		for k, v := range data {
			trial[k] = v
		}
	}
	if err := s.checkLimits(trial); err != nil {
		return engineerr.New("wfcontext.Merge", engineerr.KindValidation, err).WithID(id)
	}
	ec.data = trial
	return nil
}

// Clear empties the context's data in place, keeping its ID and snapshots.
func (s *Store) Clear(id string) error {
	ec, err := s.get(id)
	if err != nil {
		return err
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.data = make(map[string]interface{})
	return nil
}

// Snapshot captures the current data under a label, keyed
// "{createdAtMillis}-{label}", retaining only the most recent
// cfg.MaxSnapshots.
func (s *Store) Snapshot(id, label string) (Snapshot, error) {
	ec, err := s.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		ID:        fmt.Sprintf("%d-%s", now.UnixMilli(), label),
		Label:     label,
		Data:      cloneMap(ec.data),
		CreatedAt: now,
	}
	ec.snapshots = append(ec.snapshots, snap)
	if max := s.cfg.MaxSnapshots; max > 0 && len(ec.snapshots) > max {
		ec.snapshots = ec.snapshots[len(ec.snapshots)-max:]
	}
	return snap, nil
}

// Restore replaces the context's data with a previously captured snapshot.
func (s *Store) Restore(id, snapshotID string) error {
	ec, err := s.get(id)
	if err != nil {
		return err
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for _, snap := range ec.snapshots {
		if snap.ID == snapshotID {
			ec.data = cloneMap(snap.Data)
			return nil
		}
	}
	return engineerr.New("wfcontext.Restore", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(snapshotID)
}

// ListSnapshots returns every retained snapshot for id, oldest first.
func (s *Store) ListSnapshots(id string) ([]Snapshot, error) {
	ec, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return append([]Snapshot(nil), ec.snapshots...), nil
}

// ResolveVariables interpolates `{{path}}` placeholders in template against
// this context's current data, reusing the same placeholder grammar as the
// prompt template store but resolving purely from context paths (no
// variable-default tier, since a workflow context has no declared schema).
func (s *Store) ResolveVariables(id, template string) (string, error) {
	data, err := s.Get(id)
	if err != nil {
		return "", err
	}
	return resolveTemplate(template, data)
}

func (s *Store) checkLimits(data map[string]interface{}) error {
	if max := s.cfg.MaxContextDepth; max > 0 {
		if d := depthOf(data); d > max {
			return fmt.Errorf("context depth %d exceeds maximum of %d", d, max)
		}
	}
	if max := s.cfg.MaxContextBytes; max > 0 {
		b, merr := json.Marshal(data)
		if merr == nil && len(b) > max {
			return fmt.Errorf("context size %d bytes exceeds maximum of %d", len(b), max)
		}
	}
	return nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// NewID mints a new execution ID for callers that need one before Create.
func NewID() string { return ids.New("wfctx") }
