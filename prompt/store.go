package prompt

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/engineerr"
	"github.com/agentflow/orchestrator/ids"
	"github.com/agentflow/orchestrator/store"
	"github.com/agentflow/orchestrator/telemetry"
)

const storeKeyPrefix = "prompt:template:"

// Store is the Prompt Template Store (spec.md §4.4). Templates live in
// memory for fast reads and are mirrored to the Shared Store so they survive
// restarts and can be enumerated across processes.
type Store struct {
	mu        sync.RWMutex
	backing   store.Store
	templates map[string]*Template
	versions  map[string][]versionRecord
	cfg       *config.Config
	logger    telemetry.Logger
}

// New creates a Store, loads any previously persisted templates from
// backing, and installs the four built-ins on first start (spec.md §4.4:
// "installed at startup in memory; on first start against a fresh shared
// store they are also persisted there").
func New(ctx context.Context, backing store.Store, cfg *config.Config, logger telemetry.Logger) (*Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	s := &Store{
		backing:   backing,
		templates: make(map[string]*Template),
		versions:  make(map[string][]versionRecord),
		cfg:       cfg,
		logger:    logger,
	}

	if err := s.loadFromBacking(ctx); err != nil {
		return nil, err
	}
	for _, b := range builtinTemplates() {
		if _, exists := s.templates[b.ID]; exists {
			continue
		}
		t := b
		t.CreatedAt = time.Now()
		t.UpdatedAt = t.CreatedAt
		t.Version = 1
		s.templates[t.ID] = &t
		if err := s.persist(ctx, &t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) loadFromBacking(ctx context.Context) error {
	keys, err := s.backing.ScanPrefix(ctx, storeKeyPrefix)
	if err != nil {
		return engineerr.New("prompt.New", engineerr.KindInternal, err)
	}
	for _, k := range keys {
		raw, ok, err := s.backing.Get(ctx, k)
		if err != nil {
			return engineerr.New("prompt.New", engineerr.KindInternal, err)
		}
		if !ok {
			continue
		}
		var t Template
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		s.templates[t.ID] = &t
	}
	return nil
}

func (s *Store) persist(ctx context.Context, t *Template) error {
	if s.backing == nil {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return engineerr.New("prompt.persist", engineerr.KindInternal, err)
	}
	if err := s.backing.Set(ctx, storeKeyPrefix+t.ID, string(b), 0); err != nil {
		return engineerr.New("prompt.persist", engineerr.KindInternal, err)
	}
	return nil
}

// CreateInput is the payload for Create.
type CreateInput struct {
	Name      string
	Content   string
	Variables []Variable
	Category  string
	Tags      []string
}

// Create validates and stores a new template with version 1.
func (s *Store) Create(ctx context.Context, in CreateInput) (Template, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Template{}, engineerr.New("prompt.Create", engineerr.KindValidation, nil).WithMessage("name is required")
	}
	if err := validateContent(in.Content, in.Variables, s.cfg.MaxTemplateLength, s.cfg.MaxVariablesPerTmpl); err != nil {
		return Template{}, engineerr.New("prompt.Create", engineerr.KindValidation, err)
	}

	now := time.Now()
	t := &Template{
		ID:        ids.New("tmpl"),
		Name:      in.Name,
		Content:   in.Content,
		Variables: in.Variables,
		Category:  in.Category,
		Tags:      in.Tags,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
	s.appendVersion(t)
	if err := s.persist(ctx, t); err != nil {
		return Template{}, err
	}
	return *t, nil
}

// UpdateInput carries optional field updates; nil pointers leave the field
// unchanged.
type UpdateInput struct {
	Name      *string
	Content   *string
	Variables []Variable
	Category  *string
	Tags      []string
}

// Update applies a partial update. Changing Content or Variables bumps
// Version and appends a version record (spec.md §3).
func (s *Store) Update(ctx context.Context, id string, in UpdateInput) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok {
		return Template{}, engineerr.New("prompt.Update", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(id)
	}

	content := t.Content
	variables := t.Variables
	bumpsVersion := false
	if in.Content != nil {
		content = *in.Content
		bumpsVersion = true
	}
	if in.Variables != nil {
		variables = in.Variables
		bumpsVersion = true
	}
	if err := validateContent(content, variables, s.cfg.MaxTemplateLength, s.cfg.MaxVariablesPerTmpl); err != nil {
		return Template{}, engineerr.New("prompt.Update", engineerr.KindValidation, err)
	}

	updated := *t
	if in.Name != nil {
		updated.Name = *in.Name
	}
	if in.Category != nil {
		updated.Category = *in.Category
	}
	if in.Tags != nil {
		updated.Tags = in.Tags
	}
	updated.Content = content
	updated.Variables = variables
	updated.UpdatedAt = time.Now()
	if bumpsVersion {
		updated.Version = t.Version + 1
	}

	s.templates[id] = &updated
	if bumpsVersion {
		s.appendVersion(&updated)
	}
	if err := s.persist(ctx, &updated); err != nil {
		return Template{}, err
	}
	return updated, nil
}

// appendVersion records a version snapshot and prunes beyond
// cfg.MaxTemplateVersions (caller holds s.mu).
func (s *Store) appendVersion(t *Template) {
	records := s.versions[t.ID]
	records = append(records, versionRecord{
		Version:   t.Version,
		Content:   t.Content,
		Variables: t.Variables,
		UpdatedAt: t.UpdatedAt,
	})
	if max := s.cfg.MaxTemplateVersions; max > 0 && len(records) > max {
		records = records[len(records)-max:]
	}
	s.versions[t.ID] = records
}

// Delete removes a template and its version history.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return engineerr.New("prompt.Delete", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(id)
	}
	delete(s.templates, id)
	delete(s.versions, id)
	if s.backing != nil {
		_ = s.backing.Delete(ctx, storeKeyPrefix+id)
	}
	return nil
}

// Get returns a template by ID.
func (s *Store) Get(id string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return Template{}, engineerr.New("prompt.Get", engineerr.KindNotFound, engineerr.ErrNotFound).WithID(id)
	}
	return *t, nil
}

// Versions returns the retained version history for id, oldest first.
func (s *Store) Versions(id string) []versionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]versionRecord(nil), s.versions[id]...)
}

// ListFilter narrows List's result set.
type ListFilter struct {
	Category string
	Tags     []string // intersection: template must carry every tag
	Search   string   // case-insensitive substring over name/category/tags
	Page     int      // 1-based; 0 treated as 1
	PageSize int      // 0 treated as "all"
}

// List returns a filtered, paginated, name-sorted page of templates plus the
// total match count before pagination.
func (s *Store) List(filter ListFilter) ([]Template, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		if !hasAllTags(t.Tags, filter.Tags) {
			continue
		}
		if filter.Search != "" && !matchesSearch(*t, filter.Search) {
			continue
		}
		matches = append(matches, *t)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })

	total := len(matches)
	page := filter.Page
	if page < 1 {
		page = 1
	}
	if filter.PageSize <= 0 {
		return matches, total, nil
	}
	start := (page - 1) * filter.PageSize
	if start >= total {
		return []Template{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func matchesSearch(t Template, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(t.Name), q) || strings.Contains(strings.ToLower(t.Category), q) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// Render fetches a template and interpolates it against provided, per
// Interpolate's precedence rules.
func (s *Store) Render(id string, provided map[string]interface{}) (string, error) {
	t, err := s.Get(id)
	if err != nil {
		return "", err
	}
	out, err := Interpolate(t.Content, t.Variables, provided)
	if err != nil {
		return "", engineerr.New("prompt.Render", engineerr.KindValidation, err).WithID(id)
	}
	return out, nil
}
