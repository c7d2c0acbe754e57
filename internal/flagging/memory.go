package flagging

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps versions and rules in process memory. It backs
// services started without PostgreSQL and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	versions map[string]*ConfigVersion
	rules    map[string][]Rule
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		versions: make(map[string]*ConfigVersion),
		rules:    make(map[string][]Rule),
	}
}

func (r *MemoryRepository) CurrentVersion(_ context.Context) (*ConfigVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var current *ConfigVersion
	for _, v := range r.versions {
		if v.ActivatedAt == nil {
			continue
		}
		if current == nil || v.ActivatedAt.After(*current.ActivatedAt) {
			current = v
		}
	}
	if current == nil {
		return nil, nil
	}
	found := *current
	return &found, nil
}

func (r *MemoryRepository) GetRules(_ context.Context, versionID string) ([]Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]Rule, len(r.rules[versionID]))
	copy(rules, r.rules[versionID])
	return rules, nil
}

func (r *MemoryRepository) CreateVersion(_ context.Context, version *ConfigVersion) error {
	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *version
	stored.Rules = nil
	r.versions[version.ID] = &stored
	return nil
}

func (r *MemoryRepository) GetVersion(_ context.Context, id string) (*ConfigVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.versions[id]
	if !ok {
		return nil, nil
	}
	found := *v
	return &found, nil
}

func (r *MemoryRepository) ListVersions(_ context.Context, limit int) ([]ConfigVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]ConfigVersion, 0, len(r.versions))
	for _, v := range r.versions {
		versions = append(versions, *v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}

func (r *MemoryRepository) AddRule(_ context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules[rule.ConfigVersionID] = append(r.rules[rule.ConfigVersionID], *rule)
	return nil
}

func (r *MemoryRepository) Activate(_ context.Context, id string, at time.Time) (*ConfigVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.versions[id]
	if !ok {
		return nil, nil
	}
	activated := at
	v.ActivatedAt = &activated
	found := *v
	return &found, nil
}
