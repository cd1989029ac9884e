package rules

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RuleStore is the persistence boundary for routing rules.
// Implementations return NotFoundError for missing ids and
// StoreUnavailableError for any failure to reach or use the backend,
// including context cancellation and deadline expiry.
type RuleStore interface {
	// List returns every rule, active or not. Ordering is not part of the
	// contract; the Repository sorts.
	List(ctx context.Context) ([]Rule, error)

	// Get returns a single rule.
	Get(ctx context.Context, id string) (Rule, error)

	// Create persists a new rule and returns it with ID and timestamps set.
	Create(ctx context.Context, rule Rule) (Rule, error)

	// Update loads the current row for id, lets mutate change it and
	// writes the result back, keeping ID and CreatedAt. The row stays
	// locked from read to write, so a concurrent Reorder is never undone.
	// An error from mutate aborts the update and is returned unchanged.
	Update(ctx context.Context, id string, mutate func(*Rule) error) (Rule, error)

	// Delete removes a rule.
	Delete(ctx context.Context, id string) error

	// Reorder sets every listed priority in a single atomic step. If any id
	// does not exist nothing changes and a NotFoundError naming all missing
	// ids is returned.
	Reorder(ctx context.Context, items []PriorityUpdate) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Reorder runs under a single write lock, so readers see all or none of it.
type InMemoryRuleStore struct {
	rules map[string]Rule
	now   func() time.Time
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]Rule),
		now:   time.Now,
	}
}

// WithClock replaces the timestamp source. Intended for tests.
func (s *InMemoryRuleStore) WithClock(now func() time.Time) *InMemoryRuleStore {
	s.now = now
	return s
}

func (s *InMemoryRuleStore) List(ctx context.Context) ([]Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.clone())
	}
	return out, nil
}

func (s *InMemoryRuleStore) Get(ctx context.Context, id string) (Rule, error) {
	if err := ctx.Err(); err != nil {
		return Rule{}, unavailable("get", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.rules[id]
	if !exists {
		return Rule{}, notFound(id)
	}
	return r.clone(), nil
}

// Create assigns a fresh UUID and sets CreatedAt and UpdatedAt.
func (s *InMemoryRuleStore) Create(ctx context.Context, rule Rule) (Rule, error) {
	if err := ctx.Err(); err != nil {
		return Rule{}, unavailable("create", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule = rule.clone()
	rule.ID = uuid.NewString()
	now := s.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return rule.clone(), nil
}

// Update runs mutate under the write lock and preserves CreatedAt.
func (s *InMemoryRuleStore) Update(ctx context.Context, id string, mutate func(*Rule) error) (Rule, error) {
	if err := ctx.Err(); err != nil {
		return Rule{}, unavailable("update", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[id]
	if !exists {
		return Rule{}, notFound(id)
	}

	rule := existing.clone()
	if err := mutate(&rule); err != nil {
		return Rule{}, err
	}
	rule = rule.clone()
	rule.ID = id
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now()
	s.rules[id] = rule
	return rule.clone(), nil
}

func (s *InMemoryRuleStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return notFound(id)
	}
	delete(s.rules, id)
	return nil
}

func (s *InMemoryRuleStore) Reorder(ctx context.Context, items []PriorityUpdate) error {
	if err := ctx.Err(); err != nil {
		return unavailable("reorder", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []string
	for _, item := range items {
		if _, exists := s.rules[item.ID]; !exists {
			missing = append(missing, item.ID)
		}
	}
	if len(missing) > 0 {
		return notFound(missing...)
	}

	now := s.now()
	for _, item := range items {
		r := s.rules[item.ID]
		r.Priority = item.Priority
		r.UpdatedAt = now
		s.rules[item.ID] = r
	}
	return nil
}
