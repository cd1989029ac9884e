package rules

import (
	"context"
	"sort"
	"time"
)

// Repository maps between callers and a RuleStore: it normalizes and
// validates input, bounds store calls by a timeout, and returns rules in
// evaluation order. It has no matching logic.
type Repository struct {
	store   RuleStore
	timeout time.Duration
}

// NewRepository wraps store. A zero timeout leaves calls bounded only by
// the caller's context.
func NewRepository(store RuleStore, timeout time.Duration) *Repository {
	return &Repository{store: store, timeout: timeout}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// List returns every rule ordered by priority descending, then creation
// time ascending, then id so equal timestamps still order reproducibly.
func (r *Repository) List(ctx context.Context) ([]Rule, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	list, err := r.store.List(ctx)
	if err != nil {
		return nil, storeError("list", err)
	}
	SortForEvaluation(list)
	return list, nil
}

// Get returns a single rule.
func (r *Repository) Get(ctx context.Context, id string) (Rule, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rule, err := r.store.Get(ctx, id)
	if err != nil {
		return Rule{}, storeError("get", err)
	}
	return rule, nil
}

// Create validates input and persists it. Nothing is written when
// validation fails.
func (r *Repository) Create(ctx context.Context, in RuleInput) (Rule, error) {
	rule := Rule{
		Name:         in.Name,
		Description:  in.Description,
		Keywords:     in.Keywords,
		DepartmentID: in.DepartmentID,
		Priority:     in.Priority,
		Active:       true,
	}
	if in.Active != nil {
		rule.Active = *in.Active
	}
	if err := prepare(&rule); err != nil {
		return Rule{}, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	created, err := r.store.Create(ctx, rule)
	if err != nil {
		return Rule{}, storeError("create", err)
	}
	return created, nil
}

// Update applies patch to the stored rule. Supplied fields go through the
// same validation as Create. The patch is applied by the store against the
// row it has locked, so fields the patch leaves nil keep their current
// values even if another write landed since the caller last read them.
func (r *Repository) Update(ctx context.Context, id string, patch RulePatch) (Rule, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	updated, err := r.store.Update(ctx, id, func(rule *Rule) error {
		applyPatch(rule, patch)
		return prepare(rule)
	})
	if err != nil {
		return Rule{}, storeError("update", err)
	}
	return updated, nil
}

// Delete removes a rule. A missing id is NotFound, not a silent success.
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return storeError("delete", r.store.Delete(ctx, id))
}

// Reorder forwards an already-validated batch to the store's atomic
// primitive.
func (r *Repository) Reorder(ctx context.Context, items []PriorityUpdate) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return storeError("reorder", r.store.Reorder(ctx, items))
}

func applyPatch(rule *Rule, patch RulePatch) {
	if patch.Name != nil {
		rule.Name = *patch.Name
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.Keywords != nil {
		rule.Keywords = patch.Keywords
	}
	if patch.DepartmentID != nil {
		rule.DepartmentID = *patch.DepartmentID
	}
	if patch.Priority != nil {
		rule.Priority = *patch.Priority
	}
	if patch.Active != nil {
		rule.Active = *patch.Active
	}
}

// SortForEvaluation orders rules by priority descending, CreatedAt
// ascending, then ID ascending.
func SortForEvaluation(list []Rule) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
