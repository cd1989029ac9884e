package rules

import "context"

// ReorderCoordinator commits a re-priced ordering as one atomic unit and
// drops any cached snapshot before reporting success, so no evaluation
// after Reorder returns can see the old priorities mixed with the new.
type ReorderCoordinator struct {
	repo  *Repository
	cache RulesCache
}

// NewReorderCoordinator creates a coordinator. cache may be nil.
func NewReorderCoordinator(repo *Repository, cache RulesCache) *ReorderCoordinator {
	return &ReorderCoordinator{repo: repo, cache: cache}
}

// Reorder sets the priority of every listed rule, or of none. Rules not in
// items keep their priority. An empty batch is a no-op.
func (c *ReorderCoordinator) Reorder(ctx context.Context, items []PriorityUpdate) error {
	if len(items) == 0 {
		return nil
	}
	if err := validateReorder(items); err != nil {
		return err
	}

	err := c.repo.Reorder(ctx, items)
	// A failed commit may still have reached the store (e.g. the connection
	// dropped after COMMIT was sent), so invalidate either way.
	if c.cache != nil {
		c.cache.Invalidate()
	}
	return err
}
