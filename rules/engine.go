package rules

import (
	"context"
	"log/slog"
	"time"
)

// Engine composes the Repository, Matcher and ReorderCoordinator into the
// operations used by the admin surface and the ingestion pipeline.
// It keeps no rule state between calls beyond the optional snapshot cache.
// Safe for concurrent use.
type Engine struct {
	repo    *Repository
	reorder *ReorderCoordinator
	cache   RulesCache // nil when caching is disabled
	metrics *Metrics
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	cache        RulesCache
	metrics      *Metrics
	logger       *slog.Logger
	storeTimeout time.Duration
}

// WithCache keeps the last loaded snapshot in cache. Every write
// invalidates it before returning.
func WithCache(cache RulesCache) Option {
	return func(o *engineOptions) { o.cache = cache }
}

// WithMetrics records evaluations and writes.
func WithMetrics(m *Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithStoreTimeout bounds every store call. On expiry the call fails with
// StoreUnavailable.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.storeTimeout = d }
}

// NewEngine creates a rules engine over store.
func NewEngine(store RuleStore, opts ...Option) *Engine {
	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	repo := NewRepository(store, o.storeTimeout)
	return &Engine{
		repo:    repo,
		reorder: NewReorderCoordinator(repo, o.cache),
		cache:   o.cache,
		metrics: o.metrics,
		logger:  o.logger.With("component", "routing_engine"),
	}
}

// Evaluate picks the department for an inbound message. This is the hot
// path for the ingestion pipeline. An empty rule set yields NoMatch.
func (en *Engine) Evaluate(ctx context.Context, text string) (MatchResult, error) {
	result, err := en.evaluate(ctx, modeEvaluate, text)
	if err != nil {
		en.logger.Warn("evaluation failed", "error", err)
		return MatchResult{}, err
	}
	en.logger.Debug("evaluated message",
		"text_length", len(text),
		"matched", result.Matched,
		"rule_id", ruleID(result),
		"department_id", result.DepartmentID(),
	)
	return result, nil
}

// Simulate runs the same match as Evaluate for the admin "test this
// example" workflow. It writes nothing and assigns nothing; it differs
// from Evaluate only in the audit log line and metric label.
func (en *Engine) Simulate(ctx context.Context, text string) (MatchResult, error) {
	result, err := en.evaluate(ctx, modeSimulate, text)
	if err != nil {
		en.logger.Warn("simulation failed", "error", err)
		return MatchResult{}, err
	}
	en.logger.Info("simulated routing",
		"text_length", len(text),
		"matched", result.Matched,
		"rule_id", ruleID(result),
		"matched_keywords", result.MatchedKeywords,
	)
	return result, nil
}

func (en *Engine) evaluate(ctx context.Context, mode, text string) (MatchResult, error) {
	start := time.Now()
	snapshot, err := en.snapshot(ctx)
	if err != nil {
		en.metrics.observeEvaluation(mode, MatchResult{}, err, time.Since(start))
		return MatchResult{}, err
	}

	result := Match(snapshot, text)
	en.metrics.observeEvaluation(mode, result, nil, time.Since(start))
	return result, nil
}

// snapshot returns one consistent, ordered view of all rules.
func (en *Engine) snapshot(ctx context.Context) ([]Rule, error) {
	if en.cache == nil {
		list, err := en.repo.List(ctx)
		if err != nil {
			return nil, err
		}
		en.metrics.observeSnapshot(len(list), false, false)
		return list, nil
	}

	if list, ok := en.cache.Get(); ok {
		en.metrics.observeSnapshot(len(list), true, true)
		return list, nil
	}

	gen := en.cache.Generation()
	list, err := en.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	en.cache.SetIfGeneration(gen, list)
	en.metrics.observeSnapshot(len(list), false, true)
	return list, nil
}

// ListRules returns every rule, inactive ones included, in evaluation order.
func (en *Engine) ListRules(ctx context.Context) ([]Rule, error) {
	return en.repo.List(ctx)
}

// GetRule returns a single rule.
func (en *Engine) GetRule(ctx context.Context, id string) (Rule, error) {
	return en.repo.Get(ctx, id)
}

// CreateRule validates and persists a new rule.
func (en *Engine) CreateRule(ctx context.Context, in RuleInput) (Rule, error) {
	rule, err := en.repo.Create(ctx, in)
	en.afterWrite("create", err)
	if err != nil {
		return Rule{}, err
	}
	en.logger.Info("rule created", "rule_id", rule.ID, "name", rule.Name, "priority", rule.Priority)
	return rule, nil
}

// UpdateRule applies a partial update.
func (en *Engine) UpdateRule(ctx context.Context, id string, patch RulePatch) (Rule, error) {
	rule, err := en.repo.Update(ctx, id, patch)
	en.afterWrite("update", err)
	if err != nil {
		return Rule{}, err
	}
	en.logger.Info("rule updated", "rule_id", rule.ID, "priority", rule.Priority, "active", rule.Active)
	return rule, nil
}

// DeleteRule hard-deletes a rule.
func (en *Engine) DeleteRule(ctx context.Context, id string) error {
	err := en.repo.Delete(ctx, id)
	en.afterWrite("delete", err)
	if err != nil {
		return err
	}
	en.logger.Info("rule deleted", "rule_id", id)
	return nil
}

// Reorder atomically applies new priorities. See ReorderCoordinator.
func (en *Engine) Reorder(ctx context.Context, items []PriorityUpdate) error {
	err := en.reorder.Reorder(ctx, items)
	en.metrics.observeWrite("reorder", err)
	if err != nil {
		return err
	}
	en.logger.Info("rules reordered", "count", len(items))
	return nil
}

// afterWrite invalidates the cache, even on failure, since a store error
// does not prove the write was not applied.
func (en *Engine) afterWrite(op string, err error) {
	if en.cache != nil {
		en.cache.Invalidate()
	}
	en.metrics.observeWrite(op, err)
}

func ruleID(m MatchResult) string {
	if m.Rule == nil {
		return ""
	}
	return m.Rule.ID
}
