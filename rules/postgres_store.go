package rules

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const ruleColumns = `id, name, description, keywords, department_id, priority, active, created_at, updated_at`

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
// Schema lives in migrations/000001_routing_rules.up.sql.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

// Ping reports whether the database is reachable.
func (s *PostgresRuleStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (Rule, error) {
	var r Rule
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Description,
		pq.Array(&r.Keywords),
		&r.DepartmentID,
		&r.Priority,
		&r.Active,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

// List returns all rules in evaluation order.
func (s *PostgresRuleStore) List(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM routing_rules
		ORDER BY priority DESC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, classifyPostgresError("list", err)
	}
	defer rows.Close()

	var rulesList []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, classifyPostgresError("list", err)
		}
		rulesList = append(rulesList, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgresError("list", err)
	}
	return rulesList, nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(ctx context.Context, id string) (Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM routing_rules
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, notFound(id)
	}
	if err != nil {
		return Rule{}, classifyPostgresError("get", err)
	}
	return r, nil
}

// Create inserts a new rule; timestamps come from the database clock.
func (s *PostgresRuleStore) Create(ctx context.Context, rule Rule) (Rule, error) {
	rule = rule.clone()
	rule.ID = uuid.NewString()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO routing_rules (id, name, description, keywords, department_id, priority, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, rule.ID, rule.Name, rule.Description, pq.Array(rule.Keywords),
		rule.DepartmentID, rule.Priority, rule.Active,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return Rule{}, classifyPostgresError("create", err)
	}
	return rule, nil
}

// Update locks the row FOR UPDATE, applies mutate and writes it back in
// one transaction.
func (s *PostgresRuleStore) Update(ctx context.Context, id string, mutate func(*Rule) error) (Rule, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Rule{}, classifyPostgresError("update", err)
	}
	defer func() { _ = tx.Rollback() }()

	rule, err := scanRule(tx.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM routing_rules
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, notFound(id)
	}
	if err != nil {
		return Rule{}, classifyPostgresError("update", err)
	}

	if err := mutate(&rule); err != nil {
		return Rule{}, err
	}
	rule = rule.clone()
	rule.ID = id

	err = tx.QueryRowContext(ctx, `
		UPDATE routing_rules
		SET name = $1, description = $2, keywords = $3, department_id = $4,
		    priority = $5, active = $6, updated_at = clock_timestamp()
		WHERE id = $7
		RETURNING created_at, updated_at
	`, rule.Name, rule.Description, pq.Array(rule.Keywords), rule.DepartmentID,
		rule.Priority, rule.Active, id,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return Rule{}, classifyPostgresError("update", err)
	}

	if err := tx.Commit(); err != nil {
		return Rule{}, classifyPostgresError("update", err)
	}
	return rule, nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM routing_rules WHERE id = $1`, id)
	if err != nil {
		return classifyPostgresError("delete", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classifyPostgresError("delete", err)
	}
	if rowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

// Reorder locks the named rows, verifies they all exist and rewrites their
// priorities with one statement inside one transaction.
func (s *PostgresRuleStore) Reorder(ctx context.Context, items []PriorityUpdate) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, len(items))
	priorities := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
		priorities[i] = int64(item.Priority)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyPostgresError("reorder", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM routing_rules WHERE id = ANY($1) FOR UPDATE
	`, pq.Array(ids))
	if err != nil {
		return classifyPostgresError("reorder", err)
	}
	found := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return classifyPostgresError("reorder", err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return classifyPostgresError("reorder", err)
	}
	rows.Close()

	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return notFound(missing...)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE routing_rules AS r
		SET priority = v.priority, updated_at = clock_timestamp()
		FROM unnest($1::text[], $2::integer[]) AS v(id, priority)
		WHERE r.id = v.id
	`, pq.Array(ids), pq.Array(priorities))
	if err != nil {
		return classifyPostgresError("reorder", err)
	}

	if err := tx.Commit(); err != nil {
		return classifyPostgresError("reorder", err)
	}
	return nil
}

// classifyPostgresError maps data exceptions (class 22, e.g. numeric out of
// range) and integrity violations (class 23) to ValidationError and
// everything else to StoreUnavailable.
func classifyPostgresError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code.Class() == "22" || pqErr.Code.Class() == "23") {
		field := pqErr.Column
		if field == "" {
			field = pqErr.Constraint
		}
		if field == "" {
			field = "rule"
		}
		return newValidationError(field, "%s", pqErr.Message)
	}
	return unavailable(op, err)
}
