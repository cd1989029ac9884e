package rules

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ruleRecord is the GORM row for a Rule.
type ruleRecord struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Name         string    `gorm:"size:255;not null"`
	Description  string    `gorm:"size:2000;not null;default:''"`
	Keywords     []string  `gorm:"serializer:json;type:text;not null"`
	DepartmentID string    `gorm:"size:255;not null"`
	Priority     int       `gorm:"not null;index:idx_routing_rules_order,priority:1"`
	Active       bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index:idx_routing_rules_order,priority:2"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (ruleRecord) TableName() string {
	return "routing_rules"
}

func recordFromRule(r Rule) ruleRecord {
	return ruleRecord{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Keywords:     append([]string(nil), r.Keywords...),
		DepartmentID: r.DepartmentID,
		Priority:     r.Priority,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (rec ruleRecord) toRule() Rule {
	return Rule{
		ID:           rec.ID,
		Name:         rec.Name,
		Description:  rec.Description,
		Keywords:     append([]string(nil), rec.Keywords...),
		DepartmentID: rec.DepartmentID,
		Priority:     rec.Priority,
		Active:       rec.Active,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

// GormRuleStore implements RuleStore on top of GORM. It backs the sqlite
// (embedded) and mysql deployment modes.
type GormRuleStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormRuleStore creates a RuleStore using db. Call Migrate before first use.
// Timestamps are kept at millisecond precision, the MySQL DATETIME(3) default.
func NewGormRuleStore(db *gorm.DB) *GormRuleStore {
	return &GormRuleStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// WithClock replaces the timestamp source. Intended for tests.
func (s *GormRuleStore) WithClock(now func() time.Time) *GormRuleStore {
	s.now = now
	return s
}

// Migrate creates or updates the routing_rules table.
func (s *GormRuleStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&ruleRecord{}); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *GormRuleStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *GormRuleStore) List(ctx context.Context) ([]Rule, error) {
	var records []ruleRecord
	err := s.db.WithContext(ctx).
		Order("priority DESC").Order("created_at ASC").Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, unavailable("list", err)
	}

	out := make([]Rule, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.toRule())
	}
	return out, nil
}

func (s *GormRuleStore) Get(ctx context.Context, id string) (Rule, error) {
	var rec ruleRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Rule{}, notFound(id)
		}
		return Rule{}, unavailable("get", err)
	}
	return rec.toRule(), nil
}

func (s *GormRuleStore) Create(ctx context.Context, rule Rule) (Rule, error) {
	rec := recordFromRule(rule)
	rec.ID = uuid.NewString()
	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return Rule{}, unavailable("create", err)
	}
	return rec.toRule(), nil
}

// Update reads the row inside a transaction, locked FOR UPDATE where the
// dialect supports it, applies mutate and writes the result back.
func (s *GormRuleStore) Update(ctx context.Context, id string, mutate func(*Rule) error) (Rule, error) {
	var updated ruleRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("id = ?", id)
		if tx.Dialector.Name() != "sqlite" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var existing ruleRecord
		if err := query.First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound(id)
			}
			return err
		}

		rule := existing.toRule()
		if err := mutate(&rule); err != nil {
			return err
		}

		updated = recordFromRule(rule)
		updated.ID = id
		updated.CreatedAt = existing.CreatedAt
		updated.UpdatedAt = s.now()
		// SkipHooks keeps gorm's autoUpdateTime from replacing UpdatedAt
		// with its own NowFunc.
		return tx.Session(&gorm.Session{SkipHooks: true}).Model(&updated).
			Select("name", "description", "keywords", "department_id", "priority", "active", "updated_at").
			Updates(&updated).Error
	})
	if err != nil {
		return Rule{}, storeError("update", err)
	}
	return updated.toRule(), nil
}

func (s *GormRuleStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&ruleRecord{})
	if result.Error != nil {
		return unavailable("delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

// Reorder verifies every id and rewrites priorities inside one transaction.
// Rows are locked FOR UPDATE on dialects that support it; sqlite serializes
// writers on its own.
func (s *GormRuleStore) Reorder(ctx context.Context, items []PriorityUpdate) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&ruleRecord{}).Where("id IN ?", ids)
		if tx.Dialector.Name() != "sqlite" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var found []string
		if err := query.Pluck("id", &found).Error; err != nil {
			return err
		}

		present := make(map[string]struct{}, len(found))
		for _, id := range found {
			present[id] = struct{}{}
		}
		var missing []string
		for _, id := range ids {
			if _, ok := present[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return notFound(missing...)
		}

		now := s.now()
		for _, item := range items {
			err := tx.Model(&ruleRecord{}).Where("id = ?", item.ID).Updates(map[string]any{
				"priority":   item.Priority,
				"updated_at": now,
			}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	return storeError("reorder", err)
}
