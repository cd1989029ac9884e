package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/liamcoop/routingrules/internal/config"
	"github.com/liamcoop/routingrules/rules"
)

// openedStore is a RuleStore plus what main needs to supervise it.
type openedStore struct {
	store  rules.RuleStore
	health pinger
	close  func() error
}

// openStore connects the configured backend. The gorm backends are migrated
// in place; postgres expects cmd/migrate to have run.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (*openedStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return &openedStore{
			store: rules.NewInMemoryRuleStore(),
			close: func() error { return nil },
		}, nil

	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		configurePool(db, poolSettingsFor(cfg))

		store := rules.NewPostgresRuleStore(db)
		if err := store.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return &openedStore{store: store, health: store, close: db.Close}, nil

	case config.DriverSQLite, config.DriverMySQL:
		var dialector gorm.Dialector
		if cfg.Driver == config.DriverSQLite {
			dialector = sqlite.Open(cfg.URL)
		} else {
			dialector = mysql.Open(cfg.URL)
		}
		db, err := gorm.Open(dialector, &gorm.Config{
			Logger:  gorm_logger.Default.LogMode(gorm_logger.Warn),
			NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		configurePool(sqlDB, poolSettingsFor(cfg))

		store := rules.NewGormRuleStore(db)
		if err := store.Migrate(ctx); err != nil {
			sqlDB.Close()
			return nil, err
		}
		return &openedStore{store: store, health: store, close: sqlDB.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

type poolSettings struct {
	maxOpen     int
	maxLifetime time.Duration
}

const connMaxLifetime = 30 * time.Minute

// poolSettingsFor sizes the connection pool for a driver. sqlite gets one
// connection that is never recycled: one writer at a time avoids
// SQLITE_BUSY, and closing the only connection to an in-memory database
// discards it.
func poolSettingsFor(cfg config.DatabaseConfig) poolSettings {
	if cfg.Driver == config.DriverSQLite {
		return poolSettings{maxOpen: 1}
	}
	return poolSettings{maxOpen: cfg.MaxOpenConns, maxLifetime: connMaxLifetime}
}

func configurePool(db *sql.DB, p poolSettings) {
	if p.maxOpen > 0 {
		db.SetMaxOpenConns(p.maxOpen)
		db.SetMaxIdleConns(p.maxOpen)
	}
	db.SetConnMaxLifetime(p.maxLifetime)
}
