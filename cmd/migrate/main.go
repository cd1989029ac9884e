package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/liamcoop/routingrules/internal/logger"
)

type options struct {
	databaseURL    string
	migrationsPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "routing-migrate",
		Short:         "Apply or roll back the routing_rules PostgreSQL schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database", "", "database URL (default $ROUTING_DATABASE_URL or $DATABASE_URL)")
	root.PersistentFlags().StringVar(&opts.migrationsPath, "path", "migrations", "path to migrations directory")

	root.AddCommand(
		&cobra.Command{
			Use:   "up [N]",
			Short: "Apply all pending migrations, or the next N",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(opts, args, func(m *migrate.Migrate, steps int) error {
					logger.Info("Running migrations up...", "steps", steps)
					var err error
					if steps > 0 {
						err = m.Steps(steps)
					} else {
						err = m.Up()
					}
					return reportNoChange(err, "Migrations completed successfully")
				})
			},
		},
		&cobra.Command{
			Use:   "down [N]",
			Short: "Roll back all migrations, or the last N",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(opts, args, func(m *migrate.Migrate, steps int) error {
					logger.Info("Rolling back migrations...", "steps", steps)
					var err error
					if steps > 0 {
						err = m.Steps(-steps)
					} else {
						err = m.Down()
					}
					return reportNoChange(err, "Rollback completed successfully")
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(opts, nil, func(m *migrate.Migrate, _ int) error {
					version, dirty, err := m.Version()
					if errors.Is(err, migrate.ErrNilVersion) {
						logger.Info("No migrations applied")
						return nil
					}
					if err != nil {
						return fmt.Errorf("failed to get version: %w", err)
					}
					logger.Info("Current version", "version", version, "dirty", dirty)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations (clears dirty state)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(opts, args, func(m *migrate.Migrate, version int) error {
					if err := m.Force(version); err != nil {
						return fmt.Errorf("failed to force version: %w", err)
					}
					logger.Info("Forced version", "version", version)
					return nil
				})
			},
		},
	)
	return root
}

// withMigrator parses the optional numeric argument, opens the migrator and
// runs fn. The argument is checked before any connection is made.
func withMigrator(opts *options, args []string, fn func(*migrate.Migrate, int) error) error {
	n := 0
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			return fmt.Errorf("invalid number %q", args[0])
		}
		n = v
	}

	url := resolveDatabaseURL(opts.databaseURL)
	if url == "" {
		return errors.New("database URL is required: use --database, ROUTING_DATABASE_URL or DATABASE_URL")
	}

	logger.Info("Connecting to database...", "migrations_path", opts.migrationsPath)
	m, err := migrate.New("file://"+opts.migrationsPath, url)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	return fn(m, n)
}

func resolveDatabaseURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("ROUTING_DATABASE_URL"); v != "" {
		return v
	}
	return os.Getenv("DATABASE_URL")
}

func reportNoChange(err error, done string) error {
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migrations to run (database is up to date)")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info(done)
	return nil
}
