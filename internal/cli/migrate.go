package cli

import (
	"context"
	"fmt"

	"adaptive-assessment-service/internal/config"
	"adaptive-assessment-service/internal/infra/sqlstore"
	"adaptive-assessment-service/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath)
		},
	}
}

func runMigrations(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	db, err := openSQL(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrate(ctx, db, log)
}

// openSQL opens the database the migrations and seed target: the configured store, or
// the Postgres inventory database when the store is in memory.
func openSQL(cfg config.Config) (*bun.DB, error) {
	switch cfg.Store.Driver {
	case sqlstore.DriverPostgres, sqlstore.DriverSQLite:
		if cfg.StoreDSN() == "" {
			return nil, fmt.Errorf("store dsn not configured for driver %s", cfg.Store.Driver)
		}
		return sqlstore.Open(cfg.Store.Driver, cfg.StoreDSN())
	}
	if cfg.Postgres.URL == "" {
		return nil, fmt.Errorf("no database configured: set store.driver or postgres.url")
	}
	return sqlstore.Open(sqlstore.DriverPostgres, cfg.Postgres.URL)
}

func migrate(ctx context.Context, db *bun.DB, log logrus.FieldLogger) error {
	group, err := sqlstore.Migrate(ctx, db)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if group.IsZero() {
		log.Info("database is up to date")
		return nil
	}
	log.WithField("group", group.ID).Infof("migrations applied: %s", group)
	return nil
}
