package cli

import (
	"context"
	"fmt"

	"adaptive-assessment-service/internal/config"
	"adaptive-assessment-service/internal/infra/memory"
	redisinfra "adaptive-assessment-service/internal/infra/redis"
	"adaptive-assessment-service/internal/infra/sqlstore"
	"adaptive-assessment-service/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewSeedCmd loads the inventory YAML into the topics and questions tables and drops
// the Redis inventory cache when one is configured.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the question inventory file into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "inventory YAML (defaults to inventory.file)")
	return cmd
}

func runSeed(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	if file == "" {
		file = cfg.Inventory.File
	}
	if file == "" {
		return fmt.Errorf("no inventory file: pass --file or set inventory.file")
	}

	inventory, err := memory.LoadInventoryFile(file)
	if err != nil {
		return err
	}
	db, err := openSQL(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := migrate(ctx, db, log); err != nil {
		return err
	}
	if err := sqlstore.Seed(ctx, db, inventory.Topics(), inventory.Questions()); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"topics":    len(inventory.Topics()),
		"questions": len(inventory.Questions()),
	}).Info("inventory seeded")

	if cfg.Redis.Addr == "" {
		return nil
	}
	client := newRedisClient(cfg)
	defer client.Close()
	// Cached pools still hold the previous inventory.
	if err := redisinfra.NewInventoryCache(client, nil, 0).Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate inventory cache: %w", err)
	}
	log.WithField("redis", cfg.Redis.Addr).Info("inventory cache invalidated")
	return nil
}
