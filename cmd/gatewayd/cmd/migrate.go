package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the workflow store schema",
	Long: `Run the schema migrations of the configured store (store.driver) and exit.

Postgres and bun create the gateway_workflows table and its indexes, mongo
creates indexes, redis and memory have nothing to migrate.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	var rdb redisClient
	if cfg.Store.Driver == "redis" {
		c := newRedis(cfg)
		defer c.Close()
		rdb = c
	}
	s, closeStore, err := openStore(ctx, cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", cfg.Store.Driver)
	return nil
}
