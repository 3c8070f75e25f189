package main

import (
	"checkout-service/migrations"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the order tables on every shard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			dbs, err := connectShards(cmd.Context(), cfg.MySQL, logger)
			if err != nil {
				return err
			}
			defer closeAll(dbs)

			if err := migrations.AutoMigrate(cmd.Context(), cfg.MySQL.MigrateRetries, dbs...); err != nil {
				return err
			}
			logger.Info().Int("shards", len(dbs)).Msg("Migrations applied")
			return nil
		},
	}
}
