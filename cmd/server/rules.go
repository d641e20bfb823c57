package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rocket-guard/internal/authz"
	"rocket-guard/internal/config"
	"rocket-guard/internal/logging"
	"rocket-guard/internal/store"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect access rules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configured access rules against the entity definitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logging.Init(logging.Config{Level: "warn", Format: cfg.Log.Format})

			db, err := store.New(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer db.Close()
			if err := db.Bootstrap(ctx); err != nil {
				return err
			}

			defs, err := loadDefinitions(ctx, cfg, db, false)
			if err != nil {
				return err
			}
			if err := authz.CheckRules(authzConfig(cfg), defs.registry, defs.rules); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rules OK across %d entities\n",
				len(defs.rules), len(defs.registry.AllEntities()))
			return nil
		},
	})
	return cmd
}
