package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/event-ingest/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create local and remote tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initLocal(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		zap.L().Info("local store migrated", zap.String("path", cfg.Local.Path))

		if cfg.Store.DatabaseURL == "" {
			zap.L().Warn("store.database_url not set, skipping remote migration")
			return nil
		}

		remote, err := store.NewPostgres(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer remote.Close() //nolint:errcheck

		if err := remote.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate remote store")
		}
		zap.L().Info("remote store migrated")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
