package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Maintain the local sync tracker",
}

var trackerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop tracker entries past the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initLocal(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pruned, err := env.Tracker.Prune(ctx, time.Now())
		if err != nil {
			return eris.Wrap(err, "tracker prune")
		}
		remaining, err := env.Tracker.Len(ctx)
		if err != nil {
			return eris.Wrap(err, "tracker prune")
		}

		zap.L().Info("tracker pruned",
			zap.Int("pruned", pruned),
			zap.Int("remaining", remaining),
			zap.Int("retention_days", cfg.Sync.RetentionDays),
		)
		return nil
	},
}

func init() {
	trackerCmd.AddCommand(trackerPruneCmd)
	rootCmd.AddCommand(trackerCmd)
}
