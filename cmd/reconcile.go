package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskengine/internal/app"
	"taskengine/pkg/learning"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute derived fields and recover stale task locks",
	Long: `Background reconciliation, run on an operator-driven schedule
(cron, a one-off invocation), not as a built-in ticker inside the engine:

  - ToolPerformance derived fields: success rates and error percentages
    are recomputed from the stored counters, correcting any drift the
    commutative upserts tolerate between writes.
  - Stale task locks: any task still holding a lock token past
    --stale-lock-threshold is recovered and marked failed so it can be
    re-executed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Build()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		if err := learning.Reconcile(ctx, a.Repo, a.Logger); err != nil {
			return err
		}
		return learning.ReconcileStaleLocks(ctx, a.Repo, viper.GetDuration("stale-lock-threshold"), a.Logger)
	},
}

func init() {
	reconcileCmd.Flags().Duration("stale-lock-threshold", 15*time.Minute, "idle time after which a held task lock is considered stale and recovered")
	_ = viper.BindPFlag("stale-lock-threshold", reconcileCmd.Flags().Lookup("stale-lock-threshold"))
	rootCmd.AddCommand(reconcileCmd)
}
