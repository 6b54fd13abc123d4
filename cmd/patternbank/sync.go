package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/workflowlabs/patternbank/internal/registry"
	"github.com/workflowlabs/patternbank/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Exchange patterns with the community registry",
}

func init() {
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncStatusCmd)
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload published patterns",
	Long: `Anonymizes and uploads every published pattern whose content changed
since the last push. Patterns failing the anonymization audit are withheld
and reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		report, err := a.syncer.Push(ctx)
		if err != nil {
			if errors.Is(err, syncer.ErrSyncDisabled) {
				return errors.New("sync is not enabled; run 'patternbank contributor enable-sync' first")
			}
			var rlErr *registry.RateLimitError
			if errors.As(err, &rlErr) {
				return errors.New(rlErr.Error())
			}
			return err
		}

		cmd.Printf("Pushed %d pattern(s), %d already known, %d rejected by registry\n",
			report.Pushed, report.Skipped, report.Failed)
		if report.Withheld > 0 {
			cmd.Printf("Withheld %d pattern(s) that failed the anonymization audit:\n", report.Withheld)
			for _, id := range report.WithheldIDs {
				cmd.Printf("  %s\n", id)
			}
		}

		// Piggyback queued usage events on the sync connection.
		if sent, err := a.collector.Flush(ctx); err == nil && sent > 0 {
			cmd.Printf("Delivered %d usage event(s)\n", sent)
		}
		return nil
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Import community patterns",
	Long: `Fetches community patterns and stores them as private local copies.
Already-imported patterns are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		report, err := a.syncer.Pull(ctx)
		if err != nil {
			if errors.Is(err, syncer.ErrSyncDisabled) {
				return errors.New("sync is not enabled; run 'patternbank contributor enable-sync' first")
			}
			return err
		}

		cmd.Printf("Imported %d pattern(s), skipped %d\n", report.Imported, report.Skipped)
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the next push would upload",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		cmd.Printf("Sync enabled: %t\n", a.manager.SyncEnabled())

		set, err := a.store.PatternsForSync(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("Eligible for push: %d fix(es), %d blueprint(s), %d solution(s)\n",
			len(set.Fixes), len(set.Blueprints), len(set.Solutions))

		pending, err := a.collector.Pending()
		if err != nil {
			return err
		}
		cmd.Printf("Queued usage events: %d\n", pending)
		return nil
	},
}
