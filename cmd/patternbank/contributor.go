package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/workflowlabs/patternbank/internal/usage"
)

var resetConfirmed bool

var contributorCmd = &cobra.Command{
	Use:   "contributor",
	Short: "Manage the anonymous contributor identity",
}

func init() {
	contributorCmd.AddCommand(contributorIDCmd)
	contributorCmd.AddCommand(contributorResetCmd)
	contributorCmd.AddCommand(enableSyncCmd)
	contributorCmd.AddCommand(disableSyncCmd)
	contributorCmd.AddCommand(enableTelemetryCmd)
	contributorCmd.AddCommand(disableTelemetryCmd)

	contributorResetCmd.Flags().BoolVar(&resetConfirmed, "yes", false, "confirm replacing the contributor identity")

	registryCmd.AddCommand(registryHealthCmd)
	telemetryCmd.AddCommand(telemetryStatusCmd)
}

var contributorIDCmd = &cobra.Command{
	Use:   "id",
	Short: "Show the contributor identity and opt-in state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		cfg, err := a.manager.GetConfig()
		if err != nil {
			return err
		}

		cmd.Printf("Contributor ID:    %s\n", cfg.ID)
		cmd.Printf("Created:           %s\n", cfg.CreatedAt.Format("2006-01-02"))
		cmd.Printf("Sync opt-in:       %t\n", cfg.SyncOptIn)
		cmd.Printf("Telemetry opt-in:  %t\n", cfg.TelemetryEnabled)
		return nil
	},
}

var contributorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Generate a fresh contributor identity",
	Long: `Replaces the anonymous contributor id. Patterns already pushed under
the old id stay attributed to it; nothing links the two. The reset is
irreversible, so it must be confirmed with --yes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetConfirmed {
			return errors.New("refusing to reset the contributor identity without --yes")
		}

		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		id, err := a.manager.ResetID()
		if err != nil {
			return err
		}
		cmd.Printf("New contributor ID: %s\n", id)
		return nil
	},
}

var enableSyncCmd = &cobra.Command{
	Use:   "enable-sync",
	Short: "Opt in to community sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.manager.EnableSync(); err != nil {
			return err
		}
		cmd.Println("Sync enabled. Only published patterns are ever uploaded, after anonymization.")
		return nil
	},
}

var disableSyncCmd = &cobra.Command{
	Use:   "disable-sync",
	Short: "Opt out of community sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.manager.DisableSync(); err != nil {
			return err
		}
		cmd.Println("Sync disabled.")
		return nil
	},
}

var enableTelemetryCmd = &cobra.Command{
	Use:   "enable-telemetry",
	Short: "Opt in to anonymous usage telemetry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.manager.EnableTelemetry(); err != nil {
			return err
		}
		cmd.Println("Telemetry enabled.")
		return nil
	},
}

var disableTelemetryCmd = &cobra.Command{
	Use:   "disable-telemetry",
	Short: "Opt out of anonymous usage telemetry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.manager.DisableTelemetry(); err != nil {
			return err
		}
		cmd.Println("Telemetry disabled.")
		return nil
	},
}

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Registry diagnostics",
}

var registryHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check registry connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.registry.HealthCheck(ctx); err != nil {
			return err
		}
		cmd.Println("Registry is healthy")
		return nil
	},
}

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Inspect the usage telemetry queue",
}

var telemetryStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show telemetry opt-in and queued events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		cmd.Printf("Telemetry enabled: %t\n", a.manager.TelemetryEnabled())

		stats, err := a.collector.Stats()
		if err != nil {
			return err
		}
		cmd.Printf("Queued events:     %d\n", stats.Pending)
		for _, et := range []usage.EventType{usage.EventApplied, usage.EventSuccess, usage.EventFailure} {
			if n := stats.ByType[et]; n > 0 {
				cmd.Printf("  %-16s %d\n", et, n)
			}
		}
		return nil
	},
}
