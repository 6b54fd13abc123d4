// Package main implements the patternbank CLI: a local-first store for
// reusable development patterns with optional, anonymized community sync.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/workflowlabs/patternbank/internal/anonymize"
	"github.com/workflowlabs/patternbank/internal/config"
	"github.com/workflowlabs/patternbank/internal/contributor"
	"github.com/workflowlabs/patternbank/internal/logging"
	"github.com/workflowlabs/patternbank/internal/observability"
	"github.com/workflowlabs/patternbank/internal/registry"
	"github.com/workflowlabs/patternbank/internal/store"
	"github.com/workflowlabs/patternbank/internal/syncer"
	"github.com/workflowlabs/patternbank/internal/usage"
)

var (
	workspaceFlag string
	configFlag    string

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patternbank",
	Short: "Local-first store for reusable development patterns",
	Long: `patternbank records fixes, blueprints, and solutions in your project's
.workflow directory. Patterns stay private by default; published patterns can
be pushed to the community registry after anonymization.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&workspaceFlag, "workspace", "", "workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file path (default: ~/.config/patternbank/config.yaml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(contributorCmd)
	rootCmd.AddCommand(registryCmd)
	rootCmd.AddCommand(telemetryCmd)
}

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	provider   *observability.Provider
	store      store.Service
	manager    *contributor.Manager
	collector  *usage.Collector
	anonymizer *anonymize.Anonymizer
	validator  *anonymize.Validator
	registry   *registry.Client
	syncer     *syncer.Syncer
	root       string
}

// buildApp wires the full dependency graph from configuration.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}

	root := workspaceFlag
	if root == "" {
		root = cfg.Workspace.Root
	}
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
	}

	provider, err := observability.Setup(ctx, cfg.Observability, version)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging, provider.LoggerProvider())
	if err != nil {
		return nil, err
	}

	st, err := store.New(&store.Config{
		Root:                 root,
		DeprecationThreshold: cfg.DeprecationThreshold(),
	}, logger)
	if err != nil {
		return nil, err
	}

	manager := contributor.NewManager(root, logger)

	allowlist, err := anonymize.LoadAllowlists(root, cfg.Anonymize.UserAllowlistPath)
	if err != nil {
		return nil, err
	}
	anonymizer := anonymize.New(
		anonymize.WithAllowlist(allowlist),
		anonymize.WithLogger(logger),
	)
	validator, err := anonymize.NewValidator(allowlist)
	if err != nil {
		return nil, err
	}

	// Contributor identity is best-effort: a local command must not fail
	// because the id file could not be written.
	contributorID, err := manager.GetOrCreateID()
	if err != nil {
		logger.Warn("failed to resolve contributor id", zap.Error(err))
	}

	client := registry.New(registry.Config{
		BaseURL:       cfg.Registry.BaseURL,
		ContributorID: contributorID,
		Timeout:       cfg.Registry.Timeout,
		MaxRetries:    cfg.Registry.MaxRetries,
	}, logger)

	collector, err := usage.NewCollector(root, manager, client, logger)
	if err != nil {
		return nil, err
	}

	sy, err := syncer.New(st, manager, client, anonymizer, validator, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		provider:   provider,
		store:      st,
		manager:    manager,
		collector:  collector,
		anonymizer: anonymizer,
		validator:  validator,
		registry:   client,
		syncer:     sy,
		root:       root,
	}, nil
}

// close flushes telemetry and logs.
func (a *app) close(ctx context.Context) {
	_ = a.logger.Sync()
	if err := a.provider.Shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "warning: telemetry shutdown:", err)
	}
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the pattern workspace",
	Long: `Creates the .workflow directory tree and the anonymous contributor
identity for this workspace.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.store.Initialize(ctx); err != nil {
			return err
		}

		id, err := a.manager.GetOrCreateID()
		if err != nil {
			return err
		}

		cmd.Printf("Initialized pattern workspace in %s\n", a.root)
		cmd.Printf("Contributor ID: %s\n", id)
		return nil
	},
}
