package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/workflowlabs/patternbank/internal/pattern"
	"github.com/workflowlabs/patternbank/internal/store"
	"github.com/workflowlabs/patternbank/internal/usage"
)

var (
	listKind          string
	listFramework     string
	listCategory      string
	listTags          []string
	listDeprecated    bool
	listLimit         int
	deprecateReason   string
	recordFailureFlag bool
	recordReason      string
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Manage local patterns",
}

func init() {
	listFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&listKind, "kind", "", "pattern kind: fix, blueprint, or solution (default: all)")
		cmd.Flags().StringVar(&listFramework, "framework", "", "filter by framework")
		cmd.Flags().StringVar(&listCategory, "category", "", "filter by category")
		cmd.Flags().StringSliceVar(&listTags, "tag", nil, "require a tag (repeatable)")
		cmd.Flags().BoolVar(&listDeprecated, "deprecated", false, "include deprecated patterns")
		cmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of results")
	}
	listFlags(listCmd)
	listFlags(searchCmd)

	deprecateCmd.Flags().StringVar(&deprecateReason, "reason", "", "why the pattern is deprecated")
	recordCmd.Flags().BoolVar(&recordFailureFlag, "failure", false, "record a failed application")
	recordCmd.Flags().StringVar(&recordReason, "reason", "", "failure reason: version-mismatch, missing-dependency, file-conflict, permission-error, syntax-error, or unknown")

	patternsCmd.AddCommand(listCmd)
	patternsCmd.AddCommand(searchCmd)
	patternsCmd.AddCommand(statsCmd)
	patternsCmd.AddCommand(publishCmd)
	patternsCmd.AddCommand(deprecateCmd)
	patternsCmd.AddCommand(deleteCmd)
	patternsCmd.AddCommand(recordCmd)
}

// parseKind validates the --kind flag or a kind argument.
func parseKind(s string) (pattern.Kind, error) {
	k := pattern.Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown pattern kind %q (expected fix, blueprint, or solution)", s)
	}
	return k, nil
}

func buildQuery() store.Query {
	return store.Query{
		Framework:         listFramework,
		Category:          pattern.FixCategory(listCategory),
		Tags:              listTags,
		IncludeDeprecated: listDeprecated,
		Limit:             listLimit,
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		q := buildQuery()
		threshold := a.cfg.DeprecationThreshold()

		show := func(kind pattern.Kind) error {
			switch kind {
			case pattern.KindFix:
				fixes, err := a.store.ListFixes(ctx, q)
				if err != nil {
					return err
				}
				for _, p := range fixes {
					printPattern(cmd, kind, p.Meta(), threshold)
				}
			case pattern.KindBlueprint:
				blueprints, err := a.store.ListBlueprints(ctx, q)
				if err != nil {
					return err
				}
				for _, p := range blueprints {
					printPattern(cmd, kind, p.Meta(), threshold)
				}
			case pattern.KindSolution:
				solutions, err := a.store.ListSolutions(ctx, q)
				if err != nil {
					return err
				}
				for _, p := range solutions {
					printPattern(cmd, kind, p.Meta(), threshold)
				}
			}
			return nil
		}

		kinds := pattern.Kinds()
		if listKind != "" {
			k, err := parseKind(listKind)
			if err != nil {
				return err
			}
			kinds = []pattern.Kind{k}
		}
		for _, k := range kinds {
			if err := show(k); err != nil {
				return err
			}
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <keyword>...",
	Short: "Search patterns by keyword",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		q := buildQuery()
		threshold := a.cfg.DeprecationThreshold()

		kinds := pattern.Kinds()
		if listKind != "" {
			k, err := parseKind(listKind)
			if err != nil {
				return err
			}
			kinds = []pattern.Kind{k}
		}

		for _, kind := range kinds {
			switch kind {
			case pattern.KindFix:
				fixes, err := a.store.SearchFixes(ctx, args, q)
				if err != nil {
					return err
				}
				for _, p := range fixes {
					printPattern(cmd, kind, p.Meta(), threshold)
				}
			case pattern.KindBlueprint:
				blueprints, err := a.store.SearchBlueprints(ctx, args, q)
				if err != nil {
					return err
				}
				for _, p := range blueprints {
					printPattern(cmd, kind, p.Meta(), threshold)
				}
			case pattern.KindSolution:
				solutions, err := a.store.SearchSolutions(ctx, args, q)
				if err != nil {
					return err
				}
				for _, p := range solutions {
					printPattern(cmd, kind, p.Meta(), threshold)
				}
			}
		}
		return nil
	},
}

func printPattern(cmd *cobra.Command, kind pattern.Kind, meta *pattern.Envelope, threshold time.Duration) {
	visibility := "private"
	if !meta.IsPrivate {
		visibility = "published"
	}
	status := ""
	if meta.IsDeprecated(time.Now().UTC(), threshold) {
		status = " [deprecated]"
	}
	cmd.Printf("%-10s %s  %s (%s, %.0f%% over %d uses)%s\n",
		kind, meta.ID, meta.Name, visibility,
		meta.Metrics.SuccessRate, meta.Metrics.Applications, status)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		stats, err := a.store.Stats(ctx)
		if err != nil {
			return err
		}

		printKind := func(name string, ks store.KindStats) {
			cmd.Printf("%-12s %4d patterns, %5d uses, %6.2f%% avg success, %d deprecated, %d private, %d synced\n",
				name, ks.Count, ks.TotalUses, ks.AvgSuccessRate, ks.Deprecated, ks.Private, ks.Synced)
		}
		printKind("fixes", stats.Fixes)
		printKind("blueprints", stats.Blueprints)
		printKind("solutions", stats.Solutions)
		cmd.Printf("total: %d\n", stats.TotalPatterns())
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <kind> <id>",
	Short: "Mark a pattern as publishable",
	Long: `Clears the private flag so the next sync push may upload the pattern.
The pattern is anonymized and audited before anything leaves the machine.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		id := args[1]

		now := time.Now().UTC()
		switch kind {
		case pattern.KindFix:
			p, err := a.store.GetFix(ctx, id)
			if err != nil {
				return err
			}
			p.Publish(now)
			if err := a.store.SaveFix(ctx, p); err != nil {
				return err
			}
		case pattern.KindBlueprint:
			p, err := a.store.GetBlueprint(ctx, id)
			if err != nil {
				return err
			}
			p.Publish(now)
			if err := a.store.SaveBlueprint(ctx, p); err != nil {
				return err
			}
		case pattern.KindSolution:
			p, err := a.store.GetSolution(ctx, id)
			if err != nil {
				return err
			}
			p.Publish(now)
			if err := a.store.SaveSolution(ctx, p); err != nil {
				return err
			}
		}

		cmd.Printf("Published %s %s\n", kind, id)
		return nil
	},
}

var deprecateCmd = &cobra.Command{
	Use:   "deprecate <kind> <id>",
	Short: "Mark a pattern as deprecated",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}

		if err := a.store.DeprecatePattern(ctx, kind, args[1], deprecateReason); err != nil {
			return err
		}

		cmd.Printf("Deprecated %s %s\n", kind, args[1])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <kind> <id>",
	Short: "Delete a pattern permanently",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}

		if err := a.store.Delete(ctx, kind, args[1]); err != nil {
			return err
		}
		cmd.Printf("Deleted %s %s\n", kind, args[1])
		return nil
	},
}

var recordCmd = &cobra.Command{
	Use:   "record <kind> <id>",
	Short: "Record a pattern application outcome",
	Long: `Records that a pattern was applied. Success is the default; pass
--failure (optionally with --reason) when the application did not work.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		id := args[1]
		success := !recordFailureFlag

		framework, frameworkVersion, err := patternFramework(ctx, a, kind, id)
		if err != nil {
			return err
		}

		if err := a.store.UpdateMetrics(ctx, kind, id, success); err != nil {
			return err
		}

		a.collector.RecordApplication(ctx, id, kind, framework, frameworkVersion)
		if success {
			a.collector.RecordSuccess(ctx, id, kind, framework, frameworkVersion)
		} else {
			a.collector.RecordFailure(ctx, id, kind, framework, frameworkVersion, usage.FailureReason(recordReason))
		}

		cmd.Printf("Recorded %s application for %s %s\n",
			map[bool]string{true: "successful", false: "failed"}[success], kind, id)
		return nil
	},
}

// patternFramework loads the pattern to tag usage events with its declared
// framework.
func patternFramework(ctx context.Context, a *app, kind pattern.Kind, id string) (string, string, error) {
	switch kind {
	case pattern.KindFix:
		p, err := a.store.GetFix(ctx, id)
		if err != nil {
			return "", "", err
		}
		return p.Compatibility.Framework, p.Compatibility.VersionRange, nil
	case pattern.KindBlueprint:
		p, err := a.store.GetBlueprint(ctx, id)
		if err != nil {
			return "", "", err
		}
		return p.Stack.Framework, "", nil
	case pattern.KindSolution:
		p, err := a.store.GetSolution(ctx, id)
		if err != nil {
			return "", "", err
		}
		return p.Compatibility.Framework, p.Compatibility.VersionRange, nil
	}
	return "", "", fmt.Errorf("unknown pattern kind %q", kind)
}
