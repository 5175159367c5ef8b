package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lsa-ts/orgsync/internal/bronze"
	"github.com/lsa-ts/orgsync/internal/db"
	"github.com/lsa-ts/orgsync/internal/ingest"
	"github.com/lsa-ts/orgsync/internal/resilience"
	"github.com/lsa-ts/orgsync/internal/runlog"
	"github.com/lsa-ts/orgsync/internal/silver"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge per-source records into consolidated entities",
	Long: `Merge the typed per-source records into one consolidated record per
business key, applying each entity's merge rules and quality scoring.
Unchanged records are skipped by hash.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if v, _ := cmd.Flags().GetBool("dry-run"); v {
			cfg.Engine.DryRun = true
		}

		if err := cfg.Validate("consolidate"); err != nil {
			return err
		}

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "consolidate: migrate")
		}

		engine := ingest.NewEngine(
			bronze.NewStore(pool),
			silver.NewStore(pool),
			runlog.NewLog(pool),
			cfg.Engine,
			resilience.FromRetryConfig(
				cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs,
				cfg.Retry.Multiplier, cfg.Retry.JitterFraction,
			),
		)

		decls, err := selectEntities(cmd)
		if err != nil {
			return err
		}

		var failed []string
		for _, decl := range decls {
			summary, err := engine.Consolidate(ctx, decl)
			if err != nil {
				return eris.Wrapf(err, "consolidate %s", decl.Name)
			}
			formatSyncSummary(cmd.OutOrStdout(), summary)
			if summary.Failed {
				failed = append(failed, decl.Name)
			}
		}

		if len(failed) > 0 {
			return eris.Errorf("consolidation finished with failed runs: %s", strings.Join(failed, ", "))
		}
		fmt.Println("Consolidation complete")
		return nil
	},
}

func init() {
	consolidateCmd.Flags().String("entities", "", "comma-separated entity names (e.g., department,person)")
	consolidateCmd.Flags().Bool("dry-run", false, "report what would change without writing")
	rootCmd.AddCommand(consolidateCmd)
}
