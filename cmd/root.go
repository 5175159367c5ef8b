package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lsa-ts/orgsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "orgsync",
	Short: "Organizational data sync pipeline",
	Long:  "Captures departments, people, assets, computers, groups, and lab funding from campus systems into raw/typed/consolidated Postgres tiers.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
