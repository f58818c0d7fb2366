package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harutaka05225589-art/InvestorNews/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "investornews",
	Short: "Earnings forecast revision monitor",
	Long:  "Scans daily TDnet disclosures for forecast revisions, extracts structured data via tiered Claude models, and notifies material upward revisions.",
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
