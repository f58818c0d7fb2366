package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Analyze pending records without scanning or notifying",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Orchestrator.ProcessBatch(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("processed %d: %d analyzed, %d failed, %d skipped\n",
			summary.Processed, len(summary.Analyzed), summary.Failed, summary.Skipped)
		if summary.QuotaAbort {
			fmt.Println("batch aborted on quota; remaining records stay pending")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
