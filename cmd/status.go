package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harutaka05225589-art/InvestorNews/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record counts per lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.CountByState(ctx)
		if err != nil {
			return err
		}

		total := 0
		for _, state := range []model.State{model.StatePending, model.StateAnalyzed, model.StateFailed, model.StateBackfilled} {
			fmt.Printf("%-11s %d\n", state.String(), counts[state])
			total += counts[state]
		}
		fmt.Printf("%-11s %d\n", "total", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
