package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset TICKER DATE",
	Short: "Move a failed or backfilled record back to pending",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ticker, filingDate := args[0], args[1]
		if err := st.ResetToPending(ctx, ticker, filingDate); err != nil {
			return err
		}
		fmt.Printf("%s/%s is pending again\n", ticker, filingDate)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
