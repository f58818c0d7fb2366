package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/harutaka05225589-art/InvestorNews/internal/model"
)

var scanDate string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the disclosure listing and store candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		day := time.Now()
		if scanDate != "" {
			day, err = time.Parse(model.DateFormat, scanDate)
			if err != nil {
				return eris.Wrapf(err, "invalid --date %q, want YYYY-MM-DD", scanDate)
			}
		}

		inserted, err := env.Scanner.ScanDate(ctx, day)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d new candidates\n", day.Format(model.DateFormat), inserted)
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanDate, "date", "", "listing date (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(scanCmd)
}
