package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harutaka05225589-art/InvestorNews/internal/feed"
	"github.com/harutaka05225589-art/InvestorNews/internal/model"
)

var backfillDays int

// maxConsecutiveMisses stops a backfill that walked past the site's archive
// window, where every older date 404s.
const maxConsecutiveMisses = 7

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Import historical candidates without analyzing them",
	Long:  "Walks the listing backwards day by day, storing matches in the backfilled state. Use reset to queue individual records for analysis.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		inserted := 0
		misses := 0
		for i := 1; i <= backfillDays; i++ {
			day := time.Now().AddDate(0, 0, -i)

			candidates, err := env.Scanner.Candidates(ctx, day)
			if err != nil {
				if eris.Is(err, feed.ErrListingUnavailable) {
					misses++
					if misses >= maxConsecutiveMisses {
						zap.L().Info("reached end of listing archive",
							zap.String("date", day.Format(model.DateFormat)))
						break
					}
					continue
				}
				return err
			}
			misses = 0

			for _, rec := range candidates {
				isNew, err := env.Store.InsertBackfilled(ctx, rec)
				if err != nil {
					return err
				}
				if isNew {
					inserted++
				}
			}
		}

		fmt.Printf("backfilled %d records\n", inserted)
		return nil
	},
}

func init() {
	backfillCmd.Flags().IntVar(&backfillDays, "days", 30, "number of past days to walk")
	rootCmd.AddCommand(backfillCmd)
}
