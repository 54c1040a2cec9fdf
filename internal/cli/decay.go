package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// decayCmd is the cron-equivalent entrypoint for the decay scheduler.
var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one importance-decay pass over inactive nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, b, _, err := openBrain()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		report, err := b.Scheduler.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("scanned %d, decayed %d, errors %d\n",
			report.NodesScanned, report.NodesDecayed, report.Errors)
		return nil
	},
}
