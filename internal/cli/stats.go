package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print graph statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, b, _, err := openBrain()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stats, err := b.Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("nodes:     %d\n", stats.Nodes)
		fmt.Printf("links:     %d\n", stats.Links)
		fmt.Printf("mutations: %d\n", stats.Mutations)
		for _, layer := range []string{"raw_data", "information", "knowledge", "wisdom"} {
			if n := stats.Layers[layer]; n > 0 {
				fmt.Printf("  %-12s %d\n", layer, n)
			}
		}
		return nil
	},
}
