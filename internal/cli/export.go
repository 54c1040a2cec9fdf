package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	exportProfile string
	exportOut     string
)

// exportCmd emits replay training samples for an external pipeline.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export high-confidence knowledge as replay training samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, b, _, err := openBrain()
		if err != nil {
			return err
		}
		defer db.Close()

		out := os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			out = f
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		report, err := b.Exporter.Run(ctx, exportProfile, out)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %d samples, errors %d\n",
			report.SamplesWritten, report.Errors)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportProfile, "profile", "", "target profile for sample phrasing (required)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default stdout)")
	exportCmd.MarkFlagRequired("profile")
}
