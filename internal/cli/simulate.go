package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/app"
)

var (
	simulateCount     int
	simulateSeed      int64
	simulatePerBucket int
	simulateDegrade   string
	simulateStart     string
	simulatePersist   bool
	simulateCSVPath   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay synthetic payments through every engine on a virtual clock",
	Example: `  paycore simulate --count 5000 --degrade mpesa:KE
  paycore simulate --count 2000 --csv out/transactions.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCount <= 0 {
			return errors.New("--count must be greater than zero")
		}

		opts := app.SimulateOptions{
			Count:     simulateCount,
			Seed:      simulateSeed,
			PerBucket: simulatePerBucket,
			Degrade:   simulateDegrade,
			Persist:   simulatePersist,
			CSVPath:   simulateCSVPath,
		}
		if simulateStart != "" {
			start, err := time.Parse(time.RFC3339, simulateStart)
			if err != nil {
				return fmt.Errorf("invalid --start value: %w", err)
			}
			opts.Start = start
		}

		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateCount, "count", 1000, "Number of payments to generate")
	simulateCmd.Flags().Int64Var(&simulateSeed, "seed", 0, "Random seed (defaults to simulation.seed)")
	simulateCmd.Flags().IntVar(&simulatePerBucket, "per-bucket", 20, "Payments per scheduler bucket")
	simulateCmd.Flags().StringVar(&simulateDegrade, "degrade", "", "Degrade a provider, as provider[:country]")
	simulateCmd.Flags().StringVar(&simulateStart, "start", "", "Virtual start time (RFC3339)")
	simulateCmd.Flags().BoolVar(&simulatePersist, "persist", false, "Write results to the configured database")
	simulateCmd.Flags().StringVar(&simulateCSVPath, "csv", "", "Path to write generated transactions as CSV")
}
