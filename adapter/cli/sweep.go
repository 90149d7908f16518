package cli

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one renewal sweep and exit",
	Long: `Sweep converts due trials, charges due renewals, retries past-due
subscriptions, completes scheduled cancellations and reconciles pending
payments, then prints a JSON summary. Safe to re-run; charges are idempotent
per billing period.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if container == nil {
		return errors.New("gateway is not initialized, check database configuration")
	}

	summary, err := container.Sweeper.RunOnce(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
