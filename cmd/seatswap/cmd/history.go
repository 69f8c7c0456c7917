package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/seatswap/internal/adapter/outbound/journal"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent registration attempts",
	Long: `Print the most recent registration and swap attempts from the
attempt journal, newest first.

Examples:
  seatswap history
  seatswap history --limit 100`,
	RunE: runHistory,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of attempts to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigRaw()
	if err != nil {
		return err
	}
	if !cfg.JournalEnabled() {
		return fmt.Errorf("the attempt journal is disabled (journal.path: off)")
	}
	if historyLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}

	ctx := context.Background()
	j, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	attempts, err := j.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), attempts)
	return nil
}
