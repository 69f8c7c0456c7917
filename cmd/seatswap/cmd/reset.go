package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/seatswap/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/seatswap/internal/config"
)

var (
	resetAll     bool
	resetJournal bool
	resetForce   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the saved login session",
	Long: `Remove the saved StudentLink session so the next start performs a full
login (with a 2FA push).

By default only the session cookies are cleared; the last accepted desired
state is kept.

Optional flags:
  --all       Remove the whole state file, including the last accepted desired state
  --journal   Also remove the attempt journal
  --force     Skip confirmation prompt`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "Remove the whole state file")
	resetCmd.Flags().BoolVar(&resetJournal, "journal", false, "Also remove the attempt journal")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

// loadConfigRaw loads the config for commands that only need file paths.
func loadConfigRaw() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigRaw()
	if err != nil {
		return err
	}
	out := cmd.ErrOrStderr()

	var targets []string
	if resetAll {
		targets = append(targets, cfg.Session.StatePath, cfg.Session.StatePath+".bak")
	}
	if resetJournal && cfg.JournalEnabled() {
		targets = append(targets, cfg.Journal.Path, cfg.Journal.Path+"-wal", cfg.Journal.Path+"-shm")
	}
	targets = existing(targets)

	store := state.NewFileStateStore(cfg.Session.StatePath, newLogger(cfg))
	clearCookies := !resetAll && store.Exists()

	if len(targets) == 0 && !clearCookies {
		fmt.Fprintln(out, "Nothing to reset: no state files found.")
		return nil
	}

	fmt.Fprintln(out, "The following will be removed:")
	if clearCookies {
		fmt.Fprintf(out, "  - saved session in %s\n", store.Path())
	}
	for _, t := range targets {
		fmt.Fprintf(out, "  - %s\n", t)
	}

	if !resetForce && !confirm(cmd.InOrStdin(), out) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	if clearCookies {
		if err := store.ClearCookies(context.Background()); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		fmt.Fprintln(out, "  Cleared saved session")
	}
	failed := 0
	for _, t := range targets {
		if err := os.Remove(t); err != nil {
			fmt.Fprintf(out, "  ERROR removing %s: %v\n", t, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "  Removed %s\n", t)
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be removed", failed)
	}
	fmt.Fprintln(out, "\nReset complete.")
	return nil
}

func existing(paths []string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "\nProceed? [y/N] ")
	var answer string
	fmt.Fscanln(in, &answer) //nolint:errcheck // interactive prompt, error irrelevant
	return answer == "y" || answer == "Y"
}
