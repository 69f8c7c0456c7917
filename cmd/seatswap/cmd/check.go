package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
	"github.com/Sentinel-Gate/seatswap/internal/service"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Log in and show what start would do",
	Long: `Log in to StudentLink, list the sections you are enrolled in, show the
schedule of your other semesters and validate the desired state against
the catalog. Nothing is registered or
dropped.

Use this after editing the spec file or to confirm that the saved session
and the 2FA device still work.`,
	RunE: runCheck,
}

var checkDev bool

func init() {
	checkCmd.Flags().BoolVar(&checkDev, "dev", false, "Enable development mode (debug logging)")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(checkDev)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	logger := newLogger(cfg)
	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Logging in as %s for %s...\n", cfg.Credentials.Username, a.term)
	if err := a.session.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintln(out, "Logged in.")

	plan, err := a.reconciler.Plan(ctx)
	if err != nil {
		return err
	}

	schedule, err := a.registrar.Schedule(ctx)
	if err != nil {
		logger.Warn("failed to read the schedule", "error", err)
	}
	all := append([]course.Section(nil), plan.Enrolled...)
	for _, ts := range schedule {
		all = append(all, ts.Sections...)
	}
	buildings := lookupBuildings(ctx, a.registrar, all, logger)

	fmt.Fprintf(out, "\nEnrolled in %d sections:\n", len(plan.Enrolled))
	printSections(out, plan.Enrolled, buildings)
	printSchedule(out, schedule, a.term, buildings)
	printPlan(out, plan)

	if plan.Rejection != nil {
		return fmt.Errorf("desired state in %s would be rejected", a.specs.Path())
	}
	return nil
}

// lookupBuildings resolves the building codes sections meet in. Lookup
// failures only cost the description.
func lookupBuildings(ctx context.Context, r *service.Registrar, sections []course.Section, logger *slog.Logger) map[string]course.Building {
	out := make(map[string]course.Building)
	tried := make(map[string]bool)
	for _, s := range sections {
		for _, m := range s.Meetings {
			if m.Building == "" || tried[m.Building] {
				continue
			}
			tried[m.Building] = true
			b, err := r.Building(ctx, m.Building)
			if err != nil {
				logger.Debug("building lookup failed", "code", m.Building, "error", err)
				continue
			}
			out[m.Building] = b
		}
	}
	return out
}
