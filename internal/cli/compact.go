package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arkilian/eventarchive/internal/compaction"
	arkerrors "github.com/arkilian/eventarchive/internal/errors"
)

// CompactOptions holds flags for the compact command.
type CompactOptions struct {
	*RootOptions
	CutoffDays  int
	MaxPeriods  int
	Sweep       bool
	FailOnError bool
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Archive and summarize months older than the retention window",
		Long: `Run one compaction: every complete month whose events all precede the
cutoff is copied to the archive, verified, summarized and removed from the
hot store, oldest first, up to --max-periods months.

A failed run prints a warning and exits 0 unless --fail-on-error is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.CutoffDays, "cutoff-days", -1, "days kept in the hot store (default from config)")
	cmd.Flags().IntVar(&opts.MaxPeriods, "max-periods", 0, "months archived per run (default from config)")
	cmd.Flags().BoolVar(&opts.Sweep, "sweep", false, "remove verified leftover hot files of archived months")
	cmd.Flags().BoolVar(&opts.FailOnError, "fail-on-error", false, "exit non-zero when the run fails")

	return cmd
}

func runCompact(cmd *cobra.Command, opts *CompactOptions) error {
	env, err := loadEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()

	runOpts := env.compactionOptions()
	if opts.CutoffDays >= 0 {
		runOpts.CutoffDays = opts.CutoffDays
	}
	if opts.MaxPeriods > 0 {
		runOpts.MaxPeriodsPerRun = opts.MaxPeriods
	}
	if opts.Sweep {
		runOpts.SweepArchived = true
	}

	c, err := env.compactor(cmd.Context())
	if err != nil {
		return err
	}
	report := c.Run(cmd.Context(), runOpts)

	if report.OK {
		err = env.out.Success(report, RenderReport(report, opts.Verbose))
	} else {
		err = env.out.Error(arkerrors.GetCode(report.Err), report.Error, report, RenderReport(report, opts.Verbose))
	}
	if err != nil {
		return err
	}
	if !report.OK && opts.FailOnError {
		return WrapExitError(ExitFailure, "compaction failed", report.Err)
	}
	return nil
}

// RenderReport renders a compaction report for humans: one headline, then
// one line per warning. Verbose adds a line per period.
func RenderReport(r *compaction.Report, verbose bool) string {
	var b strings.Builder
	if !r.OK {
		fmt.Fprintf(&b, "warning: compaction failed: %s\n", r.Error)
	} else {
		fmt.Fprintf(&b, "%d events archived across %d %s\n",
			r.EventsArchived, r.PeriodsProcessed, plural(r.PeriodsProcessed, "period", "periods"))
	}

	if verbose {
		for _, p := range r.Periods {
			fmt.Fprintf(&b, "  %s  %-8s  %d events  %d files", p.Period, p.Status, p.Events, p.Files)
			if p.Error != "" {
				fmt.Fprintf(&b, "  %s", p.Error)
			}
			b.WriteByte('\n')
		}
		if r.FilesRemoved > 0 {
			fmt.Fprintf(&b, "  %d hot files removed\n", r.FilesRemoved)
		}
	}

	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
