package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arkilian/eventarchive/internal/summary"
)

// NewSummariesCommand creates the summaries command.
func NewSummariesCommand(rootOpts *RootOptions) *cobra.Command {
	var period string

	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "List archived period summaries from the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer env.close()

			ix, err := env.openIndex(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to open index", err)
			}
			defer ix.Close()

			rows, err := ix.QuerySummaries(cmd.Context(), period)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to query summaries", err)
			}
			if rows == nil {
				rows = []*summary.PeriodSummary{}
			}
			return env.out.Success(rows, renderSummaries(rows))
		},
	}

	cmd.Flags().StringVarP(&period, "period", "p", "", "only this period (YYYY-MM)")

	return cmd
}

func renderSummaries(rows []*summary.PeriodSummary) string {
	if len(rows) == 0 {
		return "no archived periods\n"
	}
	var b strings.Builder
	for _, s := range rows {
		fmt.Fprintf(&b, "%s  %6d events  %4d sessions  %2d idle days",
			s.Period, s.EventCount, s.Sessions.Distinct, len(s.Anomalies.ZeroActivityDays))
		if len(s.Patterns.Tools) > 0 {
			fmt.Fprintf(&b, "  top tool %s (%d)", s.Patterns.Tools[0].Value, s.Patterns.Tools[0].Count)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
