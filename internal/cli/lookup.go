package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// LookupResult says where an event id may live.
type LookupResult struct {
	ID string `json:"id"`
	// Indexed is true when the id is still in the hot store's index rows
	Indexed bool `json:"indexed"`
	// ArchivedIn lists periods whose id filter may contain the id
	ArchivedIn []string `json:"archivedIn"`
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <event-id>",
		Short: "Find whether an event is hot or which archived month may hold it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer env.close()

			ctx := cmd.Context()
			ix, err := env.openIndex(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to open index", err)
			}
			defer ix.Close()

			result := LookupResult{ID: args[0], ArchivedIn: []string{}}
			if result.Indexed, err = ix.HasEvent(ctx, args[0]); err != nil {
				return WrapExitError(ExitFailure, "lookup failed", err)
			}
			periods, err := ix.LookupArchived(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "lookup failed", err)
			}
			result.ArchivedIn = append(result.ArchivedIn, periods...)

			var b strings.Builder
			switch {
			case result.Indexed:
				fmt.Fprintf(&b, "%s is in the hot store\n", result.ID)
			case len(periods) > 0:
				fmt.Fprintf(&b, "%s may be archived in %s\n", result.ID, strings.Join(periods, ", "))
			default:
				fmt.Fprintf(&b, "%s not found\n", result.ID)
			}
			return env.out.Success(result, b.String())
		},
	}
}
