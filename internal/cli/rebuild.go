package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arkilian/eventarchive/pkg/types"
)

// RebuildOptions holds flags for the rebuild-index command.
type RebuildOptions struct {
	*RootOptions
	SkipArchive bool
}

// NewRebuildIndexCommand creates the rebuild-index command.
func NewRebuildIndexCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RebuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rebuild-index",
		Short: "Rebuild the index from the hot store and the archive",
		Long: `Drop every index row and replay the hot store. Summaries archived by
earlier runs are reloaded from their artifacts unless --skip-archive is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipArchive, "skip-archive", false, "do not reload archived summaries")

	return cmd
}

func runRebuild(cmd *cobra.Command, opts *RebuildOptions) error {
	env, err := loadEnv(cmd, opts.RootOptions)
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

	archive, err := env.archiveStorage(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open archive storage", err)
	}
	if opts.SkipArchive {
		archive = nil
	}

	result, err := ix.Rebuild(ctx, env.store(), archive)
	if err != nil {
		return WrapExitError(ExitFailure, "rebuild failed", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "indexed %d events from %d files, %d archived summaries\n",
		result.Events, result.Files, result.Summaries)
	for _, t := range sortedTypes(result.ByType) {
		fmt.Fprintf(&b, "  %-13s  %d\n", t, result.ByType[t])
	}
	if result.Malformed > 0 {
		fmt.Fprintf(&b, "skipped %d malformed lines\n", result.Malformed)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return env.out.Success(result, b.String())
}

func sortedTypes(counts map[types.EventType]int64) []types.EventType {
	out := make([]types.EventType, 0, len(counts))
	for t := range counts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
