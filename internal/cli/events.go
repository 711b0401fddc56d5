package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/internal/index"
	"github.com/arkilian/eventarchive/pkg/types"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Types     []string
	SessionID string
	Since     string
	Until     string
	Limit     int
	Redacted  bool
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events from the hot store",
		Long: `List hot events matching the filters. Matches are found through the
index and loaded from their day files; without a usable index the hot store
is scanned.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Types, "type", "t", nil, "event types to include")
	cmd.Flags().StringVarP(&opts.SessionID, "session", "s", "", "session id")
	cmd.Flags().StringVar(&opts.Since, "since", "", "inclusive lower bound (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "exclusive upper bound (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "keep only the most recent N events")
	cmd.Flags().BoolVar(&opts.Redacted, "redacted", false, "include redacted events")

	return cmd
}

func (o *EventsOptions) filter() (eventstore.Filter, error) {
	f := eventstore.Filter{
		SessionID:       o.SessionID,
		Limit:           o.Limit,
		IncludeRedacted: o.Redacted,
	}
	if o.Limit < 0 {
		return f, fmt.Errorf("--limit must not be negative")
	}
	for _, s := range o.Types {
		t, err := types.ParseEventType(s)
		if err != nil {
			return f, err
		}
		f.Types = append(f.Types, t)
	}
	var err error
	if o.Since != "" {
		if f.Since, err = types.ParseInstant(o.Since); err != nil {
			return f, err
		}
	}
	if o.Until != "" {
		if f.Until, err = types.ParseInstant(o.Until); err != nil {
			return f, err
		}
	}
	return f, nil
}

func runEvents(cmd *cobra.Command, opts *EventsOptions) error {
	filter, err := opts.filter()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	env, err := loadEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()

	events, err := index.ReadEvents(cmd.Context(), env.cfg.IndexPath, env.store(), filter, env.logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read events", err)
	}
	if events == nil {
		events = []types.EventRecord{}
	}

	var b strings.Builder
	for _, e := range events {
		session := e.SessionID
		if session == "" {
			session = "-"
		}
		fmt.Fprintf(&b, "%s  %-13s  %-12s  %s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Type, session, e.ID)
	}
	fmt.Fprintf(&b, "%d events\n", len(events))
	return env.out.Success(events, b.String())
}
