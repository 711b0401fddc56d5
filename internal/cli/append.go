package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	arkerrors "github.com/arkilian/eventarchive/internal/errors"
	"github.com/arkilian/eventarchive/pkg/types"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Type      string
	SessionID string
	Data      string
	Timestamp string
	ID        string
	Redacted  bool
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append one event to the hot store",
		Long: `Append one event to the day file of its UTC date and record it in the
index. A missing id or timestamp is generated.

Example:
  eventarchive append --type tool_call --session s1 --data '{"tool":"grep"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "event type (required)")
	cmd.Flags().StringVarP(&opts.SessionID, "session", "s", "", "session id")
	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "JSON object payload")
	cmd.Flags().StringVar(&opts.Timestamp, "timestamp", "", "RFC3339 timestamp (default now)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "event id (default generated)")
	cmd.Flags().BoolVar(&opts.Redacted, "redacted", false, "hide the event from default reads")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func buildEvent(opts *AppendOptions) (*types.EventRecord, error) {
	eventType, err := types.ParseEventType(opts.Type)
	if err != nil {
		return nil, err
	}
	rec := &types.EventRecord{
		ID:        opts.ID,
		SessionID: opts.SessionID,
		Type:      eventType,
		Redacted:  opts.Redacted,
	}
	if opts.Timestamp != "" {
		if rec.Timestamp, err = types.ParseInstant(opts.Timestamp); err != nil {
			return nil, err
		}
	}
	if opts.Data != "" {
		if err := json.Unmarshal([]byte(opts.Data), &rec.Data); err != nil {
			return nil, fmt.Errorf("--data must be a JSON object: %w", err)
		}
	}
	return rec, nil
}

func runAppend(cmd *cobra.Command, opts *AppendOptions) error {
	rec, err := buildEvent(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid event", err)
	}

	env, err := loadEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := cmd.Context()
	if err := env.store().Append(ctx, rec); err != nil {
		if arkerrors.GetCategory(err) == arkerrors.ErrCategoryValidation {
			return WrapExitError(ExitCommandError, "invalid event", err)
		}
		return WrapExitError(ExitFailure, "failed to append event", err)
	}

	// The hot file is authoritative; a stale index is repaired by rebuild-index.
	ix, err := env.openIndex(ctx)
	if err == nil {
		err = ix.BulkInsertEvents(ctx, []types.EventRecord{*rec})
		ix.Close()
	}
	if err != nil {
		env.logger.Warn("event appended but not indexed", zap.String("id", rec.ID), zap.Error(err))
	}

	return env.out.Success(rec, fmt.Sprintf("appended %s\n", rec.ID))
}
