package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkilian/eventarchive/internal/compaction"
	"github.com/arkilian/eventarchive/internal/config"
	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/internal/index"
	"github.com/arkilian/eventarchive/internal/observability"
	"github.com/arkilian/eventarchive/internal/storage"
)

// runtimeEnv is the loaded configuration plus the collaborators every
// command builds from it.
type runtimeEnv struct {
	cfg    *config.Config
	logger *zap.Logger
	out    *OutputFormatter
}

func loadEnv(cmd *cobra.Command, opts *RootOptions) (*runtimeEnv, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}

	return &runtimeEnv{
		cfg:    cfg,
		logger: logger,
		out:    &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
	}, nil
}

func (e *runtimeEnv) close() {
	_ = e.logger.Sync()
}

func (e *runtimeEnv) store() *eventstore.Store {
	return eventstore.New(e.cfg.EventsDir, eventstore.WithLogger(e.logger))
}

func (e *runtimeEnv) openIndex(ctx context.Context) (*index.Index, error) {
	return index.Open(ctx, e.cfg.IndexPath, index.WithLogger(e.logger))
}

// archiveStorage opens the configured archive backend.
func (e *runtimeEnv) archiveStorage(ctx context.Context) (storage.ObjectStorage, error) {
	if e.cfg.Storage.Type == config.StorageS3 {
		s3cfg := e.cfg.Storage.S3
		return storage.NewS3Storage(ctx, s3cfg.Bucket, storage.S3Config{
			Region:       s3cfg.Region,
			Endpoint:     s3cfg.Endpoint,
			UsePathStyle: s3cfg.UsePathStyle,
			Prefix:       s3cfg.Prefix,
		})
	}
	return storage.NewLocalStorage(e.cfg.ArchiveDir)
}

func (e *runtimeEnv) compactionOptions() compaction.Options {
	c := e.cfg.Compaction
	return compaction.Options{
		EventsDir:        e.cfg.EventsDir,
		ArchiveDir:       e.cfg.ArchiveDir,
		IndexPath:        e.cfg.IndexPath,
		CutoffDays:       c.CutoffDays,
		MaxPeriodsPerRun: c.MaxPeriodsPerRun,
		TopN:             c.TopN,
		SweepArchived:    c.SweepArchived,
	}
}

// compactor builds a compactor for the configured backend. A local archive
// is opened by each run so an idle run leaves the directory untouched.
func (e *runtimeEnv) compactor(ctx context.Context, opts ...compaction.Option) (*compaction.Compactor, error) {
	var archive storage.ObjectStorage
	if e.cfg.Storage.Type == config.StorageS3 {
		var err error
		if archive, err = e.archiveStorage(ctx); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open archive storage", err)
		}
	}
	opts = append([]compaction.Option{compaction.WithLogger(e.logger)}, opts...)
	return compaction.NewCompactor(archive, opts...), nil
}
