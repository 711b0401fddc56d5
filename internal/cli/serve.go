package cli

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apihttp "github.com/arkilian/eventarchive/internal/api/http"
	"github.com/arkilian/eventarchive/internal/compaction"
	"github.com/arkilian/eventarchive/internal/observability"
	"github.com/arkilian/eventarchive/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the compaction daemon and its HTTP API",
		Long: `Run compaction every check interval and serve health, metrics, manual
compaction and read endpoints until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer env.close()
			if addr != "" {
				env.cfg.HTTP.Addr = addr
			}
			return runServe(cmd.Context(), env)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")

	return cmd
}

func runServe(ctx context.Context, env *runtimeEnv) error {
	cfg, logger := env.cfg, env.logger
	if err := cfg.EnsureDirectories(); err != nil {
		return WrapExitError(ExitCommandError, "failed to create directories", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := env.compactor(ctx, compaction.WithMetrics(observability.NewCompactionMetrics(registry)))
	if err != nil {
		return err
	}
	daemon := compaction.NewDaemon(compaction.DaemonConfig{
		Options:       env.compactionOptions(),
		CheckInterval: cfg.Compaction.CheckInterval,
		Backoff:       compaction.DefaultBackoffConfig(),
	}, c, logger)

	lifecycle := server.New(server.DefaultConfig(), logger)

	router := apihttp.NewRouter(apihttp.Deps{
		Compactor:  daemon,
		Store:      env.store(),
		IndexPath:  cfg.IndexPath,
		Gatherer:   registry,
		Logger:     logger,
		Middleware: []func(http.Handler) http.Handler{lifecycle.Middleware},
	})
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	if err := daemon.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start daemon", err)
	}
	lifecycle.Register("daemon", server.CloserFunc(daemon.Stop))
	logger.Info("compaction daemon started",
		zap.Duration("check_interval", cfg.Compaction.CheckInterval),
		zap.Int("cutoff_days", cfg.Compaction.CutoffDays),
		zap.String("storage", cfg.Storage.Type))

	serveErr := make(chan error, 1)
	go func() {
		if err := lifecycle.ListenAndServe(srv); err != nil {
			logger.Error("http server failed", zap.Error(err))
			serveErr <- err
			_ = lifecycle.Shutdown(context.Background(), "http server failed")
		}
	}()

	if err := lifecycle.Wait(ctx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	select {
	case err := <-serveErr:
		return WrapExitError(ExitFailure, "http server failed", err)
	default:
		return nil
	}
}
