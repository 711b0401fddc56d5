// Package server coordinates the lifecycle of the compaction daemon: signal
// handling, in-flight request draining and ordered resource cleanup.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Config holds lifecycle timeouts.
type Config struct {
	// ShutdownTimeout bounds the whole shutdown sequence
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests
	DrainTimeout time.Duration
}

// DefaultConfig returns the default lifecycle configuration.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// Lifecycle tracks in-flight requests and closes registered resources in
// reverse registration order when the daemon stops.
type Lifecycle struct {
	config Config
	logger *zap.Logger

	stopping atomic.Bool
	inFlight atomic.Int64
	stopCh   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	closers []namedCloser
}

// New creates a Lifecycle. Zero timeouts take the defaults.
func New(config Config, logger *zap.Logger) *Lifecycle {
	defaults := DefaultConfig()
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = defaults.DrainTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Register adds a resource closed on shutdown.
func (l *Lifecycle) Register(name string, closer io.Closer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closers = append(l.closers, namedCloser{name: name, closer: closer})
}

// Wait blocks until SIGINT or SIGTERM arrives, ctx ends, or Shutdown is called
// elsewhere, then shuts down.
func (l *Lifecycle) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return l.Shutdown(context.Background(), "signal "+sig.String())
	case <-ctx.Done():
		return l.Shutdown(context.Background(), "context done")
	case <-l.stopCh:
		return nil
	}
}

// Shutdown stops accepting requests, drains in-flight ones and closes every
// registered resource. Only the first call does any work.
func (l *Lifecycle) Shutdown(ctx context.Context, reason string) error {
	var result error

	l.once.Do(func() {
		l.stopping.Store(true)
		close(l.stopCh)
		l.logger.Info("shutting down", zap.String("reason", reason))

		ctx, cancel := context.WithTimeout(ctx, l.config.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := l.drain(ctx); err != nil {
			errs = append(errs, err)
		}

		l.mu.Lock()
		closers := append([]namedCloser(nil), l.closers...)
		l.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			c := closers[i]
			if err := c.closer.Close(); err != nil {
				l.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}

		result = errors.Join(errs...)
		l.logger.Info("shutdown complete")
	})

	return result
}

func (l *Lifecycle) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for l.inFlight.Load() > 0 {
		select {
		case <-ctx.Done():
			if n := l.inFlight.Load(); n > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight requests", n)
			}
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// Stopping reports whether shutdown has begun.
func (l *Lifecycle) Stopping() bool {
	return l.stopping.Load()
}

// InFlight returns the number of tracked requests.
func (l *Lifecycle) InFlight() int64 {
	return l.inFlight.Load()
}

// Done is closed when shutdown begins.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.stopCh
}

// Middleware tracks requests and rejects new ones once shutdown has begun.
func (l *Lifecycle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.stopping.Load() {
			w.Header().Set("Connection", "close")
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		l.inFlight.Add(1)
		defer l.inFlight.Add(-1)
		next.ServeHTTP(w, r)
	})
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}

// Serve runs srv on ln until shutdown, registering srv so Shutdown stops it.
// It returns nil when the server was stopped by Shutdown.
func (l *Lifecycle) Serve(srv *http.Server, ln net.Listener) error {
	l.Register("http", CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}))

	l.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on srv.Addr and calls Serve.
func (l *Lifecycle) ListenAndServe(srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return l.Serve(srv, ln)
}
