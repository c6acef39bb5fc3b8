package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/debtsync/internal/server"
)

const shutdownTimeout = 15 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr       string
	NoSchedule bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and HTTP API",
		Long: `Run as a service: sync every configured community on schedule.cron and
serve the HTTP API.

Endpoints:
  GET  /healthz
  GET  /metrics
  POST /v1/sync/{community}
  GET  /v1/runs?community=X&limit=N

Example:
  debtsync serve --config /etc/debtsync.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&opts.NoSchedule, "no-schedule", false, "serve the API without scheduled runs")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return f.CommandError("load config", err)
	}
	defer s.Close()
	logger := s.logger

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	orch, err := s.orchestrator(ctx)
	if err != nil {
		return f.CommandError("connect", err)
	}

	var history server.History
	if st, _ := s.runHistory(); st != nil {
		history = st
	}
	var health server.Pinger
	if p, ok := s.exec.(server.Pinger); ok {
		health = p
	}

	var sched *server.Scheduler
	if !opts.NoSchedule && s.cfg.Schedule.Cron != "" {
		if len(s.cfg.Sync.Communities) == 0 {
			logger.Warn("schedule set but sync.communities is empty")
		}
		sched, err = server.NewScheduler(s.cfg.Schedule.Cron, s.cfg.Sync.Communities, orch, logger)
		if err != nil {
			return f.CommandError("schedule", err)
		}
	}

	addr := s.cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return f.CommandError("listen", err)
	}
	srv := &http.Server{
		Handler:           server.NewAPI(orch, history, health, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", ln.Addr())
	logger.Info("server started", "addr", ln.Addr().String(), "target", orch.Target(), "scheduled", sched != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})
	if sched != nil {
		g.Go(func() error {
			sched.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}
