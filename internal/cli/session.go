package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/debtsync/internal/broker"
	"github.com/roach88/debtsync/internal/config"
	"github.com/roach88/debtsync/internal/gateway"
	"github.com/roach88/debtsync/internal/ledger"
	"github.com/roach88/debtsync/internal/loader"
	"github.com/roach88/debtsync/internal/notify"
	"github.com/roach88/debtsync/internal/orchestrator"
	"github.com/roach88/debtsync/internal/rpc"
	"github.com/roach88/debtsync/internal/runlog"
)

// Deps overrides the production connections. Nil fields use the real
// AMQP broker, PostgreSQL and Telegram.
type Deps struct {
	Transport  rpc.Transport
	Ledger     ledger.Executor
	Tokens     rpc.TokenGenerator
	Clock      orchestrator.Clock
	HTTPClient *http.Client
}

// session holds what one command invocation opened. Resources are created
// on first use and closed in reverse order by Close.
type session struct {
	opts   *RootOptions
	cfg    config.Config
	logger *slog.Logger

	rpc     *rpc.Client
	exec    ledger.Executor
	history *runlog.Store
	closers []io.Closer
}

func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	path := opts.ConfigPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}

	cfg, err := config.Load(path, opts.EnvFiles...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closer := newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr())
	return &session{
		opts:    opts,
		cfg:     cfg,
		logger:  logger,
		closers: []io.Closer{closer},
	}, nil
}

func (s *session) deps() Deps {
	if s.opts.Deps == nil {
		return Deps{}
	}
	return *s.opts.Deps
}

// Close releases everything the session opened.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *session) gateway(ctx context.Context) (*gateway.Client, error) {
	if s.rpc == nil {
		t := s.deps().Transport
		if t == nil {
			if err := s.cfg.RequireBroker(); err != nil {
				return nil, err
			}
			amqpT, err := broker.Dial(ctx, broker.Config{
				URL:         s.cfg.Broker.URL,
				WorkQueue:   s.cfg.Broker.WorkQueue,
				DialTimeout: s.cfg.Broker.DialTimeout,
				Name:        "debtsync",
			}, s.logger)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, amqpT)
			t = amqpT
		}

		opts := []rpc.Option{rpc.WithLogger(s.logger)}
		if g := s.deps().Tokens; g != nil {
			opts = append(opts, rpc.WithTokenGenerator(g))
		}
		s.rpc = rpc.New(t, opts...)
		s.closers = append(s.closers, s.rpc)
	}
	return gateway.New(s.rpc, s.logger), nil
}

func (s *session) ledger(ctx context.Context) (ledger.Executor, error) {
	if s.exec != nil {
		return s.exec, nil
	}
	if exec := s.deps().Ledger; exec != nil {
		s.exec = exec
		return exec, nil
	}

	if err := s.cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	db, err := ledger.Open(ctx, s.cfg.Database.DSN, s.cfg.Database.MaxOpenConns, s.logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, db)
	s.exec = db
	return db, nil
}

// runHistory opens the local run history, or returns nil when it is disabled
// by an empty history.path.
func (s *session) runHistory() (*runlog.Store, error) {
	if s.history != nil || s.cfg.History.Path == "" {
		return s.history, nil
	}
	st, err := runlog.Open(s.cfg.History.Path)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, st)
	s.history = st
	return st, nil
}

func (s *session) notifier() *notify.Telegram {
	opts := []notify.Option{notify.WithLogger(s.logger)}
	if c := s.deps().HTTPClient; c != nil {
		opts = append(opts, notify.WithHTTPClient(c))
	}
	n := s.cfg.Notify
	return notify.NewTelegram(notify.Config{
		Token:          n.TelegramToken,
		APIBaseURL:     n.APIBaseURL,
		RatePerSecond:  n.RatePerSecond,
		Concurrency:    n.Concurrency,
		RequestTimeout: n.RequestTimeout,
	}, opts...)
}

// orchestrator wires the full pipeline.
func (s *session) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	gw, err := s.gateway(ctx)
	if err != nil {
		return nil, err
	}
	exec, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	ld, err := loader.New(exec, s.cfg.Sync.Table, s.logger)
	if err != nil {
		return nil, err
	}
	hist, err := s.runHistory()
	if err != nil {
		return nil, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(s.logger),
		orchestrator.WithNotifier(s.notifier()),
	}
	if hist != nil {
		opts = append(opts, orchestrator.WithRecorder(hist))
	}
	if c := s.deps().Clock; c != nil {
		opts = append(opts, orchestrator.WithClock(c))
	}
	if g := s.deps().Tokens; g != nil {
		opts = append(opts, orchestrator.WithRunIDs(g))
	}

	return orchestrator.New(gw, exec, ld, orchestrator.Config{
		Table:            s.cfg.Sync.Table,
		PromoteProcedure: s.cfg.Sync.PromoteProcedure,
		SubscribersQuery: s.cfg.Sync.SubscribersQuery,
		LockWait:         s.cfg.Sync.LockWait,
	}, opts...)
}
