// Package orchestrator runs the debtor sync pipeline:
//
//	FetchWatermark -> FetchDataset -> Truncate -> BulkLoad -> Promote -> Notify
//
// The first five steps are fail-fast: the first error stops the run and is
// returned as a *StepError. Notify is best effort; its failures are logged
// and never change the outcome. Nothing is retried.
//
// Runs are serialized per target table with a Locker. Truncate is
// destructive and not undone: a failure after it leaves the table empty or
// partially loaded until the next successful run.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/debtsync/internal/ledger"
	"github.com/roach88/debtsync/internal/loader"
	"github.com/roach88/debtsync/internal/notify"
	"github.com/roach88/debtsync/internal/rpc"
	"github.com/roach88/debtsync/internal/runlog"
	"github.com/roach88/debtsync/internal/task"
)

// Step names one pipeline state.
type Step string

const (
	StepFetchWatermark Step = "fetch_watermark"
	StepFetchDataset   Step = "fetch_dataset"
	StepTruncate       Step = "truncate"
	StepBulkLoad       Step = "bulk_load"
	StepPromote        Step = "promote"
	StepNotify         Step = "notify"
)

// Defaults for Config fields left empty.
const (
	DefaultTable            = "debtors"
	DefaultPromoteProcedure = "copy_debtors_to_history"
	DefaultSubscribersQuery = "SELECT chat_id FROM telegram_subscribers"
)

// Gateway fetches remote data. Implemented by *gateway.Client.
type Gateway interface {
	FetchSums(ctx context.Context, community string) (task.SumsData, error)
	FetchRecords(ctx context.Context, community, date string) (task.RecordsData, error)
}

// BulkLoader writes raw records into the target table. Implemented by *loader.Loader.
type BulkLoader interface {
	Load(ctx context.Context, records []task.RawRecord) (loader.Report, error)
}

// Notifier delivers the run summary. Implemented by *notify.Telegram.
type Notifier interface {
	Enabled() bool
	Deliver(ctx context.Context, endpoints []string, text string) notify.Report
}

// RunRecorder stores run outcomes. Implemented by *runlog.Store.
type RunRecorder interface {
	Record(ctx context.Context, r runlog.Run) error
}

// Clock reports wall time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config names the store objects the pipeline touches.
type Config struct {
	// Table is the authoritative debtor table, truncated and reloaded each run.
	Table string

	// PromoteProcedure copies Table into the history ledger for one date.
	PromoteProcedure string

	// SubscribersQuery returns the notification endpoints in a chat_id column.
	SubscribersQuery string

	// LockWait is how long a run waits for a concurrent run on the same
	// table. Zero fails immediately with ErrRunInProgress.
	LockWait time.Duration
}

// Result is the outcome of a successful run.
type Result struct {
	RunID            string    `json:"run_id"`
	Success          bool      `json:"success"`
	CommunityName    string    `json:"community_name"`
	RemoteTotalCount int64     `json:"remote_total_count"`
	SourceRecords    int       `json:"source_records"`
	InsertedDebtors  int64     `json:"inserted_debtors"`
	ImportDate       string    `json:"import_date"`
	ExecutedAt       time.Time `json:"executed_at"`
	Notified         int       `json:"notified"`
	Batches          int       `json:"batches"`
}

// Orchestrator runs the sync pipeline.
//
// Thread-safety: Run may be called concurrently; runs on the same table are
// serialized by the Locker, runs on different tables proceed in parallel.
type Orchestrator struct {
	gateway  Gateway
	exec     ledger.Executor
	loader   BulkLoader
	notifier Notifier
	recorder RunRecorder
	locks    *Locker
	clock    Clock
	runIDs   rpc.TokenGenerator
	logger   *slog.Logger
	cfg      Config

	truncateStmt string
	promoteStmt  string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier enables the Notify step.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithRecorder records every run outcome.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithLocker shares a Locker between orchestrators (default: one per orchestrator).
func WithLocker(l *Locker) Option {
	return func(o *Orchestrator) {
		o.locks = l
	}
}

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithRunIDs overrides the run id generator (default UUIDv7).
func WithRunIDs(g rpc.TokenGenerator) Option {
	return func(o *Orchestrator) {
		o.runIDs = g
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an orchestrator. Table and procedure names are validated and
// quoted once here.
func New(gw Gateway, exec ledger.Executor, ld BulkLoader, cfg Config, opts ...Option) (*Orchestrator, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.PromoteProcedure == "" {
		cfg.PromoteProcedure = DefaultPromoteProcedure
	}
	if cfg.SubscribersQuery == "" {
		cfg.SubscribersQuery = DefaultSubscribersQuery
	}

	table, err := ledger.QuoteQualified(cfg.Table)
	if err != nil {
		return nil, fmt.Errorf("sync table: %w", err)
	}
	proc, err := ledger.QuoteQualified(cfg.PromoteProcedure)
	if err != nil {
		return nil, fmt.Errorf("promote procedure: %w", err)
	}

	o := &Orchestrator{
		gateway:      gw,
		exec:         exec,
		loader:       ld,
		locks:        NewLocker(),
		clock:        systemClock{},
		runIDs:       rpc.UUIDv7Generator{},
		logger:       slog.Default(),
		cfg:          cfg,
		truncateStmt: "TRUNCATE TABLE " + table + " RESTART IDENTITY",
		promoteStmt:  "CALL " + proc + "($1)",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Target returns the table this orchestrator refreshes.
func (o *Orchestrator) Target() string {
	return o.cfg.Table
}

// Run executes the pipeline for one community.
//
// On failure the error is a *StepError naming the failing step, or wraps
// ErrRunInProgress when another run holds the table.
func (o *Orchestrator) Run(ctx context.Context, community string) (Result, error) {
	logger := o.logger.With("community", community, "target", o.cfg.Table)

	release, err := o.locks.Acquire(ctx, o.cfg.Table, o.cfg.LockWait)
	if err != nil {
		logger.Warn("sync not started", "error", err)
		outcome := "in_progress"
		if Classify(err) != ClassInProgress {
			outcome = "lock_failed"
		}
		observeRun(community, outcome)
		return Result{}, fmt.Errorf("sync %s: %w", community, err)
	}
	defer release()

	r := &run{
		o:         o,
		logger:    logger,
		community: community,
		result: Result{
			RunID:         o.runIDs.Generate(),
			CommunityName: community,
			ExecutedAt:    o.clock.Now().UTC(),
		},
	}
	logger = logger.With("run_id", r.result.RunID)
	r.logger = logger

	logger.Info("sync started")
	err = r.execute(ctx)
	finished := o.clock.Now().UTC()

	o.record(ctx, r, err, finished)

	if err != nil {
		step, _ := FailedStep(err)
		observeRun(community, string(step))
		logger.Error("sync failed", "step", step, "class", Classify(err), "error", err)
		return Result{}, err
	}

	observeRun(community, "ok")
	logger.Info("sync complete",
		"remote_total_count", r.result.RemoteTotalCount,
		"source_records", r.result.SourceRecords,
		"inserted_debtors", r.result.InsertedDebtors,
		"batches", r.result.Batches,
		"import_date", r.result.ImportDate,
		"notified", r.result.Notified,
	)
	return r.result, nil
}

// record stores the run outcome. Failures are logged only.
func (o *Orchestrator) record(ctx context.Context, r *run, runErr error, finished time.Time) {
	if o.recorder == nil {
		return
	}

	entry := runlog.Run{
		ID:            r.result.RunID,
		Community:     r.community,
		Target:        o.cfg.Table,
		Success:       runErr == nil,
		Watermark:     r.watermark,
		ImportDate:    r.result.ImportDate,
		RemoteTotal:   r.result.RemoteTotalCount,
		SourceRecords: r.result.SourceRecords,
		Inserted:      r.result.InsertedDebtors,
		Batches:       r.result.Batches,
		Notified:      r.result.Notified,
		StartedAt:     r.result.ExecutedAt,
		FinishedAt:    finished,
	}
	if runErr != nil {
		step, _ := FailedStep(runErr)
		entry.FailedStep = string(step)
		entry.ErrorKind = Classify(runErr)
		entry.Error = runErr.Error()
	}

	// The run is over; record it even if the caller's context is done.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.recorder.Record(recCtx, entry); err != nil {
		r.logger.Warn("record run failed", "error", err)
	}
}
