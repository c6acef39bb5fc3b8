package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/debtsync/internal/metrics"
	"github.com/roach88/debtsync/internal/notify"
	"github.com/roach88/debtsync/internal/task"
)

// run is the state of one pipeline execution. Steps fill it in order.
type run struct {
	o         *Orchestrator
	logger    *slog.Logger
	community string

	watermark string
	records   []task.RawRecord
	result    Result
}

// pipeline lists the fail-fast steps in execution order.
func (r *run) pipeline() []struct {
	step Step
	fn   func(context.Context) error
} {
	return []struct {
		step Step
		fn   func(context.Context) error
	}{
		{StepFetchWatermark, r.fetchWatermark},
		{StepFetchDataset, r.fetchDataset},
		{StepTruncate, r.truncate},
		{StepBulkLoad, r.bulkLoad},
		{StepPromote, r.promote},
	}
}

func (r *run) execute(ctx context.Context) error {
	for _, s := range r.pipeline() {
		if err := r.timed(ctx, s.step, s.fn); err != nil {
			return &StepError{Step: s.step, Community: r.community, Err: err}
		}
	}

	// best effort: the outcome is already decided
	_ = r.timed(ctx, StepNotify, func(ctx context.Context) error {
		r.notify(ctx)
		return nil
	})

	r.result.Success = true
	return nil
}

func (r *run) timed(ctx context.Context, step Step, fn func(context.Context) error) error {
	start := time.Now()
	r.logger.Info("step started", "step", step)

	err := fn(ctx)

	elapsed := time.Since(start)
	metrics.SyncStepDuration.WithLabelValues(string(step)).Observe(elapsed.Seconds())
	if err != nil {
		r.logger.Warn("step failed", "step", step, "duration", elapsed, "error", err)
		return err
	}
	r.logger.Info("step finished", "step", step, "duration", elapsed)
	return nil
}

// fetchWatermark asks the remote side for its latest date and totals.
func (r *run) fetchWatermark(ctx context.Context) error {
	sums, err := r.o.gateway.FetchSums(ctx, r.community)
	if err != nil {
		return err
	}
	if sums.Date == "" {
		return &ValidationError{Message: "remote watermark date missing"}
	}
	date, err := task.ParseDate(sums.Date)
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("remote watermark date unusable: %v", err)}
	}

	r.watermark = date.String()
	r.result.RemoteTotalCount = sums.TotalCount
	r.logger.Info("remote watermark", "watermark", r.watermark, "remote_total_count", sums.TotalCount)
	return nil
}

// fetchDataset pulls every raw record at the watermark. An empty dataset
// fails the run: the next steps would otherwise wipe the table for nothing.
func (r *run) fetchDataset(ctx context.Context) error {
	data, err := r.o.gateway.FetchRecords(ctx, r.community, r.watermark)
	if err != nil {
		return err
	}
	if data.Records == nil {
		return &ValidationError{Message: "reply has no record collection"}
	}
	if len(data.Records) == 0 {
		return &ValidationError{Message: "no data to sync"}
	}

	r.records = data.Records
	r.result.SourceRecords = len(data.Records)
	return nil
}

func (r *run) truncate(ctx context.Context) error {
	_, err := r.o.exec.Exec(ctx, r.o.truncateStmt)
	return err
}

func (r *run) bulkLoad(ctx context.Context) error {
	report, err := r.o.loader.Load(ctx, r.records)
	r.result.InsertedDebtors = report.Inserted
	r.result.Batches = report.Batches
	if err != nil {
		return err
	}
	r.logger.Info("bulk load",
		"source_records", report.SourceRecords,
		"inserted", report.Inserted,
		"batches", report.Batches,
		"unknown_codes", report.UnknownCodes,
	)
	return nil
}

// promote copies the loaded table into the history ledger under the import
// date: the first record's date, or today when it has none.
func (r *run) promote(ctx context.Context) error {
	date := r.records[0].Date
	if date.IsZero() {
		date = task.NewDate(r.o.clock.Now())
	}
	r.result.ImportDate = date.String()

	_, err := r.o.exec.Exec(ctx, r.o.promoteStmt, r.result.ImportDate)
	return err
}

// notify sends the summary to every subscriber. Failures are logged only.
func (r *run) notify(ctx context.Context) {
	n := r.o.notifier
	if n == nil || !n.Enabled() {
		r.logger.Info("notify skipped", "reason", "no delivery credential")
		return
	}

	endpoints, err := r.subscribers(ctx)
	if err != nil {
		r.logger.Warn("read subscribers failed", "error", err)
		return
	}
	if len(endpoints) == 0 {
		r.logger.Info("notify skipped", "reason", "no subscribers")
		return
	}

	text := notify.FormatSummary(notify.Summary{
		Community:       r.community,
		ImportDate:      r.result.ImportDate,
		RemoteTotal:     r.result.RemoteTotalCount,
		SourceRecords:   r.result.SourceRecords,
		InsertedDebtors: r.result.InsertedDebtors,
		ExecutedAt:      r.result.ExecutedAt,
	})

	report := n.Deliver(ctx, endpoints, text)
	r.result.Notified = report.Delivered
}

func (r *run) subscribers(ctx context.Context) ([]string, error) {
	rows, err := r.o.exec.Query(ctx, r.o.cfg.SubscribersQuery)
	if err != nil {
		return nil, err
	}

	endpoints := make([]string, 0, len(rows))
	for _, row := range rows {
		v, ok := row["chat_id"]
		if !ok || v == nil {
			continue
		}
		id := fmt.Sprint(v)
		if id == "" {
			continue
		}
		endpoints = append(endpoints, id)
	}
	return endpoints, nil
}

func observeRun(community, outcome string) {
	metrics.SyncRuns.WithLabelValues(community, outcome).Inc()
}
