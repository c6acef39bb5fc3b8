// Package loader aggregates raw remote records into per-debtor rows and
// writes them to the authoritative table in fixed-size multi-row INSERTs.
//
// Batches run sequentially in first-seen key order. When a batch fails, the
// earlier batches stay committed and the error is returned; the next full
// sync truncates the table before loading again.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/debtsync/internal/ledger"
	"github.com/roach88/debtsync/internal/metrics"
	"github.com/roach88/debtsync/internal/task"
)

// BatchSize is the number of rows per INSERT statement. With RowWidth
// placeholders per row a batch binds 8000 parameters.
const BatchSize = 1000

// RowWidth is the number of values bound per debtor row.
const RowWidth = 8

// Columns of the authoritative debtor table, in bind order.
var Columns = [RowWidth]string{
	"edrpou",
	"name",
	"date",
	"non_residential_debt",
	"residential_debt",
	"land_debt",
	"rent_debt",
	"mpz",
}

// ReasonNothingToInsert is reported when Load receives no records.
const ReasonNothingToInsert = "nothing to insert"

// Report describes one Load.
type Report struct {
	SourceRecords int    `json:"source_records"`
	Debtors       int    `json:"debtors"`
	Inserted      int64  `json:"inserted"`
	Batches       int    `json:"batches"`
	UnknownCodes  int    `json:"unknown_codes"`
	Skipped       bool   `json:"skipped,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Loader writes aggregated debtors through an Executor.
type Loader struct {
	exec      ledger.Executor
	table     string
	batchSize int
	logger    *slog.Logger
}

// New creates a loader for the given table, e.g. "debtors" or "public.debtors".
func New(exec ledger.Executor, table string, logger *slog.Logger) (*Loader, error) {
	quoted, err := ledger.QuoteQualified(table)
	if err != nil {
		return nil, fmt.Errorf("loader table: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		exec:      exec,
		table:     quoted,
		batchSize: BatchSize,
		logger:    logger,
	}, nil
}

// Load aggregates records and inserts them batch by batch.
//
// Empty input returns a skipped Report and a nil error without touching the
// store. On a batch failure the Report counts only the committed batches.
func (l *Loader) Load(ctx context.Context, records []task.RawRecord) (Report, error) {
	report := Report{SourceRecords: len(records)}
	if len(records) == 0 {
		report.Skipped = true
		report.Reason = ReasonNothingToInsert
		l.logger.Info("bulk load skipped", "reason", report.Reason)
		return report, nil
	}

	agg, err := Aggregate(records, l.logger)
	if err != nil {
		return report, err
	}
	report.Debtors = len(agg.Debtors)
	report.UnknownCodes = agg.Unknown

	batches := Partition(agg.Debtors, l.batchSize)
	for i, batch := range batches {
		start := time.Now()
		n, err := l.exec.Exec(ctx, InsertStatement(l.table, len(batch)), BatchArgs(batch)...)
		if err != nil {
			l.logger.Error("batch insert failed",
				"batch", i+1,
				"batches", len(batches),
				"rows", len(batch),
				"committed", report.Inserted,
				"error", err,
			)
			return report, fmt.Errorf("insert batch %d of %d: %w", i+1, len(batches), err)
		}

		metrics.LoaderBatchDuration.Observe(time.Since(start).Seconds())
		metrics.LoaderBatches.Inc()
		metrics.LoaderRowsInserted.Add(float64(n))

		report.Inserted += n
		report.Batches++
		l.logger.Debug("batch inserted", "batch", i+1, "batches", len(batches), "rows", n)
	}

	l.logger.Info("bulk load complete",
		"source_records", report.SourceRecords,
		"debtors", report.Debtors,
		"inserted", report.Inserted,
		"batches", report.Batches,
		"unknown_codes", report.UnknownCodes,
	)
	return report, nil
}

// InsertStatement builds a multi-row INSERT for rows debtors into a quoted table.
func InsertStatement(table string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(Columns[:], ", "))
	b.WriteString(") VALUES ")

	param := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < RowWidth; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(param))
			param++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// BatchArgs flattens a batch into bind values in Columns order.
func BatchArgs(batch []Debtor) []any {
	args := make([]any, 0, len(batch)*RowWidth)
	for i := range batch {
		d := &batch[i]
		var date any
		if !d.Date.IsZero() {
			date = d.Date.String()
		}
		args = append(args,
			d.Key.IPN,
			d.Key.Name,
			date,
			d.Buckets[NonResidential].String(),
			d.Buckets[Residential].String(),
			d.Buckets[Land].String(),
			d.Buckets[Rent].String(),
			d.Buckets[MinimumTax].String(),
		)
	}
	return args
}
