package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is one recorded sync pipeline run.
type Run struct {
	ID            string    `json:"id"`
	Community     string    `json:"community"`
	Target        string    `json:"target"`
	Success       bool      `json:"success"`
	FailedStep    string    `json:"failed_step,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	Error         string    `json:"error,omitempty"`
	Watermark     string    `json:"watermark,omitempty"`
	ImportDate    string    `json:"import_date,omitempty"`
	RemoteTotal   int64     `json:"remote_total"`
	SourceRecords int       `json:"source_records"`
	Inserted      int64     `json:"inserted"`
	Batches       int       `json:"batches"`
	Notified      int       `json:"notified"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Duration is the wall time the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Record stores a run. Recording the same ID twice is a no-op.
func (s *Store) Record(ctx context.Context, r Run) error {
	if r.ID == "" {
		return fmt.Errorf("record run: id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, community, target, success, failed_step, error_kind, error, watermark, import_date,
		 remote_total, source_records, inserted, batches, notified, started_at_ms, finished_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		r.Community,
		r.Target,
		r.Success,
		r.FailedStep,
		r.ErrorKind,
		r.Error,
		r.Watermark,
		r.ImportDate,
		r.RemoteTotal,
		r.SourceRecords,
		r.Inserted,
		r.Batches,
		r.Notified,
		r.StartedAt.UnixMilli(),
		r.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

const selectRuns = `
	SELECT id, community, target, success, failed_step, error_kind, error, watermark, import_date,
	       remote_total, source_records, inserted, batches, notified, started_at_ms, finished_at_ms
	FROM runs`

// List returns the most recent runs, newest first. An empty community lists
// every community; limit <= 0 means 50.
func (s *Store) List(ctx context.Context, community string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if community == "" {
		rows, err = s.db.QueryContext(ctx, selectRuns+`
			ORDER BY started_at_ms DESC, id DESC
			LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectRuns+`
			WHERE community = ?
			ORDER BY started_at_ms DESC, id DESC
			LIMIT ?`, community, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Last returns the newest run of a community, or ErrNotFound.
func (s *Store) Last(ctx context.Context, community string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+`
		WHERE community = ?
		ORDER BY started_at_ms DESC, id DESC
		LIMIT 1`, community)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                   Run
		startedMS, finishMS int64
	)
	err := sc.Scan(
		&r.ID,
		&r.Community,
		&r.Target,
		&r.Success,
		&r.FailedStep,
		&r.ErrorKind,
		&r.Error,
		&r.Watermark,
		&r.ImportDate,
		&r.RemoteTotal,
		&r.SourceRecords,
		&r.Inserted,
		&r.Batches,
		&r.Notified,
		&startedMS,
		&finishMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.StartedAt = time.UnixMilli(startedMS).UTC()
	r.FinishedAt = time.UnixMilli(finishMS).UTC()
	return r, nil
}
