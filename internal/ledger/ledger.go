// Package ledger is the query execution service for the authoritative store.
//
// Statements are plain SQL with positional placeholders ($1, $2, ...).
// Driver failures surface as *QueryError so callers can report the store's
// message, SQLSTATE code, detail and hint.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Row is one result row keyed by column name. []byte values are returned as string.
type Row map[string]any

// Executor runs parameterized statements.
type Executor interface {
	// Exec runs a statement and returns the number of rows affected.
	Exec(ctx context.Context, stmt string, args ...any) (int64, error)

	// Query runs a statement and returns all result rows.
	Query(ctx context.Context, stmt string, args ...any) ([]Row, error)
}

// QueryError is a statement failure reported by the store.
type QueryError struct {
	Message   string
	Code      string // SQLSTATE, empty when the driver gave none
	Detail    string
	Hint      string
	Statement string
	Err       error
}

func (e *QueryError) Error() string {
	var b strings.Builder
	b.WriteString("query failed")
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Detail != "" {
		b.WriteString("; detail: ")
		b.WriteString(e.Detail)
	}
	if e.Hint != "" {
		b.WriteString("; hint: ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsQueryError reports whether err is, or wraps, a *QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// DB is an Executor over database/sql.
//
// Thread-safety: safe for concurrent use; connections are pooled by database/sql.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", translate("", err))
	}
	return New(db, logger), nil
}

// New wraps an open *sql.DB. A nil logger means slog.Default().
func New(db *sql.DB, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{db: db, logger: logger}
}

// Exec implements Executor.
func (d *DB) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	res, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, translate(stmt, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	d.logger.Debug("statement executed", "rows", n, "args", len(args))
	return n, nil
}

// Query implements Executor.
func (d *DB) Query(ctx context.Context, stmt string, args ...any) ([]Row, error) {
	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, translate(stmt, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(stmt, err)
	}
	return out, nil
}

// Ping verifies the store is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return translate("", err)
	}
	return nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// translate converts driver errors into *QueryError. Context errors are kept
// as they are so callers can still match them with errors.Is.
func translate(stmt string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &QueryError{
			Message:   pqErr.Message,
			Code:      string(pqErr.Code),
			Detail:    pqErr.Detail,
			Hint:      pqErr.Hint,
			Statement: stmt,
			Err:       err,
		}
	}
	return &QueryError{Message: err.Error(), Statement: stmt, Err: err}
}

var identPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteQualified validates a possibly schema-qualified identifier such as
// "public.debtors" and returns it quoted for safe interpolation.
func QuoteQualified(name string) (string, error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("identifier %q: too many parts", name)
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		if !identPart.MatchString(p) {
			return "", fmt.Errorf("identifier %q: invalid part %q", name, p)
		}
		quoted[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(quoted, "."), nil
}
