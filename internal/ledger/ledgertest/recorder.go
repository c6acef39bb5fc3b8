// Package ledgertest provides an in-memory ledger.Executor that records
// every statement and can be scripted to fail.
package ledgertest

import (
	"context"
	"strings"
	"sync"

	"github.com/roach88/debtsync/internal/ledger"
)

// Statement is one recorded call.
type Statement struct {
	Query bool // true for Query, false for Exec
	SQL   string
	Args  []any
}

// Recorder is a scriptable ledger.Executor.
//
// Exec reports one affected row per bound row of an INSERT (args/RowWidth
// when RowWidth is set) and zero otherwise, unless Affected overrides it.
type Recorder struct {
	mu         sync.Mutex
	statements []Statement

	// RowWidth divides INSERT args to compute affected rows.
	RowWidth int

	// Rows maps a statement prefix to the rows Query returns for it.
	Rows map[string][]ledger.Row

	// FailOn returns a non-nil error to fail the n-th Exec (1-based) or Query.
	FailOn func(n int, stmt string) error

	// Affected, when set, overrides the rows-affected count for Exec.
	Affected func(stmt string, args []any) int64

	calls int
}

// New creates a recorder whose INSERTs bind width values per row.
func New(width int) *Recorder {
	return &Recorder{RowWidth: width, Rows: make(map[string][]ledger.Row)}
}

// Exec implements ledger.Executor.
func (r *Recorder) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.FailOn != nil {
		if err := r.FailOn(r.calls, stmt); err != nil {
			return 0, err
		}
	}
	r.statements = append(r.statements, Statement{SQL: stmt, Args: args})

	if r.Affected != nil {
		return r.Affected(stmt, args), nil
	}
	if r.RowWidth > 0 && strings.HasPrefix(stmt, "INSERT") {
		return int64(len(args) / r.RowWidth), nil
	}
	return 0, nil
}

// Query implements ledger.Executor.
func (r *Recorder) Query(ctx context.Context, stmt string, args ...any) ([]ledger.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.FailOn != nil {
		if err := r.FailOn(r.calls, stmt); err != nil {
			return nil, err
		}
	}
	r.statements = append(r.statements, Statement{Query: true, SQL: stmt, Args: args})

	for prefix, rows := range r.Rows {
		if strings.HasPrefix(stmt, prefix) {
			return rows, nil
		}
	}
	return nil, nil
}

// Statements returns a copy of everything recorded so far.
func (r *Recorder) Statements() []Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Statement, len(r.statements))
	copy(out, r.statements)
	return out
}

// Inserts returns the recorded INSERT statements in order.
func (r *Recorder) Inserts() []Statement {
	var out []Statement
	for _, s := range r.Statements() {
		if strings.HasPrefix(s.SQL, "INSERT") {
			out = append(out, s)
		}
	}
	return out
}

// Verbs returns the first word of every recorded statement, e.g. TRUNCATE, INSERT, CALL.
func (r *Recorder) Verbs() []string {
	var out []string
	for _, s := range r.Statements() {
		verb, _, _ := strings.Cut(s.SQL, " ")
		out = append(out, verb)
	}
	return out
}
