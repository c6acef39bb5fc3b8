package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/debtsync/internal/runlog"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Community string
	Limit     int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded sync runs",
		Long: `List sync runs recorded in the local run history, newest first.

Example:
  debtsync history --community kyiv --limit 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Community, "community", "", "only runs of this community")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum runs to list")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return f.CommandError("load config", err)
	}
	defer s.Close()

	st, err := s.runHistory()
	if err != nil {
		return f.CommandError("open run history", err)
	}
	if st == nil {
		return f.CommandError("open run history", errors.New("history.path is empty"))
	}

	runs, err := st.List(cmd.Context(), opts.Community, opts.Limit)
	if err != nil {
		return f.Fail("list runs failed", err)
	}
	return f.Success(historyView(runs))
}

type historyView []runlog.Run

func (v historyView) String() string {
	if len(v) == 0 {
		return "No runs recorded."
	}
	var b strings.Builder
	for i, r := range v {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark, outcome := "✓", fmt.Sprintf("inserted %d", r.Inserted)
		if !r.Success {
			mark, outcome = "✗", fmt.Sprintf("%s at %s: %s", r.ErrorKind, r.FailedStep, r.Error)
		}
		fmt.Fprintf(&b, "%s %s %-12s %s (%s) %s",
			mark, r.StartedAt.Format(time.RFC3339), r.Community, r.ID, r.Duration().Round(time.Millisecond), outcome)
	}
	return b.String()
}
