package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/debtsync/internal/orchestrator"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <community>",
		Short: "Run the sync pipeline once for a community",
		Long: `Run the sync pipeline once: fetch the remote watermark and dataset,
truncate and reload the debtor table, promote it into the history ledger and
notify subscribers.

Example:
  debtsync sync kyiv
  debtsync sync kyiv --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, args[0], cmd)
		},
	}
}

func runSync(opts *RootOptions, community string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	s, err := openSession(cmd, opts)
	if err != nil {
		return f.CommandError("load config", err)
	}
	defer s.Close()

	orch, err := s.orchestrator(cmd.Context())
	if err != nil {
		return f.CommandError("connect", err)
	}

	res, err := orch.Run(cmd.Context(), community)
	if err != nil {
		return f.Fail("sync failed", err)
	}
	return f.Success(syncView{res})
}

type syncView struct {
	orchestrator.Result
}

func (v syncView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Synced %s\n", v.CommunityName)
	fmt.Fprintf(&b, "  run:              %s\n", v.RunID)
	fmt.Fprintf(&b, "  import date:      %s\n", v.ImportDate)
	fmt.Fprintf(&b, "  remote total:     %d\n", v.RemoteTotalCount)
	fmt.Fprintf(&b, "  source records:   %d\n", v.SourceRecords)
	fmt.Fprintf(&b, "  inserted debtors: %d (%d batches)\n", v.InsertedDebtors, v.Batches)
	fmt.Fprintf(&b, "  notified:         %d\n", v.Notified)
	fmt.Fprintf(&b, "  executed at:      %s", v.ExecutedAt.Format(time.RFC3339))
	return b.String()
}
