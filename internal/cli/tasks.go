package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/debtsync/internal/gateway"
	"github.com/roach88/debtsync/internal/task"
)

// NewSumsCommand creates the sums command.
func NewSumsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sums <community>",
		Short: "Show the remote watermark and totals",
		Long: `Ask the remote worker for the latest register date of a community and
its record count and total debt. Nothing is written locally.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(rootOpts, cmd, "fetch sums", func(ctx context.Context, gw *gateway.Client) (any, error) {
				sums, err := gw.FetchSums(ctx, args[0])
				return sumsView{Community: args[0], SumsData: sums}, err
			})
		},
	}
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "register <community>",
		Short:         "Ask the worker to build the debtor register",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(rootOpts, cmd, "process register", func(ctx context.Context, gw *gateway.Client) (any, error) {
				rep, err := gw.ProcessDebtorRegister(ctx, args[0])
				return registerView{rep}, err
			})
		},
	}
}

// NewEmailCommand creates the email command.
func NewEmailCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "email <community>",
		Short:         "Ask the worker to email the debtor register",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(rootOpts, cmd, "send email", func(ctx context.Context, gw *gateway.Client) (any, error) {
				rep, err := gw.SendEmail(ctx, args[0])
				return emailView{rep}, err
			})
		},
	}
}

// runTask runs one gateway call and prints its reply.
func runTask(opts *RootOptions, cmd *cobra.Command, what string, call func(context.Context, *gateway.Client) (any, error)) error {
	f := newFormatter(opts, cmd)

	s, err := openSession(cmd, opts)
	if err != nil {
		return f.CommandError("load config", err)
	}
	defer s.Close()

	gw, err := s.gateway(cmd.Context())
	if err != nil {
		return f.CommandError("connect", err)
	}

	out, err := call(cmd.Context(), gw)
	if err != nil {
		return f.Fail(what+" failed", err)
	}
	return f.Success(out)
}

type sumsView struct {
	Community string `json:"community"`
	task.SumsData
}

func (v sumsView) String() string {
	debt := "-"
	if v.TotalDebt != nil {
		debt = v.TotalDebt.String()
	}
	return fmt.Sprintf("%s: date %s, %d records, total debt %s", v.Community, v.Date, v.TotalCount, debt)
}

type registerView struct {
	task.RegisterReport
}

func (v registerView) String() string {
	var parts []string
	if v.Message != "" {
		parts = append(parts, v.Message)
	}
	if v.Processed > 0 {
		parts = append(parts, fmt.Sprintf("%d processed", v.Processed))
	}
	if v.FileName != "" {
		parts = append(parts, "file "+v.FileName)
	}
	if len(parts) == 0 {
		return "✓ Register processed"
	}
	return "✓ " + strings.Join(parts, ", ")
}

type emailView struct {
	task.EmailReport
}

func (v emailView) String() string {
	msg := v.Message
	if msg == "" {
		msg = "Email sent"
	}
	if len(v.Recipients) == 0 {
		return "✓ " + msg
	}
	return fmt.Sprintf("✓ %s to %s", msg, strings.Join(v.Recipients, ", "))
}
