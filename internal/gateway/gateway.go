// Package gateway is the typed client of the remote data worker.
//
// Every method is one RPC round trip with the task's fixed deadline. A reply
// with success=false becomes a *BusinessError; reply data that does not fit
// the task's schema becomes a protocol *rpc.Error.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/debtsync/internal/rpc"
	"github.com/roach88/debtsync/internal/task"
)

// Caller is the subset of *rpc.Client the gateway needs.
type Caller interface {
	Call(ctx context.Context, name task.Name, payload any, timeout time.Duration) (task.Result, error)
}

// BusinessError is a reply the worker marked as failed.
type BusinessError struct {
	Task    task.Name
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Task, e.Message)
}

// IsBusiness reports whether err is, or wraps, a *BusinessError.
func IsBusiness(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}

// Client calls the remote worker's tasks.
type Client struct {
	caller Caller
	logger *slog.Logger
}

// New creates a gateway client. A nil logger means slog.Default().
func New(caller Caller, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{caller: caller, logger: logger}
}

// FetchSums returns the remote watermark date and totals for a community.
func (c *Client) FetchSums(ctx context.Context, community string) (task.SumsData, error) {
	return call[task.SumsData](ctx, c, task.QueryDatabase{
		CommunityName: community,
		QueryType:     task.QueryGetSums,
	})
}

// FetchRecords returns every raw record of a community at the given date.
// Records is nil when the worker sent no record collection.
func (c *Client) FetchRecords(ctx context.Context, community, date string) (task.RecordsData, error) {
	return call[task.RecordsData](ctx, c, task.QueryDatabase{
		CommunityName: community,
		QueryType:     task.QueryAllByDate,
		Date:          date,
	})
}

// ProcessDebtorRegister asks the worker to rebuild the community's register.
func (c *Client) ProcessDebtorRegister(ctx context.Context, community string) (task.RegisterReport, error) {
	return call[task.RegisterReport](ctx, c, task.ProcessDebtorRegister{CommunityName: community})
}

// SendEmail asks the worker to mail the community's register.
func (c *Client) SendEmail(ctx context.Context, community string) (task.EmailReport, error) {
	return call[task.EmailReport](ctx, c, task.SendEmail{CommunityName: community})
}

// call runs req and decodes its reply data into T. A reply without data
// yields the zero T; callers decide whether that is acceptable.
func call[T any](ctx context.Context, c *Client, req task.Request) (T, error) {
	var out T

	res, err := c.caller.Call(ctx, req.TaskName(), req, req.Timeout())
	if err != nil {
		return out, err
	}

	if !res.Success {
		msg := res.ErrorText()
		if msg == "" {
			msg = "unknown error"
		}
		c.logger.Warn("task failed", "task", req.TaskName(), "error", msg)
		return out, &BusinessError{Task: req.TaskName(), Message: msg}
	}

	if !res.HasData() {
		return out, nil
	}
	if err := res.DecodeData(&out); err != nil {
		return out, &rpc.Error{
			Kind:    rpc.KindProtocol,
			Task:    req.TaskName(),
			Message: "reply data does not match task schema",
			Err:     err,
		}
	}
	return out, nil
}
