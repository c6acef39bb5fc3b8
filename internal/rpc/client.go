package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/debtsync/internal/metrics"
	"github.com/roach88/debtsync/internal/task"
)

// Client issues request/reply calls over a Transport.
//
// Each Call registers a pending entry keyed by a fresh correlation token,
// publishes the envelope, and blocks until exactly one of:
//  1. a reply with the same token arrives (resolves with the decoded Result),
//  2. the call deadline passes (timeout Error),
//  3. the transport fails or the client closes (protocol Error).
//
// Caller context cancellation is a fourth, caller-initiated resolution
// (canceled Error, or timeout if the context deadline passed).
//
// The client never retries. Replies for tokens that are no longer pending
// are logged as orphaned and dropped.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	transport Transport
	tokens    TokenGenerator
	pending   *registry
	logger    *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithTokenGenerator overrides the correlation token source (default UUIDv7).
func WithTokenGenerator(g TokenGenerator) Option {
	return func(c *Client) {
		c.tokens = g
	}
}

// WithLogger sets the client logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client and starts its reply dispatcher.
// Call Close to stop the dispatcher; the transport is not closed.
func New(t Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		tokens:    UUIDv7Generator{},
		pending:   newRegistry(),
		logger:    slog.Default(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.dispatch()
	return c
}

// Call publishes a task and waits for its correlated reply.
//
// A reply with success=false is returned as a Result with a nil error.
func (c *Client) Call(ctx context.Context, name task.Name, payload any, timeout time.Duration) (task.Result, error) {
	if timeout <= 0 {
		return task.Result{}, fmt.Errorf("call %s: timeout must be positive, got %v", name, timeout)
	}

	id := c.tokens.Generate()
	env, err := task.NewEnvelope(name, payload, id, timeout)
	if err != nil {
		return task.Result{}, err
	}

	// Register before publishing: a fast worker may reply before Publish returns.
	pc, err := c.pending.add(id, name, timeout)
	if err != nil {
		return task.Result{}, newProtocolError(name, id, "register call", err)
	}

	c.logger.Debug("rpc call", "task", name, "correlation_id", id, "timeout", timeout)

	if err := c.transport.Publish(ctx, env); err != nil {
		c.pending.resolve(id, outcome{err: newProtocolError(name, id, "publish failed", err)})
	}

	var o outcome
	select {
	case o = <-pc.ch:
	case <-ctx.Done():
		kind := KindCanceled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		c.pending.resolve(id, outcome{err: &Error{
			Kind:          kind,
			Task:          name,
			CorrelationID: id,
			Message:       "caller context done",
			Err:           ctx.Err(),
		}})
		// Whichever resolution removed the entry has sent exactly one outcome.
		o = <-pc.ch
	}

	c.observe(name, id, pc.started, o.err)
	if o.err != nil {
		return task.Result{}, o.err
	}
	return o.result, nil
}

// Pending returns the number of calls awaiting a reply.
func (c *Client) Pending() int {
	return c.pending.len()
}

// Close stops the dispatcher and fails all pending calls with ErrClosed.
// Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
	return nil
}

// dispatch routes replies to pending calls until the client closes or the
// transport's reply channel closes.
func (c *Client) dispatch() {
	defer close(c.done)

	replies := c.transport.Replies()
	for {
		select {
		case <-c.stop:
			c.pending.closeAll(ErrClosed)
			return

		case rep, ok := <-replies:
			if !ok {
				cause := c.transport.Err()
				if cause == nil {
					cause = ErrClosed
				}
				c.logger.Error("rpc reply channel closed", "error", cause, "pending", c.pending.len())
				c.pending.closeAll(cause)
				return
			}
			c.deliver(rep)
		}
	}
}

// deliver resolves the pending call matching rep, if any.
func (c *Client) deliver(rep Reply) {
	if rep.CorrelationID == "" {
		c.orphan(rep, "missing correlation id")
		return
	}

	var o outcome
	result, err := task.DecodeResult(rep.Body)
	if err != nil {
		o.err = newProtocolError("", rep.CorrelationID, "malformed reply", err)
	} else {
		o.result = result
	}

	if !c.pending.resolve(rep.CorrelationID, o) {
		c.orphan(rep, "no pending call")
	}
}

func (c *Client) orphan(rep Reply, reason string) {
	metrics.RPCOrphanedReplies.Inc()
	c.logger.Warn("orphaned rpc reply",
		"correlation_id", rep.CorrelationID,
		"reason", reason,
		"bytes", len(rep.Body),
	)
}

func (c *Client) observe(name task.Name, id string, started time.Time, err error) {
	label := "ok"
	var re *Error
	if errors.As(err, &re) {
		label = strings.ToLower(string(re.Kind))
		if re.Task == "" {
			re.Task = name
		}
	} else if err != nil {
		label = "error"
	}
	metrics.RPCCalls.WithLabelValues(string(name), label).Inc()
	metrics.RPCDuration.WithLabelValues(string(name)).Observe(time.Since(started).Seconds())

	if err != nil {
		c.logger.Debug("rpc call failed", "task", name, "correlation_id", id, "error", err)
	}
}
