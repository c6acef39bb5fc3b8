// Package rpctest provides an in-memory rpc.Transport with scriptable workers.
//
// Example:
//
//	b := rpctest.NewBroker()
//	b.Handle(task.NameQueryDatabase, rpctest.RespondData(task.SumsData{Date: "2024-01-01"}))
//	client := rpc.New(b)
//	defer client.Close()
package rpctest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/roach88/debtsync/internal/rpc"
	"github.com/roach88/debtsync/internal/task"
)

// Worker handles one published envelope. It may reply zero or more times
// through r, synchronously or from another goroutine.
type Worker func(env task.Envelope, r *Replier)

// Broker is an in-memory Transport. Workers run on their own goroutine per
// published envelope; envelopes for task names with no worker are dropped.
type Broker struct {
	mu        sync.Mutex
	workers   map[task.Name]Worker
	published []task.Envelope
	replies   chan rpc.Reply
	closed    bool
	err       error

	// PublishErr, when set, makes every Publish fail with it.
	PublishErr error
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		workers: make(map[task.Name]Worker),
		replies: make(chan rpc.Reply, 64),
	}
}

// Handle installs the worker for a task name, replacing any previous one.
func (b *Broker) Handle(name task.Name, w Worker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workers[name] = w
}

// Publish implements rpc.Transport.
func (b *Broker) Publish(ctx context.Context, env task.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.PublishErr != nil {
		err := b.PublishErr
		b.mu.Unlock()
		return err
	}
	b.published = append(b.published, env)
	w := b.workers[env.TaskName]
	b.mu.Unlock()

	if w != nil {
		go w(env, &Replier{broker: b, correlationID: env.CorrelationID})
	}
	return nil
}

// Replies implements rpc.Transport.
func (b *Broker) Replies() <-chan rpc.Reply {
	return b.replies
}

// Err implements rpc.Transport.
func (b *Broker) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Fail simulates a transport failure: the reply channel closes with cause.
func (b *Broker) Fail(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.err = cause
	close(b.replies)
}

// Published returns a copy of every envelope published so far.
func (b *Broker) Published() []task.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]task.Envelope, len(b.published))
	copy(out, b.published)
	return out
}

// Send injects a raw reply as if a worker had published it.
// Replies sent after Fail are dropped.
func (b *Broker) Send(correlationID string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.replies <- rpc.Reply{CorrelationID: correlationID, Body: body}
}

// Replier answers one envelope.
type Replier struct {
	broker        *Broker
	correlationID string
}

// CorrelationID is the token of the envelope being answered.
func (r *Replier) CorrelationID() string {
	return r.correlationID
}

// Reply sends a structured result for the envelope.
func (r *Replier) Reply(result task.Result) {
	body, err := json.Marshal(result)
	if err != nil {
		panic(err)
	}
	r.broker.Send(r.correlationID, body)
}

// ReplyRaw sends an arbitrary body for the envelope.
func (r *Replier) ReplyRaw(body []byte) {
	r.broker.Send(r.correlationID, body)
}

// Respond returns a worker that replies once with result.
func Respond(result task.Result) Worker {
	return func(_ task.Envelope, r *Replier) {
		r.Reply(result)
	}
}

// RespondData returns a worker that replies once with success and data.
func RespondData(data any) Worker {
	result, err := task.Succeeded(data)
	if err != nil {
		panic(err)
	}
	return Respond(result)
}

// RespondAfter returns a worker that replies with result after d.
func RespondAfter(d time.Duration, result task.Result) Worker {
	return func(_ task.Envelope, r *Replier) {
		time.Sleep(d)
		r.Reply(result)
	}
}

// Silent returns a worker that never replies.
func Silent() Worker {
	return func(task.Envelope, *Replier) {}
}
