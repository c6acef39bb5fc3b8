package rpc

import (
	"context"

	"github.com/roach88/debtsync/internal/task"
)

// Reply is a raw message received on the client's reply destination.
type Reply struct {
	CorrelationID string
	Body          []byte
}

// Transport carries envelopes to the work queue and replies back.
//
// Implementations tag each published message with the envelope's
// correlation id and the address of the channel returned by Replies, so the
// worker can answer without knowing anything about the caller.
type Transport interface {
	// Publish sends env to the work queue. It must not block past ctx.
	Publish(ctx context.Context, env task.Envelope) error

	// Replies delivers inbound replies. The channel is closed when the
	// transport fails or is closed; Err then reports the cause.
	Replies() <-chan Reply

	// Err returns the reason Replies was closed, or nil while open.
	Err() error
}
