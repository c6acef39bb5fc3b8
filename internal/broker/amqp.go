// Package broker implements rpc.Transport over AMQP 0-9-1 (RabbitMQ).
//
// Requests are published to a durable work queue through the default
// exchange. Each Transport declares one exclusive, server-named reply queue;
// every request carries that queue name in ReplyTo and the call's token in
// CorrelationId, which the worker copies onto its reply.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roach88/debtsync/internal/rpc"
	"github.com/roach88/debtsync/internal/task"
)

// DefaultWorkQueue is the queue the task worker consumes.
const DefaultWorkQueue = "tasks"

// ErrTransportClosed is reported by Err after Close.
var ErrTransportClosed = errors.New("amqp transport closed")

// Config configures the AMQP transport.
type Config struct {
	URL         string
	WorkQueue   string
	DialTimeout time.Duration
	Name        string // connection name shown in the management UI
}

// Transport is an rpc.Transport backed by one AMQP connection and channel.
//
// Thread-safety: Publish may be called concurrently; publishes are serialized.
type Transport struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	workQueue  string
	replyQueue string
	logger     *slog.Logger

	pubMu   sync.Mutex
	replies chan rpc.Reply

	mu  sync.Mutex
	err error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects, declares the work and reply queues, and starts consuming replies.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp dial: url is required")
	}
	if cfg.WorkQueue == "" {
		cfg.WorkQueue = DefaultWorkQueue
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "debtsync"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Dial:       amqp.DefaultDial(cfg.DialTimeout),
		Properties: amqp.Table{"connection_name": cfg.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp open channel: %w", err)
	}

	// durable, not auto-deleted: the worker owns the queue's lifetime
	if _, err := ch.QueueDeclare(cfg.WorkQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp declare work queue %q: %w", cfg.WorkQueue, err)
	}

	// server-named, exclusive, auto-deleted with the connection
	replyQ, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp declare reply queue: %w", err)
	}

	deliveries, err := ch.Consume(replyQ.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp consume reply queue: %w", err)
	}

	t := &Transport{
		conn:       conn,
		ch:         ch,
		workQueue:  cfg.WorkQueue,
		replyQueue: replyQ.Name,
		logger:     logger,
		replies:    make(chan rpc.Reply, 16),
		done:       make(chan struct{}),
	}
	go t.pump(deliveries, conn.NotifyClose(make(chan *amqp.Error, 1)))

	logger.Info("amqp transport ready", "work_queue", t.workQueue, "reply_queue", t.replyQueue)
	return t, nil
}

// Publish implements rpc.Transport.
func (t *Transport) Publish(ctx context.Context, env task.Envelope) error {
	msg, err := t.publishing(env)
	if err != nil {
		return err
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	if err := t.ch.PublishWithContext(ctx, "", t.workQueue, false, false, msg); err != nil {
		return fmt.Errorf("amqp publish %s: %w", env.TaskName, err)
	}
	return nil
}

// publishing builds the AMQP message for env.
func (t *Transport) publishing(env task.Envelope) (amqp.Publishing, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal envelope: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: env.CorrelationID,
		ReplyTo:       t.replyQueue,
		Type:          string(env.TaskName),
		Timestamp:     time.Now().UTC(),
		Body:          body,
	}
	// The broker drops the request once the caller has stopped waiting.
	if env.DeadlineMS > 0 {
		msg.Expiration = strconv.FormatInt(env.DeadlineMS, 10)
	}
	return msg, nil
}

// Replies implements rpc.Transport.
func (t *Transport) Replies() <-chan rpc.Reply {
	return t.replies
}

// Err implements rpc.Transport.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// ReplyQueue returns the server-assigned reply queue name.
func (t *Transport) ReplyQueue() string {
	return t.replyQueue
}

// Close closes the channel and connection. Safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if cerr := t.ch.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = cerr
		}
		if cerr := t.conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) && err == nil {
			err = cerr
		}
	})
	return err
}

// pump forwards deliveries to Replies until the consumer, the connection or
// the transport closes. It is the only writer and the only closer of t.replies.
func (t *Transport) pump(deliveries <-chan amqp.Delivery, connClosed <-chan *amqp.Error) {
	for {
		select {
		case <-t.done:
			t.fail(ErrTransportClosed)
			return

		case amqpErr, ok := <-connClosed:
			if ok && amqpErr != nil {
				t.fail(fmt.Errorf("amqp connection closed: %w", amqpErr))
			} else {
				t.fail(ErrTransportClosed)
			}
			return

		case d, ok := <-deliveries:
			if !ok {
				select {
				case <-t.done:
					t.fail(ErrTransportClosed)
				default:
					t.fail(errors.New("amqp reply consumer cancelled"))
				}
				return
			}
			select {
			case t.replies <- rpc.Reply{CorrelationID: d.CorrelationId, Body: d.Body}:
			case <-t.done:
				t.fail(ErrTransportClosed)
				return
			}
		}
	}
}

func (t *Transport) fail(cause error) {
	t.mu.Lock()
	t.err = cause
	t.mu.Unlock()
	close(t.replies)

	if !errors.Is(cause, ErrTransportClosed) {
		t.logger.Error("amqp transport failed", "error", cause)
	}
}
