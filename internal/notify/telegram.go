// Package notify fans a sync summary out to Telegram subscribers.
//
// Delivery is best effort: every endpoint is attempted once, failures are
// counted and logged, and nothing is retried.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/debtsync/internal/metrics"
)

// Defaults applied by NewTelegram for zero Config fields.
const (
	DefaultAPIBaseURL     = "https://api.telegram.org"
	DefaultRatePerSecond  = 25
	DefaultConcurrency    = 8
	DefaultRequestTimeout = 10 * time.Second
)

// Config configures the Telegram sender.
type Config struct {
	Token          string
	APIBaseURL     string
	RatePerSecond  float64
	Concurrency    int
	RequestTimeout time.Duration
}

// Failure is one endpoint that did not accept the message.
type Failure struct {
	Endpoint string
	Err      error
}

// Report is the settled outcome of one fan-out.
type Report struct {
	Attempted int
	Delivered int
	Failures  []Failure
}

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Telegram sender.
type Option func(*Telegram)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Telegram) {
		t.client = c
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(t *Telegram) {
		t.logger = l
	}
}

// NewTelegram creates a sender. It is disabled when cfg.Token is empty.
func NewTelegram(cfg Config, opts ...Option) *Telegram {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	t := &Telegram{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(1, int(cfg.RatePerSecond))),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Enabled reports whether a bot token is configured.
func (t *Telegram) Enabled() bool {
	return t.cfg.Token != ""
}

// Deliver sends text to every endpoint concurrently and waits for all
// attempts to settle. One endpoint's failure never cancels the others.
func (t *Telegram) Deliver(ctx context.Context, endpoints []string, text string) Report {
	report := Report{Attempted: len(endpoints)}
	if len(endpoints) == 0 {
		return report
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(t.cfg.Concurrency)

	for _, endpoint := range endpoints {
		g.Go(func() error {
			err := t.deliverOne(ctx, endpoint, text)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.NotifyDeliveries.WithLabelValues("failed").Inc()
				report.Failures = append(report.Failures, Failure{Endpoint: endpoint, Err: err})
				t.logger.Warn("notification failed", "endpoint", endpoint, "error", err)
				return nil
			}
			metrics.NotifyDeliveries.WithLabelValues("delivered").Inc()
			report.Delivered++
			return nil
		})
	}
	_ = g.Wait() // goroutines never return an error

	t.logger.Info("notifications settled",
		"attempted", report.Attempted,
		"delivered", report.Delivered,
		"failed", len(report.Failures),
	)
	return report
}

func (t *Telegram) deliverOne(ctx context.Context, chatID, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()
	return t.Send(ctx, chatID, text)
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// Send posts one message to one chat.
func (t *Telegram) Send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIBaseURL, t.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// *url.Error carries the full URL, which contains the token.
		return fmt.Errorf("send message: %s", t.redact(err.Error()))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var api apiResponse
	decodeErr := json.Unmarshal(raw, &api)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && api.Description != "" {
			return fmt.Errorf("telegram %d: %s", resp.StatusCode, api.Description)
		}
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if !api.OK {
		return fmt.Errorf("telegram rejected message: %s", api.Description)
	}
	return nil
}

func (t *Telegram) redact(s string) string {
	if t.cfg.Token == "" {
		return s
	}
	return strings.ReplaceAll(s, t.cfg.Token, "<redacted>")
}
