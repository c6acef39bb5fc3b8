package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// botServer fakes the Bot API. Chats listed in reject get {"ok":false};
// chats listed in broken get HTTP 500.
type botServer struct {
	mu       sync.Mutex
	received map[string]string
	reject   map[string]bool
	broken   map[string]bool
	delay    time.Duration
	inflight atomic.Int32
	peak     atomic.Int32
}

func newBotServer(t *testing.T, s *botServer) *httptest.Server {
	t.Helper()
	s.received = make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/botTOKEN/") {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}

		n := s.inflight.Add(1)
		defer s.inflight.Add(-1)
		for {
			p := s.peak.Load()
			if n <= p || s.peak.CompareAndSwap(p, n) {
				break
			}
		}
		if s.delay > 0 {
			time.Sleep(s.delay)
		}

		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.received[req.ChatID] = req.Text
		s.mu.Unlock()

		switch {
		case s.broken[req.ChatID]:
			w.WriteHeader(http.StatusInternalServerError)
		case s.reject[req.ChatID]:
			w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
		default:
			w.Write([]byte(`{"ok":true,"result":{}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSender(srv *httptest.Server, cfg Config) *Telegram {
	if cfg.Token == "" {
		cfg.Token = "TOKEN"
	}
	cfg.APIBaseURL = srv.URL
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 1000
	}
	return NewTelegram(cfg, WithHTTPClient(srv.Client()))
}

func TestDeliver_AllEndpoints(t *testing.T) {
	s := &botServer{}
	srv := newBotServer(t, s)
	sender := newSender(srv, Config{})

	report := sender.Deliver(context.Background(), []string{"1", "2", "3"}, "hello")

	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 3, report.Delivered)
	assert.Empty(t, report.Failures)
	assert.Equal(t, map[string]string{"1": "hello", "2": "hello", "3": "hello"}, s.received)
}

func TestDeliver_FailuresDoNotCancelOthers(t *testing.T) {
	s := &botServer{
		reject: map[string]bool{"2": true},
		broken: map[string]bool{"4": true},
	}
	srv := newBotServer(t, s)
	sender := newSender(srv, Config{Concurrency: 2})

	report := sender.Deliver(context.Background(), []string{"1", "2", "3", "4", "5"}, "hi")

	assert.Equal(t, 5, report.Attempted)
	assert.Equal(t, 3, report.Delivered)
	require.Len(t, report.Failures, 2)

	failed := map[string]string{}
	for _, f := range report.Failures {
		failed[f.Endpoint] = f.Err.Error()
	}
	assert.Contains(t, failed["2"], "bot was blocked")
	assert.Contains(t, failed["4"], "status 500")
	assert.Len(t, s.received, 5, "every endpoint was attempted")
}

func TestDeliver_RespectsConcurrencyLimit(t *testing.T) {
	s := &botServer{delay: 20 * time.Millisecond}
	srv := newBotServer(t, s)
	sender := newSender(srv, Config{Concurrency: 2})

	endpoints := []string{"1", "2", "3", "4", "5", "6"}
	report := sender.Deliver(context.Background(), endpoints, "x")

	assert.Equal(t, 6, report.Delivered)
	assert.LessOrEqual(t, s.peak.Load(), int32(2))
}

func TestDeliver_PerRequestTimeout(t *testing.T) {
	s := &botServer{delay: 200 * time.Millisecond}
	srv := newBotServer(t, s)
	sender := newSender(srv, Config{RequestTimeout: 20 * time.Millisecond})

	start := time.Now()
	report := sender.Deliver(context.Background(), []string{"1"}, "x")

	assert.Equal(t, 0, report.Delivered)
	require.Len(t, report.Failures, 1)
	assert.Less(t, time.Since(start), 180*time.Millisecond)
}

func TestDeliver_NoEndpoints(t *testing.T) {
	sender := NewTelegram(Config{Token: "TOKEN"})
	report := sender.Deliver(context.Background(), nil, "x")
	assert.Equal(t, Report{}, report)
}

func TestSend_ErrorDoesNotLeakToken(t *testing.T) {
	sender := NewTelegram(Config{Token: "secret-token", APIBaseURL: "http://127.0.0.1:1"})

	err := sender.Send(context.Background(), "1", "x")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestSend_WrongTokenIsFailure(t *testing.T) {
	s := &botServer{}
	srv := newBotServer(t, s)
	sender := newSender(srv, Config{Token: "WRONG"})

	err := sender.Send(context.Background(), "1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")
}

func TestEnabled(t *testing.T) {
	assert.False(t, NewTelegram(Config{}).Enabled())
	assert.True(t, NewTelegram(Config{Token: "t"}).Enabled())
}

func TestNewTelegram_Defaults(t *testing.T) {
	sender := NewTelegram(Config{Token: "t", APIBaseURL: "https://example.org/"})
	assert.Equal(t, "https://example.org", sender.cfg.APIBaseURL)
	assert.Equal(t, DefaultConcurrency, sender.cfg.Concurrency)
	assert.Equal(t, DefaultRequestTimeout, sender.cfg.RequestTimeout)
	assert.EqualValues(t, DefaultRatePerSecond, sender.cfg.RatePerSecond)
}

func TestFormatSummary(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
	}{
		{
			name: "summary",
			summary: Summary{
				Community:       "Kyiv",
				ImportDate:      "2024-01-01",
				RemoteTotal:     12345,
				SourceRecords:   12345,
				InsertedDebtors: 1234,
				ExecutedAt:      time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC),
			},
		},
		{
			name: "summary_small",
			summary: Summary{
				Community:       "Lviv",
				ImportDate:      "2023-12-31",
				SourceRecords:   7,
				InsertedDebtors: 3,
				ExecutedAt:      time.Date(2024, 1, 1, 2, 0, 0, 0, time.FixedZone("EET", 2*60*60)),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := goldie.New(t,
				goldie.WithFixtureDir("testdata/golden"),
				goldie.WithNameSuffix(".golden"),
			)
			g.Assert(t, tt.name, []byte(FormatSummary(tt.summary)))
		})
	}
}
