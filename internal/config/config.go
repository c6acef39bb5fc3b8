// Package config loads debtsync configuration from YAML, .env files and
// DEBTSYNC_* environment variables, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "debtsync.yaml"

// Config is the complete service configuration.
type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Database DatabaseConfig `yaml:"database"`
	History  HistoryConfig  `yaml:"history"`
	Notify   NotifyConfig   `yaml:"notify"`
	Sync     SyncConfig     `yaml:"sync"`
	Schedule ScheduleConfig `yaml:"schedule"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

type BrokerConfig struct {
	URL         string        `yaml:"url"`
	WorkQueue   string        `yaml:"work_queue"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type HistoryConfig struct {
	Path string `yaml:"path"`
}

type NotifyConfig struct {
	TelegramToken  string        `yaml:"telegram_token"`
	APIBaseURL     string        `yaml:"api_base_url"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Concurrency    int           `yaml:"concurrency"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type SyncConfig struct {
	Table            string        `yaml:"table"`
	PromoteProcedure string        `yaml:"promote_procedure"`
	SubscribersQuery string        `yaml:"subscribers_query"`
	LockWait         time.Duration `yaml:"lock_wait"`
	Communities      []string      `yaml:"communities"`
}

type ScheduleConfig struct {
	// Cron is a five-field cron expression; empty disables scheduled runs.
	Cron string `yaml:"cron"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used for every field the file and
// environment leave unset.
func Default() Config {
	return Config{
		Broker: BrokerConfig{
			WorkQueue:   "tasks",
			DialTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{MaxOpenConns: 4},
		History:  HistoryConfig{Path: "debtsync.db"},
		Notify: NotifyConfig{
			APIBaseURL:     "https://api.telegram.org",
			RatePerSecond:  25,
			Concurrency:    8,
			RequestTimeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			Table:            "debtors",
			PromoteProcedure: "copy_debtors_to_history",
			SubscribersQuery: "SELECT chat_id FROM telegram_subscribers",
		},
		HTTP: HTTPConfig{Addr: ":9090"},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Environment variables that override file values.
const (
	EnvBrokerURL     = "DEBTSYNC_BROKER_URL"
	EnvDatabaseDSN   = "DEBTSYNC_DATABASE_DSN"
	EnvTelegramToken = "DEBTSYNC_TELEGRAM_TOKEN"
	EnvHistoryPath   = "DEBTSYNC_HISTORY_PATH"
	EnvHTTPAddr      = "DEBTSYNC_HTTP_ADDR"
	EnvLogLevel      = "DEBTSYNC_LOG_LEVEL"
)

// Load reads path (skipped when empty), then dotenv files (missing files are
// ignored, default ".env"), then the process environment. Process
// environment wins over dotenv values, which win over the file.
func Load(path string, dotenv ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	fileEnv, err := readDotenv(dotenv)
	if err != nil {
		return Config{}, err
	}

	cfg.applyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	})
	return cfg, nil
}

func readDotenv(paths []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range paths {
		vals, err := godotenv.Read(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		for k, v := range vals {
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	return out, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvBrokerURL, &c.Broker.URL)
	set(EnvDatabaseDSN, &c.Database.DSN)
	set(EnvTelegramToken, &c.Notify.TelegramToken)
	set(EnvHistoryPath, &c.History.Path)
	set(EnvHTTPAddr, &c.HTTP.Addr)
	set(EnvLogLevel, &c.Log.Level)
}

// Validate checks values every command depends on.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}

	if c.Schedule.Cron != "" && !gronx.IsValid(c.Schedule.Cron) {
		errs = append(errs, fmt.Errorf("schedule.cron %q: not a valid cron expression", c.Schedule.Cron))
	}

	if c.Notify.RatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("notify.rate_per_second must be positive"))
	}
	if c.Notify.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("notify.concurrency must be positive"))
	}
	if c.Notify.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("notify.request_timeout must be positive"))
	}
	if c.Sync.LockWait < 0 {
		errs = append(errs, fmt.Errorf("sync.lock_wait must not be negative"))
	}
	if c.Sync.Table == "" {
		errs = append(errs, fmt.Errorf("sync.table is required"))
	}

	return errors.Join(errs...)
}

// RequireBroker reports a missing broker URL.
func (c Config) RequireBroker() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required (or set %s)", EnvBrokerURL)
	}
	return nil
}

// RequireDatabase reports a missing database DSN.
func (c Config) RequireDatabase() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required (or set %s)", EnvDatabaseDSN)
	}
	return nil
}
