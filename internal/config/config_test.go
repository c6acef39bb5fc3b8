package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noDotenv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "tasks", cfg.Broker.WorkQueue)
	assert.Equal(t, "debtors", cfg.Sync.Table)
	assert.Equal(t, 25.0, cfg.Notify.RatePerSecond)
	assert.Empty(t, cfg.Schedule.Cron)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("", noDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EmptyFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "debtsync.yaml", "")
	cfg, err := Load(p, noDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	p := writeFile(t, t.TempDir(), "debtsync.yaml", `
broker:
  url: amqp://guest:guest@mq:5672/
  dial_timeout: 3s
database:
  dsn: postgres://sync@db/debts
sync:
  table: public.debtors
  lock_wait: 30s
  communities: [kyiv, lviv]
schedule:
  cron: "0 6 * * *"
log:
  format: json
`)
	cfg, err := Load(p, noDotenv(t))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.Broker.URL)
	assert.Equal(t, 3*time.Second, cfg.Broker.DialTimeout)
	assert.Equal(t, "tasks", cfg.Broker.WorkQueue, "unset fields keep defaults")
	assert.Equal(t, "postgres://sync@db/debts", cfg.Database.DSN)
	assert.Equal(t, "public.debtors", cfg.Sync.Table)
	assert.Equal(t, 30*time.Second, cfg.Sync.LockWait)
	assert.Equal(t, []string{"kyiv", "lviv"}, cfg.Sync.Communities)
	assert.Equal(t, "0 6 * * *", cfg.Schedule.Cron)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	p := writeFile(t, t.TempDir(), "debtsync.yaml", "broker:\n  uri: amqp://x\n")
	_, err := Load(p, noDotenv(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noDotenv(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "debtsync.yaml", `
broker:
  url: amqp://file
database:
  dsn: postgres://file
notify:
  telegram_token: file-token
`)
	env := writeFile(t, dir, ".env", "DEBTSYNC_DATABASE_DSN=postgres://dotenv\nDEBTSYNC_TELEGRAM_TOKEN=dotenv-token\n")
	t.Setenv(EnvTelegramToken, "process-token")

	cfg, err := Load(p, env)
	require.NoError(t, err)

	assert.Equal(t, "amqp://file", cfg.Broker.URL, "file value kept without override")
	assert.Equal(t, "postgres://dotenv", cfg.Database.DSN, "dotenv beats file")
	assert.Equal(t, "process-token", cfg.Notify.TelegramToken, "process env beats dotenv")
}

func TestLoad_FirstDotenvWins(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.env", "DEBTSYNC_HTTP_ADDR=:1111\n")
	b := writeFile(t, dir, "b.env", "DEBTSYNC_HTTP_ADDR=:2222\nDEBTSYNC_LOG_LEVEL=debug\n")

	cfg, err := Load("", a, b)
	require.NoError(t, err)
	assert.Equal(t, ":1111", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EmptyEnvValueIgnored(t *testing.T) {
	t.Setenv(EnvHistoryPath, "")
	cfg, err := Load("", noDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, "debtsync.db", cfg.History.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad cron", func(c *Config) { c.Schedule.Cron = "every day" }, "schedule.cron"},
		{"zero rate", func(c *Config) { c.Notify.RatePerSecond = 0 }, "notify.rate_per_second"},
		{"zero concurrency", func(c *Config) { c.Notify.Concurrency = 0 }, "notify.concurrency"},
		{"zero timeout", func(c *Config) { c.Notify.RequestTimeout = 0 }, "notify.request_timeout"},
		{"negative lock wait", func(c *Config) { c.Sync.LockWait = -time.Second }, "sync.lock_wait"},
		{"no table", func(c *Config) { c.Sync.Table = "" }, "sync.table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Schedule.Cron = "nope"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "schedule.cron")
}

func TestRequire(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.RequireBroker(), EnvBrokerURL)
	assert.ErrorContains(t, cfg.RequireDatabase(), EnvDatabaseDSN)

	cfg.Broker.URL = "amqp://x"
	cfg.Database.DSN = "postgres://x"
	assert.NoError(t, cfg.RequireBroker())
	assert.NoError(t, cfg.RequireDatabase())
}
