package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id, community string, started time.Time, success bool) Run {
	r := Run{
		ID:            id,
		Community:     community,
		Target:        "debtors",
		Success:       success,
		Watermark:     "2024-01-01",
		ImportDate:    "2024-01-01",
		RemoteTotal:   10,
		SourceRecords: 10,
		Inserted:      4,
		Batches:       1,
		Notified:      3,
		StartedAt:     started,
		FinishedAt:    started.Add(1500 * time.Millisecond),
	}
	if !success {
		r.FailedStep = "fetch_dataset"
		r.ErrorKind = "VALIDATION"
		r.Error = "no data to sync"
	}
	return r
}

func (s *Store) pragma(name string) (string, error) {
	var value string
	err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value)
	return value, err
}

func TestOpen_CreatesDatabaseWithPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)

	mode, err := s.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(currentSchemaVersion), version)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpen_MigratesVersionZeroDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE runs (
		id TEXT PRIMARY KEY, community TEXT NOT NULL, target TEXT NOT NULL,
		success INTEGER NOT NULL, failed_step TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '', error TEXT NOT NULL DEFAULT '',
		watermark TEXT NOT NULL DEFAULT '', import_date TEXT NOT NULL DEFAULT '',
		remote_total INTEGER NOT NULL DEFAULT 0, source_records INTEGER NOT NULL DEFAULT 0,
		inserted INTEGER NOT NULL DEFAULT 0, batches INTEGER NOT NULL DEFAULT 0,
		started_at_ms INTEGER NOT NULL, finished_at_ms INTEGER NOT NULL)`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ok, err := hasColumn(s.db, "runs", "notified")
	require.NoError(t, err)
	assert.True(t, ok)

	start := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(context.Background(), testRun("r1", "Kyiv", start, true)))
}

func TestRecordAndLast(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	want := testRun("run-1", "Kyiv", start, true)
	require.NoError(t, s.Record(ctx, want))

	got, err := s.Last(ctx, "Kyiv")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1500*time.Millisecond, got.Duration())
}

func TestRecord_DuplicateIDIgnored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Record(ctx, testRun("same", "Kyiv", start, true)))
	require.NoError(t, s.Record(ctx, testRun("same", "Kyiv", start, false)))

	runs, err := s.List(ctx, "Kyiv", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Success, "first write wins")
}

func TestRecord_RequiresID(t *testing.T) {
	s := createTestStore(t)
	err := s.Record(context.Background(), Run{Community: "Kyiv"})
	assert.Error(t, err)
}

func TestList_NewestFirstAndFiltered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, testRun("a", "Kyiv", base, true)))
	require.NoError(t, s.Record(ctx, testRun("b", "Lviv", base.Add(time.Hour), false)))
	require.NoError(t, s.Record(ctx, testRun("c", "Kyiv", base.Add(2*time.Hour), false)))

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	kyiv, err := s.List(ctx, "Kyiv", 10)
	require.NoError(t, err)
	require.Len(t, kyiv, 2)
	assert.Equal(t, "c", kyiv[0].ID)
	assert.Equal(t, "fetch_dataset", kyiv[0].FailedStep)
	assert.Equal(t, "no data to sync", kyiv[0].Error)

	limited, err := s.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestList_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)
	runs, err := s.List(context.Background(), "nowhere", 5)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestLast_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Last(context.Background(), "Kyiv")
	assert.ErrorIs(t, err, ErrNotFound)
}
