package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/debtsync/internal/ledger/ledgertest"
	"github.com/roach88/debtsync/internal/task"
)

func raw(ipn, name, date, code, debt string) task.RawRecord {
	return task.RawRecord{
		IPN:         task.Code(ipn),
		Name:        name,
		Date:        task.MustDate(date),
		RevenueCode: task.Code(code),
		TaxDebt:     task.MustAmount(debt),
	}
}

// totals renders every debtor's buckets as strings keyed by Key, for comparison.
func totals(t *testing.T, agg Aggregation) map[Key][numBuckets]string {
	t.Helper()
	out := make(map[Key][numBuckets]string, len(agg.Debtors))
	for _, d := range agg.Debtors {
		var row [numBuckets]string
		for b := Bucket(0); b < numBuckets; b++ {
			// normalize 100 vs 100.0 so only numeric equality matters
			sum, err := d.Buckets[b].Add(task.MustAmount("0.00"))
			require.NoError(t, err)
			row[b] = sum.String()
		}
		out[d.Key] = row
	}
	return out
}

func newLoader(t *testing.T, rec *ledgertest.Recorder) *Loader {
	t.Helper()
	l, err := New(rec, "debtors", nil)
	require.NoError(t, err)
	return l
}

func TestAggregate_TwoCodesOneDebtor(t *testing.T) {
	agg, err := Aggregate([]task.RawRecord{
		raw("123", "A", "2024-01-01", "18010200", "100"),
		raw("123", "A", "2024-01-01", "18010300", "50"),
	}, nil)
	require.NoError(t, err)
	require.Len(t, agg.Debtors, 1)

	d := agg.Debtors[0]
	assert.Equal(t, Key{IPN: "123", Name: "A", Date: "2024-01-01"}, d.Key)
	assert.Equal(t, "100", d.Bucket(Residential).String())
	assert.Equal(t, "50", d.Bucket(NonResidential).String())
	assert.Equal(t, "0", d.Bucket(Land).String())
	assert.Equal(t, "0", d.Bucket(Rent).String())
	assert.Equal(t, "0", d.Bucket(MinimumTax).String())
	assert.Zero(t, agg.Unknown)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	codes := []string{"18010100", "18010200", "18010300", "18010400", "18010500", "18010600", "18010700", "18010900", "11011300", "99999999"}
	var records []task.RawRecord
	for i := 0; i < 300; i++ {
		records = append(records, raw(
			fmt.Sprintf("%d", i%17),
			fmt.Sprintf("debtor-%d", i%17),
			fmt.Sprintf("2024-01-%02d", 1+i%3),
			codes[i%len(codes)],
			fmt.Sprintf("%d.%02d", i, i%100),
		))
	}

	base, err := Aggregate(records, nil)
	require.NoError(t, err)
	want := totals(t, base)

	rng := rand.New(rand.NewSource(42))
	for p := 0; p < 10; p++ {
		shuffled := make([]task.RawRecord, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got, err := Aggregate(shuffled, nil)
		require.NoError(t, err)
		assert.Equal(t, want, totals(t, got), "permutation %d changed totals", p)
		assert.Equal(t, base.Unknown, got.Unknown)
	}
}

func TestAggregate_BucketEqualsSumPerCode(t *testing.T) {
	agg, err := Aggregate([]task.RawRecord{
		raw("1", "A", "2024-01-01", "18010500", "10.10"),
		raw("1", "A", "2024-01-01", "18010500", "0.20"),
		raw("1", "A", "2024-01-01", "18010700", "5"),
		raw("1", "A", "2024-01-01", "18010600", "1"),
		raw("1", "A", "2024-01-01", "18010900", "2"),
		raw("1", "A", "2024-01-01", "11011300", "3.5"),
	}, nil)
	require.NoError(t, err)
	require.Len(t, agg.Debtors, 1)

	d := agg.Debtors[0]
	assert.Equal(t, 0, d.Bucket(Land).Cmp(task.MustAmount("15.30")))
	assert.Equal(t, 0, d.Bucket(Rent).Cmp(task.MustAmount("3")))
	assert.Equal(t, 0, d.Bucket(MinimumTax).Cmp(task.MustAmount("3.5")))

	total, err := d.Total()
	require.NoError(t, err)
	assert.Equal(t, 0, total.Cmp(task.MustAmount("21.80")))
}

func TestAggregate_UnknownCodeExcluded(t *testing.T) {
	agg, err := Aggregate([]task.RawRecord{
		raw("1", "A", "2024-01-01", "18010100", "10"),
		raw("1", "A", "2024-01-01", "77777777", "1000"),
		raw("2", "B", "2024-01-01", "77777777", "5"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, agg.Unknown)
	require.Len(t, agg.Debtors, 1, "a key with only unknown codes gets no row")
	assert.Equal(t, "1", agg.Debtors[0].Key.IPN)

	total, err := agg.Debtors[0].Total()
	require.NoError(t, err)
	assert.Equal(t, "10", total.String(), "unknown code contributes to no bucket")
}

func TestAggregate_UnknownFirstThenKnown(t *testing.T) {
	agg, err := Aggregate([]task.RawRecord{
		raw("2", "B", "2024-01-01", "77777777", "5"),
		raw("1", "A", "2024-01-01", "18010100", "1"),
		raw("2", "B", "2024-01-01", "18010100", "7"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, agg.Unknown)
	require.Len(t, agg.Debtors, 2)
	assert.Equal(t, "1", agg.Debtors[0].Key.IPN, "order follows the first bucketed record")
	assert.Equal(t, "2", agg.Debtors[1].Key.IPN)

	total, err := agg.Debtors[1].Total()
	require.NoError(t, err)
	assert.Equal(t, "7", total.String())
}

func TestAggregate_UnknownCodeLogsRecordValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	_, err := Aggregate([]task.RawRecord{
		raw("42", "A", "2024-01-01", "77777777", "5"),
	}, logger)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "unknown revenue code")
	assert.Contains(t, out, "revenue_code=77777777")
	assert.Contains(t, out, "IPN:42")
	assert.NotContains(t, out, "&{", "record is logged as a value")
}

func TestAggregate_KeyIncludesNameAndDate(t *testing.T) {
	agg, err := Aggregate([]task.RawRecord{
		raw("1", "A", "2024-01-01", "18010100", "1"),
		raw("1", "A", "2024-02-01", "18010100", "1"),
		raw("1", "A (renamed)", "2024-01-01", "18010100", "1"),
	}, nil)
	require.NoError(t, err)
	assert.Len(t, agg.Debtors, 3)
}

func TestPartition_Complete(t *testing.T) {
	debtors := make([]Debtor, 25)
	for i := range debtors {
		debtors[i].Key = Key{IPN: fmt.Sprintf("%d", i)}
	}

	for _, size := range []int{1, 3, 7, 25, 1000} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			batches := Partition(debtors, size)

			var joined []Debtor
			for _, b := range batches {
				assert.LessOrEqual(t, len(b), size)
				assert.NotEmpty(t, b)
				joined = append(joined, b...)
			}
			assert.Equal(t, debtors, joined)
		})
	}

	assert.Nil(t, Partition(nil, 10))
}

func TestLoad_TwentyFiveHundredDebtorsInThreeBatches(t *testing.T) {
	records := make([]task.RawRecord, 2500)
	for i := range records {
		records[i] = raw(fmt.Sprintf("%08d", i), "N", "2024-01-01", "18010100", "1")
	}
	rec := ledgertest.New(RowWidth)

	report, err := newLoader(t, rec).Load(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Batches)
	assert.EqualValues(t, 2500, report.Inserted)
	assert.Equal(t, 2500, report.SourceRecords)
	assert.Equal(t, 2500, report.Debtors)

	inserts := rec.Inserts()
	require.Len(t, inserts, 3)
	assert.Len(t, inserts[0].Args, 1000*RowWidth)
	assert.Len(t, inserts[1].Args, 1000*RowWidth)
	assert.Len(t, inserts[2].Args, 500*RowWidth)

	// batches follow first-seen order
	assert.Equal(t, "00000000", inserts[0].Args[0])
	assert.Equal(t, "00001000", inserts[1].Args[0])
	assert.Equal(t, "00002000", inserts[2].Args[0])
}

func TestLoad_MergedRowsReportBothCounts(t *testing.T) {
	rec := ledgertest.New(RowWidth)

	report, err := newLoader(t, rec).Load(context.Background(), []task.RawRecord{
		raw("123", "A", "2024-01-01", "18010200", "100"),
		raw("123", "A", "2024-01-01", "18010300", "50"),
		raw("456", "B", "2024-01-01", "18010300", "7"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.SourceRecords)
	assert.EqualValues(t, 2, report.Inserted)
	assert.Equal(t, 1, report.Batches)

	inserts := rec.Inserts()
	require.Len(t, inserts, 1)
	assert.Equal(t, []any{
		"123", "A", "2024-01-01", "50", "100", "0", "0", "0",
		"456", "B", "2024-01-01", "7", "0", "0", "0", "0",
	}, inserts[0].Args)
}

func TestLoad_OnlyUnknownCodesInsertsNothing(t *testing.T) {
	rec := ledgertest.New(RowWidth)

	report, err := newLoader(t, rec).Load(context.Background(), []task.RawRecord{
		raw("1", "A", "2024-01-01", "77777777", "5"),
		raw("2", "B", "2024-01-01", "66666666", "3"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.SourceRecords)
	assert.Equal(t, 2, report.UnknownCodes)
	assert.Zero(t, report.Debtors)
	assert.Zero(t, report.Inserted)
	assert.Zero(t, report.Batches)
	assert.Empty(t, rec.Inserts())
}

func TestLoad_FailureLeavesCommittedPrefix(t *testing.T) {
	records := make([]task.RawRecord, 2500)
	for i := range records {
		records[i] = raw(fmt.Sprintf("%d", i), "N", "2024-01-01", "18010100", "1")
	}

	cause := errors.New("connection reset")
	rec := ledgertest.New(RowWidth)
	rec.FailOn = func(n int, _ string) error {
		if n == 2 {
			return cause
		}
		return nil
	}

	report, err := newLoader(t, rec).Load(context.Background(), records)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "insert batch 2 of 3")

	assert.Equal(t, 1, report.Batches)
	assert.EqualValues(t, 1000, report.Inserted)
	assert.Len(t, rec.Inserts(), 1, "no batch after the failing one is attempted")
}

func TestLoad_EmptyInputTouchesNothing(t *testing.T) {
	rec := ledgertest.New(RowWidth)

	for _, in := range [][]task.RawRecord{nil, {}} {
		report, err := newLoader(t, rec).Load(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, report.Skipped)
		assert.Equal(t, ReasonNothingToInsert, report.Reason)
		assert.Zero(t, report.Inserted)
	}
	assert.Empty(t, rec.Statements())
}

func TestLoad_SmallBatchSize(t *testing.T) {
	records := make([]task.RawRecord, 10)
	for i := range records {
		records[i] = raw(fmt.Sprintf("%d", i), "N", "2024-01-01", "18010100", "1")
	}
	rec := ledgertest.New(RowWidth)
	l := newLoader(t, rec)
	l.batchSize = 4

	report, err := l.Load(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Batches)
	assert.EqualValues(t, 10, report.Inserted)
}

func TestInsertStatement(t *testing.T) {
	got := InsertStatement(`"debtors"`, 2)
	assert.Equal(t,
		`INSERT INTO "debtors" (edrpou, name, date, non_residential_debt, residential_debt, land_debt, rent_debt, mpz) VALUES `+
			`($1, $2, $3, $4, $5, $6, $7, $8), ($9, $10, $11, $12, $13, $14, $15, $16)`,
		got)
}

func TestBatchParameterLimit(t *testing.T) {
	// PostgreSQL binds at most 65535 parameters per statement.
	assert.LessOrEqual(t, BatchSize*RowWidth, 65535)
	assert.Len(t, Columns, RowWidth)
}

func TestNew_RejectsUnsafeTable(t *testing.T) {
	_, err := New(ledgertest.New(RowWidth), "debtors; DROP TABLE debtors", nil)
	assert.Error(t, err)
}

func TestBucketFor(t *testing.T) {
	b, ok := BucketFor("18010200")
	assert.True(t, ok)
	assert.Equal(t, Residential, b)
	assert.Equal(t, "residential", b.String())

	_, ok = BucketFor("00000000")
	assert.False(t, ok)
}
