package loader

import (
	"fmt"
	"log/slog"

	"github.com/roach88/debtsync/internal/metrics"
	"github.com/roach88/debtsync/internal/task"
)

// Key identifies one debtor row: ipn|name|date.
type Key struct {
	IPN  string
	Name string
	Date string
}

func (k Key) String() string {
	return k.IPN + "|" + k.Name + "|" + k.Date
}

// Debtor is the aggregated row for one key.
type Debtor struct {
	Key     Key
	Date    task.Date
	Buckets [numBuckets]task.Amount
}

// Bucket returns the accumulated amount of one category.
func (d *Debtor) Bucket(b Bucket) task.Amount {
	return d.Buckets[b]
}

// Total returns the sum of every bucket.
func (d *Debtor) Total() (task.Amount, error) {
	var sum task.Amount
	for _, a := range d.Buckets {
		var err error
		if sum, err = sum.Add(a); err != nil {
			return task.Amount{}, err
		}
	}
	return sum, nil
}

// Aggregation is the result of folding raw records into debtor rows.
type Aggregation struct {
	// Debtors in first-seen key order.
	Debtors []Debtor

	// Unknown counts raw records dropped for an unmapped revenue code.
	Unknown int
}

// Aggregate folds raw records into one Debtor per key. Totals do not depend
// on input order; only the order of Debtors does.
func Aggregate(records []task.RawRecord, logger *slog.Logger) (Aggregation, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var agg Aggregation
	index := make(map[Key]int, len(records))

	for i := range records {
		rec := &records[i]
		key := Key{IPN: string(rec.IPN), Name: rec.Name, Date: rec.Date.String()}

		bucket, ok := BucketFor(rec.RevenueCode)
		if !ok {
			agg.Unknown++
			metrics.LoaderUnknownCodes.WithLabelValues(string(rec.RevenueCode)).Inc()
			logger.Warn("unknown revenue code",
				"revenue_code", rec.RevenueCode,
				"key", key.String(),
				"record", *rec,
			)
			continue
		}

		// A key gets a row only once one of its records lands in a bucket.
		pos, seen := index[key]
		if !seen {
			pos = len(agg.Debtors)
			index[key] = pos
			agg.Debtors = append(agg.Debtors, Debtor{Key: key, Date: rec.Date})
		}

		d := &agg.Debtors[pos]
		sum, err := d.Buckets[bucket].Add(rec.TaxDebt)
		if err != nil {
			return Aggregation{}, fmt.Errorf("aggregate %s: %w", key, err)
		}
		d.Buckets[bucket] = sum
	}

	return agg, nil
}

// Partition splits debtors into contiguous batches of at most size rows.
func Partition(debtors []Debtor, size int) [][]Debtor {
	if size <= 0 || len(debtors) == 0 {
		return nil
	}
	batches := make([][]Debtor, 0, (len(debtors)+size-1)/size)
	for start := 0; start < len(debtors); start += size {
		end := min(start+size, len(debtors))
		batches = append(batches, debtors[start:end])
	}
	return batches
}
