package loader

import "github.com/roach88/debtsync/internal/task"

// Bucket is one of the five debt categories a debtor row accumulates.
type Bucket int

const (
	NonResidential Bucket = iota
	Residential
	Land
	Rent
	MinimumTax

	numBuckets
)

var bucketNames = [numBuckets]string{
	NonResidential: "non_residential",
	Residential:    "residential",
	Land:           "land",
	Rent:           "rent",
	MinimumTax:     "mpz",
}

func (b Bucket) String() string {
	if b < 0 || b >= numBuckets {
		return "unknown"
	}
	return bucketNames[b]
}

// revenueCodes maps budget classification codes to debt buckets.
// Codes missing here are logged and excluded from every total.
var revenueCodes = map[task.Code]Bucket{
	// property tax on residential real estate (legal entities, individuals)
	"18010100": Residential,
	"18010200": Residential,

	// property tax on non-residential real estate
	"18010300": NonResidential,
	"18010400": NonResidential,

	// land tax (legal entities, individuals)
	"18010500": Land,
	"18010700": Land,

	// land rent (legal entities, individuals)
	"18010600": Rent,
	"18010900": Rent,

	// minimum tax obligation
	"11011300": MinimumTax,
}

// BucketFor returns the bucket a revenue code accumulates into.
func BucketFor(code task.Code) (Bucket, bool) {
	b, ok := revenueCodes[code]
	return b, ok
}
