package pthash

import (
	"math"

	"github.com/tamirms/pthash/internal/bits"
)

// The skew bucketer routes 60% of the keys into the first 30% of the
// buckets. Dense buckets collect more keys and are searched first, when the
// slot table is still mostly empty, which keeps the largest pilots small.
const (
	denseBucketFraction = 0.3

	// skewThreshold is 0.6 * 2^64, rounded down. Hash codes below it land
	// in the dense segment.
	skewThreshold = uint64(0x9999999999999999)
)

type skewBucketer struct {
	numDense  uint64
	numSparse uint64
}

func newSkewBucketer(numBuckets uint64) skewBucketer {
	if numBuckets == 0 {
		numBuckets = 1
	}
	numDense := uint64(math.Ceil(denseBucketFraction * float64(numBuckets)))
	if numDense == 0 {
		numDense = 1
	}
	if numDense > numBuckets {
		numDense = numBuckets
	}
	return skewBucketer{
		numDense:  numDense,
		numSparse: numBuckets - numDense,
	}
}

func (b skewBucketer) numBuckets() uint64 {
	return b.numDense + b.numSparse
}

// bucket maps the first hash word of a key to a bucket. The seed
// decorrelates bucket assignment across search attempts that reuse the same
// hash codes, as partitioned builds do.
func (b skewBucketer) bucket(h1, seed uint64) uint64 {
	r := h1 ^ bits.Mix64(seed)
	if r < skewThreshold || b.numSparse == 0 {
		return bits.FastRange(bits.Mix64(r), b.numDense)
	}
	return b.numDense + bits.FastRange(bits.Mix64(r), b.numSparse)
}

// numBucketsFor computes ceil(c*n/log2(n)) buckets for n keys.
func numBucketsFor(numKeys uint64, c float64) uint64 {
	logN := math.Log2(float64(numKeys))
	if logN < 1 {
		logN = 1
	}
	m := uint64(math.Ceil(c * float64(numKeys) / logN))
	if m == 0 {
		m = 1
	}
	return m
}

// tableSizeFor computes ceil(n/alpha) slots, never fewer than n. A power of
// two size is grown by one so the fold-multiply probe does not reduce to
// masking the low bits.
func tableSizeFor(numKeys uint64, alpha float64) uint64 {
	size := uint64(math.Ceil(float64(numKeys) / alpha))
	if size < numKeys {
		size = numKeys
	}
	if size&(size-1) == 0 {
		size++
	}
	return size
}
