package pthash

import (
	"errors"
	"fmt"
	"sort"

	pthasherrors "github.com/tamirms/pthash/errors"
	"github.com/tamirms/pthash/internal/bits"
)

// errSeedCollision marks a hash collision that a different seed can
// resolve: two distinct keys landed in the same bucket with the same probe
// word. It never escapes to callers; after the retry budget it is reported
// as seed space exhaustion.
var errSeedCollision = errors.New("probe word collision, retry with a new seed")

// bucketedKeys holds the key set grouped by bucket: for bucket b, the probe
// words of its keys are payload[starts[b]:starts[b+1]]. order lists the
// non-empty buckets, largest first.
type bucketedKeys struct {
	payload []uint64
	starts  []uint64
	order   []uint64
}

func (bk *bucketedKeys) bucketSize(b uint64) uint64 {
	return bk.starts[b+1] - bk.starts[b]
}

// foldProbe compresses the second hash word into the probe word that,
// multiplied by the pilot hash, selects a slot. Folding the halves keeps
// the high bits of the product sensitive to the whole word.
func foldProbe(h2 uint64) uint64 {
	return h2 ^ (h2 >> 32)
}

// pilotHash turns a pilot value into an odd multiplier. The low bit is
// forced so that multiplication permutes the 64-bit ring.
func pilotHash(pilot, seed uint64) uint64 {
	return bits.Mix64(pilot^bits.Mix64(seed)) | 1
}

// groupIntoBuckets assigns every hash code to a bucket and orders buckets
// by decreasing size. Two keys with identical hash codes cannot be
// separated by any pilot: identical full codes are reported as duplicate
// keys, while probe-word collisions between distinct codes ask for a seed
// retry.
func groupIntoBuckets(hashes []Hash128, bucketer skewBucketer, seed uint64) (*bucketedKeys, error) {
	m := bucketer.numBuckets()
	n := uint64(len(hashes))

	sizes := make([]uint64, m)
	bucketOf := make([]uint64, n)
	for i, h := range hashes {
		b := bucketer.bucket(h.H1, seed)
		bucketOf[i] = b
		sizes[b]++
	}

	starts := make([]uint64, m+1)
	for b := uint64(0); b < m; b++ {
		starts[b+1] = starts[b] + sizes[b]
	}

	payload := make([]uint64, n)
	firstWord := make([]uint64, n)
	cursor := make([]uint64, m)
	copy(cursor, starts[:m])
	for i, h := range hashes {
		b := bucketOf[i]
		payload[cursor[b]] = foldProbe(h.H2)
		firstWord[cursor[b]] = h.H1
		cursor[b]++
	}

	// Sort each bucket's probe words so that collisions are adjacent.
	// Buckets are small, insertion sort beats sort.Slice here.
	for b := uint64(0); b < m; b++ {
		lo, hi := starts[b], starts[b+1]
		for i := lo + 1; i < hi; i++ {
			p, f := payload[i], firstWord[i]
			j := i
			for j > lo && payload[j-1] > p {
				payload[j], firstWord[j] = payload[j-1], firstWord[j-1]
				j--
			}
			payload[j], firstWord[j] = p, f
		}
		for i := lo + 1; i < hi; i++ {
			if payload[i] == payload[i-1] {
				if firstWord[i] == firstWord[i-1] {
					return nil, fmt.Errorf("%w: two keys share hash code (%#x, probe %#x)",
						pthasherrors.ErrDuplicateKey, firstWord[i], payload[i])
				}
				return nil, errSeedCollision
			}
		}
	}

	order := make([]uint64, 0, m)
	for b := uint64(0); b < m; b++ {
		if sizes[b] > 0 {
			order = append(order, b)
		}
	}
	sort.Slice(order, func(i, j int) bool {
		si, sj := sizes[order[i]], sizes[order[j]]
		if si != sj {
			return si > sj
		}
		return order[i] < order[j]
	})

	return &bucketedKeys{payload: payload, starts: starts, order: order}, nil
}

// searchPilots finds, for every bucket in decreasing size order, the
// smallest pilot that maps the bucket's keys to distinct unoccupied slots.
// Returns the per-bucket pilots and the slot occupancy.
func searchPilots(bk *bucketedKeys, seed, tableSize, searchLimit uint64) ([]uint64, *bits.BitVector, error) {
	m := uint64(len(bk.starts)) - 1
	pilots := make([]uint64, m)
	taken := bits.NewBitVector(tableSize)
	slots := make([]uint64, 0, 64)

	for _, b := range bk.order {
		bucket := bk.payload[bk.starts[b]:bk.starts[b+1]]

		found := false
		for pilot := uint64(0); pilot < searchLimit; pilot++ {
			hp := pilotHash(pilot, seed)
			slots = slots[:0]
			ok := true
			for _, f := range bucket {
				s := bits.FastRange(f*hp, tableSize)
				if taken.Get(s) {
					ok = false
					break
				}
				for _, prev := range slots {
					if prev == s {
						ok = false
						break
					}
				}
				if !ok {
					break
				}
				slots = append(slots, s)
			}
			if ok {
				for _, s := range slots {
					taken.Set(s)
				}
				pilots[b] = pilot
				found = true
				break
			}
		}
		if !found {
			return nil, nil, fmt.Errorf("%w: no pilot below %d for bucket of size %d",
				pthasherrors.ErrPilotLimitReached, searchLimit, len(bucket))
		}
	}
	return pilots, taken, nil
}

// fillFreeSlots builds the remap sequence for minimal functions. Entry
// (s - numKeys) holds the free slot below numKeys that stands in for the
// occupied slot s >= numKeys. Unoccupied tail slots repeat the previous
// value so the sequence stays non-decreasing and Elias-Fano encodable.
func fillFreeSlots(taken *bits.BitVector, numKeys, tableSize uint64) []uint64 {
	if tableSize <= numKeys {
		return nil
	}
	free := make([]uint64, 0, tableSize-numKeys)
	nextFree := uint64(0)
	prev := uint64(0)
	for s := numKeys; s < tableSize; s++ {
		if taken.Get(s) {
			for taken.Get(nextFree) {
				nextFree++
			}
			free = append(free, nextFree)
			prev = nextFree
			nextFree++
		} else {
			free = append(free, prev)
		}
	}
	return free
}
