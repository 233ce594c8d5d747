package pthash

import (
	"errors"
	mrand "math/rand"
	"testing"

	pthasherrors "github.com/tamirms/pthash/errors"
	"github.com/tamirms/pthash/internal/bits"
)

func randomHashes(rng *mrand.Rand, n int) []Hash128 {
	hashes := make([]Hash128, n)
	for i := range hashes {
		hashes[i] = Hash128{H1: rng.Uint64(), H2: rng.Uint64()}
	}
	return hashes
}

func TestGroupIntoBucketsDuplicate(t *testing.T) {
	rng := mrand.New(mrand.NewSource(1<<8|9))
	hashes := randomHashes(rng, 100)
	hashes[70] = hashes[13] // identical full hash code

	_, err := groupIntoBuckets(hashes, newSkewBucketer(50), 99)
	if !errors.Is(err, pthasherrors.ErrDuplicateKey) {
		t.Fatalf("got %v, want ErrDuplicateKey", err)
	}
}

func TestGroupIntoBucketsProbeCollision(t *testing.T) {
	// Same bucket and probe word but distinct first hash words: a seed
	// retry can fix this, a duplicate-key report would be wrong.
	b := newSkewBucketer(10)
	seed := uint64(4)
	h2 := uint64(0xDEADBEEF)
	var h1a, h1b uint64
	rng := mrand.New(mrand.NewSource(2<<8|2))
	h1a = rng.Uint64()
	for {
		h1b = rng.Uint64()
		if h1b != h1a && b.bucket(h1b, seed) == b.bucket(h1a, seed) {
			break
		}
	}
	_, err := groupIntoBuckets([]Hash128{{h1a, h2}, {h1b, h2}}, b, seed)
	if !errors.Is(err, errSeedCollision) {
		t.Fatalf("got %v, want errSeedCollision", err)
	}
}

func TestSearchPilotsProducesDistinctSlots(t *testing.T) {
	rng := mrand.New(mrand.NewSource(3<<8|3))
	hashes := randomHashes(rng, 500)
	bucketer := newSkewBucketer(numBucketsFor(500, 6.0))
	seed := uint64(17)

	bk, err := groupIntoBuckets(hashes, bucketer, seed)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	tableSize := tableSizeFor(500, 0.94)
	pilots, taken, err := searchPilots(bk, seed, tableSize, defaultSearchLimit)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if uint64(len(pilots)) != bucketer.numBuckets() {
		t.Fatalf("pilots for %d buckets, want %d", len(pilots), bucketer.numBuckets())
	}

	seen := bits.NewBitVector(tableSize)
	for _, h := range hashes {
		b := bucketer.bucket(h.H1, seed)
		s := bits.FastRange(foldProbe(h.H2)*pilotHash(pilots[b], seed), tableSize)
		if seen.Get(s) {
			t.Fatalf("slot %d assigned twice", s)
		}
		if !taken.Get(s) {
			t.Fatalf("slot %d not marked taken", s)
		}
		seen.Set(s)
	}
}

func TestSearchPilotsLimit(t *testing.T) {
	rng := mrand.New(mrand.NewSource(4<<8|1))
	hashes := randomHashes(rng, 200)
	bucketer := newSkewBucketer(numBucketsFor(200, 6.0))
	bk, err := groupIntoBuckets(hashes, bucketer, 5)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	// A single-pilot budget cannot place every bucket.
	_, _, err = searchPilots(bk, 5, tableSizeFor(200, 0.94), 1)
	if !errors.Is(err, pthasherrors.ErrPilotLimitReached) {
		t.Fatalf("got %v, want ErrPilotLimitReached", err)
	}
}

func TestFillFreeSlots(t *testing.T) {
	// Ten slots, eight keys: slots 3 and 6 free, slots 8 and 9 taken.
	taken := bits.NewBitVector(10)
	for _, s := range []uint64{0, 1, 2, 4, 5, 7, 8, 9} {
		taken.Set(s)
	}
	free := fillFreeSlots(taken, 8, 10)
	want := []uint64{3, 6}
	if len(free) != len(want) {
		t.Fatalf("len = %d, want %d", len(free), len(want))
	}
	for i, v := range want {
		if free[i] != v {
			t.Fatalf("free[%d] = %d, want %d", i, free[i], v)
		}
	}
}

func TestFillFreeSlotsMonotone(t *testing.T) {
	rng := mrand.New(mrand.NewSource(6<<8|2))
	const tableSize, numKeys = 1000, 940
	taken := bits.NewBitVector(tableSize)
	placed := 0
	for placed < numKeys {
		s := rng.Uint64() % tableSize
		if !taken.Get(s) {
			taken.Set(s)
			placed++
		}
	}
	free := fillFreeSlots(taken, numKeys, tableSize)
	if uint64(len(free)) != tableSize-numKeys {
		t.Fatalf("len = %d, want %d", len(free), tableSize-numKeys)
	}
	for i := 1; i < len(free); i++ {
		if free[i] < free[i-1] {
			t.Fatalf("sequence decreases at %d: %d < %d", i, free[i], free[i-1])
		}
	}
	// Every occupied slot above numKeys resolves to a distinct free slot
	// below numKeys.
	seen := map[uint64]bool{}
	for s := uint64(numKeys); s < tableSize; s++ {
		if !taken.Get(s) {
			continue
		}
		v := free[s-numKeys]
		if v >= numKeys {
			t.Fatalf("remap %d -> %d, out of range", s, v)
		}
		if taken.Get(v) {
			t.Fatalf("remap %d -> %d, slot is occupied", s, v)
		}
		if seen[v] {
			t.Fatalf("free slot %d used twice", v)
		}
		seen[v] = true
	}
}
