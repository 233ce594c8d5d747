package pthash

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	pthasherrors "github.com/tamirms/pthash/errors"
	"github.com/tamirms/pthash/internal/bits"
	"github.com/tamirms/pthash/internal/eliasfano"
)

// SinglePHF is a perfect hash function built as one part: all keys share
// one bucket space and one slot table.
type SinglePHF struct {
	seed      uint64
	numKeys   uint64
	tableSize uint64
	bucketer  skewBucketer
	pilots    pilotEncoding
	freeSlots *eliasfano.Sequence
	minimal   bool
	encoder   EncoderID
	hasher    Hasher
}

func buildSingle(keys [][]byte, cfg *BuildConfig) (*SinglePHF, BuildTimings, error) {
	log := cfg.logger()
	var timings BuildTimings

	seeds := drawSeeds(cfg)
	var lastErr error
	for attempt, seed := range seeds {
		start := time.Now()
		hashes := make([]Hash128, len(keys))
		for i, k := range keys {
			hashes[i] = cfg.Hasher.Hash(k, seed)
		}
		timings.Hashing += time.Since(start)

		f, t, err := buildSingleFromHashes(hashes, seed, cfg)
		timings.add(t)
		if err == nil {
			f.hasher = cfg.Hasher
			log.Info("build succeeded",
				zap.Int("attempt", attempt+1),
				zap.Uint64("seed", seed),
				zap.Uint64("num_keys", f.numKeys),
				zap.Uint64("table_size", f.tableSize),
				zap.Duration("elapsed", timings.Total()))
			return f, timings, nil
		}
		if errors.Is(err, pthasherrors.ErrDuplicateKey) {
			return nil, timings, err
		}
		log.Warn("attempt failed", zap.Int("attempt", attempt+1), zap.Uint64("seed", seed), zap.Error(err))
		lastErr = err
	}
	if cfg.Seed != InvalidSeed && !errors.Is(lastErr, errSeedCollision) {
		return nil, timings, lastErr
	}
	return nil, timings, fmt.Errorf("%w after %d attempts: %v",
		pthasherrors.ErrSeedSpaceExhausted, len(seeds), lastErr)
}

// buildSingleFromHashes runs one construction attempt over fixed hash
// codes. seed feeds bucket assignment and pilot mixing; partitioned builds
// pass derived seeds here without rehashing the keys.
func buildSingleFromHashes(hashes []Hash128, seed uint64, cfg *BuildConfig) (*SinglePHF, BuildTimings, error) {
	var timings BuildTimings
	n := uint64(len(hashes))

	numBuckets := cfg.NumBuckets
	if numBuckets == 0 {
		numBuckets = numBucketsFor(n, cfg.C)
	}
	bucketer := newSkewBucketer(numBuckets)
	tableSize := tableSizeFor(n, cfg.Alpha)

	start := time.Now()
	bk, err := groupIntoBuckets(hashes, bucketer, seed)
	timings.MapOrder = time.Since(start)
	if err != nil {
		return nil, timings, err
	}

	start = time.Now()
	pilots, taken, err := searchPilots(bk, seed, tableSize, cfg.SearchLimit)
	timings.Search = time.Since(start)
	if err != nil {
		return nil, timings, err
	}

	start = time.Now()
	enc, err := encodePilots(cfg.Encoder, pilots, bucketer.numDense)
	if err != nil {
		return nil, timings, err
	}
	var free *eliasfano.Sequence
	if cfg.Minimal && tableSize > n {
		free = eliasfano.Encode(fillFreeSlots(taken, n, tableSize))
	}
	timings.Encode = time.Since(start)

	return &SinglePHF{
		seed:      seed,
		numKeys:   n,
		tableSize: tableSize,
		bucketer:  bucketer,
		pilots:    enc,
		freeSlots: free,
		minimal:   cfg.Minimal,
		encoder:   cfg.Encoder,
		hasher:    cfg.Hasher,
	}, timings, nil
}

// Lookup returns the position of key.
func (f *SinglePHF) Lookup(key []byte) uint64 {
	return f.positionFromHash(f.hasher.Hash(key, f.seed))
}

// positionFromHash resolves a precomputed hash code. Partitioned functions
// hash once at the top level and route the code here.
func (f *SinglePHF) positionFromHash(h Hash128) uint64 {
	b := f.bucketer.bucket(h.H1, f.seed)
	pilot := f.pilots.access(b)
	s := bits.FastRange(foldProbe(h.H2)*pilotHash(pilot, f.seed), f.tableSize)
	if f.minimal && s >= f.numKeys {
		return f.freeSlots.Access(s - f.numKeys)
	}
	return s
}

// NumKeys is the number of keys the function was built from.
func (f *SinglePHF) NumKeys() uint64 { return f.numKeys }

// TableSize is the size of the slot table.
func (f *SinglePHF) TableSize() uint64 { return f.tableSize }

// Seed is the hashing seed.
func (f *SinglePHF) Seed() uint64 { return f.seed }

// IsMinimal reports whether lookups are remapped onto [0, NumKeys()).
func (f *SinglePHF) IsMinimal() bool { return f.minimal }

// NumBits is the serialized size of the function in bits.
func (f *SinglePHF) NumBits() uint64 {
	b, _ := f.MarshalBinary()
	return uint64(len(b)) * 8
}
