package pthash

import (
	mrand "math/rand"

	pthasherrors "github.com/tamirms/pthash/errors"
)

// Function is a queryable perfect hash function over the key set it was
// built from. Minimal functions map the n build keys bijectively onto
// [0, n); non-minimal ones map them injectively into [0, TableSize()).
// Keys outside the build set map to arbitrary in-range values.
//
// Implementations are immutable after construction and safe for concurrent
// lookups.
type Function interface {
	// Lookup returns the position of key.
	Lookup(key []byte) uint64

	// NumKeys is the number of keys the function was built from.
	NumKeys() uint64

	// TableSize is the size of the slot table, the exclusive upper bound
	// of Lookup for non-minimal functions.
	TableSize() uint64

	// Seed is the hashing seed, the value that PeekSeed recovers from the
	// serialized form.
	Seed() uint64

	// IsMinimal reports whether lookups are remapped onto [0, NumKeys()).
	IsMinimal() bool

	// NumBits is the serialized size of the function in bits.
	NumBits() uint64

	// MarshalBinary serializes the function. The first eight bytes are
	// always the seed, little-endian.
	MarshalBinary() ([]byte, error)
}

// Build constructs a perfect hash function over keys. Keys must be
// distinct; a duplicate surfaces as ErrDuplicateKey. With
// cfg.NumPartitions > 1 the key set is split and the partitions are built
// concurrently on cfg.NumThreads goroutines.
func Build(keys [][]byte, cfg BuildConfig) (Function, BuildTimings, error) {
	if err := cfg.validate(); err != nil {
		return nil, BuildTimings{}, err
	}
	if len(keys) == 0 {
		return nil, BuildTimings{}, pthasherrors.ErrEmptyKeySet
	}
	if cfg.NumPartitions > 1 {
		f, timings, err := buildPartitioned(keys, &cfg)
		if err != nil {
			return nil, timings, err
		}
		return f, timings, nil
	}
	f, timings, err := buildSingle(keys, &cfg)
	if err != nil {
		return nil, timings, err
	}
	return f, timings, nil
}

// drawSeeds returns the seeds a build may attempt: the fixed seed when one
// is set, otherwise cfg.SeedRetries random draws.
func drawSeeds(cfg *BuildConfig) []uint64 {
	if cfg.Seed != InvalidSeed {
		return []uint64{cfg.Seed}
	}
	seeds := make([]uint64, cfg.SeedRetries)
	for i := range seeds {
		s := mrand.Uint64()
		if s == InvalidSeed {
			s--
		}
		seeds[i] = s
	}
	return seeds
}
