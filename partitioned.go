package pthash

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	pthasherrors "github.com/tamirms/pthash/errors"
	"github.com/tamirms/pthash/internal/bits"
)

// PartitionedPHF splits the key set into partitions by the first hash word
// and builds an independent SinglePHF per partition. Partitions build
// concurrently, and a failed partition retries with a seed derived from the
// top-level seed instead of rehashing the whole key set.
type PartitionedPHF struct {
	seed    uint64
	numKeys uint64
	minimal bool
	hasher  Hasher

	// offsets[p] is the position base of partition p: cumulative key
	// counts for minimal functions, cumulative table sizes otherwise.
	offsets []uint64
	parts   []*SinglePHF
}

// partitionSeed derives the search seed for one build attempt of one
// partition. Deterministic in (topSeed, partition, attempt) so that builds
// with a fixed seed reproduce bit for bit.
func partitionSeed(topSeed uint64, partition, attempt int) uint64 {
	s := topSeed ^ uint64(partition+1)*0x9e3779b97f4a7c15 ^ uint64(attempt)*0xbf58476d1ce4e5b9
	return bits.Mix64(s)
}

// buildPartition retries one partition with derived seeds over its fixed
// hash codes.
func buildPartition(hashes []Hash128, topSeed uint64, p int, cfg *BuildConfig) (*SinglePHF, BuildTimings, error) {
	var timings BuildTimings
	var lastErr error
	for attempt := 0; attempt < cfg.SeedRetries; attempt++ {
		f, t, err := buildSingleFromHashes(hashes, partitionSeed(topSeed, p, attempt), cfg)
		timings.add(t)
		if err == nil {
			return f, timings, nil
		}
		if errors.Is(err, pthasherrors.ErrDuplicateKey) {
			return nil, timings, err
		}
		lastErr = err
	}
	return nil, timings, fmt.Errorf("%w: partition %d failed %d attempts: %v",
		pthasherrors.ErrSeedSpaceExhausted, p, cfg.SeedRetries, lastErr)
}

func buildPartitioned(keys [][]byte, cfg *BuildConfig) (*PartitionedPHF, BuildTimings, error) {
	log := cfg.logger()
	numParts := cfg.NumPartitions
	var timings BuildTimings

	topSeed := cfg.Seed
	if topSeed == InvalidSeed {
		topSeed = drawSeeds(cfg)[0]
	}

	start := time.Now()
	hashes := hashKeysParallel(keys, cfg.Hasher, topSeed, cfg.NumThreads)

	counts := make([]uint64, numParts)
	for _, h := range hashes {
		counts[bits.FastRange(h.H1, uint64(numParts))]++
	}

	// Spill to disk when the resident hash buffers would exceed the RAM
	// budget. The budget covers both the flat hash array and the grouped
	// copy, hence the factor of two.
	spilling := cfg.RAM > 0 && 2*spillRecordSize*uint64(len(keys)) > cfg.RAM
	var store *spillStore
	var groups [][]Hash128
	if spilling {
		var err error
		store, err = newSpillStore(cfg.TmpDir, counts)
		if err != nil {
			return nil, timings, err
		}
		defer store.close()
		for _, h := range hashes {
			p := int(bits.FastRange(h.H1, uint64(numParts)))
			if err := store.add(p, h); err != nil {
				return nil, timings, fmt.Errorf("spill hash codes: %w", err)
			}
		}
		hashes = nil
		if err := store.finish(); err != nil {
			return nil, timings, err
		}
	} else {
		groups = make([][]Hash128, numParts)
		for p := range groups {
			groups[p] = make([]Hash128, 0, counts[p])
		}
		for _, h := range hashes {
			p := bits.FastRange(h.H1, uint64(numParts))
			groups[p] = append(groups[p], h)
		}
		hashes = nil
	}
	timings.Hashing = time.Since(start)
	log.Info("partitioned keys",
		zap.Int("partitions", numParts),
		zap.Uint64("seed", topSeed),
		zap.Bool("spilled", spilling),
		zap.Duration("elapsed", timings.Hashing))

	subCfg := *cfg
	subCfg.NumPartitions = 1
	if cfg.NumBuckets > 0 {
		// An explicit bucket count is a total over all partitions.
		subCfg.NumBuckets = cfg.NumBuckets / uint64(numParts)
		if subCfg.NumBuckets == 0 {
			subCfg.NumBuckets = 1
		}
	}

	parts := make([]*SinglePHF, numParts)
	partTimings := make([]BuildTimings, numParts)
	var g errgroup.Group
	g.SetLimit(cfg.NumThreads)
	for p := 0; p < numParts; p++ {
		p := p
		g.Go(func() error {
			var sub []Hash128
			if spilling {
				var err error
				sub, err = store.readPartition(p)
				if err != nil {
					return err
				}
			} else {
				sub = groups[p]
			}
			f, t, err := buildPartition(sub, topSeed, p, &subCfg)
			if err != nil {
				return err
			}
			parts[p] = f
			partTimings[p] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, timings, err
	}

	for _, t := range partTimings {
		timings.MapOrder += t.MapOrder
		timings.Search += t.Search
		timings.Encode += t.Encode
	}

	offsets := make([]uint64, numParts+1)
	for p, f := range parts {
		if cfg.Minimal {
			offsets[p+1] = offsets[p] + f.numKeys
		} else {
			offsets[p+1] = offsets[p] + f.tableSize
		}
	}

	log.Info("partitioned build succeeded",
		zap.Uint64("seed", topSeed),
		zap.Uint64("num_keys", uint64(len(keys))),
		zap.Duration("elapsed", timings.Total()))

	return &PartitionedPHF{
		seed:    topSeed,
		numKeys: uint64(len(keys)),
		minimal: cfg.Minimal,
		hasher:  cfg.Hasher,
		offsets: offsets,
		parts:   parts,
	}, timings, nil
}

func hashKeysParallel(keys [][]byte, hasher Hasher, seed uint64, numThreads int) []Hash128 {
	hashes := make([]Hash128, len(keys))
	if numThreads < 2 || len(keys) < 1<<14 {
		for i, k := range keys {
			hashes[i] = hasher.Hash(k, seed)
		}
		return hashes
	}
	var wg sync.WaitGroup
	chunk := (len(keys) + numThreads - 1) / numThreads
	for lo := 0; lo < len(keys); lo += chunk {
		hi := lo + chunk
		if hi > len(keys) {
			hi = len(keys)
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				hashes[i] = hasher.Hash(keys[i], seed)
			}
		}(lo, hi)
	}
	wg.Wait()
	return hashes
}

// Lookup returns the position of key.
func (f *PartitionedPHF) Lookup(key []byte) uint64 {
	h := f.hasher.Hash(key, f.seed)
	p := bits.FastRange(h.H1, uint64(len(f.parts)))
	return f.offsets[p] + f.parts[p].positionFromHash(h)
}

// NumKeys is the number of keys the function was built from.
func (f *PartitionedPHF) NumKeys() uint64 { return f.numKeys }

// TableSize is the exclusive upper bound of Lookup.
func (f *PartitionedPHF) TableSize() uint64 { return f.offsets[len(f.parts)] }

// Seed is the top-level hashing seed.
func (f *PartitionedPHF) Seed() uint64 { return f.seed }

// IsMinimal reports whether lookups are remapped onto [0, NumKeys()).
func (f *PartitionedPHF) IsMinimal() bool { return f.minimal }

// NumPartitions is the number of independently built parts.
func (f *PartitionedPHF) NumPartitions() int { return len(f.parts) }

// NumBits is the serialized size of the function in bits.
func (f *PartitionedPHF) NumBits() uint64 {
	b, _ := f.MarshalBinary()
	return uint64(len(b)) * 8
}
