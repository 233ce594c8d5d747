package pthash

import (
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	pthasherrors "github.com/tamirms/pthash/errors"
)

// InvalidSeed marks an unset seed. Build draws random seeds until one
// succeeds, up to SeedRetries attempts.
const InvalidSeed = ^uint64(0)

const (
	defaultC           = 6.0
	defaultAlpha       = 0.94
	defaultSeedRetries = 10
	defaultSearchLimit = 1 << 20
)

// BuildConfig holds every tunable of a build. The zero value is not usable;
// start from NewBuildConfig and adjust fields before calling Build.
type BuildConfig struct {
	// C trades space for construction speed: the number of buckets is
	// ceil(C * n / log2(n)). Larger values mean more buckets, smaller
	// pilots, and faster search.
	C float64

	// Alpha is the load factor of the slot table, in (0, 1]. The table has
	// ceil(n / Alpha) slots. Alpha = 1 gives a minimal table directly but
	// slows the pilot search considerably.
	Alpha float64

	// Minimal remaps out-of-range slots so that keys map to [0, n).
	Minimal bool

	// Seed fixes the hashing seed. Leave as InvalidSeed to let the builder
	// draw random seeds, retrying on failure.
	Seed uint64

	// SeedRetries bounds how many seeds the builder tries when Seed is
	// unset. With a fixed Seed exactly one attempt is made.
	SeedRetries int

	// SearchLimit bounds the pilot probed per bucket before the attempt is
	// abandoned and the next seed tried.
	SearchLimit uint64

	// Encoder selects the pilot representation.
	Encoder EncoderID

	// Hasher computes key hash codes. Defaults to 128-bit XXH3.
	Hasher Hasher

	// NumPartitions splits the key set into independently built parts.
	// Values above 1 produce a partitioned function.
	NumPartitions int

	// NumThreads bounds the number of partitions built concurrently.
	NumThreads int

	// RAM caps the memory the partitioner holds in hash buffers, in bytes.
	// When the key set's hash codes exceed it, partitions spill to files
	// under TmpDir. Zero means no cap.
	RAM uint64

	// TmpDir hosts spill files. Defaults to os.TempDir() when empty.
	TmpDir string

	// NumBuckets overrides the bucket count computed from C. Zero means
	// derive it from C.
	NumBuckets uint64

	// Verbose enables per-phase progress logging through Logger.
	Verbose bool

	// Logger receives progress and diagnostics when Verbose is set.
	// Defaults to zap.NewNop().
	Logger *zap.Logger
}

// NewBuildConfig returns a config with the default parameters: C = 6.0,
// alpha = 0.94, minimal output, XXH3 hashing and dictionary-dictionary
// pilot encoding.
func NewBuildConfig() BuildConfig {
	return BuildConfig{
		C:             defaultC,
		Alpha:         defaultAlpha,
		Minimal:       true,
		Seed:          InvalidSeed,
		SeedRetries:   defaultSeedRetries,
		SearchLimit:   defaultSearchLimit,
		Encoder:       EncoderDictionary,
		Hasher:        NewXXH3Hasher(),
		NumPartitions: 1,
		NumThreads:    runtime.GOMAXPROCS(0),
	}
}

func (cfg *BuildConfig) validate() error {
	if cfg.C <= 0 {
		return fmt.Errorf("%w: c must be positive, got %v", pthasherrors.ErrInvalidConfig, cfg.C)
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in (0, 1], got %v", pthasherrors.ErrInvalidConfig, cfg.Alpha)
	}
	if cfg.SeedRetries < 1 {
		return fmt.Errorf("%w: seed retries must be at least 1, got %d", pthasherrors.ErrInvalidConfig, cfg.SeedRetries)
	}
	if cfg.SearchLimit == 0 {
		return fmt.Errorf("%w: search limit must be positive", pthasherrors.ErrInvalidConfig)
	}
	if cfg.NumPartitions < 1 {
		return fmt.Errorf("%w: partitions must be at least 1, got %d", pthasherrors.ErrInvalidConfig, cfg.NumPartitions)
	}
	if cfg.NumThreads < 1 {
		return fmt.Errorf("%w: threads must be at least 1, got %d", pthasherrors.ErrInvalidConfig, cfg.NumThreads)
	}
	if !validEncoder(cfg.Encoder) {
		return fmt.Errorf("%w: unknown encoder %d", pthasherrors.ErrInvalidConfig, cfg.Encoder)
	}
	if cfg.Hasher == nil {
		return fmt.Errorf("%w: hasher must not be nil", pthasherrors.ErrInvalidConfig)
	}
	return nil
}

func (cfg *BuildConfig) logger() *zap.Logger {
	if cfg.Verbose && cfg.Logger != nil {
		return cfg.Logger
	}
	return zap.NewNop()
}

// BuildTimings reports how long each construction phase took.
type BuildTimings struct {
	// Hashing covers hashing the keys and, for partitioned builds,
	// distributing hash codes to partitions.
	Hashing time.Duration

	// MapOrder covers bucket assignment and ordering buckets by size.
	MapOrder time.Duration

	// Search covers the pilot search over all buckets.
	Search time.Duration

	// Encode covers pilot compression and free-slot encoding.
	Encode time.Duration
}

// Total is the sum of all phases.
func (t BuildTimings) Total() time.Duration {
	return t.Hashing + t.MapOrder + t.Search + t.Encode
}

func (t *BuildTimings) add(o BuildTimings) {
	t.Hashing += o.Hashing
	t.MapOrder += o.MapOrder
	t.Search += o.Search
	t.Encode += o.Encode
}
