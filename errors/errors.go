// Package errors defines all exported error sentinels for the pthash library.
//
// This is the single source of truth for error values. Both the top-level
// pthash package and internal packages import from here, ensuring errors.Is
// checks work across package boundaries.
package errors

import "errors"

// Input errors. These are detected before any pilot search runs and are
// never retried.
var (
	ErrEmptyKeySet   = errors.New("pthash: cannot build a function over zero keys")
	ErrDuplicateKey  = errors.New("pthash: duplicate key detected")
	ErrInvalidConfig = errors.New("pthash: invalid build configuration")
)

// Construction errors. The builder retries internally with fresh seeds up to
// the configured ceiling; these surface only once that ceiling is exhausted.
var (
	ErrSeedSpaceExhausted = errors.New("pthash: all seed attempts failed")
	ErrPilotLimitReached  = errors.New("pthash: pilot search limit exceeded for a bucket")
)

// Encoding errors. Malformed or corrupt serialized bytes are always fatal to
// the decode call; nothing is silently truncated.
var (
	ErrInvalidMagic   = errors.New("pthash: invalid magic number")
	ErrInvalidVersion = errors.New("pthash: unsupported format version")
	ErrTruncated      = errors.New("pthash: serialized function is truncated")
	ErrCorrupted      = errors.New("pthash: serialized function is corrupted")
	ErrChecksumFailed = errors.New("pthash: file checksum verification failed")
	ErrUnknownEncoder = errors.New("pthash: unknown pilot encoder tag")
)

// ErrSeedNotFirst reports a violation of the seed-access protocol: the seed
// must be the first field of any serialized function. Seeing anything else in
// that position is a programming or version-mismatch error, never retried.
var ErrSeedNotFirst = errors.New("pthash: seed is not the first serialized field")
