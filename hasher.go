package pthash

import (
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"

	"github.com/tamirms/pthash/internal/bits"
)

// HasherID identifies a hash family in serialized functions. The ID is
// persisted so that a loaded function queries with the same family it was
// built with.
type HasherID uint8

const (
	// HasherXXH3 is the default 128-bit XXH3 family.
	HasherXXH3 HasherID = iota
	// HasherMurmur3 is the 128-bit murmur3 family.
	HasherMurmur3
	// HasherXXH3_64 computes a single 64-bit XXH3 value and derives the
	// second word from it. Cheaper per key, suitable for key sets up to a
	// few hundred million keys.
	HasherXXH3_64
)

func (id HasherID) String() string {
	switch id {
	case HasherXXH3:
		return "xxh3-128"
	case HasherMurmur3:
		return "murmur3-128"
	case HasherXXH3_64:
		return "xxh3-64"
	default:
		return "unknown"
	}
}

// Hash128 is the hash code of one key: H1 selects the bucket, H2 drives
// the slot probe inside the bucket.
type Hash128 struct {
	H1 uint64
	H2 uint64
}

// Hasher hashes keys to 128-bit codes under a 64-bit seed. Implementations
// must be pure functions of (key, seed) and safe for concurrent use.
type Hasher interface {
	Hash(key []byte, seed uint64) Hash128
	ID() HasherID
}

type xxh3Hasher struct{}

// NewXXH3Hasher returns the default hasher, 128-bit seeded XXH3.
func NewXXH3Hasher() Hasher { return xxh3Hasher{} }

func (xxh3Hasher) Hash(key []byte, seed uint64) Hash128 {
	h := xxh3.Hash128Seed(key, seed)
	return Hash128{H1: h.Hi, H2: h.Lo}
}

func (xxh3Hasher) ID() HasherID { return HasherXXH3 }

type murmur3Hasher struct{}

// NewMurmur3Hasher returns a 128-bit murmur3 hasher. murmur3 takes a 32-bit
// seed, so the upper seed bits are mixed into the output instead.
func NewMurmur3Hasher() Hasher { return murmur3Hasher{} }

func (murmur3Hasher) Hash(key []byte, seed uint64) Hash128 {
	h1, h2 := murmur3.Sum128WithSeed(key, uint32(seed))
	return Hash128{
		H1: h1 ^ bits.Mix64(seed),
		H2: h2 ^ bits.Mix64(^seed),
	}
}

func (murmur3Hasher) ID() HasherID { return HasherMurmur3 }

type xxh3Hasher64 struct{}

// NewXXH3Hasher64 returns a hasher that computes one 64-bit XXH3 value per
// key and derives H2 by remixing it.
func NewXXH3Hasher64() Hasher { return xxh3Hasher64{} }

func (xxh3Hasher64) Hash(key []byte, seed uint64) Hash128 {
	h := xxh3.HashSeed(key, seed)
	return Hash128{H1: h, H2: bits.Mix64(h ^ 0x9e3779b97f4a7c15)}
}

func (xxh3Hasher64) ID() HasherID { return HasherXXH3_64 }

func hasherByID(id HasherID) (Hasher, bool) {
	switch id {
	case HasherXXH3:
		return xxh3Hasher{}, true
	case HasherMurmur3:
		return murmur3Hasher{}, true
	case HasherXXH3_64:
		return xxh3Hasher64{}, true
	default:
		return nil, false
	}
}
