package pthash

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/cespare/xxhash/v2"

	pthasherrors "github.com/tamirms/pthash/errors"
)

func buildForMarshal(t *testing.T, cfg BuildConfig, n int) ([][]byte, Function, []byte) {
	t.Helper()
	keys := testKeys(n)
	f, _, err := Build(keys, cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	data, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return keys, f, data
}

func TestMarshalRoundTripSingle(t *testing.T) {
	for _, enc := range []EncoderID{EncoderDictionary, EncoderEliasFano, EncoderPartitionedCompact} {
		cfg := NewBuildConfig()
		cfg.Seed = 5
		cfg.Encoder = enc
		keys, f, data := buildForMarshal(t, cfg, 1500)

		g, err := Decode(data)
		if err != nil {
			t.Fatalf("%s: decode: %v", enc, err)
		}
		if g.NumKeys() != f.NumKeys() || g.Seed() != f.Seed() || g.IsMinimal() != f.IsMinimal() {
			t.Fatalf("%s: metadata changed across round trip", enc)
		}
		for _, k := range keys {
			if f.Lookup(k) != g.Lookup(k) {
				t.Fatalf("%s: position of %q changed across round trip", enc, k)
			}
		}
	}
}

func TestMarshalRoundTripPartitioned(t *testing.T) {
	cfg := NewBuildConfig()
	cfg.Seed = 5
	cfg.NumPartitions = 4
	keys, f, data := buildForMarshal(t, cfg, 10000)

	g, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := g.(*PartitionedPHF); !ok {
		t.Fatalf("decoded %T, want *PartitionedPHF", g)
	}
	for _, k := range keys {
		if f.Lookup(k) != g.Lookup(k) {
			t.Fatalf("position of %q changed across round trip", k)
		}
	}
}

func TestSeedIsFirstField(t *testing.T) {
	cfg := NewBuildConfig()
	cfg.Seed = 0xCAFEBABE
	_, _, data := buildForMarshal(t, cfg, 100)

	if got := binary.LittleEndian.Uint64(data); got != 0xCAFEBABE {
		t.Fatalf("first eight bytes hold %#x, want the seed", got)
	}

	seed, err := PeekSeed(data)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if seed != 0xCAFEBABE {
		t.Fatalf("peeked seed %#x, want 0xCAFEBABE", seed)
	}
}

func TestDecodeWithSeed(t *testing.T) {
	cfg := NewBuildConfig()
	cfg.Seed = 1717
	keys, f, data := buildForMarshal(t, cfg, 800)

	seed, err := PeekSeed(data)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	g, err := DecodeWithSeed(seed, data[8:])
	if err != nil {
		t.Fatalf("decode with seed: %v", err)
	}
	for _, k := range keys {
		if f.Lookup(k) != g.Lookup(k) {
			t.Fatalf("position of %q changed across seed re-attachment", k)
		}
	}
}

func TestSeedNotFirstFailsLoudly(t *testing.T) {
	cfg := NewBuildConfig()
	cfg.Seed = 31
	_, _, data := buildForMarshal(t, cfg, 100)

	// Stripping the seed leaves the magic in the first position, which
	// every entry point must reject rather than misread.
	headless := data[8:]
	if _, err := PeekSeed(headless); !errors.Is(err, pthasherrors.ErrSeedNotFirst) {
		t.Fatalf("peek: got %v, want ErrSeedNotFirst", err)
	}
	if _, err := Decode(headless); !errors.Is(err, pthasherrors.ErrSeedNotFirst) {
		t.Fatalf("decode: got %v, want ErrSeedNotFirst", err)
	}
	// Passing the full serialized form where the seedless remainder is
	// expected shifts the magic and must fail too.
	if _, err := DecodeWithSeed(31, data); err == nil {
		t.Fatal("decode with doubled seed field should fail")
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	cfg := NewBuildConfig()
	cfg.Seed = 9
	cfg.Encoder = EncoderEliasFano
	_, _, data := buildForMarshal(t, cfg, 2000)

	// Any single corrupt byte past the seed fails decoding, including in
	// the middle of the Elias-Fano payload.
	for _, pos := range []int{8, 12, 20, 60, len(data) / 2, len(data) - 10} {
		bad := append([]byte(nil), data...)
		bad[pos] ^= 0x10
		_, err := Decode(bad)
		if err == nil {
			t.Fatalf("decode succeeded with byte %d corrupted", pos)
		}
		ok := errors.Is(err, pthasherrors.ErrChecksumFailed) ||
			errors.Is(err, pthasherrors.ErrInvalidMagic) ||
			errors.Is(err, pthasherrors.ErrInvalidVersion) ||
			errors.Is(err, pthasherrors.ErrCorrupted)
		if !ok {
			t.Fatalf("byte %d: unexpected error %v", pos, err)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	cfg := NewBuildConfig()
	cfg.Seed = 9
	_, _, data := buildForMarshal(t, cfg, 500)
	for _, cut := range []int{0, 7, 15, 31} {
		if _, err := Decode(data[:cut]); !errors.Is(err, pthasherrors.ErrTruncated) {
			t.Fatalf("cut %d: got %v, want ErrTruncated", cut, err)
		}
	}
	// Longer truncations still carry a checksum mismatch or parse error.
	if _, err := Decode(data[:len(data)-1]); err == nil {
		t.Fatal("decode of truncated data succeeded")
	}
}

// reseal rewrites the trailing checksum after a test mutates the payload,
// so decoding exercises the structural validation rather than the checksum.
func reseal(data []byte) {
	sum := xxhash.Sum64(data[8 : len(data)-8])
	binary.LittleEndian.PutUint64(data[len(data)-8:], sum)
}

func TestDecodeRejectsOverflowingRankVector(t *testing.T) {
	// Hand-built function whose dictionary rank vector claims 2^60
	// entries at width 16: the bit count wraps uint64 and derives zero
	// backing words. Decode must reject it, not index the empty vector.
	buf := appendHeader(nil, 7, flagMinimal, HasherXXH3, EncoderDictionary)
	buf = binary.LittleEndian.AppendUint64(buf, 7)   // search seed
	buf = binary.LittleEndian.AppendUint64(buf, 100) // num keys
	buf = binary.LittleEndian.AppendUint64(buf, 120) // table size
	buf = binary.LittleEndian.AppendUint64(buf, 30)  // dense buckets
	buf = binary.LittleEndian.AppendUint64(buf, 70)  // sparse buckets
	buf = append(buf, 0)                             // no free slots
	buf = binary.LittleEndian.AppendUint64(buf, 30)  // dictionary split
	buf = binary.LittleEndian.AppendUint64(buf, 1<<60)
	buf = append(buf, 16)
	data := sealChecksum(buf)

	_, err := Decode(data)
	if err == nil {
		t.Fatal("decode accepted an overflowing rank vector")
	}
	if !errors.Is(err, pthasherrors.ErrCorrupted) && !errors.Is(err, pthasherrors.ErrTruncated) {
		t.Fatalf("got %v, want ErrCorrupted or ErrTruncated", err)
	}
}

func TestDecodeRejectsPilotCountMismatch(t *testing.T) {
	// Growing the sparse bucket count leaves fewer pilots than buckets;
	// an accepted mismatch would fault on the first lookup that hashes
	// past the encoded sequence.
	for _, enc := range []EncoderID{EncoderDictionary, EncoderEliasFano, EncoderPartitionedCompact} {
		cfg := NewBuildConfig()
		cfg.Seed = 5
		cfg.Encoder = enc
		_, _, data := buildForMarshal(t, cfg, 1200)

		bad := append([]byte(nil), data...)
		const sparseOff = headerSize + 32
		sparse := binary.LittleEndian.Uint64(bad[sparseOff:])
		binary.LittleEndian.PutUint64(bad[sparseOff:], sparse+3)
		reseal(bad)

		if _, err := Decode(bad); !errors.Is(err, pthasherrors.ErrCorrupted) {
			t.Fatalf("%s: got %v, want ErrCorrupted", enc, err)
		}
	}
}

func TestDecodeBadVersion(t *testing.T) {
	cfg := NewBuildConfig()
	cfg.Seed = 9
	_, _, data := buildForMarshal(t, cfg, 100)
	bad := append([]byte(nil), data...)
	binary.LittleEndian.PutUint16(bad[12:], 9)
	if _, err := Decode(bad); !errors.Is(err, pthasherrors.ErrInvalidVersion) {
		t.Fatalf("got %v, want ErrInvalidVersion", err)
	}
}

func TestUnmarshalBinaryTypeMismatch(t *testing.T) {
	cfg := NewBuildConfig()
	cfg.Seed = 2
	cfg.NumPartitions = 2
	_, _, partData := buildForMarshal(t, cfg, 1000)

	var s SinglePHF
	if err := s.UnmarshalBinary(partData); err == nil {
		t.Fatal("single function unmarshaled partitioned bytes")
	}

	cfg.NumPartitions = 1
	_, _, singleData := buildForMarshal(t, cfg, 1000)
	var p PartitionedPHF
	if err := p.UnmarshalBinary(singleData); err == nil {
		t.Fatal("partitioned function unmarshaled single bytes")
	}

	if err := s.UnmarshalBinary(singleData); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.NumKeys() != 1000 {
		t.Fatalf("numKeys = %d, want 1000", s.NumKeys())
	}
}
