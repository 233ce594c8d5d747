package eliasfano

import (
	"errors"
	mrand "math/rand"
	"sort"
	"testing"

	pthasherrors "github.com/tamirms/pthash/errors"
)

func randomMonotone(rng *mrand.Rand, n int, maxGap uint64) []uint64 {
	values := make([]uint64, n)
	var acc uint64
	for i := range values {
		acc += rng.Uint64() % (maxGap + 1)
		values[i] = acc
	}
	return values
}

func TestAccess(t *testing.T) {
	rng := mrand.New(mrand.NewSource(3<<8|5))
	cases := [][]uint64{
		{0},
		{7},
		{0, 0, 0},
		{1, 1, 2, 2, 2, 9},
		{0, 1, 2, 3, 4, 5},
		randomMonotone(rng, 1000, 1000),
		randomMonotone(rng, 5000, 3), // dense, low width 0 or 1
		randomMonotone(rng, 300, 1<<40),
	}
	for ci, values := range cases {
		s := Encode(values)
		if s.Len() != uint64(len(values)) {
			t.Fatalf("case %d: len = %d, want %d", ci, s.Len(), len(values))
		}
		for i, v := range values {
			if got := s.Access(uint64(i)); got != v {
				t.Fatalf("case %d: Access(%d) = %d, want %d", ci, i, got, v)
			}
		}
	}
}

func TestAccessCrossesSampleBoundaries(t *testing.T) {
	// More values than one select sample covers, with long unary runs.
	rng := mrand.New(mrand.NewSource(9<<8|2))
	values := randomMonotone(rng, 3*selectSampleRate+17, 1<<20)
	s := Encode(values)
	for i, v := range values {
		if got := s.Access(uint64(i)); got != v {
			t.Fatalf("Access(%d) = %d, want %d", i, got, v)
		}
	}
}

func TestEncodePanicsOnDecreasingInput(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on decreasing input")
		}
	}()
	Encode([]uint64{5, 4})
}

func TestRoundTrip(t *testing.T) {
	rng := mrand.New(mrand.NewSource(1<<8|2))
	for _, n := range []int{0, 1, 63, 64, 1000} {
		values := randomMonotone(rng, n, 1<<30)
		s := Encode(values)
		data := s.AppendTo(nil)

		// Trailing bytes must be left untouched.
		data = append(data, 0xAA, 0xBB)
		parsed, consumed, err := Parse(data)
		if err != nil {
			t.Fatalf("n=%d: parse: %v", n, err)
		}
		if consumed != len(data)-2 {
			t.Fatalf("n=%d: consumed %d, want %d", n, consumed, len(data)-2)
		}
		if parsed.Len() != uint64(n) {
			t.Fatalf("n=%d: parsed len = %d", n, parsed.Len())
		}
		for i, v := range values {
			if got := parsed.Access(uint64(i)); got != v {
				t.Fatalf("n=%d: parsed Access(%d) = %d, want %d", n, i, got, v)
			}
		}
	}
}

func TestParseErrors(t *testing.T) {
	rng := mrand.New(mrand.NewSource(4<<8|4))
	values := randomMonotone(rng, 500, 1000)
	data := Encode(values).AppendTo(nil)

	if _, _, err := Parse(data[:10]); !errors.Is(err, pthasherrors.ErrTruncated) {
		t.Fatalf("short header: got %v, want ErrTruncated", err)
	}
	if _, _, err := Parse(data[:len(data)-3]); !errors.Is(err, pthasherrors.ErrTruncated) {
		t.Fatalf("short payload: got %v, want ErrTruncated", err)
	}

	// A flipped bit in the high stream changes its population count.
	bad := append([]byte(nil), data...)
	bad[len(bad)-1] ^= 0x04
	if _, _, err := Parse(bad); !errors.Is(err, pthasherrors.ErrCorrupted) {
		t.Fatalf("flipped high bit: got %v, want ErrCorrupted", err)
	}

	// A low width that disagrees with (n, universe) is rejected.
	bad = append([]byte(nil), data...)
	bad[16]++
	if _, _, err := Parse(bad); !errors.Is(err, pthasherrors.ErrCorrupted) {
		t.Fatalf("bad low width: got %v, want ErrCorrupted", err)
	}
}

func TestNumBitsCloseToTheory(t *testing.T) {
	rng := mrand.New(mrand.NewSource(6<<8|6))
	values := randomMonotone(rng, 10000, 1<<20)
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	s := Encode(values)
	perValue := float64(s.NumBits()) / float64(len(values))
	// floor(log2(U/n)) + 2 bits plus select sample overhead.
	if perValue > 16 {
		t.Fatalf("%.2f bits per value, expected compact encoding", perValue)
	}
}
