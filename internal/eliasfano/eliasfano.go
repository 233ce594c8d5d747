// Package eliasfano implements the Elias-Fano encoding of monotone integer
// sequences with O(1) random access.
//
// For n values bounded by a universe U, each value is split into a fixed-width
// low part and a high part; high parts are stored as unary-coded gaps in a
// bit stream. Total cost is about n*floor(log2(U/n)) + 2n bits, close to the
// information-theoretic minimum for a monotone sequence.
//
// Access(i) locates the i-th set bit of the high stream via a sampled select
// index rebuilt at parse time, so decoding never materializes the sequence.
package eliasfano

import (
	"encoding/binary"
	"fmt"
	mathbits "math/bits"

	pthasherrors "github.com/tamirms/pthash/errors"
)

const (
	wordBits = 64

	// selectSampleRate is the number of set bits between consecutive select
	// samples. Access scans at most this many ones past a sample.
	selectSampleRate = 256
)

// Sequence is an encoded monotone non-decreasing sequence.
type Sequence struct {
	n        uint64
	universe uint64 // exclusive upper bound on stored values
	lowWidth uint8

	low  []uint64 // packed low parts, lowWidth bits each
	high []uint64 // unary-coded high parts

	// samples[j] is the bit position of the (j*selectSampleRate)-th set bit
	// in high. Rebuilt on Parse, never serialized.
	samples []uint64
}

// lowBitsFor returns the low-part width for n values below universe:
// max(0, floor(log2(universe/n))).
func lowBitsFor(n, universe uint64) uint8 {
	if n == 0 || universe <= n {
		return 0
	}
	return uint8(mathbits.Len64(universe/n) - 1)
}

// Encode builds a Sequence from a monotone non-decreasing slice.
// Panics if the input decreases; callers construct inputs that are monotone
// by definition (prefix sums, hole cursors).
func Encode(values []uint64) *Sequence {
	n := uint64(len(values))
	var universe uint64
	if n > 0 {
		universe = values[n-1] + 1
	}
	s := &Sequence{
		n:        n,
		universe: universe,
		lowWidth: lowBitsFor(n, universe),
	}
	if n == 0 {
		return s
	}

	highLen := n + (universe >> s.lowWidth) + 1
	s.high = make([]uint64, (highLen+wordBits-1)/wordBits)
	if s.lowWidth > 0 {
		s.low = make([]uint64, (n*uint64(s.lowWidth)+wordBits-1)/wordBits)
	}

	lowMask := uint64(1)<<s.lowWidth - 1
	var prev uint64
	for i, v := range values {
		if v < prev {
			panic("eliasfano: input sequence is not monotone")
		}
		prev = v

		if s.lowWidth > 0 {
			bitPos := uint64(i) * uint64(s.lowWidth)
			word := bitPos / wordBits
			shift := bitPos % wordBits
			lv := v & lowMask
			s.low[word] |= lv << shift
			if spill := shift + uint64(s.lowWidth); spill > wordBits {
				s.low[word+1] |= lv >> (wordBits - shift)
			}
		}

		highPos := (v >> s.lowWidth) + uint64(i)
		s.high[highPos/wordBits] |= 1 << (highPos % wordBits)
	}

	s.buildSelectSamples()
	return s
}

// buildSelectSamples records the bit position of every selectSampleRate-th
// set bit in the high stream.
func (s *Sequence) buildSelectSamples() {
	if s.n == 0 {
		return
	}
	s.samples = make([]uint64, 0, s.n/selectSampleRate+1)
	count := uint64(0)
	for w, word := range s.high {
		ones := uint64(mathbits.OnesCount64(word))
		for count+ones > uint64(len(s.samples))*selectSampleRate {
			// The (len(samples)*rate)-th one is inside this word.
			target := uint64(len(s.samples))*selectSampleRate - count
			rem := word
			for k := uint64(0); k < target; k++ {
				rem &= rem - 1
			}
			s.samples = append(s.samples, uint64(w)*wordBits+uint64(mathbits.TrailingZeros64(rem)))
		}
		count += ones
	}
}

// select1 returns the bit position of the i-th (0-based) set bit.
func (s *Sequence) select1(i uint64) uint64 {
	pos := s.samples[i/selectSampleRate]
	skip := i % selectSampleRate

	word := pos / wordBits
	// Mask off bits below the sampled one so the sample is the first set bit.
	cur := s.high[word] & (^uint64(0) << (pos % wordBits))
	for {
		ones := uint64(mathbits.OnesCount64(cur))
		if skip < ones {
			for k := uint64(0); k < skip; k++ {
				cur &= cur - 1
			}
			return word*wordBits + uint64(mathbits.TrailingZeros64(cur))
		}
		skip -= ones
		word++
		cur = s.high[word]
	}
}

// Access returns element i. The caller must keep i < Len().
func (s *Sequence) Access(i uint64) uint64 {
	highPart := s.select1(i) - i
	if s.lowWidth == 0 {
		return highPart
	}
	bitPos := i * uint64(s.lowWidth)
	word := bitPos / wordBits
	shift := bitPos % wordBits
	v := s.low[word] >> shift
	if spill := shift + uint64(s.lowWidth); spill > wordBits {
		v |= s.low[word+1] << (wordBits - shift)
	}
	low := v & (uint64(1)<<s.lowWidth - 1)
	return highPart<<s.lowWidth | low
}

// Len returns the number of encoded values.
func (s *Sequence) Len() uint64 {
	return s.n
}

// NumBits returns the in-memory payload size in bits, select samples included.
func (s *Sequence) NumBits() uint64 {
	return uint64(len(s.low)+len(s.high)+len(s.samples)) * wordBits
}

// AppendTo serializes the sequence.
// Layout: [n u64][universe u64][lowWidth u8][low words][high words], all
// little-endian. Word counts are derived from (n, universe, lowWidth).
func (s *Sequence) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, s.n)
	dst = binary.LittleEndian.AppendUint64(dst, s.universe)
	dst = append(dst, s.lowWidth)
	for _, w := range s.low {
		dst = binary.LittleEndian.AppendUint64(dst, w)
	}
	for _, w := range s.high {
		dst = binary.LittleEndian.AppendUint64(dst, w)
	}
	return dst
}

// Parse decodes a sequence serialized by AppendTo and returns the bytes
// consumed. The high stream must contain exactly n set bits; a corrupt
// payload fails here instead of producing silently wrong values.
func Parse(data []byte) (*Sequence, int, error) {
	if len(data) < 17 {
		return nil, 0, pthasherrors.ErrTruncated
	}
	s := &Sequence{
		n:        binary.LittleEndian.Uint64(data[0:8]),
		universe: binary.LittleEndian.Uint64(data[8:16]),
		lowWidth: data[16],
	}
	if s.lowWidth >= wordBits {
		return nil, 0, fmt.Errorf("%w: elias-fano low width %d", pthasherrors.ErrCorrupted, s.lowWidth)
	}
	if s.n == 0 {
		if s.universe != 0 {
			return nil, 0, fmt.Errorf("%w: empty elias-fano sequence with non-zero universe", pthasherrors.ErrCorrupted)
		}
		return s, 17, nil
	}
	if expected := lowBitsFor(s.n, s.universe); s.lowWidth != expected {
		return nil, 0, fmt.Errorf("%w: elias-fano low width %d, expected %d", pthasherrors.ErrCorrupted, s.lowWidth, expected)
	}

	lowWords := 0
	if s.lowWidth > 0 {
		lowWords = int((s.n*uint64(s.lowWidth) + wordBits - 1) / wordBits)
	}
	highLen := s.n + (s.universe >> s.lowWidth) + 1
	highWords := int((highLen + wordBits - 1) / wordBits)

	consumed := 17 + (lowWords+highWords)*8
	if len(data) < consumed {
		return nil, 0, pthasherrors.ErrTruncated
	}

	if lowWords > 0 {
		s.low = make([]uint64, lowWords)
		for i := range s.low {
			s.low[i] = binary.LittleEndian.Uint64(data[17+i*8:])
		}
	}
	s.high = make([]uint64, highWords)
	base := 17 + lowWords*8
	ones := uint64(0)
	for i := range s.high {
		s.high[i] = binary.LittleEndian.Uint64(data[base+i*8:])
		ones += uint64(mathbits.OnesCount64(s.high[i]))
	}
	if ones != s.n {
		return nil, 0, fmt.Errorf("%w: elias-fano high stream has %d set bits, expected %d",
			pthasherrors.ErrCorrupted, ones, s.n)
	}

	s.buildSelectSamples()
	return s, consumed, nil
}
