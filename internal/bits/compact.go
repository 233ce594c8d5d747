package bits

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	pthasherrors "github.com/tamirms/pthash/errors"
)

// CompactVector stores n unsigned integers at a fixed bit width, packed into
// 64-bit words. Width is chosen from the largest stored value, so a vector of
// small pilots costs a few bits per entry instead of a full uint64.
type CompactVector struct {
	words []uint64
	width uint8
	n     uint64
}

// CompactFromSlice packs values at the width of the largest element.
// An all-zero slice packs at width zero and stores no words at all.
func CompactFromSlice(values []uint64) *CompactVector {
	var maxVal uint64
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	width := uint8(bits.Len64(maxVal))
	cv := &CompactVector{
		width: width,
		n:     uint64(len(values)),
	}
	if width == 0 {
		return cv
	}
	cv.words = make([]uint64, (cv.n*uint64(width)+wordBits-1)/wordBits)
	for i, v := range values {
		cv.set(uint64(i), v)
	}
	return cv
}

func (cv *CompactVector) set(i, v uint64) {
	bitPos := i * uint64(cv.width)
	word := bitPos / wordBits
	shift := bitPos % wordBits
	cv.words[word] |= v << shift
	if spill := shift + uint64(cv.width); spill > wordBits {
		cv.words[word+1] |= v >> (wordBits - shift)
	}
}

// Get returns element i. The caller must keep i < Len().
func (cv *CompactVector) Get(i uint64) uint64 {
	if cv.width == 0 {
		return 0
	}
	bitPos := i * uint64(cv.width)
	word := bitPos / wordBits
	shift := bitPos % wordBits
	v := cv.words[word] >> shift
	if spill := shift + uint64(cv.width); spill > wordBits {
		v |= cv.words[word+1] << (wordBits - shift)
	}
	return v & (1<<cv.width - 1)
}

// Len returns the number of stored elements.
func (cv *CompactVector) Len() uint64 {
	return cv.n
}

// Width returns the bit width per element.
func (cv *CompactVector) Width() uint8 {
	return cv.width
}

// NumBits returns the in-memory payload size in bits.
func (cv *CompactVector) NumBits() uint64 {
	return uint64(len(cv.words)) * wordBits
}

// AppendTo serializes the vector.
// Layout: [n uint64_le][width uint8][words × uint64_le].
func (cv *CompactVector) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, cv.n)
	dst = append(dst, cv.width)
	for _, w := range cv.words {
		dst = binary.LittleEndian.AppendUint64(dst, w)
	}
	return dst
}

// ParseCompact decodes a vector serialized by AppendTo and returns the number
// of bytes consumed. Word counts are recomputed from (n, width), so a length
// that disagrees with its own header is rejected rather than misread.
func ParseCompact(data []byte) (*CompactVector, int, error) {
	if len(data) < 9 {
		return nil, 0, pthasherrors.ErrTruncated
	}
	n := binary.LittleEndian.Uint64(data[0:8])
	width := data[8]
	if width > wordBits {
		return nil, 0, fmt.Errorf("%w: compact vector width %d", pthasherrors.ErrCorrupted, width)
	}
	if width > 0 && n > (math.MaxUint64-wordBits+1)/uint64(width) {
		return nil, 0, fmt.Errorf("%w: compact vector length %d at width %d overflows", pthasherrors.ErrCorrupted, n, width)
	}
	numWords := int((n*uint64(width) + wordBits - 1) / wordBits)
	consumed := 9 + numWords*8
	if len(data) < consumed {
		return nil, 0, pthasherrors.ErrTruncated
	}
	cv := &CompactVector{
		width: width,
		n:     n,
	}
	if numWords > 0 {
		cv.words = make([]uint64, numWords)
		for i := range cv.words {
			cv.words[i] = binary.LittleEndian.Uint64(data[9+i*8:])
		}
	}
	return cv, consumed, nil
}
