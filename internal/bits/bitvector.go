package bits

const wordBits = 64

// BitVector is a fixed-size dense bit set. The pilot search uses one to track
// slot occupancy; the minimality pass walks it to locate holes.
type BitVector struct {
	words []uint64
	size  uint64
}

// NewBitVector returns a zeroed bit vector of n bits.
func NewBitVector(n uint64) *BitVector {
	return &BitVector{
		words: make([]uint64, (n+wordBits-1)/wordBits),
		size:  n,
	}
}

// Size returns the number of bits.
func (bv *BitVector) Size() uint64 {
	return bv.size
}

// Get reports whether bit i is set.
func (bv *BitVector) Get(i uint64) bool {
	return bv.words[i/wordBits]&(1<<(i%wordBits)) != 0
}

// Set sets bit i.
func (bv *BitVector) Set(i uint64) {
	bv.words[i/wordBits] |= 1 << (i % wordBits)
}

// Clear unsets bit i.
func (bv *BitVector) Clear(i uint64) {
	bv.words[i/wordBits] &^= 1 << (i % wordBits)
}

// Reset zeroes every word for reuse across seed attempts.
func (bv *BitVector) Reset() {
	clear(bv.words)
}
