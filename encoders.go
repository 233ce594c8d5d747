package pthash

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"sort"

	pthasherrors "github.com/tamirms/pthash/errors"
	intbits "github.com/tamirms/pthash/internal/bits"
	"github.com/tamirms/pthash/internal/eliasfano"
)

// EncoderID selects the compressed representation of the pilots. The ID is
// persisted so a loaded function decodes with the representation it was
// built with.
type EncoderID uint8

const (
	// EncoderDictionary compresses the dense and sparse bucket segments
	// with separate frequency dictionaries. The best space/speed balance
	// for most inputs.
	EncoderDictionary EncoderID = iota
	// EncoderEliasFano stores the prefix sums of the pilots as an
	// Elias-Fano sequence. Smallest, slower to access.
	EncoderEliasFano
	// EncoderPartitionedCompact packs pilots in fixed-size chunks at each
	// chunk's own bit width. Fastest to access, larger.
	EncoderPartitionedCompact
)

func (id EncoderID) String() string {
	switch id {
	case EncoderDictionary:
		return "dictionary_dictionary"
	case EncoderEliasFano:
		return "elias_fano"
	case EncoderPartitionedCompact:
		return "partitioned_compact"
	default:
		return "unknown"
	}
}

// EncoderByName resolves the textual encoder names accepted on the command
// line.
func EncoderByName(name string) (EncoderID, error) {
	switch name {
	case "dictionary_dictionary":
		return EncoderDictionary, nil
	case "elias_fano":
		return EncoderEliasFano, nil
	case "partitioned_compact":
		return EncoderPartitionedCompact, nil
	default:
		return 0, fmt.Errorf("%w: %q", pthasherrors.ErrUnknownEncoder, name)
	}
}

func validEncoder(id EncoderID) bool {
	return id == EncoderDictionary || id == EncoderEliasFano || id == EncoderPartitionedCompact
}

// pilotEncoding is a compressed random-access sequence of pilots.
type pilotEncoding interface {
	access(i uint64) uint64
	numPilots() uint64
	numBits() uint64
	appendTo(dst []byte) []byte
}

func encodePilots(id EncoderID, pilots []uint64, numDense uint64) (pilotEncoding, error) {
	switch id {
	case EncoderDictionary:
		return newDictDictEncoding(pilots, numDense), nil
	case EncoderEliasFano:
		return newEliasFanoEncoding(pilots), nil
	case EncoderPartitionedCompact:
		return newPartitionedCompactEncoding(pilots), nil
	default:
		return nil, fmt.Errorf("%w: id %d", pthasherrors.ErrUnknownEncoder, id)
	}
}

func parsePilots(id EncoderID, data []byte) (pilotEncoding, int, error) {
	switch id {
	case EncoderDictionary:
		return parseDictDictEncoding(data)
	case EncoderEliasFano:
		return parseEliasFanoEncoding(data)
	case EncoderPartitionedCompact:
		return parsePartitionedCompactEncoding(data)
	default:
		return nil, 0, fmt.Errorf("%w: id %d", pthasherrors.ErrUnknownEncoder, id)
	}
}

// dictSeq stores a sequence as ranks into a dictionary of its distinct
// values, ranked by decreasing frequency. Skewed pilot distributions make
// the ranks much narrower than the values.
type dictSeq struct {
	ranks *intbits.CompactVector
	dict  *intbits.CompactVector
}

func newDictSeq(values []uint64) dictSeq {
	freq := make(map[uint64]uint64, len(values))
	for _, v := range values {
		freq[v]++
	}
	distinct := make([]uint64, 0, len(freq))
	for v := range freq {
		distinct = append(distinct, v)
	}
	sort.Slice(distinct, func(i, j int) bool {
		if freq[distinct[i]] != freq[distinct[j]] {
			return freq[distinct[i]] > freq[distinct[j]]
		}
		return distinct[i] < distinct[j]
	})
	rankOf := make(map[uint64]uint64, len(distinct))
	for r, v := range distinct {
		rankOf[v] = uint64(r)
	}
	ranks := make([]uint64, len(values))
	for i, v := range values {
		ranks[i] = rankOf[v]
	}
	return dictSeq{
		ranks: intbits.CompactFromSlice(ranks),
		dict:  intbits.CompactFromSlice(distinct),
	}
}

func (d dictSeq) access(i uint64) uint64 {
	return d.dict.Get(d.ranks.Get(i))
}

func (d dictSeq) numBits() uint64 {
	return d.ranks.NumBits() + d.dict.NumBits()
}

func (d dictSeq) appendTo(dst []byte) []byte {
	dst = d.ranks.AppendTo(dst)
	return d.dict.AppendTo(dst)
}

func parseDictSeq(data []byte) (dictSeq, int, error) {
	ranks, n1, err := intbits.ParseCompact(data)
	if err != nil {
		return dictSeq{}, 0, err
	}
	dict, n2, err := intbits.ParseCompact(data[n1:])
	if err != nil {
		return dictSeq{}, 0, err
	}
	if ranks.Len() > 0 && dict.Len() == 0 {
		return dictSeq{}, 0, fmt.Errorf("%w: empty dictionary for non-empty rank sequence", pthasherrors.ErrCorrupted)
	}
	// Scan only when some representable rank could exceed the dictionary;
	// at width w every rank is below 1<<w. Keeps the validation bounded by
	// the payload size rather than a claimed element count.
	if ranks.Width() >= 64 || dict.Len() < uint64(1)<<ranks.Width() {
		for i := uint64(0); i < ranks.Len(); i++ {
			if ranks.Get(i) >= dict.Len() {
				return dictSeq{}, 0, fmt.Errorf("%w: dictionary rank out of range", pthasherrors.ErrCorrupted)
			}
		}
	}
	return dictSeq{ranks: ranks, dict: dict}, n1 + n2, nil
}

// dictDictEncoding applies a frequency dictionary to the dense segment and
// another to the sparse segment. Dense buckets are searched first and end
// up with a very different pilot distribution than sparse ones, so each
// half gets its own dictionary.
type dictDictEncoding struct {
	numDense uint64
	front    dictSeq
	back     dictSeq
}

func newDictDictEncoding(pilots []uint64, numDense uint64) *dictDictEncoding {
	if numDense > uint64(len(pilots)) {
		numDense = uint64(len(pilots))
	}
	return &dictDictEncoding{
		numDense: numDense,
		front:    newDictSeq(pilots[:numDense]),
		back:     newDictSeq(pilots[numDense:]),
	}
}

func (e *dictDictEncoding) access(i uint64) uint64 {
	if i < e.numDense {
		return e.front.access(i)
	}
	return e.back.access(i - e.numDense)
}

func (e *dictDictEncoding) numPilots() uint64 {
	return e.front.ranks.Len() + e.back.ranks.Len()
}

func (e *dictDictEncoding) numBits() uint64 {
	return 64 + e.front.numBits() + e.back.numBits()
}

func (e *dictDictEncoding) appendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, e.numDense)
	dst = e.front.appendTo(dst)
	return e.back.appendTo(dst)
}

func parseDictDictEncoding(data []byte) (*dictDictEncoding, int, error) {
	if len(data) < 8 {
		return nil, 0, pthasherrors.ErrTruncated
	}
	numDense := binary.LittleEndian.Uint64(data)
	off := 8
	front, n, err := parseDictSeq(data[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	back, n, err := parseDictSeq(data[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	if numDense != front.ranks.Len() {
		return nil, 0, fmt.Errorf("%w: dictionary split does not match front length", pthasherrors.ErrCorrupted)
	}
	return &dictDictEncoding{numDense: numDense, front: front, back: back}, off, nil
}

// efEncoding stores the prefix sums of the pilots as an Elias-Fano
// sequence. A pilot is recovered as the difference of two consecutive
// sums.
type efEncoding struct {
	sums *eliasfano.Sequence
}

func newEliasFanoEncoding(pilots []uint64) *efEncoding {
	sums := make([]uint64, len(pilots))
	var acc uint64
	for i, p := range pilots {
		acc += p
		sums[i] = acc
	}
	return &efEncoding{sums: eliasfano.Encode(sums)}
}

func (e *efEncoding) access(i uint64) uint64 {
	v := e.sums.Access(i)
	if i == 0 {
		return v
	}
	return v - e.sums.Access(i-1)
}

func (e *efEncoding) numPilots() uint64 {
	return e.sums.Len()
}

func (e *efEncoding) numBits() uint64 {
	return e.sums.NumBits()
}

func (e *efEncoding) appendTo(dst []byte) []byte {
	return e.sums.AppendTo(dst)
}

func parseEliasFanoEncoding(data []byte) (*efEncoding, int, error) {
	sums, n, err := eliasfano.Parse(data)
	if err != nil {
		return nil, 0, err
	}
	return &efEncoding{sums: sums}, n, nil
}

// partitionedCompactEncoding packs pilots in chunks of 256, each chunk at
// the bit width of its largest value.
type partitionedCompactEncoding struct {
	n       uint64
	widths  []uint8
	offsets []uint64 // bit offset of each chunk, derived from widths
	words   []uint64
}

const (
	compactChunkShift = 8
	compactChunkSize  = 1 << compactChunkShift
	compactChunkMask  = compactChunkSize - 1
)

func newPartitionedCompactEncoding(pilots []uint64) *partitionedCompactEncoding {
	n := uint64(len(pilots))
	numChunks := (n + compactChunkMask) >> compactChunkShift
	widths := make([]uint8, numChunks)
	offsets := make([]uint64, numChunks)

	var totalBits uint64
	for c := uint64(0); c < numChunks; c++ {
		lo := c << compactChunkShift
		hi := lo + compactChunkSize
		if hi > n {
			hi = n
		}
		var maxV uint64
		for _, p := range pilots[lo:hi] {
			if p > maxV {
				maxV = p
			}
		}
		w := uint8(bits.Len64(maxV))
		widths[c] = w
		offsets[c] = totalBits
		totalBits += uint64(w) * (hi - lo)
	}

	words := make([]uint64, (totalBits+63)/64)
	for c := uint64(0); c < numChunks; c++ {
		w := widths[c]
		if w == 0 {
			continue
		}
		lo := c << compactChunkShift
		hi := lo + compactChunkSize
		if hi > n {
			hi = n
		}
		pos := offsets[c]
		for _, p := range pilots[lo:hi] {
			writeBits(words, pos, p, w)
			pos += uint64(w)
		}
	}
	return &partitionedCompactEncoding{n: n, widths: widths, offsets: offsets, words: words}
}

func writeBits(words []uint64, pos, v uint64, w uint8) {
	word, shift := pos/64, pos%64
	words[word] |= v << shift
	if shift+uint64(w) > 64 {
		words[word+1] |= v >> (64 - shift)
	}
}

func readBits(words []uint64, pos uint64, w uint8) uint64 {
	word, shift := pos/64, pos%64
	v := words[word] >> shift
	if shift+uint64(w) > 64 {
		v |= words[word+1] << (64 - shift)
	}
	return v & (^uint64(0) >> (64 - w))
}

func (e *partitionedCompactEncoding) access(i uint64) uint64 {
	c := i >> compactChunkShift
	w := e.widths[c]
	if w == 0 {
		return 0
	}
	pos := e.offsets[c] + uint64(w)*(i&compactChunkMask)
	return readBits(e.words, pos, w)
}

func (e *partitionedCompactEncoding) numPilots() uint64 {
	return e.n
}

func (e *partitionedCompactEncoding) numBits() uint64 {
	return 64 + uint64(len(e.widths))*8 + uint64(len(e.words))*64
}

func (e *partitionedCompactEncoding) appendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, e.n)
	dst = append(dst, e.widths...)
	for _, w := range e.words {
		dst = binary.LittleEndian.AppendUint64(dst, w)
	}
	return dst
}

func parsePartitionedCompactEncoding(data []byte) (*partitionedCompactEncoding, int, error) {
	if len(data) < 8 {
		return nil, 0, pthasherrors.ErrTruncated
	}
	n := binary.LittleEndian.Uint64(data)
	off := 8
	if n > math.MaxUint64-compactChunkMask {
		return nil, 0, fmt.Errorf("%w: compact chunk count for %d pilots overflows", pthasherrors.ErrCorrupted, n)
	}
	numChunks := (n + compactChunkMask) >> compactChunkShift
	if uint64(len(data)-off) < numChunks {
		return nil, 0, pthasherrors.ErrTruncated
	}
	widths := make([]uint8, numChunks)
	copy(widths, data[off:off+int(numChunks)])
	off += int(numChunks)

	offsets := make([]uint64, numChunks)
	var totalBits uint64
	for c := uint64(0); c < numChunks; c++ {
		if widths[c] > 64 {
			return nil, 0, fmt.Errorf("%w: chunk width %d exceeds 64", pthasherrors.ErrCorrupted, widths[c])
		}
		lo := c << compactChunkShift
		hi := lo + compactChunkSize
		if hi > n {
			hi = n
		}
		offsets[c] = totalBits
		totalBits += uint64(widths[c]) * (hi - lo)
	}
	numWords := (totalBits + 63) / 64
	if uint64(len(data)-off) < numWords*8 {
		return nil, 0, pthasherrors.ErrTruncated
	}
	words := make([]uint64, numWords)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[off:])
		off += 8
	}
	return &partitionedCompactEncoding{n: n, widths: widths, offsets: offsets, words: words}, off, nil
}
