package pthash

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	pthasherrors "github.com/tamirms/pthash/errors"
	"github.com/tamirms/pthash/internal/eliasfano"
)

// Serialized layout. The seed is always the first eight bytes so that
// PeekSeed can recover it without decoding the function:
//
//	offset 0   seed          uint64
//	offset 8   magic         uint32
//	offset 12  version       uint16
//	offset 14  flags         uint16
//	offset 16  hasher id     uint8
//	offset 17  encoder id    uint8
//	offset 18  reserved      [6]uint8
//	offset 24  body
//	tail       checksum      uint64 (xxhash64 of bytes [8, len-8))
//
// The checksum excludes the seed, so a function re-assembled from a peeked
// seed and the remaining bytes verifies unchanged.
const (
	magic         = uint32(0x46485450) // "PTHF"
	formatVersion = uint16(1)

	headerSize   = 24
	checksumSize = 8

	flagMinimal     = uint16(1 << 0)
	flagPartitioned = uint16(1 << 1)
	flagFreeSlots   = uint16(1 << 2)
)

func appendHeader(dst []byte, seed uint64, flags uint16, hasher HasherID, encoder EncoderID) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, seed)
	dst = binary.LittleEndian.AppendUint32(dst, magic)
	dst = binary.LittleEndian.AppendUint16(dst, formatVersion)
	dst = binary.LittleEndian.AppendUint16(dst, flags)
	dst = append(dst, byte(hasher), byte(encoder), 0, 0, 0, 0, 0, 0)
	return dst
}

func sealChecksum(buf []byte) []byte {
	sum := xxhash.Sum64(buf[8:])
	return binary.LittleEndian.AppendUint64(buf, sum)
}

// appendBody serializes the per-part state shared by single and
// partitioned functions: the search seed, table geometry, pilots and the
// free-slot remap.
func (f *SinglePHF) appendBody(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, f.seed)
	dst = binary.LittleEndian.AppendUint64(dst, f.numKeys)
	dst = binary.LittleEndian.AppendUint64(dst, f.tableSize)
	dst = binary.LittleEndian.AppendUint64(dst, f.bucketer.numDense)
	dst = binary.LittleEndian.AppendUint64(dst, f.bucketer.numSparse)
	var hasFree byte
	if f.freeSlots != nil {
		hasFree = 1
	}
	dst = append(dst, hasFree)
	dst = f.pilots.appendTo(dst)
	if f.freeSlots != nil {
		dst = f.freeSlots.AppendTo(dst)
	}
	return dst
}

func parseBody(data []byte, minimal bool, encoder EncoderID, hasher Hasher) (*SinglePHF, int, error) {
	if len(data) < 41 {
		return nil, 0, pthasherrors.ErrTruncated
	}
	f := &SinglePHF{
		seed:      binary.LittleEndian.Uint64(data[0:]),
		numKeys:   binary.LittleEndian.Uint64(data[8:]),
		tableSize: binary.LittleEndian.Uint64(data[16:]),
		bucketer: skewBucketer{
			numDense:  binary.LittleEndian.Uint64(data[24:]),
			numSparse: binary.LittleEndian.Uint64(data[32:]),
		},
		minimal: minimal,
		encoder: encoder,
		hasher:  hasher,
	}
	hasFree := data[40]
	off := 41
	if f.tableSize < f.numKeys {
		return nil, 0, fmt.Errorf("%w: table size below key count", pthasherrors.ErrCorrupted)
	}
	if f.bucketer.numDense == 0 && f.numKeys > 0 {
		return nil, 0, fmt.Errorf("%w: bucketer has no dense segment", pthasherrors.ErrCorrupted)
	}
	if f.bucketer.numDense > math.MaxUint64-f.bucketer.numSparse {
		return nil, 0, fmt.Errorf("%w: bucket count overflows", pthasherrors.ErrCorrupted)
	}
	pilots, n, err := parsePilots(encoder, data[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	// Every bucket the query path can reach needs a pilot; a shorter
	// sequence would fault on the first lookup that hits a missing bucket.
	if m := f.bucketer.numBuckets(); pilots.numPilots() != m {
		return nil, 0, fmt.Errorf("%w: %d pilots for %d buckets", pthasherrors.ErrCorrupted, pilots.numPilots(), m)
	}
	f.pilots = pilots
	switch hasFree {
	case 0:
	case 1:
		free, n, err := eliasfano.Parse(data[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		if free.Len() != f.tableSize-f.numKeys {
			return nil, 0, fmt.Errorf("%w: free slot count does not match table geometry", pthasherrors.ErrCorrupted)
		}
		f.freeSlots = free
	default:
		return nil, 0, fmt.Errorf("%w: bad free slot marker %d", pthasherrors.ErrCorrupted, hasFree)
	}
	return f, off, nil
}

// MarshalBinary serializes the function. The seed occupies the first eight
// bytes.
func (f *SinglePHF) MarshalBinary() ([]byte, error) {
	flags := uint16(0)
	if f.minimal {
		flags |= flagMinimal
	}
	if f.freeSlots != nil {
		flags |= flagFreeSlots
	}
	buf := appendHeader(nil, f.seed, flags, f.hasher.ID(), f.encoder)
	buf = f.appendBody(buf)
	return sealChecksum(buf), nil
}

// UnmarshalBinary replaces f with the decoded function.
func (f *SinglePHF) UnmarshalBinary(data []byte) error {
	g, err := Decode(data)
	if err != nil {
		return err
	}
	s, ok := g.(*SinglePHF)
	if !ok {
		return fmt.Errorf("%w: data holds a partitioned function", pthasherrors.ErrCorrupted)
	}
	*f = *s
	return nil
}

// MarshalBinary serializes the function. The seed occupies the first eight
// bytes.
func (f *PartitionedPHF) MarshalBinary() ([]byte, error) {
	flags := flagPartitioned
	if f.minimal {
		flags |= flagMinimal
	}
	encoder := EncoderDictionary
	if len(f.parts) > 0 {
		encoder = f.parts[0].encoder
	}
	buf := appendHeader(nil, f.seed, flags, f.hasher.ID(), encoder)
	buf = binary.LittleEndian.AppendUint64(buf, f.numKeys)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(f.parts)))
	buf = eliasfano.Encode(f.offsets).AppendTo(buf)
	for _, p := range f.parts {
		buf = p.appendBody(buf)
	}
	return sealChecksum(buf), nil
}

// UnmarshalBinary replaces f with the decoded function.
func (f *PartitionedPHF) UnmarshalBinary(data []byte) error {
	g, err := Decode(data)
	if err != nil {
		return err
	}
	p, ok := g.(*PartitionedPHF)
	if !ok {
		return fmt.Errorf("%w: data holds a single-part function", pthasherrors.ErrCorrupted)
	}
	*f = *p
	return nil
}

// PeekSeed recovers the seed from a serialized function without decoding
// it. The seed is by contract the first eight bytes; data that instead
// starts with the header magic is rejected with ErrSeedNotFirst.
func PeekSeed(data []byte) (uint64, error) {
	if len(data) < 12 {
		if len(data) >= 4 && binary.LittleEndian.Uint32(data) == magic {
			return 0, pthasherrors.ErrSeedNotFirst
		}
		return 0, pthasherrors.ErrTruncated
	}
	if binary.LittleEndian.Uint32(data[8:]) != magic {
		if binary.LittleEndian.Uint32(data) == magic {
			return 0, pthasherrors.ErrSeedNotFirst
		}
		return 0, pthasherrors.ErrInvalidMagic
	}
	return binary.LittleEndian.Uint64(data), nil
}

// DecodeWithSeed re-assembles a function from a seed previously obtained
// with PeekSeed and the serialized bytes after the seed field.
func DecodeWithSeed(seed uint64, rest []byte) (Function, error) {
	buf := make([]byte, 8+len(rest))
	binary.LittleEndian.PutUint64(buf, seed)
	copy(buf[8:], rest)
	return Decode(buf)
}

// Decode deserializes a function produced by MarshalBinary, either
// single-part or partitioned.
func Decode(data []byte) (Function, error) {
	if len(data) < headerSize+checksumSize {
		if len(data) >= 4 && binary.LittleEndian.Uint32(data) == magic {
			return nil, pthasherrors.ErrSeedNotFirst
		}
		return nil, pthasherrors.ErrTruncated
	}
	if binary.LittleEndian.Uint32(data[8:]) != magic {
		if binary.LittleEndian.Uint32(data) == magic {
			return nil, pthasherrors.ErrSeedNotFirst
		}
		return nil, pthasherrors.ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint16(data[12:]); v != formatVersion {
		return nil, fmt.Errorf("%w: version %d", pthasherrors.ErrInvalidVersion, v)
	}
	sum := binary.LittleEndian.Uint64(data[len(data)-checksumSize:])
	if xxhash.Sum64(data[8:len(data)-checksumSize]) != sum {
		return nil, pthasherrors.ErrChecksumFailed
	}

	flags := binary.LittleEndian.Uint16(data[14:])
	hasher, ok := hasherByID(HasherID(data[16]))
	if !ok {
		return nil, fmt.Errorf("%w: unknown hasher id %d", pthasherrors.ErrCorrupted, data[16])
	}
	encoder := EncoderID(data[17])
	if !validEncoder(encoder) {
		return nil, fmt.Errorf("%w: id %d", pthasherrors.ErrUnknownEncoder, encoder)
	}
	minimal := flags&flagMinimal != 0
	seed := binary.LittleEndian.Uint64(data)
	body := data[headerSize : len(data)-checksumSize]

	if flags&flagPartitioned == 0 {
		f, n, err := parseBody(body, minimal, encoder, hasher)
		if err != nil {
			return nil, err
		}
		if n != len(body) {
			return nil, fmt.Errorf("%w: %d trailing bytes", pthasherrors.ErrCorrupted, len(body)-n)
		}
		if f.seed != seed {
			return nil, fmt.Errorf("%w: header and body seed disagree", pthasherrors.ErrCorrupted)
		}
		return f, nil
	}

	if len(body) < 16 {
		return nil, pthasherrors.ErrTruncated
	}
	numKeys := binary.LittleEndian.Uint64(body)
	numParts := binary.LittleEndian.Uint64(body[8:])
	if numParts == 0 || numParts > uint64(len(body)) {
		return nil, fmt.Errorf("%w: implausible partition count %d", pthasherrors.ErrCorrupted, numParts)
	}
	off := 16
	offsetsSeq, n, err := eliasfano.Parse(body[off:])
	if err != nil {
		return nil, err
	}
	off += n
	if offsetsSeq.Len() != numParts+1 {
		return nil, fmt.Errorf("%w: offset count does not match partition count", pthasherrors.ErrCorrupted)
	}
	offsets := make([]uint64, numParts+1)
	for i := range offsets {
		offsets[i] = offsetsSeq.Access(uint64(i))
	}

	parts := make([]*SinglePHF, numParts)
	for p := range parts {
		part, n, err := parseBody(body[off:], minimal, encoder, hasher)
		if err != nil {
			return nil, err
		}
		off += n
		parts[p] = part
	}
	if off != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes", pthasherrors.ErrCorrupted, len(body)-off)
	}
	return &PartitionedPHF{
		seed:    seed,
		numKeys: numKeys,
		minimal: minimal,
		hasher:  hasher,
		offsets: offsets,
		parts:   parts,
	}, nil
}
