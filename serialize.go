package iblt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Serialization constants and errors.
const (
	// serializeVersion is the current serialization format version.
	serializeVersion byte = 1

	// headerSize is the size of the table header in bytes.
	// Version (1) + Kind (1) + Family (1) + KeyBytes (1) + NumHashFns (4) +
	// BucketsPerSubtable (4) + Seed (8) = 20 bytes
	headerSize = 20

	// multiHeaderSize adds Parties (1) + Modulus (2) to the table header.
	multiHeaderSize = headerSize + 3

	// strataHeaderSize is the size of the estimator header in bytes.
	// Version (1) + Kind (1) + Family (1) + KeyBytes (1) + NumStrata (1) + Seed (8) = 13 bytes
	strataHeaderSize = 13

	// maxBucketsPerSubtable bounds sub-table sizes read from serialized data.
	maxBucketsPerSubtable = 1 << 28
)

// Structure kinds, stored after the version byte.
const (
	kindIBLT byte = iota + 1
	kindMulti
	kindStrata
)

var (
	// ErrInvalidData is returned when the serialized data is invalid or corrupted.
	ErrInvalidData = errors.New("iblt: invalid serialized data")

	// ErrUnsupportedVersion is returned when the serialization version is not supported.
	ErrUnsupportedVersion = errors.New("iblt: unsupported serialization version")
)

// putKey writes the low n bytes of v little-endian.
func putKey(buf []byte, v uint64, n int) {
	for i := range n {
		buf[i] = byte(v >> (8 * i))
	}
}

// getKey reads an n-byte little-endian value.
func getKey(buf []byte, n int) uint64 {
	var v uint64
	for i := range n {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

// tableHeader is the decoded common header of IBLT and MultiIBLT encodings.
type tableHeader struct {
	family             HashFamily
	numHashFns         int
	bucketsPerSubtable int
	seed               uint64
}

func putTableHeader(buf []byte, kind byte, keyBytes int, h tableHeader) {
	buf[0] = serializeVersion
	buf[1] = kind
	buf[2] = byte(h.family)
	buf[3] = byte(keyBytes)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.numHashFns))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.bucketsPerSubtable))
	binary.LittleEndian.PutUint64(buf[12:20], h.seed)
}

// readTableHeader validates and decodes the header shared by table encodings.
func readTableHeader(data []byte, kind byte, keyBytes int) (tableHeader, error) {
	if len(data) < headerSize {
		return tableHeader{}, fmt.Errorf("%w: data too short (got %d bytes, need at least %d)",
			ErrInvalidData, len(data), headerSize)
	}
	if data[0] != serializeVersion {
		return tableHeader{}, fmt.Errorf("%w: got version %d, expected %d",
			ErrUnsupportedVersion, data[0], serializeVersion)
	}
	if data[1] != kind {
		return tableHeader{}, fmt.Errorf("%w: got kind %d, expected %d", ErrInvalidData, data[1], kind)
	}
	h := tableHeader{
		family:             HashFamily(data[2]),
		numHashFns:         int(binary.LittleEndian.Uint32(data[4:8])),
		bucketsPerSubtable: int(binary.LittleEndian.Uint32(data[8:12])),
		seed:               binary.LittleEndian.Uint64(data[12:20]),
	}
	if !h.family.valid() {
		return tableHeader{}, fmt.Errorf("%w: unknown hash family %d", ErrInvalidData, data[2])
	}
	if int(data[3]) != keyBytes {
		return tableHeader{}, fmt.Errorf("%w: key width %d bytes, expected %d", ErrInvalidData, data[3], keyBytes)
	}
	if h.numHashFns < 1 || h.numHashFns > maxHashFns {
		return tableHeader{}, fmt.Errorf("%w: %d hash functions (valid range: 1-%d)",
			ErrInvalidData, h.numHashFns, maxHashFns)
	}
	if h.bucketsPerSubtable < 1 || h.bucketsPerSubtable > maxBucketsPerSubtable {
		return tableHeader{}, fmt.Errorf("%w: %d buckets per sub-table", ErrInvalidData, h.bucketsPerSubtable)
	}
	return h, nil
}

func (t *IBLT[K]) header() tableHeader {
	return tableHeader{
		family:             t.opts.family,
		numHashFns:         t.numHashFns,
		bucketsPerSubtable: t.bucketsPerSubtable,
		seed:               t.opts.seed,
	}
}

// bucketBytes is the encoded size of one two-party bucket.
func bucketBytes[K Key]() int {
	return keyBytes[K]() + 8 + 8
}

// MarshalBinary serializes the table to a byte slice.
// The serialized format is:
//   - Header (20 bytes): version, kind, hash family, key width in bytes,
//     numHashFns (uint32), bucketsPerSubtable (uint32), seed (uint64)
//   - Buckets in (sub-table, slot) order, each: keySum (key width),
//     hashSum (uint64), count (int64)
//
// All integers are little-endian.
func (t *IBLT[K]) MarshalBinary() ([]byte, error) {
	kb := keyBytes[K]()
	buf := make([]byte, headerSize+len(t.buckets)*bucketBytes[K]())
	putTableHeader(buf, kindIBLT, kb, t.header())

	offset := headerSize
	for i := range t.buckets {
		b := &t.buckets[i]
		putKey(buf[offset:], uint64(b.keySum), kb)
		offset += kb
		binary.LittleEndian.PutUint64(buf[offset:offset+8], uint64(b.hashSum))
		binary.LittleEndian.PutUint64(buf[offset+8:offset+16], uint64(b.count))
		offset += 16
	}
	return buf, nil
}

// UnmarshalBinary deserializes a table written by IBLT.MarshalBinary.
// The seed and hash family come from the data; opts only supplies the
// logger. Returns an error if the data is invalid or corrupted.
func UnmarshalBinary[K Key](data []byte, opts ...Option) (*IBLT[K], error) {
	kb := keyBytes[K]()
	h, err := readTableHeader(data, kindIBLT, kb)
	if err != nil {
		return nil, err
	}
	numBuckets := h.numHashFns * h.bucketsPerSubtable
	if want := headerSize + numBuckets*bucketBytes[K](); len(data) != want {
		return nil, fmt.Errorf("%w: data length mismatch (got %d bytes, expected %d)", ErrInvalidData, len(data), want)
	}

	o := newOptions(opts)
	o.family, o.seed = h.family, h.seed
	t := newIBLT[K](numBuckets, h.numHashFns, o)

	offset := headerSize
	for i := range t.buckets {
		b := &t.buckets[i]
		b.keySum = XORField(getKey(data[offset:], kb))
		offset += kb
		b.hashSum = XORField(binary.LittleEndian.Uint64(data[offset : offset+8]))
		b.count = int64(binary.LittleEndian.Uint64(data[offset+8 : offset+16]))
		offset += 16
	}
	return t, nil
}

// nitBytes is the encoded size of one nit: a byte when the modulus allows it.
func nitBytes(mod int) int {
	if mod <= math.MaxUint8+1 {
		return 1
	}
	return 2
}

// multiBucketBytes is the encoded size of one bucket: its nits and a 16-bit
// presence word.
func multiBucketBytes[K Key](mod int) int {
	return multiBucketNits[K]()*nitBytes(mod) + 2
}

// MarshalBinary serializes the table to a byte slice.
// The serialized format is:
//   - Header (20 bytes) as for IBLT.MarshalBinary
//   - Parties (1 byte) and modulus (uint16)
//   - Buckets in (sub-table, slot) order, each: the nits of keySum, hashSum
//     and count (1 byte each when the modulus is at most 256, otherwise
//     uint16), then the presence bitset as a uint16
//
// All integers are little-endian.
func (t *MultiIBLT[K]) MarshalBinary() ([]byte, error) {
	nb := nitBytes(t.mod)
	buf := make([]byte, multiHeaderSize+len(t.buckets)*multiBucketBytes[K](t.mod))
	putTableHeader(buf, kindMulti, keyBytes[K](), tableHeader{
		family:             t.opts.family,
		numHashFns:         t.numHashFns,
		bucketsPerSubtable: t.bucketsPerSubtable,
		seed:               t.opts.seed,
	})
	buf[headerSize] = byte(t.parties)
	binary.LittleEndian.PutUint16(buf[headerSize+1:headerSize+3], uint16(t.mod))

	offset := multiHeaderSize
	width := multiBucketNits[K]()
	for i := range t.buckets {
		for _, n := range t.nits[i*width : (i+1)*width] {
			if nb == 1 {
				buf[offset] = byte(n)
			} else {
				binary.LittleEndian.PutUint16(buf[offset:offset+2], n)
			}
			offset += nb
		}
		var presence uint16
		for p := range t.parties {
			if t.buckets[i].presence.Test(uint(p)) {
				presence |= 1 << p
			}
		}
		binary.LittleEndian.PutUint16(buf[offset:offset+2], presence)
		offset += 2
	}
	return buf, nil
}

// UnmarshalMultiBinary deserializes a table written by
// MultiIBLT.MarshalBinary. The seed, hash family and modulus come from the
// data; opts only supplies the logger.
func UnmarshalMultiBinary[K Key](data []byte, opts ...Option) (*MultiIBLT[K], error) {
	h, err := readTableHeader(data, kindMulti, keyBytes[K]())
	if err != nil {
		return nil, err
	}
	if len(data) < multiHeaderSize {
		return nil, fmt.Errorf("%w: data too short (got %d bytes, need at least %d)",
			ErrInvalidData, len(data), multiHeaderSize)
	}
	parties := int(data[headerSize])
	mod := int(binary.LittleEndian.Uint16(data[headerSize+1 : headerSize+3]))
	if parties < 2 || parties > MaxParties {
		return nil, fmt.Errorf("%w: %d parties", ErrInvalidData, parties)
	}
	if mod < 1<<parties-1 {
		return nil, fmt.Errorf("%w: modulus %d for %d parties", ErrInvalidData, mod, parties)
	}

	numBuckets := h.numHashFns * h.bucketsPerSubtable
	if want := multiHeaderSize + numBuckets*multiBucketBytes[K](mod); len(data) != want {
		return nil, fmt.Errorf("%w: data length mismatch (got %d bytes, expected %d)", ErrInvalidData, len(data), want)
	}

	o := newOptions(opts)
	o.family, o.seed, o.modulus = h.family, h.seed, mod
	t := newMulti[K](numBuckets, h.numHashFns, parties, o)
	nb := nitBytes(mod)
	width := multiBucketNits[K]()
	offset := multiHeaderSize
	for i := range t.buckets {
		nits := t.nits[i*width : (i+1)*width]
		for j := range nits {
			var n uint16
			if nb == 1 {
				n = uint16(data[offset])
			} else {
				n = binary.LittleEndian.Uint16(data[offset : offset+2])
			}
			if int(n) >= mod {
				return nil, fmt.Errorf("%w: bucket %d nit %d is %d, modulus %d", ErrInvalidData, i, j, n, mod)
			}
			nits[j] = n
			offset += nb
		}
		presence := binary.LittleEndian.Uint16(data[offset : offset+2])
		if presence>>parties != 0 {
			return nil, fmt.Errorf("%w: bucket %d presence %#x for %d parties", ErrInvalidData, i, presence, parties)
		}
		for p := range parties {
			if presence>>p&1 == 1 {
				t.buckets[i].presence.Set(uint(p))
			}
		}
		offset += 2
	}
	return t, nil
}

// MarshalBinary serializes the estimator to a byte slice.
// The serialized format is:
//   - Header (13 bytes): version, kind, hash family, key width in bytes,
//     number of strata, seed (uint64)
//   - Each stratum in order: length (uint32) followed by its
//     IBLT.MarshalBinary encoding
//
// All integers are little-endian.
func (e *StrataEstimator[K]) MarshalBinary() ([]byte, error) {
	buf := make([]byte, strataHeaderSize, strataHeaderSize+len(e.strata)*(4+headerSize+StrataBuckets*bucketBytes[K]()))
	buf[0] = serializeVersion
	buf[1] = kindStrata
	buf[2] = byte(e.opts.family)
	buf[3] = byte(keyBytes[K]())
	buf[4] = byte(len(e.strata))
	binary.LittleEndian.PutUint64(buf[5:13], e.opts.seed)

	for i, s := range e.strata {
		enc, err := s.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("stratum %d: %w", i, err)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}
	return buf, nil
}

// UnmarshalStrataBinary deserializes an estimator written by
// StrataEstimator.MarshalBinary. Every stratum must have the standard shape
// and the estimator's seed and hash family.
func UnmarshalStrataBinary[K Key](data []byte, opts ...Option) (*StrataEstimator[K], error) {
	if len(data) < strataHeaderSize {
		return nil, fmt.Errorf("%w: data too short (got %d bytes, need at least %d)",
			ErrInvalidData, len(data), strataHeaderSize)
	}
	if data[0] != serializeVersion {
		return nil, fmt.Errorf("%w: got version %d, expected %d", ErrUnsupportedVersion, data[0], serializeVersion)
	}
	if data[1] != kindStrata {
		return nil, fmt.Errorf("%w: got kind %d, expected %d", ErrInvalidData, data[1], kindStrata)
	}
	family := HashFamily(data[2])
	if !family.valid() {
		return nil, fmt.Errorf("%w: unknown hash family %d", ErrInvalidData, data[2])
	}
	if kb := keyBytes[K](); int(data[3]) != kb {
		return nil, fmt.Errorf("%w: key width %d bytes, expected %d", ErrInvalidData, data[3], kb)
	}
	if int(data[4]) != StrataCount {
		return nil, fmt.Errorf("%w: %d strata, expected %d", ErrInvalidData, data[4], StrataCount)
	}

	o := newOptions(opts)
	o.family, o.seed = family, binary.LittleEndian.Uint64(data[5:13])
	e := newStrataEstimator[K](o)

	rest := data[strataHeaderSize:]
	for i := range e.strata {
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: stratum %d: missing length", ErrInvalidData, i)
		}
		n := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(n) > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: stratum %d: length %d exceeds remaining %d bytes", ErrInvalidData, i, n, len(rest))
		}
		s, err := UnmarshalBinary[K](rest[:n], opts...)
		if err != nil {
			return nil, fmt.Errorf("stratum %d: %w", i, err)
		}
		if err := e.strata[i].compatible(s); err != nil {
			return nil, fmt.Errorf("%w: stratum %d: %w", ErrInvalidData, i, err)
		}
		e.strata[i] = s
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidData, len(rest))
	}
	return e, nil
}
