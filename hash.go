package iblt

import (
	"encoding/binary"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/seehuhn/mt19937"
	"github.com/zeebo/xxh3"
)

// Hasher maps a key, zero-extended to 64 bits, to a 64-bit hash value.
// Hash must be a pure function of the hasher's seed and the key.
type Hasher interface {
	Hash(key uint64) uint64
}

// HashFamily selects how the seeded hashers of a structure are built.
// Structures can only be combined when they use the same family and seed.
type HashFamily uint8

const (
	// HashXXH3 uses seeded xxh3 over the little-endian key bytes.
	HashXXH3 HashFamily = iota
	// HashTabulation uses simple tabulation hashing over the 8 key bytes,
	// with tables filled by a seeded 64-bit Mersenne twister.
	HashTabulation
)

// String implements fmt.Stringer.
func (f HashFamily) String() string {
	switch f {
	case HashXXH3:
		return "xxh3"
	case HashTabulation:
		return "tabulation"
	default:
		return fmt.Sprintf("HashFamily(%d)", uint8(f))
	}
}

// ParseHashFamily parses the name returned by HashFamily.String.
func ParseHashFamily(name string) (HashFamily, error) {
	switch name {
	case "xxh3":
		return HashXXH3, nil
	case "tabulation":
		return HashTabulation, nil
	}
	return 0, fmt.Errorf("iblt: unknown hash family %q", name)
}

func (f HashFamily) valid() bool {
	return f <= HashTabulation
}

// New returns the hasher of this family for the given seed.
func (f HashFamily) New(seed uint64) Hasher {
	if f == HashTabulation {
		return Tabulation(seed)
	}
	return XXH3(seed)
}

// predefSeeds are the fixed per-index seeds. Index 0 seeds the checksum
// hasher and index i+1 the hasher of sub-table i.
var predefSeeds = [16]uint64{
	0xC3DA4A8C, 0xA5112C8C, 0x5271F491, 0x9A948DAB,
	0xCEE59A8D, 0xB5F525AB, 0x59D13217, 0x24E7C331,
	0x697C2103, 0x84B0A460, 0x86156DA9, 0xAEF2AC68,
	0x23243DA5, 0x3F649643, 0x5FA495A8, 0x67710DF8,
}

// DeriveSeed returns the seed of the index-th hasher of a structure whose
// base seed is base. Seeds past the predefined table are derived by hashing
// the index with the base seed.
func DeriveSeed(base uint64, index int) uint64 {
	if index >= 0 && index < len(predefSeeds) {
		return base ^ predefSeeds[index]
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(index))
	return xxh3.HashSeed(buf[:], base)
}

type xxh3Hasher struct {
	seed uint64
}

// XXH3 returns a seeded xxh3 hasher.
func XXH3(seed uint64) Hasher {
	return xxh3Hasher{seed: seed}
}

func (h xxh3Hasher) Hash(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxh3.HashSeed(buf[:], h.seed)
}

const (
	tabulationChunks = 8   // one table per key byte
	tabulationValues = 256 // entries per table
	// tabulationCacheSize bounds the number of distinct seeds whose tables
	// are kept alive. Each table set is 16 KiB.
	tabulationCacheSize = 256
)

type tabulationTable [tabulationChunks][tabulationValues]uint64

// Tables are immutable once built, so hashers with equal seeds share them.
// This matters for estimators, whose strata all use the same seeds.
var tabulationCache = mustNewTabulationCache()

func mustNewTabulationCache() *lru.Cache[uint64, *tabulationTable] {
	c, err := lru.New[uint64, *tabulationTable](tabulationCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}

type tabulationHasher struct {
	table *tabulationTable
}

// Tabulation returns a simple tabulation hasher for the given seed.
func Tabulation(seed uint64) Hasher {
	if t, ok := tabulationCache.Get(seed); ok {
		return tabulationHasher{table: t}
	}
	t := newTabulationTable(seed)
	tabulationCache.Add(seed, t)
	return tabulationHasher{table: t}
}

func newTabulationTable(seed uint64) *tabulationTable {
	gen := mt19937.New()
	gen.Seed(int64(seed))
	t := new(tabulationTable)
	for i := range t {
		for j := range t[i] {
			t[i][j] = gen.Uint64()
		}
	}
	return t
}

func (h tabulationHasher) Hash(key uint64) uint64 {
	var ret uint64
	for i := range tabulationChunks {
		ret ^= h.table[i][byte(key>>(8*i))]
	}
	return ret
}
