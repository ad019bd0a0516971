// Package keygen generates reproducible random key sets for tests,
// benchmarks and the simulator.
package keygen

import (
	"fmt"
	"math/bits"
	"math/rand"

	"github.com/seehuhn/mt19937"
)

// Key mirrors the key constraint of package iblt.
type Key interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Generator is a seeded source of keys. It is not safe for concurrent use;
// give every goroutine its own.
type Generator struct {
	rng *rand.Rand
}

// New returns a generator backed by a Mersenne twister seeded with seed.
func New(seed int64) *Generator {
	mt := mt19937.New()
	mt.Seed(seed)
	return &Generator{rng: rand.New(mt)}
}

// Uint64 returns a uniformly random 64-bit value.
func (g *Generator) Uint64() uint64 {
	return g.rng.Uint64()
}

// Intn returns a uniformly random int in [0, n).
func (g *Generator) Intn(n int) int {
	return g.rng.Intn(n)
}

// capacity returns the number of distinct values of K, or 0 when it does
// not fit in an int.
func capacity[K Key]() int {
	b := bits.Len64(uint64(^K(0)))
	if b >= bits.UintSize-1 {
		return 0
	}
	return 1 << b
}

// Distinct returns n distinct random keys. It panics if K has fewer than n
// values.
func Distinct[K Key](g *Generator, n int) []K {
	if c := capacity[K](); c != 0 && n > c {
		panic(fmt.Sprintf("keygen: %d distinct keys requested, key type has %d values", n, c))
	}
	seen := make(map[K]struct{}, n)
	keys := make([]K, 0, n)
	for len(keys) < n {
		k := K(g.rng.Uint64())
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Sample is a generated reconciliation scenario: keys every party holds and
// keys only one party holds.
type Sample[K Key] struct {
	Shared   []K
	Distinct [][]K
}

// NewSample draws shared keys held by every party and, for each of parties
// parties, distinct keys held by that party alone. All keys are different.
func NewSample[K Key](g *Generator, shared, distinct, parties int) Sample[K] {
	all := Distinct[K](g, shared+distinct*parties)
	s := Sample[K]{
		Shared:   all[:shared:shared],
		Distinct: make([][]K, parties),
	}
	rest := all[shared:]
	for i := range s.Distinct {
		s.Distinct[i] = rest[i*distinct : (i+1)*distinct : (i+1)*distinct]
	}
	return s
}

// Set returns the full key set of party i.
func (s Sample[K]) Set(i int) []K {
	set := make([]K, 0, len(s.Shared)+len(s.Distinct[i]))
	set = append(set, s.Shared...)
	return append(set, s.Distinct[i]...)
}

// Parties returns the number of parties in the sample.
func (s Sample[K]) Parties() int {
	return len(s.Distinct)
}
