package iblt

import "math"

const (
	// DefaultHashFns is the number of sub-tables (hash functions) used when
	// sizing a table from a difference estimate.
	DefaultHashFns = 4
	// MinBuckets is the smallest table OptimalParams returns.
	MinBuckets = 16
	// bucketsPerDiff is the table overhead over the expected difference.
	// At 4 hash functions peeling succeeds w.h.p. below a load of ~0.77.
	bucketsPerDiff = 2
	// maxOptimalBuckets caps OptimalParams for absurd estimates, such as the
	// saturated result of an estimator that failed at its last stratum.
	maxOptimalBuckets = 1 << 30

	// StrataCount is the number of strata in an estimator: one per bit of
	// the 64-bit hash, so stratum i receives keys whose hash has i trailing
	// zero bits.
	StrataCount = 64
	// StrataBuckets is the bucket count of each stratum.
	StrataBuckets = 80
	// StrataHashFns is the hash function count of each stratum.
	StrataHashFns = 4

	// MaxParties is the largest party count a MultiIBLT supports. Party
	// attribution needs a modulus of at least 2^parties-1 and nits are 16 bits.
	MaxParties = 15
	// maxModulus is the largest modulus representable in a 16-bit nit.
	maxModulus = math.MaxUint16
	// maxHashFns bounds the sub-table count accepted from serialized data.
	maxHashFns = 64
)

// OptimalParams returns table parameters for reconciling a set difference
// of expectedDiff keys: DefaultHashFns sub-tables and twice as many buckets
// as expected keys, rounded up to a multiple of the sub-table count.
func OptimalParams(expectedDiff uint64) (numBuckets, numHashFns int) {
	numHashFns = DefaultHashFns
	n := uint64(MinBuckets)
	if expectedDiff > maxOptimalBuckets/bucketsPerDiff {
		n = maxOptimalBuckets
	} else if d := expectedDiff * bucketsPerDiff; d > n {
		n = d
	}
	return roundBuckets(int(n), numHashFns), numHashFns
}

// roundBuckets rounds numBuckets up to the nearest positive multiple of
// numHashFns.
func roundBuckets(numBuckets, numHashFns int) int {
	if numBuckets < numHashFns {
		return numHashFns
	}
	if r := numBuckets % numHashFns; r != 0 {
		numBuckets += numHashFns - r
	}
	return numBuckets
}

// MinModulus returns the smallest prime modulus that lets a MultiIBLT
// attribute keys among the given number of parties: every proper non-empty
// subset of parties must produce a distinct non-zero count, which needs at
// least 2^parties-1 residues. It returns 0 when parties is out of range.
func MinModulus(parties int) int {
	if parties < 2 || parties > MaxParties {
		return 0
	}
	for n := 1<<parties - 1; n <= maxModulus; n++ {
		if IsPrime(n) {
			return n
		}
	}
	return 0
}

// IsPrime reports whether n is prime.
func IsPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := 3; d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}

// PartyWeights returns the multiplier applied to party i's table when it is
// combined into a result table. Parties below the last one weigh 2^i; the
// last party weighs whatever brings the total to the modulus, so that keys
// held by every party cancel out.
func PartyWeights(parties, mod int) []int {
	w := make([]int, parties)
	low := 0
	for i := range parties - 1 {
		w[i] = 1 << i
		low += w[i]
	}
	w[parties-1] = mod - low
	return w
}
