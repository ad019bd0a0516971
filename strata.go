package iblt

import (
	"fmt"
	"math"
	"math/bits"

	"go.uber.org/zap"
)

// stratumSeedIndex is the seed index of the hasher that assigns strata. It is
// past every sub-table index a stratum uses.
const stratumSeedIndex = 15

// StrataEstimator estimates the size of the symmetric difference between two
// key sets without knowing it in advance.
//
// Keys are partitioned into StrataCount strata by the number of trailing zero
// bits of a hash, so stratum i receives roughly a 2^-(i+1) share of the keys.
// Each stratum is a small fixed-size IBLT. Comparing two estimators peels
// strata from the sparsest down, and the first stratum that fails to peel
// tells how much the denser strata would have held.
type StrataEstimator[K Key] struct {
	strata  []*IBLT[K]
	stratum Hasher
	opts    options
}

// NewStrataEstimator creates an empty estimator. Estimators are only
// comparable when built with the same seed and hash family.
func NewStrataEstimator[K Key](opts ...Option) *StrataEstimator[K] {
	return newStrataEstimator[K](newOptions(opts))
}

func newStrataEstimator[K Key](o options) *StrataEstimator[K] {
	e := &StrataEstimator[K]{
		strata:  make([]*IBLT[K], StrataCount),
		stratum: o.family.New(DeriveSeed(o.seed, stratumSeedIndex)),
		opts:    o,
	}
	for i := range e.strata {
		e.strata[i] = newIBLT[K](StrataBuckets, StrataHashFns, o)
	}
	return e
}

// Stratum returns the stratum key belongs to: the trailing zero count of its
// stratum hash, capped at the last stratum.
func (e *StrataEstimator[K]) Stratum(key K) int {
	return min(bits.TrailingZeros64(e.stratum.Hash(uint64(key))), StrataCount-1)
}

// InsertKey adds key to its stratum.
func (e *StrataEstimator[K]) InsertKey(key K) {
	e.strata[e.Stratum(key)].InsertKey(key)
}

// InsertKeys adds every key.
func (e *StrataEstimator[K]) InsertKeys(keys ...K) {
	for _, k := range keys {
		e.InsertKey(k)
	}
}

func (e *StrataEstimator[K]) compatible(other *StrataEstimator[K]) error {
	if len(e.strata) != len(other.strata) {
		return fmt.Errorf("%w: %d vs %d strata", ErrShapeMismatch, len(e.strata), len(other.strata))
	}
	return e.strata[0].compatible(other.strata[0])
}

// Add accumulates other stratum by stratum.
func (e *StrataEstimator[K]) Add(other *StrataEstimator[K]) error {
	if err := e.compatible(other); err != nil {
		return err
	}
	for i := range e.strata {
		if err := e.strata[i].Add(other.strata[i]); err != nil {
			return err
		}
	}
	return nil
}

// Remove subtracts other stratum by stratum.
func (e *StrataEstimator[K]) Remove(other *StrataEstimator[K]) error {
	if err := e.compatible(other); err != nil {
		return err
	}
	for i := range e.strata {
		if err := e.strata[i].Remove(other.strata[i]); err != nil {
			return err
		}
	}
	return nil
}

// EstimateDiff estimates the size of the symmetric difference between the
// key sets of e and counterparty. Neither estimator is modified.
//
// Strata are differenced and peeled from the last down, summing the keys
// recovered. When stratum i fails to peel, the sum so far covers about a
// 2^-(i+1) share of the difference and is scaled up accordingly, saturating
// at math.MaxUint64. If every stratum peels, the sum is exact.
func (e *StrataEstimator[K]) EstimateDiff(counterparty *StrataEstimator[K]) (uint64, error) {
	if err := e.compatible(counterparty); err != nil {
		return 0, err
	}

	scratch := newIBLT[K](StrataBuckets, StrataHashFns, e.opts)
	var count uint64
	for i := len(e.strata) - 1; i >= 0; i-- {
		scratch.copyFrom(e.strata[i])
		if err := scratch.Remove(counterparty.strata[i]); err != nil {
			return 0, err
		}
		keys, err := scratch.Peel()
		if err != nil {
			est := scaleEstimate(count, i+1)
			e.opts.logger.Debug("stratum failed to peel",
				zap.Int("stratum", i),
				zap.Uint64("peeled", count),
				zap.Uint64("estimate", est))
			return est, nil
		}
		count += uint64(len(keys))
	}
	return count, nil
}

// scaleEstimate returns count * 2^shift, saturating at math.MaxUint64.
func scaleEstimate(count uint64, shift int) uint64 {
	if count == 0 {
		return 0
	}
	if shift >= 64 || count > math.MaxUint64>>shift {
		return math.MaxUint64
	}
	return count << shift
}

// NumStrata returns the number of strata.
func (e *StrataEstimator[K]) NumStrata() int {
	return len(e.strata)
}

// Strata returns the per-stratum tables, sparsest last. They share storage
// with the estimator.
func (e *StrataEstimator[K]) Strata() []*IBLT[K] {
	return e.strata
}

// SizeInBits returns the total bucket payload of every stratum.
func (e *StrataEstimator[K]) SizeInBits() int {
	return len(e.strata) * e.strata[0].SizeInBits()
}

// Clone returns a deep copy of e.
func (e *StrataEstimator[K]) Clone() *StrataEstimator[K] {
	c := newStrataEstimator[K](e.opts)
	for i := range e.strata {
		c.strata[i].copyFrom(e.strata[i])
	}
	return c
}
