// Package iblt provides set reconciliation with Invertible Bloom Lookup
// Tables (IBLTs).
//
// Two or more parties each hold a set of fixed-width keys and want to learn
// how their sets differ, while exchanging data proportional to the size of
// the difference rather than the size of the sets.
//
// # Architecture
//
// An IBLT is split into k sub-tables, one per hash function. Every key
// lands in exactly one bucket of each sub-table, and each bucket keeps three
// accumulators: the sum of its keys, the sum of a checksum hash of its keys,
// and a count. Accumulation happens in a field, so adding a table and then
// removing it leaves nothing behind, and subtracting one party's table from
// another's cancels every key the parties share.
//
// Peeling recovers the keys left in a table. A bucket that holds exactly one
// key is detected by its count and checksum. Its key is extracted and
// removed from the key's other buckets, which may in turn leave them holding
// a single key. Peeling succeeds when every bucket ends empty, which happens
// with high probability when the table has about twice as many buckets as
// it holds keys.
//
// # Implementations
//
// [IBLT] reconciles two parties. Its accumulators are XOR fields and its
// count is a signed integer, so after [IBLT.Remove] the sign of a key's
// count tells which party holds it.
//
// [MultiIBLT] reconciles up to [MaxParties] parties. Its accumulators are
// vectors of integers modulo a small modulus. Each party's table is added
// with [MultiIBLT.AddParty], which weighs party i by 2^i except for the last
// party, whose weight brings the total to the modulus. Keys held by every
// party cancel, and each other key is left with a count that names exactly
// the parties holding it.
//
// [StrataEstimator] approximates the size of a difference before any table
// is exchanged, so the table can be sized with [OptimalParams].
//
// # Usage
//
//	est := iblt.NewStrataEstimator[uint64]()
//	est.InsertKeys(mine...)
//	d, err := est.EstimateDiff(theirEstimator)
//	if err != nil {
//		return err
//	}
//
//	buckets, hashFns := iblt.OptimalParams(d)
//	t := iblt.New[uint64](buckets, hashFns)
//	t.InsertKeys(mine...)
//	if err := t.Remove(theirTable); err != nil {
//		return err
//	}
//	onlyMine, onlyTheirs, err := t.PeelDiff()
//
// All parties must build their structures with the same seed and
// [HashFamily].
//
// # Serialization
//
// Every structure implements [encoding.BinaryMarshaler]. Use
// [UnmarshalBinary], [UnmarshalMultiBinary] and [UnmarshalStrataBinary] to
// decode. The format is versioned and little-endian.
//
// # Concurrency
//
// Structures are not safe for concurrent use. Hashers are immutable and
// shared freely.
package iblt
