package iblt

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrPeelFailed is returned when peeling stalls with non-empty buckets left.
// The table was too small for the difference it holds; rebuild it with more
// buckets and retry.
var ErrPeelFailed = errors.New("iblt: peeling failed")

// position addresses a bucket as (sub-table, slot).
type position struct {
	sub, slot int
}

// peelTable is the view of a table the peeling loop runs on.
type peelTable[K Key] interface {
	shape() (subtables, slots int)
	// index returns the slot of key in sub-table sub.
	index(key K, sub int) int
	// pure reports whether the bucket at p holds exactly one key and, if so,
	// returns the key and the bucket count.
	pure(p position) (K, int, bool)
	// extract removes the contents of the bucket at p, which holds only key,
	// from every bucket key maps to, p included.
	extract(p position, key K)
	empty(p position) bool
}

// peel runs the peeling loop on t and returns every recovered key with the
// bucket count it was extracted at. On failure no keys are returned and t is
// left holding the residue that could not be peeled.
func peel[K Key](t peelTable[K], logger *zap.Logger) (map[K]int, error) {
	subtables, slots := t.shape()
	found := make(map[K]int)
	var queue []position
	scans := 0
	for {
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			// Earlier extractions may have changed the bucket since it was queued.
			key, count, ok := t.pure(p)
			if !ok {
				continue
			}
			if _, seen := found[key]; seen {
				continue
			}
			found[key] = count
			t.extract(p, key)
			for sub := range subtables {
				q := position{sub: sub, slot: t.index(key, sub)}
				if q == p {
					continue
				}
				if _, _, ok := t.pure(q); ok {
					queue = append(queue, q)
				}
			}
		}

		// Every extraction empties a bucket for good, so a table cannot yield
		// more keys than it has buckets.
		if len(found) > subtables*slots {
			break
		}
		scans++
		for sub := range subtables {
			for slot := range slots {
				p := position{sub: sub, slot: slot}
				if key, _, ok := t.pure(p); ok {
					if _, seen := found[key]; !seen {
						queue = append(queue, p)
					}
				}
			}
		}
		if len(queue) == 0 {
			break
		}
	}

	residue := 0
	for sub := range subtables {
		for slot := range slots {
			if !t.empty(position{sub: sub, slot: slot}) {
				residue++
			}
		}
	}
	if residue > 0 {
		logger.Debug("peeling stalled",
			zap.Int("peeled", len(found)),
			zap.Int("residue", residue),
			zap.Int("scans", scans))
		return nil, fmt.Errorf("%w: %d of %d buckets not empty after peeling %d keys",
			ErrPeelFailed, residue, subtables*slots, len(found))
	}
	logger.Debug("peeled table", zap.Int("peeled", len(found)), zap.Int("scans", scans))
	return found, nil
}
