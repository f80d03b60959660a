// Package quota caps the number of concurrent operations of one kind.
//
// The maximum can be changed while operations are in flight; operations that
// already hold a slot keep it, and new acquisitions are checked against the
// new maximum.
package quota

import "sync/atomic"

// Quota is safe for concurrent use. A maximum of zero means unlimited.
type Quota struct {
	max  atomic.Int64
	used atomic.Int64
}

// New returns a quota with the given maximum.
func New(max int) *Quota {
	q := &Quota{}
	q.SetMax(max)
	return q
}

// SetMax replaces the maximum. Negative values are treated as zero.
func (q *Quota) SetMax(max int) {
	if max < 0 {
		max = 0
	}
	q.max.Store(int64(max))
}

// Max returns the current maximum.
func (q *Quota) Max() int { return int(q.max.Load()) }

// InUse returns the number of held slots.
func (q *Quota) InUse() int { return int(q.used.Load()) }

// TryAcquire takes a slot if one is available.
func (q *Quota) TryAcquire() bool {
	for {
		used := q.used.Load()
		limit := q.max.Load()
		if limit > 0 && used >= limit {
			return false
		}
		if q.used.CompareAndSwap(used, used+1) {
			return true
		}
	}
}

// Release returns a slot taken by TryAcquire.
func (q *Quota) Release() {
	if q.used.Add(-1) < 0 {
		panic("quota: release without acquire")
	}
}
