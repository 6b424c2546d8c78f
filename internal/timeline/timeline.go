// Package timeline maintains one node's ordered, bounded sequence of
// bandwidth buckets.
package timeline

import (
	"errors"
	"math"

	"github.com/fangwater/mkt-monitor/internal/domain"
)

// ErrOutOfOrder reports a sample whose window does not extend past the
// newest retained bucket. The timeline is left untouched.
var ErrOutOfOrder = errors.New("window does not extend past newest bucket")

// DefaultCapacity is the bucket retention bound applied when none is
// configured.
const DefaultCapacity = 120

// Redelivered windows may carry float jitter in their boundaries; within
// this tolerance two windows count as the same bucket.
const windowTolerance = 1e-3

// Outcome reports what an upsert did to the timeline.
type Outcome int

const (
	// OutcomeAppended means a new bucket was added at the tail.
	OutcomeAppended Outcome = iota
	// OutcomeUpdated means the newest bucket was overwritten in place.
	OutcomeUpdated
)

// Timeline holds buckets strictly ordered by start timestamp. Only the
// newest bucket is mutable; eviction removes from the head. Not safe for
// concurrent use; the store serializes access.
type Timeline struct {
	capacity int
	buckets  []domain.Bucket
}

// New creates a timeline bounded to capacity buckets.
func New(capacity int) *Timeline {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Timeline{
		capacity: capacity,
		buckets:  make([]domain.Bucket, 0, capacity),
	}
}

// Upsert applies one bandwidth window. A window matching the newest
// bucket's boundaries overwrites it in place, so redelivery of the same
// window is idempotent. A window whose start is not past the newest
// bucket's start (outside the redelivery tolerance) is rejected with
// ErrOutOfOrder, keeping the sequence strictly ordered by start
// timestamp. Otherwise the bucket is appended and the head is evicted by
// exactly the overflow.
func (t *Timeline) Upsert(b domain.Bucket) (Outcome, error) {
	if n := len(t.buckets); n > 0 {
		newest := &t.buckets[n-1]
		if sameWindow(*newest, b) {
			*newest = b
			return OutcomeUpdated, nil
		}
		if b.StartTS <= newest.StartTS+windowTolerance {
			return 0, ErrOutOfOrder
		}
	}
	t.buckets = append(t.buckets, b)
	if excess := len(t.buckets) - t.capacity; excess > 0 {
		kept := copy(t.buckets, t.buckets[excess:])
		t.buckets = t.buckets[:kept]
	}
	return OutcomeAppended, nil
}

// Recent returns up to limit of the most recent buckets in ascending
// time order. limit <= 0 means all.
func (t *Timeline) Recent(limit int) []domain.Bucket {
	n := len(t.buckets)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Bucket, limit)
	copy(out, t.buckets[n-limit:])
	return out
}

// Range returns the buckets whose windows fall inside [since, until] in
// ascending order. A zero bound is open.
func (t *Timeline) Range(since, until float64) []domain.Bucket {
	out := make([]domain.Bucket, 0, len(t.buckets))
	for _, b := range t.buckets {
		if since > 0 && b.EndTS < since {
			continue
		}
		if until > 0 && b.StartTS > until {
			break
		}
		out = append(out, b)
	}
	return out
}

// Len reports the current bucket count.
func (t *Timeline) Len() int {
	return len(t.buckets)
}

// Capacity reports the retention bound.
func (t *Timeline) Capacity() int {
	return t.capacity
}

// Newest returns the most recent bucket, if any.
func (t *Timeline) Newest() (domain.Bucket, bool) {
	if len(t.buckets) == 0 {
		return domain.Bucket{}, false
	}
	return t.buckets[len(t.buckets)-1], true
}

func sameWindow(a, b domain.Bucket) bool {
	return math.Abs(a.StartTS-b.StartTS) <= windowTolerance &&
		math.Abs(a.EndTS-b.EndTS) <= windowTolerance
}
