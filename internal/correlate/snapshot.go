package correlate

import (
	"sort"

	"github.com/fangwater/mkt-monitor/internal/domain"
)

// BucketSnapshots computes, for each bucket in ascending order, the
// latest integrity event per stream known as of that bucket's close.
//
// Events are stable-sorted by timestamp and consumed through a single
// forward cursor: for each bucket the cursor admits every not-yet-seen
// event with timestamp <= the bucket's end, updating a running last-per-
// key map, and the bucket's snapshot is a copy of that map. Both the
// cursor and the bucket index only move forward, so the cost is
// O(events + buckets) rather than O(events x buckets).
//
// An event older than the first bucket is admitted at the first bucket
// that closes at or after its timestamp; an event newer than every
// bucket's end stays pending and appears in no snapshot.
func BucketSnapshots(buckets []domain.Bucket, events []domain.IntegrityEvent) []map[string]domain.IntegrityEvent {
	sorted := make([]domain.IntegrityEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	snapshots := make([]map[string]domain.IntegrityEvent, len(buckets))
	running := make(map[string]domain.IntegrityEvent)
	cursor := 0
	for i, bucket := range buckets {
		for cursor < len(sorted) && sorted[cursor].Timestamp <= bucket.EndTS {
			running[sorted[cursor].StreamKey] = sorted[cursor]
			cursor++
		}
		snap := make(map[string]domain.IntegrityEvent, len(running))
		for key, ev := range running {
			snap[key] = ev
		}
		snapshots[i] = snap
	}
	return snapshots
}
