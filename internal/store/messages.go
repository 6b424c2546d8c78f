package store

import "github.com/fangwater/mkt-monitor/internal/domain"

// Wire frame types pushed to subscribers.
const (
	TypeSnapshot  = "snapshot"
	TypeBucket    = "bucket_upserted"
	TypeIntegrity = "integrity_event"
)

// Envelope is the frame shared by the snapshot and every delta. Seq is a
// monotonic counter assigned under the store's mutation lock; a
// subscriber's first frame is the snapshot, and every later frame's Seq
// exceeds the snapshot's.
type Envelope struct {
	Type     string                 `json:"type"`
	Seq      uint64                 `json:"seq"`
	Node     *domain.NodeKey        `json:"node,omitempty"`
	Bucket   *domain.Bucket         `json:"bucket,omitempty"`
	Stream   *domain.StreamInfo     `json:"stream,omitempty"`
	Event    *domain.IntegrityEvent `json:"event,omitempty"`
	Snapshot *Snapshot              `json:"snapshot,omitempty"`
}

// Snapshot is the complete engine state sent once when a subscriber
// attaches: every node's bucket sequence plus every known stream's
// last-known status.
type Snapshot struct {
	Nodes   []NodeState   `json:"nodes"`
	Streams []StreamState `json:"streams"`
}

// NodeState is one node's retained bucket sequence in ascending order.
type NodeState struct {
	Node    domain.NodeKey  `json:"node"`
	Buckets []domain.Bucket `json:"buckets"`
}

// StreamState couples a stream's identity with its last-known event.
type StreamState struct {
	Stream domain.StreamInfo      `json:"stream"`
	Last   *domain.IntegrityEvent `json:"last,omitempty"`
}

// NodeStatus is the read-only limits/config view for one node.
type NodeStatus struct {
	Node             domain.NodeKey `json:"node"`
	BucketCount      int            `json:"bucket_count"`
	WindowSeconds    float64        `json:"window_seconds"`
	LastWindowEnd    float64        `json:"last_window_end"`
	BucketCapacity   int            `json:"bucket_capacity"`
	EventLogCapacity int            `json:"event_log_capacity"`
}

// Overview summarizes the whole engine for the status endpoint.
type Overview struct {
	Nodes            int `json:"nodes"`
	Streams          int `json:"streams"`
	Subscribers      int `json:"subscribers"`
	BucketCapacity   int `json:"bucket_capacity"`
	EventLogCapacity int `json:"event_log_capacity"`
}

// CorrelatedBucket pairs one bucket with the per-stream status snapshot
// as of that bucket's close.
type CorrelatedBucket struct {
	Bucket   domain.Bucket                    `json:"bucket"`
	Statuses map[string]domain.IntegrityEvent `json:"statuses"`
}
