package store

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/fangwater/mkt-monitor/internal/correlate"
	"github.com/fangwater/mkt-monitor/internal/domain"
	"github.com/fangwater/mkt-monitor/internal/identity"
	"github.com/fangwater/mkt-monitor/internal/timeline"
	"github.com/fangwater/mkt-monitor/internal/ws"
)

// Broadcaster is the distribution side the store pushes frames through.
// *ws.Hub satisfies it.
type Broadcaster interface {
	Register(client ws.Subscriber, nodeFilter string)
	Unregister(id string)
	Broadcast(nodeKey string, payload []byte)
	Count() int
}

// Store owns all engine state. A single mutex serializes every mutation,
// every query and every subscriber attach, which is what makes the
// snapshot-then-delta contract hold: a snapshot built under the lock plus
// the deltas broadcast after the lock is released reconstructs live state
// exactly, with no frame lost or duplicated.
type Store struct {
	mu        sync.Mutex
	bucketCap int
	eventCap  int
	nodes     map[string]*timeline.Timeline
	nodeKeys  []domain.NodeKey
	corr      *correlate.Correlator
	hub       Broadcaster
	seq       uint64
	log       *slog.Logger
}

func New(hub Broadcaster, bucketCapacity, eventCapacity int, logger *slog.Logger) *Store {
	if bucketCapacity <= 0 {
		bucketCapacity = timeline.DefaultCapacity
	}
	if eventCapacity <= 0 {
		eventCapacity = correlate.DefaultLogCapacity
	}
	return &Store{
		bucketCap: bucketCapacity,
		eventCap:  eventCapacity,
		nodes:     make(map[string]*timeline.Timeline),
		corr:      correlate.New(eventCapacity),
		hub:       hub,
		log:       logger,
	}
}

// UpsertBandwidth applies one probe window to its node's timeline and, on
// success, broadcasts the bucket delta to subscribers watching that node.
// Windows that do not extend past the newest retained bucket are dropped;
// the caller learns this from the false return, the engine state is
// untouched and nothing is broadcast.
func (s *Store) UpsertBandwidth(sample domain.BandwidthSample) bool {
	node := domain.NodeKey{Hostname: sample.Hostname, Interface: sample.Interface}
	bucket := domain.Bucket{
		StartTS:     sample.WindowStart,
		EndTS:       sample.WindowEnd,
		MaxBPS:      sample.MaxBPS,
		AvgBPS:      sample.AvgBPS,
		SampleCount: sample.SampleCount,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := node.String()
	tl, ok := s.nodes[key]
	if !ok {
		tl = timeline.New(s.bucketCap)
		s.nodes[key] = tl
		s.nodeKeys = append(s.nodeKeys, node)
	}

	if _, err := tl.Upsert(bucket); err != nil {
		if errors.Is(err, timeline.ErrOutOfOrder) {
			s.log.Warn("bandwidth window dropped",
				slog.String("node", key),
				slog.Float64("start_ts", bucket.StartTS),
				slog.Float64("end_ts", bucket.EndTS))
			return false
		}
		s.log.Error("bandwidth upsert failed", slog.String("node", key), slog.Any("error", err))
		return false
	}

	s.seq++
	s.broadcast(key, Envelope{
		Type:   TypeBucket,
		Seq:    s.seq,
		Node:   &node,
		Bucket: &bucket,
	})
	return true
}

// IngestIntegrity resolves the check's stream identity, records the event
// and broadcasts it to every subscriber. Integrity events are not scoped
// by node filters.
func (s *Store) IngestIntegrity(check domain.IntegrityCheck) {
	resolved := identity.Resolve(identity.Fields{
		Hostname:  check.Hostname,
		Interface: check.Interface,
		Exchange:  check.Exchange,
		Stage:     check.Stage,
		Symbol:    check.Symbol,
		Type:      check.Type,
	})
	info := domain.StreamInfo{
		Key:      resolved.Key,
		Label:    resolved.Label,
		Category: resolved.Category,
	}
	ev := domain.IntegrityEvent{
		StreamKey: resolved.Key,
		Timestamp: check.Timestamp,
		Status:    check.Status,
		OK:        strings.EqualFold(check.Status, "ok"),
		Detail:    check.Detail,
		Type:      check.Type,
		Exchange:  check.Exchange,
		Symbol:    check.Symbol,
		Stage:     check.Stage,
		Results:   check.Results,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.corr.Ingest(info, ev)
	if !ev.OK {
		s.log.Warn("integrity check failed",
			slog.String("stream", ev.StreamKey),
			slog.String("status", ev.Status),
			slog.String("detail", ev.Detail))
	}

	s.seq++
	s.broadcast("", Envelope{
		Type:   TypeIntegrity,
		Seq:    s.seq,
		Stream: &info,
		Event:  &ev,
	})
}

// Attach registers a subscriber and sends it the current snapshot in one
// step under the mutation lock. Because every broadcast holds the same
// lock, the snapshot is the first frame the subscriber receives and every
// later frame carries a higher sequence number; applying the deltas over
// the snapshot reproduces live state.
func (s *Store) Attach(client ws.Subscriber, nodeFilter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked(nodeFilter)
	payload, err := json.Marshal(Envelope{Type: TypeSnapshot, Seq: s.seq, Snapshot: &snap})
	if err != nil {
		return err
	}

	s.hub.Register(client, nodeFilter)
	if err := client.Send(payload); err != nil {
		s.hub.Unregister(client.ID())
		client.Close()
		return err
	}
	return nil
}

// Detach drops a subscriber. Safe to call for ids that already left.
func (s *Store) Detach(id string) {
	s.hub.Unregister(id)
}

// Status reports the engine overview plus one row per known node.
func (s *Store) Status() (Overview, []NodeStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make([]NodeStatus, 0, len(s.nodeKeys))
	for _, node := range s.nodeKeys {
		tl := s.nodes[node.String()]
		st := NodeStatus{
			Node:             node,
			BucketCount:      tl.Len(),
			BucketCapacity:   tl.Capacity(),
			EventLogCapacity: s.eventCap,
		}
		if newest, ok := tl.Newest(); ok {
			st.WindowSeconds = newest.EndTS - newest.StartTS
			st.LastWindowEnd = newest.EndTS
		}
		nodes = append(nodes, st)
	}

	overview := Overview{
		Nodes:            len(s.nodeKeys),
		Streams:          len(s.corr.Streams()),
		Subscribers:      s.hub.Count(),
		BucketCapacity:   s.bucketCap,
		EventLogCapacity: s.eventCap,
	}
	return overview, nodes
}

// Buckets returns a node's retained buckets ascending. since/until bound
// the range when positive; limit > 0 then keeps the most recent entries.
// The second return is false when the node is unknown.
func (s *Store) Buckets(node string, limit int, since, until float64) ([]domain.Bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, ok := s.nodes[node]
	if !ok {
		return nil, false
	}
	if since > 0 || until > 0 {
		out := tl.Range(since, until)
		if limit > 0 && len(out) > limit {
			out = out[len(out)-limit:]
		}
		return out, true
	}
	return tl.Recent(limit), true
}

// Integrity returns retained events matching the filter, ascending.
func (s *Store) Integrity(f correlate.Filter, limit int) []domain.IntegrityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corr.Events(f, limit)
}

// Streams lists every stream ever seen, in first-seen order.
func (s *Store) Streams() []domain.StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corr.Streams()
}

// Alerts returns the retained not-ok events, oldest first.
func (s *Store) Alerts(limit int) []domain.IntegrityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corr.Alerts(limit)
}

// Correlation pairs a node's recent buckets with the per-stream status
// standing as of each bucket's close. The second return is false when the
// node is unknown.
func (s *Store) Correlation(node string, limit int) ([]CorrelatedBucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, ok := s.nodes[node]
	if !ok {
		return nil, false
	}
	buckets := tl.Recent(limit)
	statuses := correlate.BucketSnapshots(buckets, s.corr.AllEvents())

	out := make([]CorrelatedBucket, len(buckets))
	for i := range buckets {
		out[i] = CorrelatedBucket{Bucket: buckets[i], Statuses: statuses[i]}
	}
	return out, true
}

// Snapshot builds the full-state view a subscriber with the given node
// filter would receive on attach.
func (s *Store) Snapshot(nodeFilter string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(nodeFilter)
}

func (s *Store) snapshotLocked(nodeFilter string) Snapshot {
	snap := Snapshot{
		Nodes:   make([]NodeState, 0, len(s.nodeKeys)),
		Streams: make([]StreamState, 0),
	}
	for _, node := range s.nodeKeys {
		key := node.String()
		if nodeFilter != "" && nodeFilter != key {
			continue
		}
		snap.Nodes = append(snap.Nodes, NodeState{
			Node:    node,
			Buckets: s.nodes[key].Recent(0),
		})
	}

	last := s.corr.LastKnown()
	for _, info := range s.corr.Streams() {
		state := StreamState{Stream: info}
		if ev, ok := last[info.Key]; ok {
			state.Last = &ev
		}
		snap.Streams = append(snap.Streams, state)
	}
	return snap
}

func (s *Store) broadcast(nodeKey string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		s.log.Error("frame marshal failed", slog.Any("error", err))
		return
	}
	s.hub.Broadcast(nodeKey, payload)
}
