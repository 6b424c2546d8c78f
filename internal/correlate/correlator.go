// Package correlate tracks per-stream integrity status and aligns it onto
// bucket timelines.
package correlate

import (
	"sort"

	"github.com/fangwater/mkt-monitor/internal/domain"
)

// DefaultLogCapacity bounds each stream's event log when no capacity is
// configured.
const DefaultLogCapacity = 360

// Correlator keeps, per stream, the last-known integrity event and a
// bounded ordered event log. Streams are never deleted: the last-known
// entry persists even if the log empties under eviction. Not safe for
// concurrent use; the store serializes access.
type Correlator struct {
	logCap  int
	streams map[string]*stream
	order   []string
	alerts  []domain.IntegrityEvent
}

type stream struct {
	info domain.StreamInfo
	last domain.IntegrityEvent
	seen bool
	log  []domain.IntegrityEvent
}

// New creates a correlator whose per-stream logs and alert feed are
// bounded to logCapacity entries.
func New(logCapacity int) *Correlator {
	if logCapacity <= 0 {
		logCapacity = DefaultLogCapacity
	}
	return &Correlator{
		logCap:  logCapacity,
		streams: make(map[string]*stream),
	}
}

// Ingest records ev under its stream, evicting the oldest log entry on
// overflow. The last-known entry is overwritten whenever the incoming
// timestamp is at least the newest seen, so equal timestamps resolve in
// arrival order. Returns true when the stream was first seen.
func (c *Correlator) Ingest(info domain.StreamInfo, ev domain.IntegrityEvent) bool {
	s, ok := c.streams[info.Key]
	if !ok {
		s = &stream{info: info}
		c.streams[info.Key] = s
		c.order = append(c.order, info.Key)
	}
	s.log = append(s.log, ev)
	if excess := len(s.log) - c.logCap; excess > 0 {
		kept := copy(s.log, s.log[excess:])
		s.log = s.log[:kept]
	}
	if !s.seen || ev.Timestamp >= s.last.Timestamp {
		s.last = ev
		s.seen = true
	}
	if !ev.OK {
		c.alerts = append(c.alerts, ev)
		if excess := len(c.alerts) - c.logCap; excess > 0 {
			kept := copy(c.alerts, c.alerts[excess:])
			c.alerts = c.alerts[:kept]
		}
	}
	return !ok
}

// Streams lists known stream identities in first-seen order.
func (c *Correlator) Streams() []domain.StreamInfo {
	out := make([]domain.StreamInfo, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.streams[key].info)
	}
	return out
}

// LastKnown returns the current status table: stream key to the newest
// event observed for it.
func (c *Correlator) LastKnown() map[string]domain.IntegrityEvent {
	out := make(map[string]domain.IntegrityEvent, len(c.streams))
	for key, s := range c.streams {
		if s.seen {
			out[key] = s.last
		}
	}
	return out
}

// Filter narrows event queries. Empty fields match everything; a query
// for a never-seen key yields an empty result, not an error.
type Filter struct {
	StreamKey string
	Exchange  string
	Symbol    string
	Stage     string
	Type      string
}

func (f Filter) matches(ev domain.IntegrityEvent) bool {
	if f.StreamKey != "" && ev.StreamKey != f.StreamKey {
		return false
	}
	if f.Exchange != "" && ev.Exchange != f.Exchange {
		return false
	}
	if f.Symbol != "" && ev.Symbol != f.Symbol {
		return false
	}
	if f.Stage != "" && ev.Stage != f.Stage {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	return true
}

// Events returns retained events matching f, ascending by timestamp with
// per-stream arrival order preserved for equal timestamps. limit > 0
// keeps only the most recent entries.
func (c *Correlator) Events(f Filter, limit int) []domain.IntegrityEvent {
	out := c.collect(f)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// AllEvents returns every retained event ascending by timestamp.
func (c *Correlator) AllEvents() []domain.IntegrityEvent {
	return c.collect(Filter{})
}

// Alerts returns the retained not-ok events, oldest first. limit > 0
// keeps only the most recent entries.
func (c *Correlator) Alerts(limit int) []domain.IntegrityEvent {
	out := make([]domain.IntegrityEvent, len(c.alerts))
	copy(out, c.alerts)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (c *Correlator) collect(f Filter) []domain.IntegrityEvent {
	var out []domain.IntegrityEvent
	for _, key := range c.order {
		for _, ev := range c.streams[key].log {
			if f.matches(ev) {
				out = append(out, ev)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
