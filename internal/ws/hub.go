// Package ws fans correlated state out to live subscribers.
package ws

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull reports that a subscriber's bounded outbound queue
// overflowed. The hub responds by disconnecting that subscriber.
var ErrQueueFull = errors.New("subscriber queue full")

// ErrClosed reports a send to a subscriber that already shut down.
var ErrClosed = errors.New("subscriber closed")

// Subscriber abstracts a streaming consumer. Send must never block: it
// enqueues onto a bounded queue and reports ErrQueueFull or ErrClosed
// when delivery is impossible.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
	Close()
}

// Hub manages live subscriptions. Payloads broadcast with a node key are
// routed by each subscriber's node filter; payloads broadcast with an
// empty key reach every subscriber. A failed Send disconnects only the
// offending subscriber.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]subscription
	log  *slog.Logger
}

type subscription struct {
	client     Subscriber
	nodeFilter string
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs: make(map[string]subscription),
		log:  logger,
	}
}

// Register attaches a subscriber. An empty nodeFilter receives every
// node's deltas.
func (h *Hub) Register(client Subscriber, nodeFilter string) {
	h.mu.Lock()
	h.subs[client.ID()] = subscription{client: client, nodeFilter: nodeFilter}
	h.mu.Unlock()
}

// Unregister detaches a subscriber. Unknown IDs are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Broadcast enqueues payload for every matching subscriber. Subscribers
// whose queue rejects the payload are disconnected; the others are
// unaffected.
func (h *Hub) Broadcast(nodeKey string, payload []byte) {
	var stale []Subscriber
	h.mu.RLock()
	for _, sub := range h.subs {
		if nodeKey != "" && sub.nodeFilter != "" && sub.nodeFilter != nodeKey {
			continue
		}
		if err := sub.client.Send(payload); err != nil {
			stale = append(stale, sub.client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		if h.log != nil {
			h.log.Warn("disconnecting slow subscriber", "subscriber", client.ID())
		}
		h.Unregister(client.ID())
		client.Close()
	}
}

// Count reports the number of attached subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
