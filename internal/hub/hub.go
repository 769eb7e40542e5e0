// Package hub fans out change notifications to subscribers. Publishers call
// Publish after their transaction commits, in commit order, so a subscriber
// sees notifications for any one entity in the order the mutations committed.
package hub

import (
	"errors"
	"log"
	"sync"
)

// ErrOverflow marks a subscriber that was dropped for falling behind.
var ErrOverflow = errors.New("subscriber dropped: buffer overflow")

// Scope selects which entity class a subscription receives.
type Scope string

const (
	ScopeOrders    Scope = "orders"
	ScopeResources Scope = "resources"
	ScopeAll       Scope = "all"
)

// Notification types.
const (
	OrderCreated       = "order.created"
	OrderStatusChanged = "order.status_changed"
	OrderUpdated       = "order.updated"
	ResourceCreated    = "resource.created"
	ResourceChanged    = "resource.status_changed"
	AllocationCreated  = "allocation.created"
	AllocationReleased = "allocation.released"
)

type Notification struct {
	Scope    Scope          `json:"scope"`
	Type     string         `json:"type"`
	EntityID string         `json:"entity_id"`
	TS       string         `json:"ts"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Hub delivers notifications at-least-once over per-subscriber bounded
// channels. A full channel never blocks the publisher: the subscriber is
// dropped and its channel closed with Err reporting ErrOverflow.
type Hub struct {
	mu     sync.Mutex
	buffer int
	subs   map[*Subscription]struct{}
}

type Subscription struct {
	hub    *Hub
	scope  Scope
	ch     chan Notification
	err    error
	closed bool
}

func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{buffer: buffer, subs: make(map[*Subscription]struct{})}
}

// Subscribe opens a stream of notifications for the given scope. The caller
// must drain C() or be dropped once the buffer fills.
func (h *Hub) Subscribe(scope Scope) *Subscription {
	if scope == "" {
		scope = ScopeAll
	}
	s := &Subscription{hub: h, scope: scope, ch: make(chan Notification, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Publish delivers n to every matching subscriber without blocking.
func (h *Hub) Publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.scope != ScopeAll && s.scope != n.Scope {
			continue
		}
		select {
		case s.ch <- n:
		default:
			log.Printf("hub: dropping slow subscriber (scope=%s)", s.scope)
			s.err = ErrOverflow
			s.closed = true
			close(s.ch)
			delete(h.subs, s)
		}
	}
}

// SubscriberCount reports active subscribers, for diagnostics.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// C is the notification stream. It closes when the subscription is cancelled
// or dropped for overflow; check Err to distinguish.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Err reports why the channel closed. Nil after a plain Unsubscribe.
func (s *Subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Unsubscribe cancels the subscription. No notification is delivered after it
// returns; pending buffered notifications remain readable until the closed
// channel drains.
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	delete(s.hub.subs, s)
}
