// Package hub fans engine state changes out to concurrent subscribers.
//
// Delivery is at-least-once and per-subscriber ordered: each subscriber has
// one bounded FIFO queue drained by one writer goroutine, so events for a
// product are never observed out of production order. A full queue drops
// its oldest entry and counts it; one slow consumer never stalls the
// publisher or its peers.
package hub

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType tags a broadcast frame.
type EventType string

const (
	EventConnected  EventType = "connected"
	EventTrustScore EventType = "trust_score_update"
	EventNewAlert   EventType = "new_alert"
	EventScanResult EventType = "scan_result"
)

// Event is the JSON frame delivered to subscribers. DroppedEvents is set
// on the first frame following queue overflow.
type Event struct {
	Type          EventType   `json:"type"`
	ProductID     string      `json:"productId,omitempty"`
	Payload       interface{} `json:"payload,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	DroppedEvents int64       `json:"droppedEvents,omitempty"`
	// Origin identifies the publishing instance for the cross-instance
	// bridge; it never reaches subscribers.
	Origin string `json:"-"`
}

// Sink receives events in order. A returned error deregisters the
// subscriber.
type Sink func(*Event) error

// Bridge republishes local events to other engine instances.
type Bridge interface {
	Publish(ctx context.Context, ev *Event) error
}

// Subscriber is one registered consumer with its bounded outbound queue.
type Subscriber struct {
	ID        string
	productID string // "" subscribes to all products

	mu      sync.Mutex
	queue   []*Event
	dropped int64 // accessed atomically

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	sink   Sink
	hub    *Hub
}

// Dropped returns the overflow count not yet surfaced to the subscriber.
func (s *Subscriber) Dropped() int64 { return atomic.LoadInt64(&s.dropped) }

// Hub is the broadcast fan-out point.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*Subscriber
	queueSize int
	bridge    Bridge
	instance  string

	published atomic.Int64
	delivered atomic.Int64
	dropTotal atomic.Int64

	logger *log.Logger
}

// New creates a hub with the given per-subscriber queue capacity.
func New(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		subs:      make(map[string]*Subscriber),
		queueSize: queueSize,
		instance:  uuid.New().String(),
		logger:    log.New(log.Writer(), "[HUB] ", log.LstdFlags),
	}
}

// SetBridge injects a cross-instance bridge. Events arriving from the
// bridge must be delivered via PublishLocal to avoid echo loops.
func (h *Hub) SetBridge(b Bridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// Instance is this hub's origin identifier for bridge deduplication.
func (h *Hub) Instance() string { return h.instance }

// Subscribe registers a sink, optionally filtered to one product, and
// starts its writer goroutine.
func (h *Hub) Subscribe(productID string, sink Sink) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.New().String(),
		productID: productID,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		sink:      sink,
		hub:       h,
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	go sub.writeLoop()
	h.logger.Printf("Subscriber %s registered (product=%q)", sub.ID, productID)
	return sub
}

// Unsubscribe deregisters immediately and releases the queue. In-flight
// events for the subscriber are discarded silently.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	if ok {
		sub.close()
		h.logger.Printf("Subscriber %s deregistered", id)
	}
}

// Publish fans an event out to matching subscribers and, when a bridge is
// configured, to peer instances.
func (h *Hub) Publish(ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Origin = h.instance
	h.PublishLocal(ev)

	h.mu.RLock()
	bridge := h.bridge
	h.mu.RUnlock()
	if bridge != nil {
		if err := bridge.Publish(context.Background(), ev); err != nil {
			h.logger.Printf("Bridge publish failed: %v", err)
		}
	}
}

// PublishLocal delivers to this instance's subscribers only.
func (h *Hub) PublishLocal(ev *Event) {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.productID != "" && ev.ProductID != "" && sub.productID != ev.ProductID {
			continue
		}
		sub.enqueue(ev, h.queueSize)
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns published/delivered/dropped totals.
func (h *Hub) Stats() (published, delivered, dropped int64) {
	return h.published.Load(), h.delivered.Load(), h.dropTotal.Load()
}

// enqueue appends to the bounded queue, evicting the oldest entry on
// overflow. Eviction preserves FIFO order of what remains.
func (s *Subscriber) enqueue(ev *Event, cap int) {
	s.mu.Lock()
	if len(s.queue) >= cap {
		s.queue = s.queue[1:]
		atomic.AddInt64(&s.dropped, 1)
		s.hub.dropTotal.Add(1)
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// writeLoop is the single goroutine that calls the sink, guaranteeing
// per-subscriber ordering.
func (s *Subscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			for {
				s.mu.Lock()
				if len(s.queue) == 0 {
					s.mu.Unlock()
					break
				}
				ev := s.queue[0]
				s.queue = s.queue[1:]
				s.mu.Unlock()

				out := *ev
				if d := atomic.SwapInt64(&s.dropped, 0); d > 0 {
					out.DroppedEvents = d
				}
				if err := s.sink(&out); err != nil {
					s.hub.Unsubscribe(s.ID)
					return
				}
				s.hub.delivered.Add(1)
			}
		}
	}
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}
