// Package stream fans live-update events out to dashboard connections.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"nse-alerts/internal/models"
)

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Hub distributes events published by the pipeline to every subscriber.
// Sends never block: a subscriber whose buffer is full misses the event.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	events      chan models.Event
	done        chan struct{}
	started     bool

	// Metrics
	eventsReceived  uint64
	eventsBroadcast uint64
	eventsDropped   uint64
	metricsMu       sync.RWMutex
}

// Subscriber is one consumer of the event stream.
type Subscriber struct {
	ID           string
	Channel      chan models.Event
	Types        map[models.EventType]bool // empty means every type
	DroppedCount uint64
	CreatedAt    time.Time
}

func (s *Subscriber) wants(t models.EventType) bool {
	return len(s.Types) == 0 || s.Types[t]
}

// NewHub creates a new hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = 100
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string]*Subscriber),
		events:      make(chan models.Event, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the hub's distribution loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop(ctx)
	return nil
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case ev := <-h.events:
			h.metricsMu.Lock()
			h.eventsReceived++
			h.metricsMu.Unlock()

			h.broadcast(ev)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}

	close(h.done)
	h.started = false

	for id, sub := range h.subscribers {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// Subscribe registers a subscriber for the given event types, or for every
// type when none are given.
func (h *Hub) Subscribe(types ...models.EventType) *Subscriber {
	sub := &Subscriber{
		Channel:   make(chan models.Event, h.config.SubscriberBufferSize),
		Types:     make(map[models.EventType]bool, len(types)),
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}
	for _, t := range types {
		sub.Types[t] = true
	}

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub.ID]; ok {
		close(sub.Channel)
		delete(h.subscribers, sub.ID)
	}
}

// Publish queues an event for distribution. If the internal buffer is full
// the event is dropped.
func (h *Hub) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case h.events <- ev:
	default:
		h.metricsMu.Lock()
		h.eventsDropped++
		h.metricsMu.Unlock()
	}
}

// Broadcast is Publish under the name the dispatcher expects.
func (h *Hub) Broadcast(ev models.Event) {
	h.Publish(ev)
}

// broadcast sends an event to every interested subscriber. The read lock is
// held across the sends so Stop cannot close a channel mid-send.
func (h *Hub) broadcast(ev models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.Channel <- ev:
			h.metricsMu.Lock()
			h.eventsBroadcast++
			h.metricsMu.Unlock()
		default:
			h.metricsMu.Lock()
			sub.DroppedCount++
			h.eventsDropped++
			h.metricsMu.Unlock()
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() HubMetrics {
	subscribers := h.SubscriberCount()

	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()

	return HubMetrics{
		EventsReceived:  h.eventsReceived,
		EventsBroadcast: h.eventsBroadcast,
		EventsDropped:   h.eventsDropped,
		Subscribers:     subscribers,
	}
}

// HubMetrics contains hub performance metrics.
type HubMetrics struct {
	EventsReceived  uint64 `json:"events_received"`
	EventsBroadcast uint64 `json:"events_broadcast"`
	EventsDropped   uint64 `json:"events_dropped"`
	Subscribers     int    `json:"subscribers"`
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}
