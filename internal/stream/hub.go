// Package stream distributes planner events to in-process consumers and
// WebSocket clients.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType names a planner event.
type EventType string

const (
	EventGateStatus      EventType = "gate_status"
	EventPlanSubmitted   EventType = "plan_submitted"
	EventPlanCancelled   EventType = "plan_cancelled"
	EventOutcomeRecorded EventType = "outcome_recorded"
	EventRunFinished     EventType = "run_finished"
)

// Event is one message pushed to subscribers.
type Event struct {
	Type   EventType `json:"type"`
	Time   time.Time `json:"time"`
	PlanID string    `json:"planId,omitempty"`
	Data   any       `json:"data,omitempty"`
}

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
	// SlowConsumerDropThreshold is the number of consecutive drops before logging.
	SlowConsumerDropThreshold int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:                256,
		SubscriberBufferSize:      64,
		SlowConsumerDropThreshold: 10,
	}
}

// Hub fans planner events out to subscribers. Sends never block: a
// subscriber whose buffer is full misses the event.
//
// The latest gate_status event is retained and replayed to every new
// subscriber, so a freshly opened form learns the gate state immediately.
type Hub struct {
	config HubConfig
	logger zerolog.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	lastGate    *Event
	events      chan Event
	done        chan struct{}
	started     bool
	stopped     bool

	metricsMu       sync.Mutex
	eventsPublished uint64
	eventsDelivered uint64
	eventsDropped   uint64
}

// Subscriber is one consumer of hub events.
type Subscriber struct {
	ID        string
	C         <-chan Event
	CreatedAt time.Time

	ch      chan Event
	topics  map[EventType]bool
	dropped int
}

func (s *Subscriber) wants(t EventType) bool {
	return len(s.topics) == 0 || s.topics[t]
}

// NewHub creates a hub with the default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig creates a hub with a custom configuration.
func NewHubWithConfig(config HubConfig, logger zerolog.Logger) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		logger:      logger.With().Str("component", "stream").Logger(),
		subscribers: make(map[string]*Subscriber),
		events:      make(chan Event, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start runs the distribution loop until ctx is cancelled or Stop is called.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started || h.stopped {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop(ctx)
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case <-h.done:
			return
		case e := <-h.events:
			h.broadcast(e)
		}
	}
}

// Stop ends distribution and closes every subscriber channel.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.done)
	for id, sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}

// Subscribe registers a subscriber for the given event types. No types means
// every event.
func (h *Hub) Subscribe(topics ...EventType) *Subscriber {
	ch := make(chan Event, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        uuid.NewString(),
		C:         ch,
		CreatedAt: time.Now(),
		ch:        ch,
		topics:    make(map[EventType]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		close(ch)
		return sub
	}
	h.subscribers[sub.ID] = sub
	if h.lastGate != nil && sub.wants(EventGateStatus) {
		ch <- *h.lastGate
	}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}

// Publish queues an event for distribution. It never blocks; when the
// internal buffer is full the event is dropped.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.metricsMu.Lock()
	h.eventsPublished++
	h.metricsMu.Unlock()

	select {
	case h.events <- e:
	default:
		h.metricsMu.Lock()
		h.eventsDropped++
		h.metricsMu.Unlock()
		h.logger.Warn().Str("type", string(e.Type)).Msg("Event buffer full, dropping event")
	}
}

func (h *Hub) broadcast(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	if e.Type == EventGateStatus {
		retained := e
		h.lastGate = &retained
	}

	var delivered, dropped uint64
	for _, sub := range h.subscribers {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
			sub.dropped = 0
			delivered++
		default:
			sub.dropped++
			dropped++
			if h.config.SlowConsumerDropThreshold > 0 && sub.dropped == h.config.SlowConsumerDropThreshold {
				h.logger.Warn().Str("subscriber", sub.ID).Int("dropped", sub.dropped).Msg("Slow consumer")
			}
		}
	}

	h.metricsMu.Lock()
	h.eventsDelivered += delivered
	h.eventsDropped += dropped
	h.metricsMu.Unlock()
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HubMetrics contains hub delivery counters.
type HubMetrics struct {
	EventsPublished uint64
	EventsDelivered uint64
	EventsDropped   uint64
	Subscribers     int
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() HubMetrics {
	subs := h.SubscriberCount()
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return HubMetrics{
		EventsPublished: h.eventsPublished,
		EventsDelivered: h.eventsDelivered,
		EventsDropped:   h.eventsDropped,
		Subscribers:     subs,
	}
}
