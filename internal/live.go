package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// event names on the wire
const (
	EventUpdate   = "update"
	EventNewImage = "new_image"
)

const subscriberBuffer = 64

// Envelope is the JSON frame every viewer receives.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// UpdatePayload is the body of an update event: one image URL per slot.
type UpdatePayload struct {
	TopLeft     string `json:"img_tl,omitempty"`
	BottomLeft  string `json:"img_bl,omitempty"`
	TopRight    string `json:"img_tr,omitempty"`
	BottomRight string `json:"img_br,omitempty"`
}

// NewImagePayload announces a single freshly ingested item.
type NewImagePayload struct {
	Filename string `json:"filename"`
	Comment  string `json:"comment"`
}

// Publisher accepts live events. Publish must not block and never reports
// delivery failures.
type Publisher interface {
	Publish(event string, data any)
}

// Mirror receives a copy of every encoded event, e.g. a broker bridge.
// Implementations must return immediately.
type Mirror interface {
	Mirror(event string, payload []byte)
}

type HubStats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Viewers   int    `json:"viewers"`
}

// Hub fans out encoded events to every connected viewer. Delivery is best
// effort: a viewer whose queue is full is disconnected rather than waited on.
type Hub struct {
	subscribers map[*subscriber]bool
	register    chan *subscriber
	unregister  chan *subscriber
	broadcast   chan []byte
	done        chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
	mirrors     []Mirror
	lastUpdate  []byte
	logger      *slog.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

type subscriber struct {
	send   chan []byte
	replay bool
}

// builds an empty hub ready to serve viewers; mirrors get a copy of each event
func NewHub(logger *slog.Logger, mirrors ...Mirror) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan []byte, 256),
		done:        make(chan struct{}),
		mirrors:     mirrors,
		logger:      logger.With("component", "hub"),
	}
}

// Run processes membership changes and broadcasts until ctx is done. On
// return every subscriber queue is closed.
func (hub *Hub) Run(ctx context.Context) {
	defer hub.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-hub.register:
			hub.mutex.Lock()
			hub.subscribers[sub] = true
			if sub.replay && hub.lastUpdate != nil {
				select {
				case sub.send <- hub.lastUpdate:
				default:
				}
			}
			hub.mutex.Unlock()
		case sub := <-hub.unregister:
			hub.mutex.Lock()
			if _, exists := hub.subscribers[sub]; exists {
				delete(hub.subscribers, sub)
				close(sub.send)
			}
			hub.mutex.Unlock()
		case payload := <-hub.broadcast:
			hub.fanOut(payload)
		}
	}
}

func (hub *Hub) fanOut(payload []byte) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for sub := range hub.subscribers {
		select {
		case sub.send <- payload:
			hub.delivered.Add(1)
		default:
			// too slow to read; dropping it keeps the publisher non-blocking.
			close(sub.send)
			delete(hub.subscribers, sub)
			hub.dropped.Add(1)
		}
	}
}

func (hub *Hub) stop() {
	hub.stopOnce.Do(func() {
		close(hub.done)
		hub.mutex.Lock()
		for sub := range hub.subscribers {
			close(sub.send)
			delete(hub.subscribers, sub)
		}
		hub.mutex.Unlock()
	})
}

// Publish encodes data under the given event name and queues it for every
// viewer. It never blocks: when the broadcast queue is full the event is
// dropped.
func (hub *Hub) Publish(event string, data any) {
	encodedData, err := json.Marshal(data)
	if err != nil {
		hub.logger.Error("encode live event", "event", event, "error", err)
		return
	}
	payload, err := json.Marshal(Envelope{Event: event, Data: encodedData})
	if err != nil {
		hub.logger.Error("encode live envelope", "event", event, "error", err)
		return
	}
	for _, mirror := range hub.mirrors {
		mirror.Mirror(event, payload)
	}
	if event == EventUpdate {
		hub.mutex.Lock()
		hub.lastUpdate = payload
		hub.mutex.Unlock()
	}
	select {
	case <-hub.done:
		return
	default:
	}
	select {
	case hub.broadcast <- payload:
		hub.published.Add(1)
	default:
		hub.dropped.Add(1)
		hub.logger.Warn("live queue full, event dropped", "event", event)
	}
}

// Subscription is an in-process viewer of the live channel.
type Subscription struct {
	hub *Hub
	sub *subscriber
}

// Subscribe registers an in-process viewer. The returned channel is closed
// when the viewer is dropped, unsubscribed, or the hub stops.
func (hub *Hub) Subscribe() *Subscription {
	sub := &subscriber{send: make(chan []byte, subscriberBuffer)}
	hub.add(sub)
	return &Subscription{hub: hub, sub: sub}
}

// envelopes arrive in publish order
func (s *Subscription) C() <-chan []byte {
	return s.sub.send
}

func (s *Subscription) Close() {
	s.hub.remove(s.sub)
}

func (hub *Hub) add(sub *subscriber) {
	select {
	case hub.register <- sub:
	case <-hub.done:
		close(sub.send)
	}
}

func (hub *Hub) remove(sub *subscriber) {
	select {
	case hub.unregister <- sub:
	case <-hub.done:
	}
}

func (hub *Hub) Stats() HubStats {
	hub.mutex.RLock()
	viewers := len(hub.subscribers)
	hub.mutex.RUnlock()
	return HubStats{
		Published: hub.published.Load(),
		Delivered: hub.delivered.Load(),
		Dropped:   hub.dropped.Load(),
		Viewers:   viewers,
	}
}
