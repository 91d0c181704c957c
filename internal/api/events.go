package api

import (
	"sync"

	"waverchat/internal/models"
	"waverchat/internal/presence"
	"waverchat/internal/worker"
)

const subscriberBuffer = 64

// Event is one UI notification streamed to renderers.
type Event struct {
	Name string
	Data interface{}
}

// Hub fans session events out to SSE and websocket subscribers. It
// implements session.Observer; a full subscriber loses events rather than
// stalling the session.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns an event channel and a function that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers an event to every subscriber without blocking.
func (h *Hub) Publish(name string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- Event{Name: name, Data: data}:
		default:
			worker.Debugf("event hub subscriber %d full, dropping %s", id, name)
		}
	}
}

func (h *Hub) MessageAppended(msg models.Message) {
	h.Publish("message", msg)
}

func (h *Hub) MessageStatusChanged(id string, status models.Status) {
	h.Publish("status", map[string]interface{}{"id": id, "status": status})
}

func (h *Hub) ConversationReset(welcome models.Message) {
	h.Publish("reset", map[string]interface{}{"welcome": welcome})
}

func (h *Hub) ConnectionChanged(connected bool) {
	h.Publish("connection", map[string]interface{}{"connected": connected})
}

// PresenceChanged is subscribed to the presence machine.
func (h *Hub) PresenceChanged(change presence.Change) {
	h.Publish("presence", change)
}

// MetricsSampled receives every sampler snapshot.
func (h *Hub) MetricsSampled(snap models.MetricsSnapshot) {
	h.Publish("metrics", snap)
}

// ScrollToBottom asks renderers to scroll the message list down.
func (h *Hub) ScrollToBottom() {
	h.Publish("scroll", map[string]interface{}{"to": "bottom"})
}
