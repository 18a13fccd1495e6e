// Package hub fans out published values to the sessions subscribed to a topic.
package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/protocol"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte) bool
	Close()
}

type Hub struct {
	subscribers map[string]map[ClientInterface]bool
	clientSubs  map[ClientInterface]map[string]bool

	logger *zap.Logger
	mu     sync.RWMutex
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[ClientInterface]bool),
		clientSubs:  make(map[ClientInterface]map[string]bool),
		logger:      logger,
	}
}

// Subscribe is idempotent and reports whether the subscription is new.
func (h *Hub) Subscribe(client ClientInterface, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}
	if h.clientSubs[client][topic] {
		return false
	}
	h.clientSubs[client][topic] = true

	if h.subscribers[topic] == nil {
		h.subscribers[topic] = make(map[ClientInterface]bool)
	}
	h.subscribers[topic][client] = true
	return true
}

// Unsubscribe reports whether the client was subscribed.
func (h *Hub) Unsubscribe(client ClientInterface, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.clientSubs[client]
	if !ok || !subs[topic] {
		return false
	}
	delete(subs, topic)
	h.removeLocked(client, topic)
	return true
}

// Unregister drops every subscription of the client and closes it.
func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	if subs, ok := h.clientSubs[client]; ok {
		for topic := range subs {
			h.removeLocked(client, topic)
		}
		delete(h.clientSubs, client)
	}
	h.mu.Unlock()

	client.Close()
}

// removeLocked must be called with mu held
func (h *Hub) removeLocked(client ClientInterface, topic string) {
	clients := h.subscribers[topic]
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.subscribers, topic)
	}
}

// Publish delivers payload to every subscriber of topic. Delivery is best
// effort: a client whose send buffer is full misses the frame.
func (h *Hub) Publish(topic string, payload interface{}) {
	msg, err := json.Marshal(protocol.WSResponse{Type: protocol.TypeMessage, Topic: topic, Data: payload})
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.String("topic", topic), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.subscribers[topic] {
		if !client.SendBytes(msg) {
			h.logger.Debug("Dropped broadcast for slow client", zap.String("topic", topic), zap.String("client", client.ID()))
		}
	}
}

// Subscribers counts the clients on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}
