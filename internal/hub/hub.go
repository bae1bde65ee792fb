// Package hub fans console updates out to connected SockJS subscribers.
package hub

import (
	"encoding/json"
	"sync"

	"qms/counter-console/internal/logging"
	"qms/counter-console/internal/metrics"
)

const (
	TopicSnapshot = "snapshot"
	TopicTimer    = "timer"
)

type Client struct {
	ID     string
	Send   chan []byte
	topics map[string]bool
}

func NewClient(id string, buffer int) *Client {
	return &Client{ID: id, Send: make(chan []byte, buffer), topics: make(map[string]bool)}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Envelope is the frame written to subscribers.
type Envelope struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	metrics.HubClients.Set(float64(len(h.clients)))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	metrics.HubClients.Set(float64(len(h.clients)))
}

// Subscribe adds topics to the client. An empty list subscribes to every
// topic.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(topics) == 0 {
		topics = []string{TopicSnapshot, TopicTimer}
	}
	for _, topic := range topics {
		client.topics[topic] = true
	}
}

// Unsubscribe removes topics, or all of them when the list is empty.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(topics) == 0 {
		client.topics = make(map[string]bool)
		return
	}
	for _, topic := range topics {
		delete(client.topics, topic)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish encodes payload once and broadcasts it on topic.
func (h *Hub) Publish(topic string, payload any) error {
	data, err := json.Marshal(Envelope{Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	h.Broadcast(topic, data)
	return nil
}

// Broadcast never blocks; a subscriber whose buffer is full misses the frame.
func (h *Hub) Broadcast(topic string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.topics[topic] {
			continue
		}
		select {
		case client.Send <- data:
		default:
			logger := logging.Component("hub")
			logger.Debug().Str("client_id", client.ID).Str("topic", topic).Msg("drop message for slow client")
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
