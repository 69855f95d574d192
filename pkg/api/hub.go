package api

import (
	"encoding/json"
	"log"
)

type subscription struct {
	client *Client
	topic  string
}

// Hub is the pub/sub layer behind the live queries: it maintains the set of
// active clients, their topic subscriptions, and fans every published Event
// out to the subscribers of its topic.
type Hub struct {
	// Registered clients, by user id. One user may hold several
	// connections (multiple tabs).
	clients map[string][]*Client

	// Topic subscriptions.
	topics map[string]map[*Client]bool

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	subscribe   chan subscription
	unsubscribe chan subscription

	// Published write events awaiting fan-out.
	events chan Event
}

func NewHub() *Hub {
	return &Hub{
		clients:     make(map[string][]*Client),
		topics:      make(map[string]map[*Client]bool),
		Register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		events:      make(chan Event, 256),
	}
}

// Publish satisfies Publisher. It never blocks the writer for long; the
// events channel is buffered and drained by Run.
func (h *Hub) Publish(e Event) {
	h.events <- e
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client.actor.Id] = append(h.clients[client.actor.Id], client)
			// Every connection watches its own notification stream and the
			// emergency banner without an explicit subscribe.
			h.addSubscription(client, UserTopic(client.actor.Id))
			h.addSubscription(client, TopicAlerts)

		case client := <-h.unregister:
			if h.removeClient(client) {
				close(client.send)
			}

		case sub := <-h.subscribe:
			h.addSubscription(sub.client, sub.topic)

		case sub := <-h.unsubscribe:
			if subs, ok := h.topics[sub.topic]; ok {
				delete(subs, sub.client)
				if len(subs) == 0 {
					delete(h.topics, sub.topic)
				}
			}

		case event := <-h.events:
			message, err := json.Marshal(event)
			if err != nil {
				log.Printf("Could not encode event %s: %v", event.Type, err)
				continue
			}
			for client := range h.topics[event.Topic] {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop the connection rather than the
					// whole fan-out.
					if h.removeClient(client) {
						close(client.send)
					}
				}
			}
		}
	}
}

func (h *Hub) addSubscription(client *Client, topic string) {
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][client] = true
}

// removeClient drops the client from the uid index and every topic set.
// It reports whether the client was still registered.
func (h *Hub) removeClient(client *Client) bool {
	conns, ok := h.clients[client.actor.Id]
	if !ok {
		return false
	}

	found := false
	for i, c := range conns {
		if c == client {
			length := len(conns) - 1
			conns[i] = conns[length]
			conns[length] = nil
			h.clients[client.actor.Id] = conns[:length]
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if len(h.clients[client.actor.Id]) == 0 {
		delete(h.clients, client.actor.Id)
	}

	for topic, subs := range h.topics {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	return true
}
