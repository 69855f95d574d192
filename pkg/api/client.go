// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Services bundles the communication core handed to transports.
type Services struct {
	Conversations ConversationService
	Messages      MessageService
	Presence      PresenceService
	Typing        TypingService
	Notifications NotificationService
	Broadcasts    BroadcastService
	Alerts        AlertService
	Audit         AuditService
	Policy        Policy
}

// clientAction is one JSON frame sent by a websocket client.
type clientAction struct {
	Action         string            `json:"action"`
	Topic          string            `json:"topic,omitempty"`
	ConversationId string            `json:"conversationId,omitempty"`
	Thread         *Thread           `json:"thread,omitempty"`
	Message        *SendMessageInput `json:"message,omitempty"`
}

// Client is a middleman between the ws connection and the Hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Authenticated identity, resolved by the auth middleware before the
	// upgrade; the socket never carries client-supplied identity.
	actor Actor

	services Services
}

func NewClient(hub *Hub, conn *websocket.Conn, send chan []byte, actor Actor, services Services) *Client {
	return &Client{Hub: hub, conn: conn, send: send, actor: actor, services: services}
}

// ReadPump pumps frames from the ws connection into the services and the Hub.
//
// The application runs ReadPump in a per-connection goroutine. The
// application ensures that there is at most one reader on a connection by
// executing all reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		if err := c.conn.Close(); err != nil {
			log.Printf("Could not close network connection: %v", err)
		}
	}()
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Unable to set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			return
		}
		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))

		var action clientAction
		if err := json.Unmarshal(message, &action); err != nil {
			log.Printf("Could not process frame: %v", err)
			continue
		}
		c.handle(action)
	}
}

func (c *Client) handle(action clientAction) {
	ctx := context.Background()

	switch action.Action {
	case "subscribe":
		if err := c.subscribeTopic(ctx, action.Topic); err != nil {
			c.sendError(action.Topic, err)
		}
	case "unsubscribe":
		c.Hub.unsubscribe <- subscription{client: c, topic: action.Topic}
	case "message":
		if action.Message == nil {
			c.sendError("", invalid("message", "missing payload"))
			return
		}
		input := *action.Message
		// Identity always comes from the authenticated actor.
		input.SenderId = c.actor.Id
		input.SenderName = c.actor.Name
		input.SenderRole = c.actor.Role
		if _, err := c.services.Messages.Send(ctx, input); err != nil {
			c.sendError(input.Thread.Topic(), err)
		}
	case "typing":
		if err := c.services.Typing.SetTyping(ctx, action.ConversationId, c.actor); err != nil {
			c.sendError("", err)
		}
	case "heartbeat":
		if err := c.services.Presence.Heartbeat(ctx, c.actor.Id); err != nil && !IsTransient(err) {
			c.sendError("", err)
		}
	case "markRead":
		if action.Thread == nil {
			c.sendError("", invalid("thread", "missing payload"))
			return
		}
		if _, err := c.services.Messages.MarkAsRead(ctx, c.actor, *action.Thread); err != nil {
			c.sendError(action.Thread.Topic(), err)
		}
	default:
		c.sendError("", invalid("action", "unknown action "+action.Action))
	}
}

// subscribeTopic registers the subscription and then pushes a full snapshot
// of the topic's current state. Registration happens first, so a write
// racing the snapshot may be seen twice; consumers dedupe by id.
func (c *Client) subscribeTopic(ctx context.Context, topic string) error {
	if err := c.authorizeTopic(topic); err != nil {
		return err
	}

	c.Hub.subscribe <- subscription{client: c, topic: topic}

	payload, err := c.snapshot(ctx, topic)
	if err != nil {
		c.Hub.unsubscribe <- subscription{client: c, topic: topic}
		return err
	}

	frame, err := json.Marshal(Event{Topic: topic, Type: EventSnapshot, Payload: payload})
	if err != nil {
		return err
	}
	select {
	case c.send <- frame:
	default:
		// No room for the baseline; a subscriber without it would render
		// deltas against nothing. Drop the connection like the hub does for
		// slow consumers.
		c.Hub.unregister <- c
	}
	return nil
}

// authorizeTopic gates the subscription before any delta can flow.
func (c *Client) authorizeTopic(topic string) error {
	switch {
	case topic == TopicStaffConversations:
		return c.services.Policy.Authorize(c.actor, ActionConversationRead)

	case topic == TopicAlerts, topic == TopicPresence, topic == UserTopic(c.actor.Id):
		return nil

	case strings.HasPrefix(topic, "thread:"):
		thread, err := parseThreadTopic(topic)
		if err != nil {
			return err
		}
		// A citizen's conversation id is their own uid; anything else is
		// staff territory.
		if thread.Kind == ThreadConversation && c.actor.Role == RoleCitizen && thread.Id != c.actor.Id {
			return &ForbiddenError{Actor: c.actor.Id, Action: "subscribe " + topic}
		}
		return nil

	default:
		return invalid("topic", "unknown topic "+topic)
	}
}

func (c *Client) snapshot(ctx context.Context, topic string) (interface{}, error) {
	switch {
	case topic == TopicStaffConversations:
		return c.services.Conversations.List(ctx, c.actor)

	case topic == TopicAlerts:
		return c.services.Alerts.Active(ctx)

	case topic == TopicPresence:
		// Heartbeat deltas only; subscribers seed from the online query.
		return nil, nil

	case topic == UserTopic(c.actor.Id):
		return c.services.Notifications.List(ctx, c.actor.Id)

	default:
		thread, err := parseThreadTopic(topic)
		if err != nil {
			return nil, err
		}
		return c.services.Messages.List(ctx, thread)
	}
}

func parseThreadTopic(topic string) (Thread, error) {
	parts := strings.SplitN(topic, ":", 3)
	if len(parts) != 3 || parts[0] != "thread" || parts[2] == "" {
		return Thread{}, invalid("topic", "malformed thread topic")
	}
	kind := ThreadKind(parts[1])
	if kind != ThreadConversation && kind != ThreadRequest {
		return Thread{}, invalid("topic", "malformed thread topic")
	}
	return Thread{Kind: kind, Id: parts[2]}, nil
}

func (c *Client) sendError(topic string, err error) {
	frame, marshalErr := json.Marshal(Event{Topic: topic, Type: "error", Payload: err.Error()})
	if marshalErr != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// WritePump pumps messages from the Hub to the ws connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Add queued events to the current ws message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write(newline)
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
