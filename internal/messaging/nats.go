// Package messaging provides a NATS client wrapper for the relay's outbound
// event feed. The chat server publishes posted room messages to per-room
// subjects; side-car services (the moderator) subscribe to the feed without
// touching relay state.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	// SubjectRoomPrefix + <room_id> carries RoomMessageEvent payloads for a
	// single room.
	SubjectRoomPrefix = "chat.room."

	// SubjectRoomWildcard matches the event feed of every room.
	SubjectRoomWildcard = "chat.room.>"
)

// RoomMessageEvent is the payload published for every message posted to a
// room. It is a flattened excerpt, not the wire Message: consumers only need
// enough to attribute and inspect the content.
type RoomMessageEvent struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"`
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "parley",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats: disconnected: %v", err)
			} else {
				log.Printf("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("nats: connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("nats: connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishRoomMessage publishes data to the chat.room.<roomID> subject.
func (c *NATSClient) PublishRoomMessage(roomID string, data []byte) error {
	return c.Publish(SubjectRoomPrefix + roomID, data)
}

// SubscribeRoomFeed subscribes to the event feed of every room and passes the
// raw payload of each event to the handler.
func (c *NATSClient) SubscribeRoomFeed(handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(SubjectRoomWildcard, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectRoomWildcard, err)
	}

	c.mu.Lock()
	c.subs[SubjectRoomWildcard] = sub
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes the subscription for a subject, if any.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if ok {
		delete(c.subs, subject)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// Close drains all subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	for subject, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, subject)
	}
	c.mu.Unlock()

	c.conn.Close()
}
