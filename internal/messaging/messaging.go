// Package messaging defines the broker abstractions used by devicebridge.
// Components depend on these interfaces; the nats subpackage implements them.
package messaging

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoResponders is returned by Request when nothing listens on the subject.
	ErrNoResponders = errors.New("messaging: no responders")
	// ErrTimeout is returned by Request when no reply arrived in time.
	ErrTimeout = errors.New("messaging: request timed out")
)

// Message is a message received from or sent to the broker.
type Message struct {
	Subject string
	Data    []byte
	// Reply is set for request/reply exchanges.
	Reply string
	// Header holds single-valued message headers.
	Header map[string]string
	// Timestamp is when the message was received locally.
	Timestamp time.Time
}

// HeaderValue returns the header named key, or "".
func (m *Message) HeaderValue(key string) string {
	if m == nil || m.Header == nil {
		return ""
	}
	return m.Header[key]
}

// MessageHandler processes a received message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription represents an active subscription to a subject.
type Subscription interface {
	Unsubscribe() error
	Subject() string
	IsValid() bool
}

// Publisher publishes messages and performs request/reply exchanges.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishMsg(ctx context.Context, msg *Message) error
	// Request sends msg and waits up to timeout for a single reply.
	Request(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error)
	Close() error
}

// Subscriber subscribes to subjects.
type Subscriber interface {
	Subscribe(subject string, handler MessageHandler) (Subscription, error)
	// QueueSubscribe load-balances messages across members of queue.
	QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error)
	Close() error
}

// Client combines Publisher and Subscriber.
type Client interface {
	Publisher
	Subscriber
	Drain() error
	IsConnected() bool
}
