package mq

import (
	"context"
	"time"
)

// MessageQueue is a broker connection that both publishes and consumes.
type MessageQueue interface {
	Producer
	Consumer

	Ping(ctx context.Context) error
	Close() error
}

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer delivers messages from subscribed topics to handlers.
type Consumer interface {
	// Subscribe registers handler for topic. Messages are fetched only while
	// limiter hands out tokens; a nil limiter allows opts.Concurrency in flight.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions, limiter FetchLimiter) error
	Start() error
	Stop() error
}

// FetchLimiter gates how many fetched messages may be in flight.
type FetchLimiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// Message is one queued payload with its delivery metadata.
type Message struct {
	ID        string            `json:"id"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`

	// RetryCount is the number of failed handler attempts so far. MaxRetries
	// caps it; zero leaves the cap to the subscription.
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Expiration drops the message once it is older than this. Zero leaves
	// it to the subscription.
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc processes one message. A non-nil error schedules a retry.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions configures one subscription.
type SubscribeOptions struct {
	ConsumerGroup string

	// Concurrency bounds in-flight messages when no limiter is given. Default 1.
	Concurrency int

	// MaxRetries is the retry budget for messages that carry none. Default 3.
	MaxRetries int

	// RetryDelay separates handler attempts. Default 1s.
	RetryDelay time.Duration

	// DeadLetterTopic receives messages whose retries ran out. Empty drops them.
	DeadLetterTopic string

	// MessageTTL drops messages older than this without handling them.
	MessageTTL time.Duration
}

// SetDefaults fills zero fields with their defaults.
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// apply gives m the subscription's retry budget and TTL where m carries none.
func (o SubscribeOptions) apply(m *Message) {
	if m.MaxRetries == 0 {
		m.MaxRetries = o.MaxRetries
	}
	if m.Expiration == 0 && o.MessageTTL > 0 {
		m.Expiration = o.MessageTTL
	}
}

// NewMessage creates a message stamped with the current time. Retry budget and
// expiration are left to the consuming subscription.
func NewMessage(body []byte) *Message {
	return &Message{Body: body, Headers: make(map[string]string), Timestamp: time.Now()}
}

// SetHeader sets a header value.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader returns a header value.
func (m *Message) GetHeader(key string) (string, bool) {
	val, ok := m.Headers[key]
	return val, ok
}
