package mq

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reserved header keys carrying Message fields. They never appear in Message.Headers.
const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"
	headerExpiration = "x-message-expiration-ms"
)

// KafkaConfig defines configuration for Kafka implementation.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	// Producer settings
	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	// Consumer settings
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	DialTimeout time.Duration
}

func (c *KafkaConfig) setDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 50 * time.Millisecond
	}
	if c.MinBytes == 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireOne
	}
}

var _ MessageQueue = (*KafkaQueue)(nil)

// KafkaQueue publishes job requests and results and consumes the request
// topic. One writer serves every topic.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu            sync.Mutex
	subscriptions []*kafkaSubscription
	started       bool
	closed        bool
}

// NewKafkaQueue creates a Kafka-backed message queue. No connection is made
// until the first publish or Start.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	cfg.setDefaults()

	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	transport := &kafka.Transport{
		ClientID: cfg.ClientID,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, address)
		},
	}
	return &KafkaQueue{
		config: cfg,
		dialer: dialer,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: cfg.RequiredAcks,
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			Compression:  cfg.Compression,
			Transport:    transport,
		},
	}, nil
}

// Publish writes message to topic. Messages keyed by the same id land on the
// same partition.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	switch {
	case message == nil:
		return errors.New("message is nil")
	case topic == "":
		return errors.New("topic is required")
	}
	return k.writer.WriteMessages(ctx, encodeMessage(topic, message))
}

// Ping dials the first broker.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close stops every subscription and flushes the writer. It is idempotent.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	_ = k.Stop()
	return k.writer.Close()
}

// encodeMessage stamps the timestamp when missing and moves Message fields into
// reserved headers. Zero retry counters are omitted.
func encodeMessage(topic string, m *Message) kafka.Message {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(m.Headers)+5)
	add := func(key, value string) {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	for key, value := range m.Headers {
		add(key, value)
	}
	if m.ID != "" {
		add(headerID, m.ID)
	}
	add(headerTimestamp, m.Timestamp.Format(time.RFC3339Nano))
	if m.RetryCount > 0 {
		add(headerRetryCount, strconv.Itoa(m.RetryCount))
	}
	if m.MaxRetries > 0 {
		add(headerMaxRetries, strconv.Itoa(m.MaxRetries))
	}
	if m.Expiration > 0 {
		add(headerExpiration, strconv.FormatInt(m.Expiration.Milliseconds(), 10))
	}
	return kafka.Message{Topic: topic, Key: []byte(m.ID), Value: m.Body, Headers: headers, Time: m.Timestamp}
}

// decodeMessage reverses encodeMessage. Malformed reserved headers are ignored,
// and the record key stands in for a missing id.
func decodeMessage(km kafka.Message) *Message {
	m := &Message{Body: km.Value, Headers: make(map[string]string), Timestamp: km.Time}
	for _, h := range km.Headers {
		value := string(h.Value)
		switch h.Key {
		case headerID:
			m.ID = value
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
				m.Timestamp = ts
			}
		case headerRetryCount:
			m.RetryCount = nonNegative(value)
		case headerMaxRetries:
			m.MaxRetries = nonNegative(value)
		case headerExpiration:
			m.Expiration = time.Duration(nonNegative(value)) * time.Millisecond
		default:
			m.Headers[h.Key] = value
		}
	}
	if m.ID == "" {
		m.ID = string(km.Key)
	}
	return m
}

func nonNegative(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
