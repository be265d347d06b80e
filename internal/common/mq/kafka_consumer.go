package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coderunner/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const fetchBackoff = 100 * time.Millisecond

type kafkaSubscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context
	limiter FetchLimiter

	reader *kafka.Reader
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Subscribe registers handler for topic. Consumption begins at Start, or at
// once when the queue is already started.
func (k *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions, limiter FetchLimiter) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	sub := &kafkaSubscription{topic: topic, handler: handler, baseCtx: ctx, limiter: limiter}
	if opts != nil {
		sub.opts = *opts
	}
	sub.opts.SetDefaults()
	if sub.opts.ConsumerGroup == "" {
		sub.opts.ConsumerGroup = fmt.Sprintf("coderunner-%s", topic)
	}
	if sub.limiter == nil {
		sub.limiter = NewTokenLimiter(sub.opts.Concurrency)
	}
	if sub.baseCtx == nil {
		sub.baseCtx = context.Background()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.subscriptions = append(k.subscriptions, sub)
	if k.started {
		k.run(sub)
	}
	return nil
}

// Start begins consuming every registered subscription.
func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if !k.started {
		for _, sub := range k.subscriptions {
			k.run(sub)
		}
		k.started = true
	}
	return nil
}

// Stop cancels every subscription and waits for in-flight handlers.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subscriptions {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range k.subscriptions {
		sub.wg.Wait()
		if sub.reader != nil {
			_ = sub.reader.Close()
		}
	}
	k.started = false
	return nil
}

// run fetches only while the limiter hands out tokens, so at most as many
// messages are in flight as the limiter allows.
func (k *KafkaQueue) run(sub *kafkaSubscription) {
	sub.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       sub.topic,
		GroupID:     sub.opts.ConsumerGroup,
		Dialer:      k.dialer,
		MinBytes:    k.config.MinBytes,
		MaxBytes:    k.config.MaxBytes,
		MaxWait:     k.config.MaxWait,
		StartOffset: kafka.LastOffset,
	})
	sub.ctx, sub.cancel = context.WithCancel(sub.baseCtx)

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for sub.limiter.Acquire(sub.ctx) == nil {
			km, err := sub.reader.FetchMessage(sub.ctx)
			if err != nil {
				sub.limiter.Release()
				if sub.ctx.Err() != nil {
					return
				}
				logger.Warn(sub.ctx, "kafka fetch failed", zap.String("topic", sub.topic), zap.Error(err))
				_ = sleepCtx(sub.ctx, fetchBackoff)
				continue
			}
			sub.wg.Add(1)
			go func() {
				defer sub.wg.Done()
				defer sub.limiter.Release()
				k.consume(sub, km)
			}()
		}
	}()
}

// consume hands one fetched record to the subscription handler and commits it
// whatever the outcome. Records that exhaust their retries go to the dead
// letter topic when one is configured.
func (k *KafkaQueue) consume(sub *kafkaSubscription, km kafka.Message) {
	m := decodeMessage(km)
	sub.opts.apply(m)
	defer func() { _ = sub.reader.CommitMessages(sub.ctx, km) }()

	if expired(m, time.Now()) {
		logger.Warn(sub.ctx, "dropping expired message", zap.String("topic", sub.topic), zap.String("message_id", m.ID))
		return
	}
	err := deliver(sub.ctx, sub.handler, m, sub.opts.RetryDelay)
	if err == nil {
		return
	}
	logger.Error(sub.ctx, "message handling failed",
		zap.String("topic", sub.topic),
		zap.String("message_id", m.ID),
		zap.Int("attempts", m.RetryCount),
		zap.Error(err),
	)
	if sub.opts.DeadLetterTopic == "" {
		return
	}
	if err := k.Publish(sub.ctx, sub.opts.DeadLetterTopic, m); err != nil {
		logger.Error(sub.ctx, "dead letter publish failed", zap.String("topic", sub.opts.DeadLetterTopic), zap.String("message_id", m.ID), zap.Error(err))
	}
}

// deliver calls handler until it succeeds, m.MaxRetries retries are spent, or
// ctx ends. The handler sees the number of failed attempts so far in
// m.RetryCount, so the final attempt has RetryCount == MaxRetries.
func deliver(ctx context.Context, handler HandlerFunc, m *Message, delay time.Duration) error {
	for {
		err := handler(ctx, m)
		if err == nil {
			return nil
		}
		last := m.RetryCount >= m.MaxRetries
		m.RetryCount++
		if last || sleepCtx(ctx, delay) != nil {
			return err
		}
	}
}

func expired(m *Message, now time.Time) bool {
	if m.Expiration <= 0 || m.Timestamp.IsZero() {
		return false
	}
	return now.Sub(m.Timestamp) > m.Expiration
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
