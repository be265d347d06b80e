package mq

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKafkaMessageCodec(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	in := &Message{
		ID:         "job-1",
		Body:       []byte(`{"id":"job-1","code":"int main(){}"}`),
		Headers:    map[string]string{"trace_id": "abc"},
		Timestamp:  ts,
		RetryCount: 1,
		MaxRetries: 5,
		Expiration: 90 * time.Second,
	}

	km := encodeMessage("runner.requests", in)
	if km.Topic != "runner.requests" || string(km.Key) != "job-1" {
		t.Fatalf("unexpected kafka message: %+v", km)
	}

	out := decodeMessage(km)
	if out.ID != in.ID || string(out.Body) != string(in.Body) {
		t.Fatalf("unexpected decoded message: %+v", out)
	}
	if !out.Timestamp.Equal(ts) {
		t.Fatalf("timestamp mismatch: %s", out.Timestamp)
	}
	if out.RetryCount != 1 || out.MaxRetries != 5 || out.Expiration != 90*time.Second {
		t.Fatalf("retry metadata mismatch: %+v", out)
	}
	if v, ok := out.GetHeader("trace_id"); !ok || v != "abc" {
		t.Fatalf("custom header lost: %v", out.Headers)
	}
	if _, ok := out.GetHeader(headerID); ok {
		t.Fatalf("reserved headers must not leak into Headers")
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		msg  Message
		want bool
	}{
		{name: "no ttl", msg: Message{Timestamp: now.Add(-time.Hour)}, want: false},
		{name: "fresh", msg: Message{Timestamp: now.Add(-time.Second), Expiration: time.Minute}, want: false},
		{name: "stale", msg: Message{Timestamp: now.Add(-2 * time.Minute), Expiration: time.Minute}, want: true},
		{name: "no timestamp", msg: Message{Expiration: time.Minute}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := expired(&tc.msg, now); got != tc.want {
				t.Fatalf("expired() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTokenLimiter(t *testing.T) {
	l := NewTokenLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatalf("expected second acquire to block until timeout")
	}

	l.Release()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	// Extra releases never grow capacity.
	l.Release()
	l.Release()
	if len(l.tokens) != 1 {
		t.Fatalf("expected capacity 1, got %d tokens", len(l.tokens))
	}
}

func TestNewKafkaQueueRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestDeliver(t *testing.T) {
	errBusy := errors.New("busy")
	cases := []struct {
		name         string
		failures     int
		maxRetries   int
		startRetry   int
		wantErr      bool
		wantAttempts int
		wantLastSeen int
	}{
		{name: "first attempt succeeds", failures: 0, maxRetries: 1, wantAttempts: 1, wantLastSeen: 0},
		{name: "retry succeeds", failures: 1, maxRetries: 1, wantAttempts: 2, wantLastSeen: 1},
		{name: "budget of one retry", failures: 5, maxRetries: 1, wantErr: true, wantAttempts: 2, wantLastSeen: 1},
		{name: "no retries", failures: 5, maxRetries: 0, wantErr: true, wantAttempts: 1, wantLastSeen: 0},
		{name: "redelivered message keeps its count", failures: 5, maxRetries: 3, startRetry: 2, wantErr: true, wantAttempts: 2, wantLastSeen: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			attempts, lastSeen := 0, -1
			handler := func(ctx context.Context, m *Message) error {
				attempts++
				lastSeen = m.RetryCount
				if attempts <= tc.failures {
					return errBusy
				}
				return nil
			}
			m := &Message{MaxRetries: tc.maxRetries, RetryCount: tc.startRetry}
			err := deliver(context.Background(), handler, m, 0)
			if (err != nil) != tc.wantErr {
				t.Fatalf("deliver() error = %v, wantErr %v", err, tc.wantErr)
			}
			if attempts != tc.wantAttempts {
				t.Fatalf("expected %d attempts, got %d", tc.wantAttempts, attempts)
			}
			if lastSeen != tc.wantLastSeen {
				t.Fatalf("final attempt saw RetryCount %d, want %d", lastSeen, tc.wantLastSeen)
			}
		})
	}
}

func TestDeliverStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	handler := func(ctx context.Context, m *Message) error {
		attempts++
		cancel()
		return errors.New("busy")
	}
	if err := deliver(ctx, handler, &Message{MaxRetries: 10}, time.Hour); err == nil {
		t.Fatalf("expected the handler error")
	}
	if attempts != 1 {
		t.Fatalf("expected delivery to stop after cancel, got %d attempts", attempts)
	}
}

func TestSubscribeOptionsApply(t *testing.T) {
	opts := SubscribeOptions{MaxRetries: 1, MessageTTL: time.Minute}
	opts.SetDefaults()

	fresh := NewMessage([]byte("x"))
	opts.apply(fresh)
	if fresh.MaxRetries != 1 || fresh.Expiration != time.Minute {
		t.Fatalf("subscription budget must apply to a new message: %+v", fresh)
	}

	explicit := &Message{MaxRetries: 5, Expiration: time.Second}
	opts.apply(explicit)
	if explicit.MaxRetries != 5 || explicit.Expiration != time.Second {
		t.Fatalf("message values must be kept: %+v", explicit)
	}
}
