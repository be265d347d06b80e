package service

import (
	"context"
	"sync"
	"testing"

	"coderunner/internal/common/cache"
	"coderunner/internal/common/mq"
	"coderunner/internal/sandbox/result"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	res     result.ExecutionResult
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, src []byte) (result.ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.res, f.err
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type publishedMessage struct {
	topic string
	msg   *mq.Message
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{topic: topic, msg: message})
	return nil
}

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func successRecord() result.ExecutionResult {
	return result.ExecutionResult{Stdout: "hi\n", ExecutionTime: "0.010s", Status: result.StatusSuccess}
}
