package mq

import "context"

// TokenLimiter is a counting semaphore. The execute service gates concurrent
// runs with one, and the Kafka consumer uses one to bound fetched messages.
type TokenLimiter struct {
	tokens chan struct{}
}

// NewTokenLimiter creates a limiter holding size tokens, at least one.
func NewTokenLimiter(size int) *TokenLimiter {
	if size <= 0 {
		size = 1
	}
	tokens := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		tokens <- struct{}{}
	}
	return &TokenLimiter{tokens: tokens}
}

// Acquire takes a token, blocking until one is free or ctx ends.
func (l *TokenLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.tokens:
		return nil
	}
}

// Release returns a token. Releasing more than was acquired never grows capacity.
func (l *TokenLimiter) Release() {
	select {
	case l.tokens <- struct{}{}:
	default:
	}
}
