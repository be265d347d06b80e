package engine

import (
	"bytes"
	"sync"
)

// limitedBuffer keeps at most limit bytes and silently drops the rest so a
// chatty program can neither block on a full pipe nor exhaust host memory.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func newLimitedBuffer(limit int64) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

// Write always reports the full length as written.
func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if b.limit <= 0 {
		b.buf.Write(p)
		return n, nil
	}
	remaining := b.limit - int64(b.buf.Len())
	if remaining <= 0 {
		if n > 0 {
			b.truncated = true
		}
		return n, nil
	}
	if int64(n) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return n, nil
	}
	b.buf.Write(p)
	return n, nil
}

func (b *limitedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
