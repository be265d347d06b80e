package engine

import (
	"bytes"
	"testing"
)

func TestLimitedBufferKeepsPrefix(t *testing.T) {
	buf := newLimitedBuffer(8)
	for _, chunk := range []string{"hello", " world", "!"} {
		n, err := buf.Write([]byte(chunk))
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		if n != len(chunk) {
			t.Fatalf("expected full write of %d bytes, got %d", len(chunk), n)
		}
	}
	if got := string(buf.Bytes()); got != "hello wo" {
		t.Fatalf("unexpected content: %q", got)
	}
	if !buf.Truncated() {
		t.Fatalf("expected truncated flag")
	}
}

func TestLimitedBufferExactFit(t *testing.T) {
	buf := newLimitedBuffer(5)
	_, _ = buf.Write([]byte("hello"))
	if buf.Truncated() {
		t.Fatalf("exact fit must not be truncated")
	}
	_, _ = buf.Write(nil)
	if buf.Truncated() {
		t.Fatalf("empty write must not truncate")
	}
}

func TestLimitedBufferUnlimited(t *testing.T) {
	buf := newLimitedBuffer(0)
	payload := bytes.Repeat([]byte("x"), 4096)
	_, _ = buf.Write(payload)
	if len(buf.Bytes()) != len(payload) || buf.Truncated() {
		t.Fatalf("unlimited buffer dropped data")
	}
}
