package engine

import (
	"bytes"
	"testing"
)

func TestBufferPoolAcquireCopiesData(t *testing.T) {
	p := newBufferPool(2, 16)
	buf := p.acquire([]byte("hello"))
	if !bytes.Equal(buf, []byte("hello")) {
		t.Fatalf("acquire returned %q, want %q", buf, "hello")
	}
}

func TestBufferPoolReleaseThenReacquireReusesBacking(t *testing.T) {
	p := newBufferPool(1, 16)
	buf := p.acquire([]byte("first"))
	p.release(buf)

	next := p.acquire([]byte("second"))
	if !sameBacking(buf, next) {
		t.Fatalf("expected the sole pool slot to be reused")
	}
	if !bytes.Equal(next, []byte("second")) {
		t.Fatalf("acquire returned %q, want %q", next, "second")
	}
}

func TestBufferPoolExhaustionFallsBackToFreshAllocation(t *testing.T) {
	p := newBufferPool(1, 16)
	first := p.acquire([]byte("aaa"))
	second := p.acquire([]byte("bbb"))

	if sameBacking(first, second) {
		t.Fatalf("expected a fresh allocation once the pool was exhausted")
	}

	// releasing the fallback buffer must not panic or corrupt the pool.
	p.release(second)
	third := p.acquire([]byte("ccc"))
	if sameBacking(second, third) {
		t.Fatalf("a fallback-allocated buffer must not be tracked by the pool")
	}
}

func TestBufferPoolAcquireGrowsUndersizedBuffer(t *testing.T) {
	p := newBufferPool(1, 4)
	buf := p.acquire([]byte("this is longer than four bytes"))
	if !bytes.Equal(buf, []byte("this is longer than four bytes")) {
		t.Fatalf("acquire truncated data: got %q", buf)
	}
}

func TestBufferPoolZeroSized(t *testing.T) {
	p := newBufferPool(0, 16)
	buf := p.acquire([]byte("x"))
	p.release(buf) // must not panic on a pool with no slots
}
