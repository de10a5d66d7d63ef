package engine

import "sync/atomic"

// defaultBufferSize is the capacity each pooled write buffer starts with.
const defaultBufferSize = 8192

// bufferPool is a fixed set of reusable write buffers so steady-state sends
// don't allocate. acquire falls back to a fresh allocation once every slot
// is checked out or the pool was sized to zero.
type bufferPool struct {
	bufferSize int
	buffers    [][]byte
	available  []atomic.Bool
}

func newBufferPool(poolSize, bufferSize int) *bufferPool {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	p := &bufferPool{
		bufferSize: bufferSize,
		buffers:    make([][]byte, poolSize),
		available:  make([]atomic.Bool, poolSize),
	}
	for i := range p.buffers {
		p.buffers[i] = make([]byte, 0, bufferSize)
		p.available[i].Store(true)
	}
	return p
}

// acquire claims a free buffer with at least needed capacity, copies data
// into it, and returns it. If the pool is exhausted or sized to zero it
// allocates a fresh buffer instead.
func (p *bufferPool) acquire(data []byte) []byte {
	for i := range p.buffers {
		if p.available[i].CompareAndSwap(true, false) {
			buf := p.buffers[i]
			if cap(buf) < len(data) {
				buf = make([]byte, 0, len(data))
				p.buffers[i] = buf
			}
			buf = buf[:0]
			buf = append(buf, data...)
			p.buffers[i] = buf
			return buf
		}
	}
	fresh := make([]byte, len(data))
	copy(fresh, data)
	return fresh
}

// release returns buf to the pool if it is one of the pool's own backing
// arrays (identity, not value, comparison — matches the shared_ptr identity
// check the original does). Buffers obtained via the fallback allocation
// path are simply dropped for the GC to collect.
func (p *bufferPool) release(buf []byte) {
	for i := range p.buffers {
		if sameBacking(p.buffers[i], buf) {
			p.available[i].Store(true)
			return
		}
	}
}

// sameBacking reports whether a and b share the same underlying array,
// which is the only identity a Go slice header can offer.
func sameBacking(a, b []byte) bool {
	if cap(a) == 0 || cap(b) == 0 {
		return false
	}
	return &a[:1][0] == &b[:1][0]
}
