// Package engine implements the completion-queue-driven serial I/O engine:
// the request arena, buffer pool, callback handles and the worker loop that
// ties them to a raw io_uring ring.
package engine

import "sync/atomic"

// requestRecord tracks one in-flight read or write submitted against the
// ring, keyed by the id stamped into the SQE's user_data field.
type requestRecord struct {
	id      uint64
	fd      int
	isWrite bool
	buf     []byte
	offset  int
}

// requestArena gives O(1) expected-case lookup of in-flight requests by
// slotting id % queueDepth into a fixed table. A slot can only ever describe
// one id at a time; a second id landing on an occupied slot is a collision
// and is the caller's job to route to the overflow map instead.
type requestArena struct {
	queueDepth uint32
	records    []requestRecord
	occupied   []atomic.Bool
}

func newRequestArena(queueDepth uint32) *requestArena {
	a := &requestArena{
		queueDepth: queueDepth,
		records:    make([]requestRecord, queueDepth),
		occupied:   make([]atomic.Bool, queueDepth),
	}
	return a
}

// insert stores rec at its slot. Callers must have already confirmed that
// the slot is free; insert does not check for collisions.
func (a *requestArena) insert(id uint64, rec requestRecord) {
	if a.queueDepth == 0 {
		return
	}
	idx := id % uint64(a.queueDepth)
	a.records[idx] = rec
	a.occupied[idx].Store(true)
}

// find returns the record for id and true, or a zero record and false if
// the slot is empty or occupied by a different id (a collision — the
// caller falls back to the overflow map for that id).
func (a *requestArena) find(id uint64) (requestRecord, bool) {
	if a.queueDepth == 0 {
		return requestRecord{}, false
	}
	idx := id % uint64(a.queueDepth)
	if !a.occupied[idx].Load() {
		return requestRecord{}, false
	}
	rec := a.records[idx]
	if rec.id != id {
		return requestRecord{}, false
	}
	return rec, true
}

// update overwrites the record stored at id's slot, used for the
// partial-write offset bump. It is a no-op if the slot no longer holds id.
func (a *requestArena) update(id uint64, rec requestRecord) {
	if a.queueDepth == 0 {
		return
	}
	idx := id % uint64(a.queueDepth)
	if a.occupied[idx].Load() && a.records[idx].id == id {
		a.records[idx] = rec
	}
}

// erase frees id's slot regardless of what's currently in it; the caller is
// expected to have already confirmed identity via find.
func (a *requestArena) erase(id uint64) {
	if a.queueDepth == 0 {
		return
	}
	idx := id % uint64(a.queueDepth)
	a.occupied[idx].Store(false)
}

// clear empties every slot, used during shutdown.
func (a *requestArena) clear() {
	for i := range a.occupied {
		a.occupied[i].Store(false)
	}
}
