package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"hyserial/internal/telemetry"
	"hyserial/internal/uring"
)

// EAGAIN is delivered to the error callback when a submission can't get an
// SQE because the ring is momentarily full — the strict variant of the
// SQE-exhaustion policy: callers are told, rather than having the write
// silently dropped.
const EAGAIN = -int(unix.EAGAIN)

// Config configures a new Engine.
type Config struct {
	QueueDepth int
	Logger     *slog.Logger
	Stats      *telemetry.Stats
	Recent     *telemetry.Recent
}

// Engine drives one file descriptor's reads and writes through a single
// io_uring ring: one worker goroutine runs the blocking completion wait and
// dispatches CQEs, while any number of callers may call Send or StartRead
// concurrently.
type Engine struct {
	ring   *uring.Ring
	logger *slog.Logger
	stats  *telemetry.Stats
	recent *telemetry.Recent

	queueDepth uint32
	arena      *requestArena
	pool       *bufferPool

	// submitMu guards SQE acquisition, arena/overflow mutation and the
	// actual ring submission as one critical section, matching the
	// original's single unified lock around io_uring and active_requests.
	submitMu sync.Mutex
	overflow map[uint64]requestRecord

	nextID atomic.Uint64
	fd     atomic.Int64

	running      atomic.Bool
	continueRead atomic.Bool
	readBuf      []byte

	readCB  callbackSlot[ReadCallback]
	writeCB callbackSlot[WriteCallback]
	errorCB callbackSlot[ErrorCallback]
}

// New creates an Engine with its own io_uring ring sized to queueDepth.
func New(cfg Config) (*Engine, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ring, err := uring.New(uring.Params{Entries: uint32(cfg.QueueDepth)})
	if err != nil {
		return nil, fmt.Errorf("engine: ring init: %w", err)
	}

	e := &Engine{
		ring:       ring,
		logger:     cfg.Logger,
		stats:      cfg.Stats,
		recent:     cfg.Recent,
		queueDepth: uint32(cfg.QueueDepth),
		arena:      newRequestArena(uint32(cfg.QueueDepth)),
		pool:       newBufferPool(cfg.QueueDepth*2, defaultBufferSize),
		overflow:   make(map[uint64]requestRecord),
	}
	e.nextID.Store(1)
	e.fd.Store(-1)
	return e, nil
}

// BindFD attaches the engine to fd. It only sets the fd; it does not begin
// reading until StartRead is called.
func (e *Engine) BindFD(fd int) {
	e.fd.Store(int64(fd))
}

// SetReadCallback installs cb, replacing whatever was previously installed.
// The swap is atomic: a completion already dispatching to the old callback
// runs it to completion undisturbed.
func (e *Engine) SetReadCallback(cb ReadCallback) { e.readCB.set(cb) }

// SetWriteCallback installs cb, replacing whatever was previously installed.
func (e *Engine) SetWriteCallback(cb WriteCallback) { e.writeCB.set(cb) }

// SetErrorCallback installs cb, replacing whatever was previously installed.
func (e *Engine) SetErrorCallback(cb ErrorCallback) { e.errorCB.set(cb) }

// StartRead binds the engine to fd (replacing any fd bound before),
// allocates a read buffer of bufSize bytes, and submits the first read.
func (e *Engine) StartRead(fd int, bufSize int) {
	if bufSize <= 0 {
		bufSize = 4096
	}
	e.fd.Store(int64(fd))
	e.readBuf = make([]byte, bufSize)
	e.continueRead.Store(true)
	e.submitRead()
}

// StopRead stops rearming reads after the currently in-flight read
// completes. At most one trailing completion after StopRead returns is
// expected: the read already submitted to the kernel is not cancelled.
func (e *Engine) StopRead() {
	e.continueRead.Store(false)
}

// Send copies data into a pooled buffer and submits an asynchronous write.
// The copy means the caller's slice may be reused immediately after Send
// returns.
func (e *Engine) Send(data []byte) {
	fd := int(e.fd.Load())
	if fd < 0 {
		return
	}

	buf := e.pool.acquire(data)
	id := e.nextID.Add(1)

	e.submitMu.Lock()
	sqe, ok := e.ring.GetSQE()
	if !ok {
		e.submitMu.Unlock()
		e.pool.release(buf)
		e.deliverError(EAGAIN)
		return
	}

	rec := requestRecord{id: id, fd: fd, isWrite: true, buf: buf, offset: 0}
	e.storeRecord(id, rec)

	e.ring.PrepWrite(sqe, fd, buf)
	e.ring.SetUserData(sqe, id)

	if _, err := e.ring.Submit(); err != nil {
		e.removeRecord(id)
		e.pool.release(buf)
		e.submitMu.Unlock()
		e.logger.Error("engine: submit send failed", "err", err)
		e.deliverError(EAGAIN)
		return
	}
	e.submitMu.Unlock()
}

// submitRead allocates the next request id and submits a read of the
// engine's read buffer. Called both from StartRead and from the worker
// loop when a read completion needs rearming.
func (e *Engine) submitRead() {
	fd := int(e.fd.Load())
	if fd < 0 {
		e.logger.Error("engine: submit_read called with no fd bound")
		return
	}

	id := e.nextID.Add(1)

	e.submitMu.Lock()
	sqe, ok := e.ring.GetSQE()
	if !ok {
		e.submitMu.Unlock()
		e.deliverError(EAGAIN)
		return
	}

	rec := requestRecord{id: id, fd: fd, isWrite: false}
	e.storeRecord(id, rec)

	e.ring.PrepRead(sqe, fd, e.readBuf)
	e.ring.SetUserData(sqe, id)

	if _, err := e.ring.Submit(); err != nil {
		e.removeRecord(id)
		e.submitMu.Unlock()
		e.logger.Error("engine: submit read failed", "err", err)
		return
	}
	e.submitMu.Unlock()
}

// storeRecord must be called with submitMu held. It tries the arena first
// and falls back to the overflow map on collision, logging the fallback so
// arena pressure is observable without being treated as an error.
func (e *Engine) storeRecord(id uint64, rec requestRecord) {
	if !e.arena.occupied[id%uint64(e.arena.queueDepth)].Load() {
		e.arena.insert(id, rec)
		return
	}
	e.logger.Warn("engine: request arena collision, using overflow map", "id", id)
	e.overflow[id] = rec
}

// lookupRecord must be called with submitMu held.
func (e *Engine) lookupRecord(id uint64) (requestRecord, bool) {
	if rec, ok := e.arena.find(id); ok {
		return rec, true
	}
	if rec, ok := e.overflow[id]; ok {
		return rec, true
	}
	return requestRecord{}, false
}

// updateRecord must be called with submitMu held.
func (e *Engine) updateRecord(id uint64, rec requestRecord) {
	if _, ok := e.arena.find(id); ok {
		e.arena.update(id, rec)
		return
	}
	if _, ok := e.overflow[id]; ok {
		e.overflow[id] = rec
	}
}

// removeRecord must be called with submitMu held.
func (e *Engine) removeRecord(id uint64) {
	if _, ok := e.arena.find(id); ok {
		e.arena.erase(id)
		return
	}
	if _, ok := e.overflow[id]; ok {
		delete(e.overflow, id)
		e.logger.Warn("engine: overflow map drained an entry", "id", id)
	}
}

// Run drives the completion loop until Stop is called. It blocks the
// calling goroutine — callers run it in its own goroutine.
func (e *Engine) Run() {
	e.running.Store(true)

	for e.running.Load() {
		if _, err := e.ring.SubmitAndWait(1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			e.logger.Error("engine: submit_and_wait failed", "err", err)
			continue
		}

		needRearmRead := false
		count := e.ring.ForEachCQE(func(cqe uring.CQE) {
			if cqe.UserData == 0 {
				return
			}
			if e.dispatch(cqe.UserData, int(cqe.Res)) {
				needRearmRead = true
			}
		})
		e.ring.CQAdvance(count)

		if needRearmRead {
			e.submitRead()
		}
	}
}

// dispatch handles one CQE and reports whether a read rearm is needed.
func (e *Engine) dispatch(id uint64, res int) bool {
	e.submitMu.Lock()
	rec, found := e.lookupRecord(id)
	e.submitMu.Unlock()
	if !found {
		return false
	}

	if !rec.isWrite {
		return e.dispatchRead(id, rec, res)
	}
	e.dispatchWrite(id, rec, res)
	return false
}

func (e *Engine) dispatchRead(id uint64, rec requestRecord, res int) bool {
	if res < 0 {
		e.deliverErrorOrLog("Read", res)
		e.submitMu.Lock()
		e.removeRecord(id)
		e.submitMu.Unlock()
		return false
	}

	if cb, ok := e.readCB.get(); ok {
		cb(e.readBuf[:res])
	}
	if e.stats != nil {
		e.stats.RecordReceive(uint64(res))
	}
	e.recordEvent(telemetry.Event{Kind: "read", Bytes: res, Timestamp: time.Now()})

	e.submitMu.Lock()
	e.removeRecord(id)
	e.submitMu.Unlock()

	return e.continueRead.Load()
}

func (e *Engine) dispatchWrite(id uint64, rec requestRecord, res int) {
	if res == -int(unix.EINTR) {
		e.retryWrite(id, rec)
		return
	}

	if res < 0 {
		e.deliverErrorOrLog("Write", res)
		e.submitMu.Lock()
		e.removeRecord(id)
		e.submitMu.Unlock()
		e.pool.release(rec.buf)
		return
	}

	newOffset := rec.offset + res
	if newOffset < len(rec.buf) {
		e.resubmitPartialWrite(id, rec, newOffset)
		return
	}

	if cb, ok := e.writeCB.get(); ok {
		cb(newOffset)
	}
	if e.stats != nil {
		e.stats.RecordSend(uint64(newOffset))
	}
	e.recordEvent(telemetry.Event{Kind: "write", Bytes: newOffset, Timestamp: time.Now()})

	e.submitMu.Lock()
	e.removeRecord(id)
	e.submitMu.Unlock()
	e.pool.release(rec.buf)
}

// retryWrite resubmits the same offset after an -EINTR completion.
func (e *Engine) retryWrite(id uint64, rec requestRecord) {
	e.submitMu.Lock()
	sqe, ok := e.ring.GetSQE()
	if !ok {
		e.submitMu.Unlock()
		e.deliverError(-int(unix.EINTR))
		e.submitMu.Lock()
		e.removeRecord(id)
		e.submitMu.Unlock()
		e.pool.release(rec.buf)
		return
	}

	remaining := rec.buf[rec.offset:]
	e.ring.PrepWrite(sqe, rec.fd, remaining)
	e.ring.SetUserData(sqe, id)

	if _, err := e.ring.Submit(); err != nil {
		e.submitMu.Unlock()
		e.logger.Error("engine: retry write submit failed", "err", err)
		e.deliverError(EAGAIN)
		e.submitMu.Lock()
		e.removeRecord(id)
		e.submitMu.Unlock()
		e.pool.release(rec.buf)
		return
	}
	e.submitMu.Unlock()
}

// resubmitPartialWrite continues a write of rec.buf from newOffset.
func (e *Engine) resubmitPartialWrite(id uint64, rec requestRecord, newOffset int) {
	e.submitMu.Lock()
	sqe, ok := e.ring.GetSQE()
	if !ok {
		e.submitMu.Unlock()
		e.deliverError(EAGAIN)
		e.submitMu.Lock()
		e.removeRecord(id)
		e.submitMu.Unlock()
		e.pool.release(rec.buf)
		return
	}

	remaining := rec.buf[newOffset:]
	e.ring.PrepWrite(sqe, rec.fd, remaining)
	e.ring.SetUserData(sqe, id)

	if _, err := e.ring.Submit(); err != nil {
		e.submitMu.Unlock()
		e.logger.Error("engine: resubmit partial write failed", "err", err)
		e.deliverError(EAGAIN)
		e.submitMu.Lock()
		e.removeRecord(id)
		e.submitMu.Unlock()
		e.pool.release(rec.buf)
		return
	}

	rec.offset = newOffset
	e.updateRecord(id, rec)
	e.submitMu.Unlock()
}

// deliverError sends errno to the error callback if one is installed.
func (e *Engine) deliverError(errno int) {
	e.recordEvent(telemetry.Event{Kind: "error", Errno: errno, Timestamp: time.Now()})
	if cb, ok := e.errorCB.get(); ok {
		cb(errno)
	}
}

// deliverErrorOrLog delivers errno to the error callback, or logs a fatal
// line if no callback is installed — the completion must not be silently
// dropped either way.
func (e *Engine) deliverErrorOrLog(op string, errno int) {
	e.recordEvent(telemetry.Event{Kind: "error", Errno: errno, Timestamp: time.Now()})
	if cb, ok := e.errorCB.get(); ok {
		cb(errno)
		return
	}
	e.logger.Error("engine: unhandled completion error", "op", op, "errno", errno)
}

// recordEvent appends ev to the recent-events ring, if one was configured.
func (e *Engine) recordEvent(ev telemetry.Event) {
	if e.recent != nil {
		e.recent.Push(ev)
	}
}

// Stop requests the completion loop to exit. It wakes the worker out of its
// blocking wait with a nop SQE and returns immediately; callers should wait
// on their own goroutine.Wait mechanism for Run to actually return.
func (e *Engine) Stop() {
	e.running.Store(false)
	e.submitMu.Lock()
	defer e.submitMu.Unlock()
	sqe, ok := e.ring.GetSQE()
	if !ok {
		return
	}
	e.ring.PrepNop(sqe)
	e.ring.SetUserData(sqe, 0)
	if _, err := e.ring.Submit(); err != nil {
		e.logger.Error("engine: stop nop submit failed", "err", err)
	}
}

// Close tears down the ring. Callers must ensure Run has returned first.
func (e *Engine) Close() error {
	e.arena.clear()
	return e.ring.Close()
}
