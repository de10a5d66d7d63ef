//go:build linux

package uring

import (
	"fmt"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	offSQRing = 0
	offCQRing = 0x8000000
	offSQEs   = 0x10000000

	enterGetEvents = 1 << 0

	featSingleMmap = 1 << 0
)

type sqOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	UserAddr    uint64
}

type cqOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	CQEs        uint32
	Flags       uint32
	Resv1       uint32
	UserAddr    uint64
}

type kernelParams struct {
	SQEntries    uint32
	CQEntries    uint32
	Flags        uint32
	SQThreadCPU  uint32
	SQThreadIdle uint32
	Features     uint32
	WQFd         uint32
	Resv         [3]uint32
	SQOff        sqOffsets
	CQOff        cqOffsets
}

// sqe is the 64-byte struct io_uring_sqe layout, big enough for the read,
// write and nop opcodes this package prepares.
type sqe struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpcodeFlags uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Addr3       uint64
	_pad        uint64
}

// cqe is the 16-byte struct io_uring_cqe layout.
type cqe struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// Ring is one io_uring instance bound to a single submitter+worker pair, the
// shape the engine needs: get_sqe, prep_*, submit, submit_and_wait, and CQE
// iteration keyed by user_data.
type Ring struct {
	fd int

	sqMem   []byte
	cqMem   []byte
	sqesMem []byte

	entries uint32
	sqMask  uint32
	cqMask  uint32

	sqHead  *uint32
	sqTail  *uint32
	sqArray unsafe.Pointer

	cqHead *uint32
	cqTail *uint32
	cqes   unsafe.Pointer

	sqes unsafe.Pointer

	// localTail is the next sqe slot handed out by GetSQE; it runs ahead of
	// the kernel-visible *sqTail until Submit/SubmitAndWait flushes it.
	localTail uint32
	// flushed is the last value written into the kernel-visible *sqTail.
	flushed uint32
}

// New sets up a ring with the requested submission/completion queue depth.
func New(p Params) (*Ring, error) {
	var kp kernelParams
	fd, _, errno := syscall.RawSyscall(unix.SYS_IO_URING_SETUP, uintptr(p.Entries), uintptr(unsafe.Pointer(&kp)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("uring: io_uring_setup: %w", errno)
	}

	r := &Ring{fd: int(fd), entries: kp.SQEntries}
	if err := r.mmapRings(&kp); err != nil {
		unix.Close(r.fd)
		return nil, err
	}
	return r, nil
}

func (r *Ring) mmapRings(p *kernelParams) error {
	sqRingSize := p.SQOff.Array + p.SQEntries*4
	sqMem, err := syscall.Mmap(r.fd, offSQRing, int(sqRingSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED|syscall.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("uring: mmap sq ring: %w", err)
	}
	r.sqMem = sqMem

	if p.Features&featSingleMmap != 0 {
		r.cqMem = sqMem
	} else {
		cqRingSize := p.CQOff.CQEs + p.CQEntries*uint32(unsafe.Sizeof(cqe{}))
		cqMem, err := syscall.Mmap(r.fd, offCQRing, int(cqRingSize),
			syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED|syscall.MAP_POPULATE)
		if err != nil {
			syscall.Munmap(sqMem)
			return fmt.Errorf("uring: mmap cq ring: %w", err)
		}
		r.cqMem = cqMem
	}

	sqeSize := p.SQEntries * uint32(unsafe.Sizeof(sqe{}))
	sqesMem, err := syscall.Mmap(r.fd, offSQEs, int(sqeSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED|syscall.MAP_POPULATE)
	if err != nil {
		if r.cqMem != nil && len(r.cqMem) > 0 && len(r.sqMem) > 0 && &r.cqMem[0] != &r.sqMem[0] {
			syscall.Munmap(r.cqMem)
		}
		syscall.Munmap(sqMem)
		return fmt.Errorf("uring: mmap sqes: %w", err)
	}
	r.sqesMem = sqesMem

	sqBase := unsafe.Pointer(&sqMem[0])
	r.sqHead = (*uint32)(unsafe.Add(sqBase, p.SQOff.Head))
	r.sqTail = (*uint32)(unsafe.Add(sqBase, p.SQOff.Tail))
	r.sqMask = *(*uint32)(unsafe.Add(sqBase, p.SQOff.RingMask))
	r.sqArray = unsafe.Add(sqBase, p.SQOff.Array)

	cqBase := unsafe.Pointer(&r.cqMem[0])
	r.cqHead = (*uint32)(unsafe.Add(cqBase, p.CQOff.Head))
	r.cqTail = (*uint32)(unsafe.Add(cqBase, p.CQOff.Tail))
	r.cqMask = *(*uint32)(unsafe.Add(cqBase, p.CQOff.RingMask))
	r.cqes = unsafe.Add(cqBase, p.CQOff.CQEs)

	r.sqes = unsafe.Pointer(&sqesMem[0])
	return nil
}

// Close tears down the ring's mmap regions and the ring fd.
func (r *Ring) Close() error {
	if r.sqesMem != nil {
		syscall.Munmap(r.sqesMem)
	}
	if r.cqMem != nil && (r.sqMem == nil || len(r.sqMem) == 0 || &r.cqMem[0] != &r.sqMem[0]) {
		syscall.Munmap(r.cqMem)
	}
	if r.sqMem != nil {
		syscall.Munmap(r.sqMem)
	}
	return unix.Close(r.fd)
}

// SQE is an opaque handle to a reserved submission queue entry.
type SQE struct {
	e *sqe
}

// GetSQE reserves the next free submission slot, or reports false if the
// ring is currently full (matches io_uring_get_sqe returning nil).
func (r *Ring) GetSQE() (SQE, bool) {
	if r.localTail-atomic.LoadUint32(r.sqHead) >= r.entries {
		return SQE{}, false
	}
	idx := r.localTail & r.sqMask
	e := (*sqe)(unsafe.Add(r.sqes, uintptr(idx)*unsafe.Sizeof(sqe{})))
	*e = sqe{}
	r.localTail++
	return SQE{e: e}, true
}

// PrepRead prepares a read of len(buf) bytes from fd at the current file
// offset, mirroring io_uring_prep_read(sqe, fd, buf, len, -1).
func (r *Ring) PrepRead(s SQE, fd int, buf []byte) {
	s.e.Opcode = opRead
	s.e.Fd = int32(fd)
	s.e.Off = ^uint64(0)
	if len(buf) > 0 {
		s.e.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}
	s.e.Len = uint32(len(buf))
}

// PrepWrite prepares a write of buf to fd at the current file offset,
// mirroring io_uring_prep_write(sqe, fd, buf, len, -1).
func (r *Ring) PrepWrite(s SQE, fd int, buf []byte) {
	s.e.Opcode = opWrite
	s.e.Fd = int32(fd)
	s.e.Off = ^uint64(0)
	if len(buf) > 0 {
		s.e.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}
	s.e.Len = uint32(len(buf))
}

// PrepNop prepares a no-op SQE, used only to wake the worker out of a
// blocking wait during shutdown.
func (r *Ring) PrepNop(s SQE) {
	s.e.Opcode = opNop
}

// SetUserData stamps the request id into the SQE, mirroring
// io_uring_sqe_set_data.
func (r *Ring) SetUserData(s SQE, id uint64) {
	s.e.UserData = id
}

// Submit flushes any reserved SQEs to the kernel without waiting for
// completions, mirroring io_uring_submit.
func (r *Ring) Submit() (int, error) {
	return r.enter(0)
}

// SubmitAndWait flushes reserved SQEs and blocks until at least minComplete
// completions are available, mirroring io_uring_submit_and_wait.
func (r *Ring) SubmitAndWait(minComplete uint32) (int, error) {
	return r.enterWait(minComplete)
}

func (r *Ring) flush() uint32 {
	n := r.localTail - r.flushed
	if n == 0 {
		return 0
	}
	for i := uint32(0); i < n; i++ {
		slot := (r.flushed + i) & r.sqMask
		*(*uint32)(unsafe.Add(r.sqArray, uintptr(slot)*4)) = (r.flushed + i) & r.sqMask
	}
	atomic.StoreUint32(r.sqTail, r.localTail)
	r.flushed = r.localTail
	return n
}

func (r *Ring) enter(minComplete uint32) (int, error) {
	n := r.flush()
	ret, _, errno := syscall.Syscall6(unix.SYS_IO_URING_ENTER,
		uintptr(r.fd), uintptr(n), uintptr(minComplete), 0, 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("uring: io_uring_enter: %w", errno)
	}
	return int(ret), nil
}

func (r *Ring) enterWait(minComplete uint32) (int, error) {
	n := r.flush()
	ret, _, errno := syscall.Syscall6(unix.SYS_IO_URING_ENTER,
		uintptr(r.fd), uintptr(n), uintptr(minComplete), enterGetEvents, 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("uring: io_uring_enter: %w", errno)
	}
	return int(ret), nil
}

// ForEachCQE calls fn once per completion currently available, without
// advancing the completion queue head. It returns the number processed so
// the caller can advance by exactly that count once dispatch is done,
// mirroring io_uring_for_each_cqe + io_uring_cq_advance.
func (r *Ring) ForEachCQE(fn func(CQE)) uint32 {
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)
	count := uint32(0)
	for head != tail {
		idx := head & r.cqMask
		e := (*cqe)(unsafe.Add(r.cqes, uintptr(idx)*unsafe.Sizeof(cqe{})))
		fn(CQE{UserData: e.UserData, Res: e.Res, Flags: e.Flags})
		head++
		count++
	}
	return count
}

// CQAdvance releases count processed completions back to the kernel,
// mirroring io_uring_cq_advance.
func (r *Ring) CQAdvance(count uint32) {
	if count == 0 {
		return
	}
	atomic.StoreUint32(r.cqHead, atomic.LoadUint32(r.cqHead)+count)
}
