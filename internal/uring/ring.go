// Package uring is a minimal, pure-Go io_uring binding: just enough of the
// submission/completion ring to back the engine's read/write/nop workload.
// No SQPOLL, no fixed files or buffers, no multishot ops.
package uring

import "errors"

// ErrUnsupported is returned by New on platforms without io_uring.
var ErrUnsupported = errors.New("uring: io_uring not supported on this platform")

// Opcodes from linux/io_uring.h that this package emits.
const (
	opNop   = 0
	opRead  = 22
	opWrite = 23
)

// CQE mirrors struct io_uring_cqe: the id stamped into the SQE's user_data
// field and the signed result of the operation.
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// Params is the subset of io_uring_params callers may care about.
type Params struct {
	Entries uint32
}
