package serialdev

import "errors"

// Sentinel errors classify what stage of device setup failed, so callers
// (the root package's Builder) can map them onto the public ErrorCode
// taxonomy without this package importing back up to the root package.
var (
	ErrCreateFailed    = errors.New("serialdev: failed to open device")
	ErrBindFailed      = errors.New("serialdev: failed to configure device attributes")
	ErrInvalidHandle   = errors.New("serialdev: invalid device descriptor")
	ErrFlushFailed     = errors.New("serialdev: failed to flush device")
	ErrUnsupportedBaud = errors.New("serialdev: unsupported baud rate")
)
