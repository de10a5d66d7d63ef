//go:build !linux

package serialdev

import "errors"

// ErrUnsupportedPlatform is returned by every operation in this package on
// platforms without termios-based serial support wired up.
var ErrUnsupportedPlatform = errors.New("serialdev: unsupported platform")

// Open always fails on non-Linux platforms.
func Open(cfg Config) (int, error) {
	return -1, ErrUnsupportedPlatform
}

// Flush always fails on non-Linux platforms.
func Flush(fd int) error {
	return ErrUnsupportedPlatform
}

// Close always fails on non-Linux platforms.
func Close(fd int) error {
	return ErrUnsupportedPlatform
}
